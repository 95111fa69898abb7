package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/engine"
	"Urban-Render/server/internal/generators"
	"Urban-Render/server/internal/imagedata"
	"Urban-Render/server/internal/storage"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type Handlers struct {
	config   *config.Config
	service  *engine.RenderService
	hub      *SessionHub
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandlers(cfg *config.Config, service *engine.RenderService, hub *SessionHub, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:   cfg,
		service:  service,
		hub:      hub,
		validate: validator.New(),
		logger:   logger,
	}
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status        string       `json:"status"`
	Service       string       `json:"service"`
	Renders       engine.Stats `json:"renders"`
	ClientCount   int          `json:"client_count"`
	DroppedEvents int64        `json:"dropped_events"`
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Service: "urban-render",
		Renders: h.service.Stats(),
	}
	if h.hub != nil {
		resp.ClientCount = h.hub.GetClientCount()
		resp.DroppedEvents = h.hub.Dropped()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	// Serve index.html from client directory
	indexPath := filepath.Join(h.config.Server.ClientDir, "index.html")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "index.html not found"})
		return
	}
	http.ServeFile(w, r, indexPath)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func NewRouter(cfg *config.Config, service *engine.RenderService, hub *SessionHub, logger *zap.Logger) *chi.Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	handlers := NewHandlers(cfg, service, hub, logger)

	// Static file server for client assets
	filesDir := http.Dir(filepath.Join(cfg.Server.ClientDir, "static"))
	FileServer := http.StripPrefix("/static/", http.FileServer(filesDir))

	// Public routes
	r.Get("/", handlers.Home)
	r.Get("/health", handlers.HealthCheck)
	r.Mount("/static", FileServer)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/styles", handlers.GetStyles)
		r.Get("/history", handlers.GetHistory)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", handlers.CreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", handlers.GetSession)
				r.Delete("/", handlers.DeleteSession)
				r.Get("/source", handlers.GetSource)
				r.Post("/source", handlers.UploadSource)
				r.Delete("/source", handlers.ClearSource)
				r.Put("/params", handlers.UpdateParams)
				r.Post("/key", handlers.ConnectKey)
				r.Post("/render", handlers.Render)
				r.Get("/result", handlers.Download)
				r.Get("/events", handlers.GetEventStream)
			})
		})
	})

	return r
}

// GetEventStream upgrades to a WebSocket that receives the session's events
func (h *Handlers) GetEventStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Hub not initialized"})
		return
	}

	state, err := h.service.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:        uuid.NewString(),
		SessionID: state.SessionID,
		Conn:      conn,
		Send:      make(chan []byte, sendBuffer),
		Hub:       h.hub,
	}

	// Current state first so the client can render immediately
	welcome, _ := json.Marshal(engine.Event{
		Type:      engine.EventStateUpdated,
		SessionID: state.SessionID,
		State:     state,
		Time:      time.Now().Unix(),
	})
	client.Send <- welcome

	if !h.hub.Register(client) {
		client.Close()
		return
	}
	go client.readPump()
}

// SessionResponse wraps the state returned by session endpoints
type SessionResponse struct {
	Success bool        `json:"success"`
	State   interface{} `json:"state,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var renderErr *generators.RenderError
	switch {
	case errors.Is(err, storage.ErrSessionNotFound),
		errors.Is(err, engine.ErrNoResult):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNoSource),
		errors.Is(err, engine.ErrUnknownStyle),
		errors.Is(err, engine.ErrUnknownPattern),
		errors.Is(err, engine.ErrGranularityRange),
		errors.Is(err, engine.ErrEmptyAPIKey),
		errors.Is(err, imagedata.ErrEmpty),
		errors.Is(err, imagedata.ErrNotImage):
		return http.StatusBadRequest
	case errors.Is(err, imagedata.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, engine.ErrRenderInFlight):
		return http.StatusConflict
	case errors.Is(err, generators.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, generators.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &renderErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, SessionResponse{Success: false, Error: err.Error()})
}
