package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"Urban-Render/server/internal/engine"
	"Urban-Render/server/internal/imagedata"
	"Urban-Render/server/internal/storage"
)

// multipartOverhead leaves room for form boundaries around the file
const multipartOverhead = 1 << 20

// UploadSourceRequest carries a fabric map as a data URL
type UploadSourceRequest struct {
	Image string `json:"image" validate:"required"`
}

// UpdateParamsRequest changes any subset of the render parameters
type UpdateParamsRequest struct {
	Style       *string `json:"style" validate:"omitempty,min=1,max=64"`
	Granularity *int    `json:"granularity" validate:"omitempty,min=0,max=100"`
	PatternMode *string `json:"pattern_mode" validate:"omitempty,min=1,max=32"`
}

// ConnectKeyRequest attaches an API key to a session
type ConnectKeyRequest struct {
	APIKey string `json:"api_key" validate:"required,max=512"`
}

// HistoryResponse lists recent renders
type HistoryResponse struct {
	Success bool        `json:"success"`
	Records interface{} `json:"records"`
	Error   string      `json:"error,omitempty"`
}

// GetStyles returns the style and pattern mode catalog
func (h *Handlers) GetStyles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Catalog())
}

// CreateSession starts a new session with default parameters
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Success: true, State: state})
}

// GetSession returns the current state of a session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.GetState(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

// DeleteSession drops a session
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UploadSource accepts a multipart "file" field or a JSON data URL
func (h *Handlers) UploadSource(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	maxBytes := h.config.Render.MaxUploadBytes

	var (
		data     []byte
		mimeType string
		err      error
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		data, mimeType, err = readMultipartImage(w, r, maxBytes)
	} else {
		data, mimeType, err = h.readDataURLImage(w, r, maxBytes)
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, imagedata.ErrTooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, SessionResponse{Success: false, Error: imagedata.ErrTooLarge.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, SessionResponse{Success: false, Error: err.Error()})
		return
	}

	state, err := h.service.SetSource(r.Context(), sessionID, data, mimeType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

func readMultipartImage(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		return nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("missing file field: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", imagedata.ErrTooLarge
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "application/octet-stream" {
		mimeType = ""
	}
	return data, mimeType, nil
}

func (h *Handlers) readDataURLImage(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]byte, string, error) {
	// base64 grows the payload by a third
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes/3*4+multipartOverhead)

	var req UploadSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "", err
		}
		return nil, "", errors.New("Invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, "", validationError(err)
	}
	return imagedata.Decode(req.Image)
}

// GetSource serves the uploaded fabric map
func (h *Handlers) GetSource(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := h.service.SourceImage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, engine.ErrNoSource) {
			writeJSON(w, http.StatusNotFound, SessionResponse{Success: false, Error: err.Error()})
			return
		}
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ClearSource removes the fabric map and its rendering
func (h *Handlers) ClearSource(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.ClearSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

// UpdateParams changes style, granularity or pattern mode
func (h *Handlers) UpdateParams(w http.ResponseWriter, r *http.Request) {
	var req UpdateParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SessionResponse{Success: false, Error: "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, SessionResponse{Success: false, Error: validationError(err).Error()})
		return
	}

	state, err := h.service.UpdateParams(r.Context(), chi.URLParam(r, "id"), engine.ParamsUpdate{
		Style:       req.Style,
		Granularity: req.Granularity,
		PatternMode: req.PatternMode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

// ConnectKey stores the user's API key for the session
func (h *Handlers) ConnectKey(w http.ResponseWriter, r *http.Request) {
	var req ConnectKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, SessionResponse{Success: false, Error: "Invalid request body"})
		return
	}
	req.APIKey = strings.TrimSpace(req.APIKey)
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, SessionResponse{Success: false, Error: validationError(err).Error()})
		return
	}

	state, err := h.service.ConnectKey(r.Context(), chi.URLParam(r, "id"), req.APIKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

// Render runs a render and returns the final state.
// A failed render still returns the state so the client can show the error.
func (h *Handlers) Render(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.config.RenderBudget())
	defer cancel()

	state, err := h.service.Generate(ctx, chi.URLParam(r, "id"))
	if err != nil {
		resp := SessionResponse{Success: false, Error: err.Error()}
		if state != nil {
			resp.State = state
		}
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Success: true, State: state})
}

// Download serves the rendering as an attachment
func (h *Handlers) Download(w http.ResponseWriter, r *http.Request) {
	data, mimeType, err := h.service.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", engine.DownloadFilename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// GetHistory lists recent renders when history is configured
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	if !h.service.HistoryEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, HistoryResponse{Success: false, Error: "History not configured"})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, HistoryResponse{Success: false, Error: "limit must be a number"})
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), storage.ClampHistoryLimit(limit))
	if err != nil {
		h.logger.Error("failed to load history", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, HistoryResponse{Success: false, Error: "Failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Success: true, Records: records})
}

// validationError flattens validator errors into one message
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
