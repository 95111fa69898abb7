package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"Urban-Render/server/internal/config"
	"Urban-Render/server/internal/engine"
	"Urban-Render/server/internal/generators"
	"Urban-Render/server/internal/interfaces"
	"Urban-Render/server/internal/logging"
	"Urban-Render/server/internal/storage"
	"Urban-Render/server/internal/web"
)

const janitorInterval = 10 * time.Minute

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sessions live in Redis when it is reachable, in memory otherwise
	var sessions interfaces.SessionStore
	if cfg.Database.Redis.Enabled {
		redisStore, err := storage.NewRedisStore(cfg.Database.Redis, cfg.Session.TTL)
		if err != nil {
			logger.Warn("failed to connect to Redis, using in-memory sessions", zap.Error(err))
		} else {
			defer redisStore.Close()
			sessions = redisStore
			logger.Info("Redis connected successfully")
		}
	}
	if sessions == nil {
		memStore := storage.NewMemoryStore(cfg.Session.TTL)
		go runEvery(ctx, janitorInterval, func() {
			if n := memStore.CleanExpired(); n > 0 {
				logger.Debug("expired sessions removed", zap.Int("count", n))
			}
		})
		sessions = memStore
	}

	var history interfaces.HistoryStore
	if cfg.Database.MySQL.Enabled {
		mysqlStore, err := storage.NewMySQLStore(cfg.Database.MySQL)
		if err != nil {
			logger.Warn("failed to connect to MySQL, render history disabled", zap.Error(err))
		} else {
			defer mysqlStore.Close()
			history = mysqlStore
			logger.Info("MySQL connected successfully")
		}
	}

	images := generators.NewImageStore(cfg.Render.ImageDir, cfg.Render.MaxImages, cfg.Render.ImageTTL)
	if err := images.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize image store: %w", err)
	}
	go images.RunJanitor(ctx, janitorInterval)

	provider, err := generators.NewRenderer(cfg.AI, logger)
	if err != nil {
		return err
	}
	renderer := generators.NewRenderQueue(provider, cfg.Render.MaxConcurrent, cfg.Render.QueueSize, logger)
	renderer.Start(ctx)
	if cfg.AI.APIKey() == "" {
		logger.Warn("no server API key configured, sessions must connect their own key")
	}

	hub := web.NewSessionHub(logger)
	go hub.Run(ctx)

	service := engine.NewRenderService(engine.Options{
		Renderer:       renderer,
		Sessions:       sessions,
		Images:         images,
		History:        history,
		Events:         hub,
		Logger:         logger,
		MaxUploadBytes: cfg.Render.MaxUploadBytes,
		HasServerKey:   cfg.AI.APIKey() != "",
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      web.NewRouter(cfg, service, hub, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("provider", renderer.Provider()),
			zap.String("model", renderer.Model()),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("server shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
	return nil
}

func runEvery(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
