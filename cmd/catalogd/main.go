// cmd/catalogd/main.go
// Package main implements the entry point for the catalog service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animeverse/catalog-go/internal/auth"
	"github.com/animeverse/catalog-go/internal/config"
	"github.com/animeverse/catalog-go/internal/event"
	"github.com/animeverse/catalog-go/internal/media"
	"github.com/animeverse/catalog-go/internal/metrics"
	"github.com/animeverse/catalog-go/internal/server"
	"github.com/animeverse/catalog-go/internal/storage"
	"github.com/animeverse/catalog-go/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load configuration from the environment and optional TOML file
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging for the application
	logLevel := slog.LevelInfo
	if cfg.IsDev() {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Spans go to stderr so stdout stays one JSON log line per entry
	if _, err := telemetry.InitTracer(telemetry.ServiceName, version, os.Stderr, cfg.IsDev()); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	store, err := openStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	m := metrics.NewMetrics()

	// Initialize event publisher (NATS JetStream or no-op)
	pub := event.NewPublisher(cfg.NATSURL, m)
	defer pub.Close()

	local, err := media.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		logger.Error("failed to initialize upload directory", "error", err, "dir", cfg.UploadDir)
		os.Exit(1)
	}
	var uploads media.Store = local
	if cfg.S3Enabled() {
		s3, err := media.NewS3Store(context.Background(), cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket,
			cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3PublicURL)
		if err != nil {
			logger.Error("failed to initialize S3 store", "error", err, "bucket", cfg.S3Bucket)
			os.Exit(1)
		}
		uploads = media.Fallback{
			Primary:   s3,
			Secondary: local,
			OnFailure: func(key string, err error) {
				logger.Warn("remote upload failed, keeping local copy", "key", key, "error", err)
			},
		}
		logger.Info("uploads relayed to S3", "bucket", cfg.S3Bucket, "fallback_dir", cfg.UploadDir)
	}

	mux, err := server.NewMux(server.Options{
		Store:              store,
		Tokens:             auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL),
		Publisher:          pub,
		Media:              uploads,
		Uploads:            local.Handler(),
		Metrics:            m,
		MaxUploadSize:      cfg.MaxUploadSize,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ReadTimeout:        cfg.ReadTimeout,
		UploadTimeout:      cfg.UploadTimeout,
		RateLimit:          cfg.RateLimit,
		RateWindow:         cfg.RateWindow,
	})
	if err != nil {
		logger.Error("failed to build HTTP mux", "error", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	// No server-wide ReadTimeout: the mux sets body deadlines per request.
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	// Start server in a separate goroutine
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	if closer, ok := store.(interface{ Close() }); ok {
		closer.Close()
	}
	logger.Info("server exited")
}

// openStore selects Postgres, then SQLite, then the in-memory store.
func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch {
	case cfg.DatabaseDSN != "":
		logger.Info("using postgres storage")
		return storage.NewPostgres(cfg.DatabaseDSN)
	case cfg.SQLitePath != "":
		logger.Info("using sqlite storage", "path", cfg.SQLitePath)
		return storage.NewSQLite(cfg.SQLitePath)
	default:
		logger.Warn("no database configured, using in-memory storage")
		return storage.NewMemory(), nil
	}
}
