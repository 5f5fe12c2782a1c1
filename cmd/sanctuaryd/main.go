// Package main starts the Sanctuary API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanctuary-church/sanctuary-api/internal/auth"
	"github.com/sanctuary-church/sanctuary-api/internal/config"
	"github.com/sanctuary-church/sanctuary-api/internal/content"
	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/media"
	"github.com/sanctuary-church/sanctuary-api/internal/server"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/telemetry"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing {
		shutdown, err := telemetry.InitTracer(version, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
	}

	var store storage.Store
	if cfg.DatabaseDSN != "" {
		s, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("init postgres storage: %w", err)
		}
		store = s
	} else {
		logger.Warn(config.EnvDatabaseDSN + " not set, using in-memory storage")
		store = storage.NewMemory()
	}
	defer store.Close()

	blobs, files, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	var revoker auth.Revoker = auth.NewMemoryRevoker()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		revoker = auth.NewRedisRevoker(client)
	}

	pub := event.NewPublisher(cfg.NATSURL, logger)
	defer pub.Close()

	v := validate.New()
	svc := content.NewService(store, blobs, v, pub, logger, content.Options{DefaultAuthor: cfg.DefaultAuthor})
	users := auth.NewService(store.Users(),
		auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.TokenTTL),
		revoker, v,
		auth.Options{AdminEmails: cfg.AdminEmails, FirstUserAdmin: cfg.FirstUserAdmin})

	handler, err := server.NewMux(store, svc, users, server.Options{
		Files:              files,
		MaxRequestSize:     cfg.MaxRequestSize,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("init http handler: %w", err)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr, "env", cfg.Env, "storage", cfg.StorageDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// openBlobs selects the blob driver. files is non-nil only for the local
// driver, whose blobs the API serves itself.
func openBlobs(ctx context.Context, cfg config.Config) (media.Blobs, http.Handler, error) {
	switch cfg.StorageDriver {
	case "s3":
		var publicURL string
		if strings.HasPrefix(cfg.PublicStorageURL, "http") {
			publicURL = cfg.PublicStorageURL
		}
		s, err := media.NewS3(ctx, media.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: publicURL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 storage: %w", err)
		}
		return s, nil, nil
	case "memory":
		return media.NewMemory(cfg.PublicStorageURL), nil, nil
	default:
		d, err := media.NewDisk(cfg.StoragePath, cfg.PublicStorageURL)
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		return d, d, nil
	}
}
