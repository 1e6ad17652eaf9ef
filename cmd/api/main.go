//	@title			Drive Relay API
//	@version		1.0
//	@description	Relays file uploads and downloads to Google Drive under a service account.
//
//	@host		localhost:3000
//	@BasePath	/

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/radif/driverelay/internal/auth"
	"github.com/radif/driverelay/internal/config"
	"github.com/radif/driverelay/internal/logging"
	appMiddleware "github.com/radif/driverelay/internal/middleware"
	"github.com/radif/driverelay/internal/relay"
	"github.com/radif/driverelay/internal/storage"

	_ "github.com/radif/driverelay/docs/swagger"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		fatal(log, "invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire dependencies: credentials → storage → relay service → handler
	authz, store, err := buildBackend(ctx, cfg, log)
	if err != nil {
		fatal(log, "object storage init failed", err)
	}

	var cache *auth.Cache
	if cfg.TokenCache {
		cache = auth.NewCache(authz, auth.DefaultExpirySkew)
		authz = cache
	}

	relaySvc := relay.NewService(authz, store, cfg.FolderID, log)
	relayHandler := relay.NewHandler(relaySvc, relay.UploadLimits{
		MaxBytes:    cfg.MaxUploadBytes,
		MemoryBytes: cfg.UploadMemoryBytes,
	}, log)

	// No read or write timeout: uploads and downloads may legitimately run long.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, log, relayHandler),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Port, "env", cfg.AppEnv, "backend", cfg.StorageBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
	if cache != nil {
		cache.Reset()
	}

	log.Info("server stopped")
}

// newRouter assembles the middleware chain and routes. The request logger sits
// outside Recoverer so it sees http.ErrAbortHandler from a broken download.
func newRouter(cfg *config.Config, log *slog.Logger, relayHandler *relay.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(appMiddleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Swagger UI — available at http://localhost:3000/swagger/
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	relayHandler.Routes(r)
	return r
}

// buildBackend returns the credential provider and storage for the configured backend.
func buildBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (auth.Provider, storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.BackendMinio:
		store, err := storage.NewMinioStorage(ctx,
			cfg.StorageEndpoint,
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			cfg.FolderID,
			cfg.StorageUseSSL,
			log,
		)
		if err != nil {
			return nil, nil, err
		}
		return auth.Keyless{}, store, nil
	default:
		client := &http.Client{}
		sa := auth.NewServiceAccount(cfg.ServiceAccountEmail, cfg.ServiceAccountKey, cfg.TokenURL, client)
		return sa, storage.NewDriveStorage(cfg.DriveEndpoint, client), nil
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}
