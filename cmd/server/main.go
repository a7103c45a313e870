// Package main is the entry point for the civic reports server.
// It fronts the hosted platform (Supabase Postgres, GoTrue and Storage) for
// two browser flows:
//
//   - Citizens submit reports with a before photo and GPS location, follow
//     their own reports and rate a resolution once.
//   - Admins see every report on a map and table, filter by status and move
//     reports through the lifecycle, attaching an after photo on resolve.
//
// Each signed-in actor gets an in-memory report collection that all list,
// count and map endpoints read from.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aawaaz/civic-reports/internal/auth"
	"github.com/aawaaz/civic-reports/internal/blob"
	"github.com/aawaaz/civic-reports/internal/cache"
	"github.com/aawaaz/civic-reports/internal/config"
	"github.com/aawaaz/civic-reports/internal/database"
	"github.com/aawaaz/civic-reports/internal/handlers"
	"github.com/aawaaz/civic-reports/internal/middleware"
	"github.com/aawaaz/civic-reports/internal/services"
	"github.com/aawaaz/civic-reports/internal/store"
	"github.com/aawaaz/civic-reports/internal/view"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	logger := newLogger(cfg)
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("Starting civic reports server",
		"port", cfg.Port,
		"env", cfg.Environment,
		"supabase_url", cfg.SupabaseURL,
		"blob_backend", cfg.BlobBackend,
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Report store: hosted Postgres when configured, local SQLite otherwise
	st, err := openStore(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("Failed to open report store: %v", err)
	}
	defer st.Close()

	var directory store.DirectoryStore = st
	limiter := middleware.Limiter(middleware.NewMemoryLimiter(cfg.RateLimitRPM))
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			sugar.Warnw("Redis unreachable, continuing without it", "error", err)
		}
		directory = cache.NewDirectory(st, rdb, cfg.ProfileCacheTTL, sugar)
		limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimitRPM)
	}

	blobs, err := openBlobStore(cfg)
	if err != nil {
		sugar.Fatalf("Failed to initialize photo storage: %v", err)
	}

	// Initialize services
	activitySvc := services.NewActivityLogService(st, sugar)
	reportSvc := services.NewReportService(st, directory, blobs, activitySvc, cfg.MaxPhotoBytes, sugar)
	feedbackSvc := services.NewFeedbackService(st, activitySvc, sugar)
	lifecycle := services.NewLifecycleEngine(st, blobs, activitySvc, cfg.MaxPhotoBytes, sugar)
	accountSvc := services.NewAccountService(auth.NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey), directory, sugar)
	verifier := auth.NewTokenVerifier(cfg.JWTSecret)

	// Per-session views and their idle sweeper
	registry := view.NewRegistry(reportSvc, sugar)
	go view.NewSweeper(registry, cfg.SessionIdleTTL, sugar).Start(ctx, time.Minute)

	// Initialize handlers
	api := &handlers.API{
		Health:      handlers.NewHealthHandler(st, registry, sugar),
		Auth:        handlers.NewAuthHandler(accountSvc, registry, sugar),
		Reports:     handlers.NewReportHandler(reportSvc, feedbackSvc, registry, cfg.MaxPhotoBytes, sugar),
		Admin:       handlers.NewAdminHandler(lifecycle, reportSvc, activitySvc, registry, cfg.MaxPhotoBytes, sugar),
		RequireAuth: middleware.RequireAuth(verifier, accountSvc, sugar),
	}

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limiting
	r.Use(middleware.RateLimit(limiter, sugar))

	// API Routes
	r.Route("/api/v1", api.Routes)

	// Create HTTP server. Uploads of up to MAX_PHOTO_BYTES need a longer
	// read window than plain JSON calls.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Fatalf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}

func newLogger(cfg *config.Config) *zap.Logger {
	build := zap.NewProduction
	if cfg.IsDevelopment() {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Infow("Using local SQLite store", "path", cfg.SQLitePath)
		return store.NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	}
	db, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	if err != nil {
		return nil, err
	}
	return store.NewPostgresStore(db, logger), nil
}

func openBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == config.BlobCloudinary {
		return blob.NewCloudinary(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	}
	return blob.NewSupabaseStorage(cfg.SupabaseURL, cfg.StorageBucket, cfg.SupabaseSvcKey), nil
}
