package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/capture"
	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/handler"
	"checkin/internal/httpmiddleware"
	"checkin/internal/queue"
	"checkin/internal/record"
	"checkin/internal/storage"
	"checkin/internal/store"
	"checkin/internal/suggest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	logger := slog.Default()

	redisClient := store.NewRedis(cfg.RedisAddr)

	records, closer, err := openRecords(cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	var objects storage.Store
	if cfg.StorageURL != "" && cfg.StorageKey != "" {
		objects = storage.NewSupabase(cfg.StorageURL, cfg.StorageKey, cfg.StorageBucket)
		logger.Info("object storage configured", "bucket", cfg.StorageBucket)
	} else {
		objects = storage.NewMemory()
		logger.Warn("object storage not configured (STORAGE_URL / STORAGE_KEY not set), photos held in memory")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:cleanup")
	}

	// Candidate names load in the background; suggestions surface a
	// loading flag until the first fetch lands.
	idx := suggest.NewIndex(
		suggest.StoreSource{Store: records, Max: cfg.SuggestMaxNames},
		logger,
		suggest.WithRedis(redisClient.Client, cfg.SuggestCacheTTL),
	)
	go func() {
		if err := idx.Refresh(context.Background()); err != nil {
			logger.Warn("candidate list fetch failed", "err", err)
		}
	}()

	lookup := checkin.NewLookup(records, logger)
	persister := checkin.NewPersister(objects, records, cfg.EventDay, q, logger)

	var cam *capture.Camera
	if cfg.CameraFrontURL != "" || cfg.CameraBackURL != "" {
		cam = capture.New(
			capture.NewHTTPDevice(cfg.CameraFrontURL, cfg.CameraBackURL),
			capture.Options{Settle: cfg.CameraSettle},
		)
		// Release the hardware on every shutdown path, not just Stop.
		defer cam.Close()
		logger.Info("kiosk camera configured")
	}

	h := handler.New(handler.Deps{
		Suggest: idx,
		Camera:  cam,
		NewSession: func() *checkin.Session {
			return checkin.NewSession(lookup, persister, cfg.ResetDelay)
		},
		Log: logger,
	})

	// Abandoned kiosk sessions are reaped in the background.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			if n := h.SweepIdle(cfg.SessionTTL); n > 0 {
				logger.Info("idle sessions swept", "count", n)
			}
		}
	}()

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.Default())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy})
	})

	h.Register(r.Group("/v1"))

	mountStatic(r, cfg.WebDir)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", srv.Addr, "day", cfg.EventDay)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "err", err)
	}

	logger.Info("server exited")
	return nil
}

func openRecords(cfg config.App) (record.Store, io.Closer, error) {
	switch cfg.RecordBackend {
	case "postgres":
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect failed: %w", err)
		}
		pg, err := record.NewPostgres(db.Client)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return pg, db, nil
	case "memory":
		return record.NewMemory(), nil, nil
	default:
		return record.NewAirtable(cfg.AirtableAPIKey, cfg.AirtableBaseID, cfg.AirtableTable), nil, nil
	}
}

// mountStatic serves the two views, landing page and check-in page,
// plus their assets.
func mountStatic(r *gin.Engine, dir string) {
	r.StaticFile("/", filepath.Join(dir, "index.html"))
	r.StaticFile("/photo", filepath.Join(dir, "photo.html"))
	r.Static("/static", filepath.Join(dir, "static"))
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
