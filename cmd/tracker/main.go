package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/contractpulse/tracker/internal/auth"
	"github.com/contractpulse/tracker/internal/config"
	"github.com/contractpulse/tracker/internal/health"
	"github.com/contractpulse/tracker/internal/history"
	"github.com/contractpulse/tracker/internal/httpapi"
	"github.com/contractpulse/tracker/internal/mirror"
	"github.com/contractpulse/tracker/internal/progress"
	"github.com/contractpulse/tracker/internal/streaming"
	"github.com/contractpulse/tracker/internal/tracing"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfgPath := getEnvOrDefault("CONFIG_PATH", "./config/tracker.yaml")
	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfgStore := config.NewStore(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Watch(ctx, cfgPath, cfgStore, logger); err != nil {
		logger.Warn("Config hot reload unavailable", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}

	healthHandler := health.NewHandler(logger)

	// Optional Redis snapshot mirror
	var managerOpts []progress.Option
	if cfg.Mirror.Enabled {
		redisURL := getEnvOrDefault("REDIS_URL", cfg.Mirror.RedisURL)
		m, err := mirror.New(redisURL, cfg.Mirror.TTL, logger)
		if err != nil {
			logger.Fatal("Failed to connect snapshot mirror", zap.Error(err))
		}
		defer m.Close()
		managerOpts = append(managerOpts, progress.WithMirror(m))
		healthHandler.Register(health.CheckerFunc{
			CheckerName: "redis",
			Fn:          m.Ping,
		})
		logger.Info("Snapshot mirror enabled")
	}

	// Optional history persistence
	if cfg.History.Enabled {
		dsn := getEnvOrDefault("HISTORY_DSN", cfg.History.DSN)
		store, err := history.New(cfg.History.Driver, dsn, logger)
		if err != nil {
			logger.Fatal("Failed to connect history store", zap.Error(err))
		}
		defer store.Close()

		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := store.EnsureSchema(schemaCtx); err != nil {
			logger.Fatal("Failed to ensure history schema", zap.Error(err))
		}
		cancel()
		managerOpts = append(managerOpts, progress.WithArchiver(store))
		logger.Info("History persistence enabled", zap.String("driver", cfg.History.Driver))
	}

	manager := progress.NewManager(logger, managerOpts...)
	hub := streaming.NewHub(logger)

	jwtSecret := getEnvOrDefault("JWT_SECRET", cfg.Auth.JWTSecret)
	if jwtSecret == "" && !cfg.Auth.SkipAuth {
		logger.Fatal("JWT_SECRET is required unless auth.skip_auth is set")
	}
	jwtManager := auth.NewJWTManager(jwtSecret, time.Hour)

	apiKeys, err := auth.LoadAPIKeys(cfg.Auth.APIKeyFile)
	if err != nil {
		logger.Fatal("Failed to load API keys", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(jwtManager, apiKeys, cfg.Auth.SkipAuth, logger)

	apiHandler := httpapi.NewHandler(manager, hub, cfgStore, logger, nil)

	mux := http.NewServeMux()
	healthHandler.RegisterRoutes(mux)
	apiHandler.RegisterRoutes(mux)

	handler := corsMiddleware(authExemptProbes(authMiddleware.Handler(mux), mux))

	port := getEnvOrDefaultInt("PORT", cfg.Server.Port)
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // streaming endpoints hold the response open
		IdleTimeout:  300 * time.Second, // long-lived SSE connections
	}

	// Prometheus metrics on a separate listener
	metricsPort := getEnvOrDefaultInt("METRICS_PORT", cfg.Server.MetricsPort)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    ":" + strconv.Itoa(metricsPort),
		Handler: metricsMux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Tracker starting", zap.Int("port", port), zap.Int("metrics_port", metricsPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Tracker shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("Tracker stopped")
}

// authExemptProbes lets health probes bypass authentication.
func authExemptProbes(authed http.Handler, probes *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/readiness" {
			probes.ServeHTTP(w, r)
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers for development
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type, Authorization, X-API-Key, Cache-Control, Last-Event-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
