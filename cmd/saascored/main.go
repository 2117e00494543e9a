package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SylTi/saascore/pkg/api"
	"github.com/SylTi/saascore/pkg/audit"
	"github.com/SylTi/saascore/pkg/billing"
	"github.com/SylTi/saascore/pkg/cache"
	"github.com/SylTi/saascore/pkg/config"
	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/httputil"
	"github.com/SylTi/saascore/pkg/middleware"
	"github.com/SylTi/saascore/pkg/notifications"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/rbac"
	"github.com/SylTi/saascore/pkg/tenants"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "saascored: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	logger.Info("database ready")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			// Redis backs fail-open layers only; degrade instead of dying.
			logger.Error("redis unavailable, continuing without cache and rate limits", "error", err)
			redisClient = nil
		}
	}

	runner := dbcontext.NewRunner(db)
	engine := rbac.NewEngine()
	tiers := billing.NewTierService(db, runner, cfg.Cache.TierCacheSize, cfg.Cache.TierCacheTTL)
	tenantService := tenants.NewPostgresService(db, runner, tiers)
	recorder := audit.NewRecorder(runner, engine, logger)

	deps := api.Dependencies{
		Logger:        logger,
		Runner:        runner,
		Tenants:       tenantService,
		Coupons:       billing.NewCouponService(db, runner),
		Tiers:         tiers,
		Notifications: notifications.NewStore(),
		Audit:         recorder,
		Engine:        engine,
	}
	if redisClient != nil {
		deps.TenantCache = cache.NewTenantCache(tenantService, redisClient, cfg.Cache.TenantTTL)
		deps.Limiter = middleware.NewRateLimiter(redisClient, &middleware.RateLimitConfig{
			RequestsPerWindow: cfg.RateLimit.RedemptionPerWindow,
			WindowDuration:    cfg.RateLimit.RedemptionWindow,
		}, "redemption")
	}

	server := api.NewServer(deps)
	apiHandler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
	)(server.Router())

	apiSrv := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      apiHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthHandler(cfg, db, redisClient),
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("health server", healthSrv.Shutdown)
	shutdown.Register("api server", apiSrv.Shutdown)

	serve(logger, "health", healthSrv)
	serve(logger, "api", apiSrv)

	shutdown.Wait()
	return nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}
	if err := dbcontext.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func healthHandler(cfg *config.Config, db *sql.DB, redisClient *redis.Client) http.Handler {
	health := observability.NewHealthChecker(db, redisClient)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.Liveness)
	mux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func serve(logger *slog.Logger, name string, srv *http.Server) {
	go func() {
		logger.Info(name+" server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(name+" server failed", "error", err)
		}
	}()
}
