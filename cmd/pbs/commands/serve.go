package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/privacysandbox/pbs-go/internal/auth"
	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/privacysandbox/pbs-go/internal/coordinator"
	"github.com/privacysandbox/pbs-go/internal/frontend"
	"github.com/privacysandbox/pbs-go/internal/httpclient"
	"github.com/privacysandbox/pbs-go/internal/idempotency"
	"github.com/privacysandbox/pbs-go/internal/logger"
	"github.com/privacysandbox/pbs-go/internal/ratelimit"
	"github.com/privacysandbox/pbs-go/internal/service"
	"github.com/privacysandbox/pbs-go/internal/store"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// NewServeCommand starts the request-path engine: the main transaction
// listener and a separate metrics listener, mirroring the teacher's
// two-http.Server layout in cmd/server/main.go.
func NewServeCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the PBS request-path engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*cfgPath)
		},
	}
}

func runServe(cfgPath string) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	db, err := gorm.Open(gormpostgres.Open(cfg.Store.DSN), &gorm.Config{
		Logger: logger.NewGormLogger(log),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to obtain underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Store.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.Store.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Store.ConnMaxLifetime)

	if err := db.AutoMigrate(&store.BudgetRow{}); err != nil {
		return fmt.Errorf("failed to migrate budget_rows: %w", err)
	}

	budgetStore := store.New(db, log)
	svc := service.New(service.NewStoreConsumeFunc(budgetStore), log)
	fe := frontend.New(svc, cfg.Store.MigrationPhase, log).
		WithOperatorAuth(auth.NewOperatorAuthenticator(cfg.Auth))

	if cfg.Redis.URL != "" {
		redisOpt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		if cfg.Redis.Password != "" {
			redisOpt.Password = cfg.Redis.Password
		}
		redisOpt.DB = cfg.Redis.DB
		redisOpt.PoolSize = cfg.Redis.PoolSize
		redisClient := redis.NewClient(redisOpt)

		limiter := ratelimit.NewCompositeLimiter(
			ratelimit.NewBurstLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
			ratelimit.NewRedisLimiter(redisClient),
		)
		fe = fe.WithRateLimit(limiter, cfg.RateLimit).
			WithIdempotency(idempotency.NewTracker(redisClient, log, 24*time.Hour))
	} else {
		log.Warn("redis.url not set, running without rate limiting or idempotency dedup")
	}

	if cfg.Coordinator.BaseURL != "" {
		go watchPeerCoordinator(cfg, log)
	}

	mainServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      fe.Router(cfg.CORS),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:      promhttp.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{mainServer, metricsServer}
	for _, srv := range servers {
		go func(s *http.Server) {
			log.Info("server starting", zap.String("address", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal("server failed to start", zap.String("address", s.Addr), zap.Error(err))
			}
		}(srv)
	}

	log.Info("pbs started",
		zap.Int("api_port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.String("migration_phase", string(cfg.Store.MigrationPhase)))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down servers")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Error("server forced to shutdown", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
	return nil
}

// watchPeerCoordinator polls the replication partner's liveness endpoint
// on an interval derived from its request timeout, logging state
// transitions rather than every poll so steady-state operation stays
// quiet.
func watchPeerCoordinator(cfg *config.Config, log *zap.Logger) {
	httpClient := httpclient.New(httpclient.Config{
		MaxRetries:            cfg.Coordinator.MaxRetries,
		RequestTimeout:        cfg.Coordinator.RequestTimeout,
		InitialBackoff:        cfg.Coordinator.InitialBackoff,
		MaxBackoff:            cfg.Coordinator.MaxBackoff,
		BackoffMultiplier:     2.0,
		MaxConnectionsPerHost: cfg.Coordinator.MaxConnectionsPerHost,
		MinViableSlot:         50 * time.Millisecond,
	}, log)

	interceptor := auth.New(auth.HMACSigner{Secret: []byte(cfg.Auth.JWTSecret)})
	peer := coordinator.New(cfg.Coordinator.BaseURL, httpClient, interceptor, log)

	ticker := time.NewTicker(cfg.Coordinator.RequestTimeout * 6)
	defer ticker.Stop()

	lastHealthy := true
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.RequestTimeout)
		healthy := peer.Healthy(ctx)
		cancel()

		if healthy != lastHealthy {
			if healthy {
				log.Info("peer coordinator recovered", zap.String("base_url", cfg.Coordinator.BaseURL))
			} else {
				log.Warn("peer coordinator unreachable", zap.String("base_url", cfg.Coordinator.BaseURL))
			}
			lastHealthy = healthy
		}
	}
}
