package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codetesla51/gatekeep/algorithms"
	"github.com/codetesla51/gatekeep/config"
	"github.com/codetesla51/gatekeep/metrics"
	"github.com/codetesla51/gatekeep/middleware"
	"github.com/codetesla51/gatekeep/store"
)

func main() {
	os.Exit(realMain())
}

// realMain returns the process exit code so deferred cleanup runs before exit.
func realMain() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.App, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	windows, closeFn, err := initStore(ctx, cfg.Storage, cfg.Limiter, reg, logger)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer closeFn()

	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	limiter := algorithms.NewFixedWindow(cfg.Limiter, windows, algorithms.WithLogger(logger))

	r := chi.NewRouter()
	r.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter,
			middleware.WithLogger(logger),
			middleware.WithMetrics(m),
			middleware.WithFailOpen(cfg.Server.FailOpen),
		))
		r.Get("/", statusHandler)
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Backend),
			zap.Uint32("max_requests", cfg.Limiter.MaxRequests),
			zap.Duration("window", cfg.Limiter.Window))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initStore(ctx context.Context, cfg config.StorageConfig, limit config.Limiter, reg prometheus.Registerer, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendRedis:
		rs, err := store.NewRedisStore(ctx, store.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			KeyTTL:    2 * limit.Window,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() {
			if err := rs.Close(); err != nil {
				logger.Warn("failed to close redis store", zap.Error(err))
			}
		}, nil
	case config.BackendPostgres:
		ds, err := store.NewDatabaseStore(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return ds, func() {
			if err := ds.Close(); err != nil {
				logger.Warn("failed to close database store", zap.Error(err))
			}
		}, nil
	default:
		ms := store.NewMemoryStore(store.WithMemoryStoreLogger(logger))
		if err := metrics.RegisterTrackedKeys(reg, ms.Len); err != nil {
			return nil, nil, err
		}
		return ms, func() {}, nil
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"message": "Request successful"}
	if info, ok := middleware.InfoFromContext(r.Context()); ok {
		resp["remaining"] = info.Remaining
		resp["limit"] = info.Limit
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
