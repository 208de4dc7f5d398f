package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/httpserver"
	"gatekeeper/internal/platform/logger"
	platformredis "gatekeeper/internal/platform/redis"
	rlconfig "gatekeeper/internal/ratelimit/config"
	"gatekeeper/internal/ratelimit/handler"
	"gatekeeper/internal/ratelimit/ledger"
	"gatekeeper/internal/ratelimit/metrics"
	"gatekeeper/internal/ratelimit/models"
	rlmiddleware "gatekeeper/internal/ratelimit/middleware"
	"gatekeeper/internal/ratelimit/registry"
	"gatekeeper/internal/ratelimit/service"
	quotaservice "gatekeeper/internal/ratelimit/service/quota"
	quotastore "gatekeeper/internal/ratelimit/store/quota"
	"gatekeeper/internal/ratelimit/strategy"
	"gatekeeper/pkg/platform/middleware/metadata"
	"gatekeeper/pkg/platform/middleware/requesttime"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Business logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	redisClient, err := platformredis.New(context.Background(), cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	selector := strategy.NewSelector()
	if redisClient != nil {
		stores, err := strategy.NewRedisStrategyStores(redisClient.Client)
		if err != nil {
			log.Error("failed to build redis strategy stores", "error", err)
			os.Exit(1)
		}
		selector, err = stores.Selector()
		if err != nil {
			log.Error("failed to build strategy selector", "error", err)
			os.Exit(1)
		}
		log.Info("admission state backed by redis")
	} else {
		log.Info("admission state kept in process memory")
	}

	engineCfg := rlconfig.DefaultConfig(time.Now())
	reg, err := registry.New(engineCfg.DefaultRules, registry.WithLogger(log))
	if err != nil {
		log.Error("failed to seed rule registry", "error", err)
		os.Exit(1)
	}

	quota, err := quotaservice.New(quotastore.NewInMemoryQuotaStore(), quotaservice.WithLogger(log))
	if err != nil {
		log.Error("failed to build quota service", "error", err)
		os.Exit(1)
	}

	engine, err := service.New(
		reg,
		selector,
		quota,
		ledger.New(engineCfg.LedgerCapacity),
		service.WithLogger(log),
		service.WithMetrics(metrics.New()),
	)
	if err != nil {
		log.Error("failed to build rate limit engine", "error", err)
		os.Exit(1)
	}

	limits := rlmiddleware.New(engine, log, rlmiddleware.WithDisabled(cfg.RateLimitDisabled))

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(requesttime.Middleware)
	router.Use(metadata.ClientMetadata)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Admin surface for rule and quota management.
	router.Group(func(r chi.Router) {
		handler.New(engine, log).Register(r)
	})

	// Example protected surface: the engine guards everything under /api.
	router.Route("/api", func(r chi.Router) {
		r.Use(limits.Limit(models.ScopeIP))
		r.Use(limits.Limit(models.ScopeUser))
		r.Use(limits.Limit(models.ScopeAPIKey))
		r.Use(limits.Limit(models.ScopeTenant))

		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting gatekeeper", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("gatekeeper stopped")
}
