// Command scheduler is the process entrypoint (spec §1 "out of scope:
// process bootstrap, configuration loading, signal plumbing, logging
// sinks... the credential provider"). It assembles those external
// collaborators and hands control to internal/scheduler's event loop.
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
	"github.com/go-chi/chi/v5/middleware"

	"github.com/apostoldevel/process-TaskScheduler/internal/authmgr"
	"github.com/apostoldevel/process-TaskScheduler/internal/config"
	"github.com/apostoldevel/process-TaskScheduler/internal/credentials"
	"github.com/apostoldevel/process-TaskScheduler/internal/events"
	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/logctx"
	"github.com/apostoldevel/process-TaskScheduler/internal/scheduler"
	"github.com/apostoldevel/process-TaskScheduler/pkg/db"
	"github.com/apostoldevel/process-TaskScheduler/pkg/health"
	"github.com/apostoldevel/process-TaskScheduler/pkg/logger"
	pkgredis "github.com/apostoldevel/process-TaskScheduler/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewWithSentry(cfg.Sentry, logctx.SessionExtractor, logctx.JobExtractor, logctx.TickExtractor)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DB.ConnectionString,
		db.WithLogger(log),
		db.WithMaxConns(cfg.DB.MaxOpenConns),
		db.WithMinConns(cfg.PostgresPollMin),
	)
	if err != nil {
		log.Error("failed to open database connection", "error", err)
		return err
	}
	defer pool.Close()

	gw := gateway.New(gateway.PoolDB{Pool: pool}, log)

	var creds credentials.Provider
	if cfg.OAuthBrokerURL != "" {
		creds = credentials.NewOAuthBroker(cfg.ClientID, cfg.ClientSecret, cfg.OAuthBrokerURL, cfg.OAuthBrokerIDField, cfg.OAuthBrokerSecField)
	} else {
		creds = credentials.NewStatic(cfg.ClientID, cfg.ClientSecret)
	}

	host := cfg.Host
	if host == "" {
		host = authmgr.Hostname(ctx)
	}

	var publisher *events.Publisher
	var redisCheck func(context.Context) error
	if cfg.EventsRedisURL != "" {
		redisClient, err := pkgredis.Open(ctx, cfg.EventsRedisURL)
		if err != nil {
			log.Error("failed to open redis connection", "error", err)
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = pkgredis.Shutdown(redisClient)(shutdownCtx)
		}()
		publisher = events.New(redisClient, log)
		redisCheck = pkgredis.Healthcheck(redisClient)
	}

	sched := scheduler.New(scheduler.Config{
		Gateway:       gw,
		Credentials:   creds,
		Agent:         cfg.Agent,
		Host:          host,
		Logger:        log,
		Events:        publisher,
		CheckInterval: cfg.HeartbeatInterval(),
	})

	diagServer := startDiagServer(cfg.DiagAddr, pool, sched, redisCheck, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = diagServer.Shutdown(shutdownCtx)
	}()

	if cfg.SweepCron != "" {
		sweepJob, err := sched.StartSweep(ctx, cfg.SweepCron)
		if err != nil {
			log.Error("failed to schedule stale-session sweep", "error", err)
			return err
		}
		defer func() { <-sweepJob.Stop().Done() }()
	}

	return sched.Run(ctx)
}

// startDiagServer exposes /health/live and /health/ready, a small
// framework-agnostic surface for orchestrators; it is not a job-bearing
// HTTP app (spec §1's core has none). Readiness checks the DB pool and
// SchedulerState, since a process that can reach Postgres but never
// authenticated (state stuck Stopped) is not actually doing useful work,
// plus Redis when event publishing is enabled (redisCheck is nil otherwise).
func startDiagServer(addr string, pool interface {
	Ping(context.Context) error
}, sched interface {
	IsRunning() bool
}, redisCheck func(context.Context) error, log *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	checks := health.Checks{
		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
		"scheduler": func(ctx context.Context) error {
			if !sched.IsRunning() {
				return errors.New("scheduler state is not running")
			}
			return nil
		},
	}
	if redisCheck != nil {
		checks["redis"] = redisCheck
	}

	r.Get("/health/live", health.LivenessHandler())
	r.Get("/health/ready", health.ReadinessHandler(checks, health.WithTimeout(2*time.Second), health.WithLogger(log)))

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		log.Info("diagnostics server starting", "address", addr)
		_ = srv.ListenAndServe()
	}()
	return srv
}
