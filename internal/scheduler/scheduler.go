// Package scheduler wires the Auth Manager, Job Registry, Reconciler, and
// Heartbeat/Clock into the single-threaded cooperative event loop spec §5
// describes, and owns SchedulerState, Reload, and the two-tier error
// model (spec §7).
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/apostoldevel/process-TaskScheduler/internal/authmgr"
	"github.com/apostoldevel/process-TaskScheduler/internal/credentials"
	"github.com/apostoldevel/process-TaskScheduler/internal/events"
	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/heartbeat"
	"github.com/apostoldevel/process-TaskScheduler/internal/logctx"
	"github.com/apostoldevel/process-TaskScheduler/internal/reconcile"
	"github.com/apostoldevel/process-TaskScheduler/internal/registry"
)

// State is the scheduler's SchedulerState (spec §3).
type State int

const (
	Stopped State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

// FatalBackoff is the auth_deadline/check_deadline backoff applied by
// DoFatal (spec §7).
const FatalBackoff = 10 * time.Second

// postQueueSize bounds how many pending callbacks the loop will buffer
// before a gateway dispatch goroutine blocks handing one off; generous
// enough that a burst across every session in one tick never blocks on it.
const postQueueSize = 256

// Config collects the collaborators Scheduler wires together. Gateway,
// Credentials, Agent and Host are supplied by cmd/scheduler after it has
// built the DB connection pool and resolved a credential provider.
type Config struct {
	Gateway     *gateway.Gateway
	Credentials credentials.Provider
	Agent       string
	Host        string
	Logger      *slog.Logger

	// Events, when non-nil, receives a notification for every lifecycle
	// transition the Reconciler completes. Optional: nil disables publishing.
	Events *events.Publisher

	// CheckInterval is heartbeat_interval (spec §6); defaults to
	// heartbeat.DefaultCheckInterval and is clamped to
	// heartbeat.MinCheckInterval.
	CheckInterval time.Duration
}

// Scheduler is the top-level component: it owns the single event-loop
// goroutine (Run), the loop.Poster every other component posts through,
// and the global Stopped/Running state.
type Scheduler struct {
	logger *slog.Logger

	gw         *gateway.Gateway
	registry   *registry.Registry
	authMgr    *authmgr.Manager
	reconciler *reconcile.Reconciler
	clock      *heartbeat.Clock
	hb         *heartbeat.Heartbeat

	state State
	tick  uint64

	// running mirrors state for readers outside the loop goroutine (the
	// diagnostics server's readiness check): state itself is read/written
	// only from Run's goroutine, per spec §5's no-mutex invariant.
	running atomic.Bool

	postCh       chan func()
	onReopenLogs func()
}

// New wires every collaborator and returns a Scheduler ready for Run. It
// does not start anything: Auth is first invoked on the loop's very first
// timer tick (auth_deadline starts zero, which Clock.AuthDue treats as
// immediately due).
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scheduler{
		logger:   logger,
		gw:       cfg.Gateway,
		registry: registry.New(),
		postCh:   make(chan func(), postQueueSize),
	}

	checkInterval := cfg.CheckInterval
	if checkInterval == 0 {
		checkInterval = heartbeat.DefaultCheckInterval
	}

	s.authMgr = authmgr.New(cfg.Gateway, cfg.Credentials, cfg.Agent, cfg.Host, logger, s.DoFatal, s.Post)
	s.reconciler = reconcile.New(cfg.Gateway, s.registry, logger, s.DoFatal, s.Post, cfg.Events)
	s.clock = heartbeat.New(nil, checkInterval)
	s.hb = heartbeat.NewHeartbeat(s.clock, func() bool { return s.state == Running })
	s.hb.OnAuth = func(ctx context.Context) { s.authMgr.Login(ctx, s.onAuthenticated) }
	s.hb.OnReconcile = func(ctx context.Context) {
		if err := s.reconciler.Tick(ctx, s.authMgr.Sessions()); err != nil {
			s.logger.WarnContext(ctx, "reconcile tick dispatch failed", slog.Any("error", err))
		}
	}

	return s
}

// StartSweep schedules the Auth Manager's stale-session sweep on expr (a
// standard 5-field cron expression, e.g. "0 3 * * *"). The caller owns the
// returned *cron.Cron's lifetime and should Stop it on shutdown.
func (s *Scheduler) StartSweep(ctx context.Context, expr string) (*cron.Cron, error) {
	return s.authMgr.StartSweep(ctx, expr)
}

// Post implements loop.Poster: it hands fn to the loop goroutine running
// Run. Safe to call from any goroutine, including gateway dispatch
// goroutines and cron's own goroutine.
func (s *Scheduler) Post(fn func()) {
	s.postCh <- fn
}

// State reports the current SchedulerState. Only safe to call from the
// loop goroutine (Run) or its own callbacks.
func (s *Scheduler) State() State { return s.state }

// IsRunning reports whether SchedulerState == Running. Unlike State, it is
// safe to call from any goroutine — the diagnostics server's readiness
// check calls it from an HTTP handler goroutine.
func (s *Scheduler) IsRunning() bool { return s.running.Load() }

// OnReopenLogs registers the callback SIGUSR1 triggers (spec §5: "requests
// log reopen"). With no callback registered, SIGUSR1 does nothing;
// cmd/scheduler registers none, since it logs only to stdout and Sentry.
func (s *Scheduler) OnReopenLogs(fn func()) { s.onReopenLogs = fn }

// Run is the single-threaded cooperative event loop (spec §5). It blocks
// until ctx is canceled or a SIGTERM/SIGQUIT is received. Every state
// mutation in the scheduler happens inside this call: the heartbeat ticker
// fires Auth/Reconcile directly, and every async gateway callback arrives
// here only via Post.
func (s *Scheduler) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(heartbeat.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "scheduler stopping", slog.Any("reason", ctx.Err()))
			return ctx.Err()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGTERM, syscall.SIGQUIT:
				s.logger.InfoContext(ctx, "scheduler stopping", slog.String("signal", sig.String()))
				return nil
			case syscall.SIGHUP:
				s.Reload()
			case syscall.SIGUSR1:
				if s.onReopenLogs != nil {
					s.onReopenLogs()
				}
			}

		case fn := <-s.postCh:
			fn()

		case <-ticker.C:
			s.tick++
			s.hb.Fire(logctx.WithTick(ctx, s.tick))
		}
	}
}

func (s *Scheduler) onAuthenticated(sessions []string) {
	s.state = Running
	s.running.Store(true)
	s.clock.BackoffAuth(heartbeat.AuthBackoff)
	s.logger.Info("authenticated", slog.Int("sessions", len(sessions)))
}

// DoFatal is the fatal error tier (spec §7): state -> Stopped,
// auth_deadline = check_deadline = now + 10s, logged as ERR. The first
// timer tick at or after the new auth_deadline re-authenticates.
func (s *Scheduler) DoFatal(err error) {
	s.state = Stopped
	s.running.Store(false)
	s.clock.BackoffAuth(FatalBackoff)
	s.clock.SetCheck(s.clock.AuthDeadline)
	s.logger.Error("ERR", slog.Any("error", err))
	s.logger.Info("Continue after 10 seconds")
}

// Reload implements SIGHUP (spec §3, §5): clears Sessions, Jobs, both
// deadlines, and returns to Stopped. The process stays alive; the next
// timer tick re-authenticates from scratch.
func (s *Scheduler) Reload() {
	s.registry.Clear()
	s.authMgr.Reset()
	s.clock.Reset()
	s.state = Stopped
	s.running.Store(false)
	s.logger.Info("configuration reloaded")
}
