// Package authmgr implements the Auth Manager (spec §4.2): it logs the
// service in, discovers the set of apibot sessions, re-authenticates on
// schedule or after a fatal error, and signs out stale sessions.
package authmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apostoldevel/process-TaskScheduler/internal/credentials"
	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/loop"
	"github.com/apostoldevel/process-TaskScheduler/internal/storedproc"
	"github.com/google/uuid"
)

// ServiceApp is the credential provider's appName for this daemon (spec §6).
const ServiceApp = "service"

// APIBotUsername is the well-known service username the scheduler
// reconciles jobs for (spec §6, GLOSSARY).
const APIBotUsername = "apibot"

// FatalFunc is invoked when a login batch fails; the caller (internal/scheduler)
// owns the global Stopped/auth_deadline/check_deadline transition (spec §7).
type FatalFunc func(err error)

// Manager is the Auth Manager. It holds no lock: like the rest of the core
// it is only ever touched from the scheduler's single-threaded loop.
type Manager struct {
	gw      *gateway.Gateway
	creds   credentials.Provider
	logger  *slog.Logger
	agent   string
	host    string
	onFatal FatalFunc
	post    loop.Poster

	sessions []string
}

// New returns an Auth Manager. agent/host are the login fields sent with
// every login and get_sessions call (spec §6); see Hostname for a default host.
//
// post is the scheduler's loop.Poster: every gateway.ExecBatch callback is
// dispatched through it so the Manager's state is only ever mutated on the
// scheduler's single event-loop goroutine (spec §5), never on a gateway
// dispatch goroutine.
func New(gw *gateway.Gateway, creds credentials.Provider, agent, host string, logger *slog.Logger, onFatal FatalFunc, post loop.Poster) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{gw: gw, creds: creds, agent: agent, host: host, logger: logger, onFatal: onFatal, post: post}
}

// Sessions returns the current apibot session set. The returned slice must
// not be mutated by the caller.
func (m *Manager) Sessions() []string { return m.sessions }

// Reset clears the session set, used by Reload (spec §3).
func (m *Manager) Reset() { m.sessions = nil }

// Login builds and dispatches: login(clientId, secret, agent, host) then
// get_sessions(apibot, agent, host) (spec §4.2 step 1).
//
// onAuthenticated is called with the discovered session list once the batch
// completes successfully; the caller is responsible for the
// Stopped->Running transition and for bumping auth_deadline (spec §4.5
// already pushed auth_deadline forward by 5s before calling Login, so a
// slow batch doesn't cause the next tick to re-issue it).
func (m *Manager) Login(ctx context.Context, onAuthenticated func(sessions []string)) {
	clientID, err := m.creds.ClientID(ctx, ServiceApp)
	if err != nil {
		m.fail(ctx, fmt.Errorf("authmgr: client id: %w", err))
		return
	}
	clientSecret, err := m.creds.Secret(ctx, ServiceApp)
	if err != nil {
		m.fail(ctx, fmt.Errorf("authmgr: client secret: %w", err))
		return
	}

	statements := []string{
		storedproc.Login(clientID, clientSecret, m.agent, m.host),
		storedproc.GetSessions(APIBotUsername, m.agent, m.host),
	}

	m.gw.ExecBatch(ctx, statements, nil,
		func(results gateway.Results) {
			m.post(func() { m.onLoginResults(ctx, results, onAuthenticated) })
		},
		func(err *gateway.Error) {
			m.post(func() { m.fail(ctx, fmt.Errorf("authmgr: login batch: %w", err)) })
		},
	)
}

func (m *Manager) onLoginResults(ctx context.Context, results gateway.Results, onAuthenticated func([]string)) {
	if len(results) < 2 || len(results[0]) == 0 {
		m.fail(ctx, fmt.Errorf("authmgr: login returned no session row"))
		return
	}

	loginSession, _ := results[0][0]["session"].(string)
	if loginSession == "" {
		m.fail(ctx, fmt.Errorf("authmgr: login returned empty session"))
		return
	}

	sessions := make([]string, 0, len(results[1]))
	for _, row := range results[1] {
		if s, ok := row["get_sessions"].(string); ok && s != "" {
			sessions = append(sessions, s)
		}
	}
	if len(sessions) == 0 {
		m.fail(ctx, fmt.Errorf("authmgr: get_sessions returned no apibot sessions"))
		return
	}

	m.sessions = sessions
	onAuthenticated(sessions)

	// The login session itself is disposable once we've listed the apibot
	// sessions; sign it out asynchronously (spec §4.2 step 2). A failure
	// here is logged, not fatal: we already have what we need.
	correlationID := uuid.NewString()
	signoutCtx := context.WithoutCancel(ctx)
	m.gw.ExecBatch(signoutCtx, []string{storedproc.Signout(loginSession)}, nil,
		func(gateway.Results) {
			m.post(func() {
				m.logger.DebugContext(signoutCtx, "login session signed out", slog.String("correlation_id", correlationID))
			})
		},
		func(err *gateway.Error) {
			m.post(func() {
				m.logger.WarnContext(signoutCtx, "failed to sign out login session",
					slog.String("correlation_id", correlationID), slog.Any("error", err))
			})
		},
	)
}

func (m *Manager) fail(ctx context.Context, err error) {
	m.sessions = nil
	m.logger.ErrorContext(ctx, err.Error())
	if m.onFatal != nil {
		m.onFatal(err)
	}
}

// Hostname resolves a best-effort host string for the login/get_sessions
// agent/host fields, mirroring the original's
// GetIPByHostName(GetHostName()) — never fatal, falls back to the bare
// hostname (or "localhost") if resolution fails.
func Hostname(ctx context.Context) string {
	name, err := osHostname()
	if err != nil || name == "" {
		return "localhost"
	}

	resolver := &netResolver{}
	addrs, err := resolver.LookupHost(ctx, name)
	if err != nil || len(addrs) == 0 {
		return name
	}
	return addrs[0]
}

// SweepInterval is how often the stale-session sweep (internal/authmgr's
// cron-scheduled maintenance described in SPEC_FULL.md) runs by default.
const SweepInterval = 24 * time.Hour
