// Package config loads the scheduler's configuration knobs (spec §6) from
// the environment, the way pkg/mailer's and pkg/db's Config structs are
// documented to be embedded for "env parsing with caarlos0/env" — this is
// that parsing actually wired up, with caarlos0/env/v11.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/apostoldevel/process-TaskScheduler/pkg/db"
	"github.com/apostoldevel/process-TaskScheduler/pkg/logger"
)

// Config is the scheduler's full configuration surface. DB embeds
// pkg/db.Config for connection pool sizing; the remaining fields are the
// knobs spec §6 names plus the ambient agent/host identity the Auth
// Manager sends with every login.
type Config struct {
	DB     db.Config
	Sentry logger.SentryConfig

	// ClientID/ClientSecret back credentials.Static, the default provider.
	ClientID     string `env:"SCHEDULER_CLIENT_ID"`
	ClientSecret string `env:"SCHEDULER_CLIENT_SECRET"`

	// OAuthBrokerURL, when set, switches cmd/scheduler to
	// credentials.OAuthBroker instead of credentials.Static: ClientID/
	// ClientSecret then authenticate to the broker itself rather than
	// being the scheduler's own credentials.
	OAuthBrokerURL      string `env:"SCHEDULER_OAUTH_BROKER_URL"`
	OAuthBrokerIDField  string `env:"SCHEDULER_OAUTH_BROKER_ID_FIELD" envDefault:"client_id"`
	OAuthBrokerSecField string `env:"SCHEDULER_OAUTH_BROKER_SECRET_FIELD" envDefault:"client_secret"`

	// Agent/Host are sent as the agent/host fields on every login and
	// get_sessions call (spec §6). Host defaults to a resolved hostname
	// (see internal/authmgr.Hostname) when left empty.
	Agent string `env:"SCHEDULER_AGENT" envDefault:"process-TaskScheduler"`
	Host  string `env:"SCHEDULER_HOST"`

	// HeartbeatIntervalMS is heartbeat_interval_ms (spec §6); must be >=
	// 100ms, enforced by internal/heartbeat.New.
	HeartbeatIntervalMS int `env:"HEARTBEAT_INTERVAL_MS" envDefault:"1000"`

	// PostgresPollMin is postgres_poll_min (spec §6), a pool sizing hint.
	// cmd/scheduler passes it as the pool's minimum connection count;
	// DB.MinConns is not used.
	PostgresPollMin int32 `env:"POSTGRES_POLL_MIN" envDefault:"5"`

	// User/Group are the privilege-drop identities (spec §6); out of
	// scope for the core itself (spec §1). They are parsed but not applied:
	// cmd/scheduler does not drop privileges.
	User  string `env:"SCHEDULER_USER"`
	Group string `env:"SCHEDULER_GROUP"`

	// SweepCron schedules the Auth Manager's stale-session sweep
	// (internal/authmgr.StartSweep); empty disables it.
	SweepCron string `env:"SCHEDULER_SWEEP_CRON" envDefault:"0 3 * * *"`

	// EventsRedisURL, when set, enables internal/events' lifecycle event
	// publisher. Empty disables publishing entirely.
	EventsRedisURL string `env:"SCHEDULER_EVENTS_REDIS_URL"`

	// DiagAddr is the diagnostics HTTP server's listen address
	// (cmd/scheduler's startDiagServer: /health/live, /health/ready).
	DiagAddr string `env:"SCHEDULER_DIAG_ADDR" envDefault:":8080"`
}

// HeartbeatInterval converts HeartbeatIntervalMS to a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
