// Package events publishes lifecycle events for observability. This is
// not a coordination mechanism (spec §1 Non-goals: "no distributed
// coordination between multiple scheduler replicas") — it is an optional,
// fire-and-forget notification channel, adapting pkg/redis' connection
// helpers the way pkg/redis' own doc.go demonstrates pairing Open with a
// small feature package.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Kind names a lifecycle transition worth publishing.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindDone      Kind = "done"
	KindAborted   Kind = "aborted"
	KindCanceled  Kind = "canceled"
	KindFailed    Kind = "failed"
)

// Event is one published lifecycle notification, keyed by job id.
type Event struct {
	Kind      Kind      `json:"kind"`
	Session   string    `json:"session"`
	JobID     string    `json:"job_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Channel is the Redis pub/sub channel events are published to.
const Channel = "scheduler.job.events"

// Publisher publishes Events to Redis. A nil Publisher (or one built with
// a nil client) is a no-op: Publish simply returns without
// touching the network, so a deployment can disable events entirely.
type Publisher struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New returns a Publisher backed by an already-connected client (typically
// opened with pkg/redis.Open by cmd/scheduler).
func New(client redis.UniversalClient, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish marshals ev and publishes it on Channel. Failures are logged and
// swallowed: a dropped notification must never affect scheduling (spec §1:
// the core's job is reconciliation, not delivery guarantees for observers).
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("events: failed to marshal event", slog.Any("error", err))
		return
	}

	if err := p.client.Publish(ctx, Channel, payload).Err(); err != nil {
		p.logger.Warn("events: failed to publish event", slog.Any("error", err))
	}
}
