// Package logctx attaches the scheduler's own domain identifiers (session,
// job id, tick number) to a context.Context so pkg/logger's
// ContextExtractor mechanism can surface them on every log line without
// threading them through every call site by hand.
package logctx

import (
	"context"
	"log/slog"
)

type key int

const (
	sessionKey key = iota
	jobKey
	tickKey
)

// WithSession tags ctx with the apibot session a batch was dispatched for.
func WithSession(ctx context.Context, session string) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// WithJob tags ctx with the job id a lifecycle transition is acting on.
func WithJob(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobKey, id)
}

// WithTick tags ctx with the heartbeat tick number that triggered it.
func WithTick(ctx context.Context, tick uint64) context.Context {
	return context.WithValue(ctx, tickKey, tick)
}

// SessionExtractor is a logger.ContextExtractor surfacing the session
// tagged by WithSession.
func SessionExtractor(ctx context.Context) (slog.Attr, bool) {
	v, ok := ctx.Value(sessionKey).(string)
	if !ok || v == "" {
		return slog.Attr{}, false
	}
	return slog.String("session", v), true
}

// JobExtractor is a logger.ContextExtractor surfacing the job id tagged by
// WithJob.
func JobExtractor(ctx context.Context) (slog.Attr, bool) {
	v, ok := ctx.Value(jobKey).(string)
	if !ok || v == "" {
		return slog.Attr{}, false
	}
	return slog.String("job_id", v), true
}

// TickExtractor is a logger.ContextExtractor surfacing the tick number
// tagged by WithTick.
func TickExtractor(ctx context.Context) (slog.Attr, bool) {
	v, ok := ctx.Value(tickKey).(uint64)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.Uint64("tick", v), true
}
