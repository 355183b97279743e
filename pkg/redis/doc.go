// Package redis opens the single Redis connection internal/events uses to
// publish lifecycle notifications (spec §1 Non-goals: Redis carries no
// scheduler state, so this package only ever needs one client, not a pool
// sized for request traffic).
//
// # Usage
//
// cmd/scheduler opens the client once, feeds it to events.New, and wires its
// Healthcheck into the diagnostics server's readiness set alongside the
// database and scheduler checks:
//
//	client, err := redis.Open(ctx, cfg.EventsRedisURL, redis.WithRetry(5, 3*time.Second))
//	if err != nil {
//	    return err
//	}
//	defer redis.Shutdown(client)(shutdownCtx)
//
//	publisher := events.New(client, log)
//	checks["redis"] = redis.Healthcheck(client)
//
// # Error Handling
//
// [ErrEmptyConnectionURL] and [ErrFailedToParseURL] guard Open's arguments;
// [ErrConnectionFailed] is returned once retries are exhausted;
// [ErrHealthcheckFailed] wraps a failed ping in the [Healthcheck] closure.
// Errors are joined with [errors.Join] to preserve the underlying go-redis
// error.
package redis
