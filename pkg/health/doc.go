// Package health provides HTTP handlers for liveness and readiness probes.
//
// This package implements endpoints compatible with Docker, Kubernetes, and
// third-party monitoring services. In this daemon it backs the small
// diagnostics server cmd/scheduler runs alongside the single-threaded event
// loop (the loop itself has no HTTP surface of its own).
//
// # Main Functions
//
// [LivenessHandler] provides a simple always-OK endpoint for process liveness.
// [ReadinessHandler] executes a set of [Checks] and returns service readiness.
//
// # Quick Start
//
// cmd/scheduler registers both endpoints on a chi router and checks both the
// database pool and the scheduler's own SchedulerState, since a process that
// can reach Postgres but never completed Auth isn't actually reconciling
// anything:
//
//	r.Get("/health/live", health.LivenessHandler())
//	r.Get("/health/ready", health.ReadinessHandler(health.Checks{
//	    "postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
//	    "scheduler": func(ctx context.Context) error {
//	        if !sched.IsRunning() {
//	            return errors.New("scheduler state is not running")
//	        }
//	        return nil
//	    },
//	}, health.WithTimeout(2*time.Second), health.WithLogger(log)))
//
// # Response Formats
//
// By default, handlers respond with plain text for compatibility with probes.
// Request JSON by setting Accept: application/json header or ?format=json:
//
//	curl http://localhost:8080/health/ready?format=json
//
// Plain text responses:
//   - 200 OK: "OK"
//   - 503 Service Unavailable: "Service Unavailable"
//
// JSON response structure:
//
//	{
//	  "checks": {
//	    "postgres": {"status": "healthy"},
//	    "scheduler": {"status": "unhealthy", "error": "scheduler state is not running"}
//	  },
//	  "status": "unhealthy"
//	}
package health
