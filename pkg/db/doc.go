// Package db provides PostgreSQL connection pooling utilities.
//
// This package wraps [github.com/jackc/pgx/v5/pgxpool] to provide connection pooling
// and retrying startup with sensible defaults.
//
// # Features
//
//   - Connection pooling with configurable limits and timeouts
//   - Automatic retry logic during startup, waiting interval, 2×interval, 3×interval, ...
//   - Environment-based configuration for deployment convenience
//
// # Configuration
//
// All settings are loaded from environment variables:
//
//	DATABASE_CONN_URL           - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 10)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 5)
//	DATABASE_HEALTHCHECK_PERIOD - Health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection retry attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
//
// # Usage
//
// Basic connection setup with functional options:
//
//	import (
//		"context"
//		"log"
//		"os"
//
//		"github.com/apostoldevel/process-TaskScheduler/pkg/db"
//	)
//
//	func main() {
//		ctx := context.Background()
//
//		pool, err := db.Open(ctx, os.Getenv("DATABASE_CONN_URL"),
//			db.WithMaxConns(10),
//			db.WithMinConns(5),
//		)
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer pool.Close()
//	}
//
// # Health Checks
//
// The package has no health-check helper of its own; callers ping the pool
// directly, as cmd/scheduler's "postgres" readiness check does:
//
//	checks := health.Checks{
//		"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
//	}
//
// # Error Handling
//
// The package defines sentinel errors for common failure modes:
//
//   - [ErrFailedToParseDBConfig] - Invalid connection string format
//   - [ErrFailedToOpenDBConnection] - Connection failed after all retries
//   - [ErrHealthcheckFailed] - Defined for a failed database ping; no function in this package returns it
//
// Errors are wrapped using [errors.Join] to preserve the original error context.
package db
