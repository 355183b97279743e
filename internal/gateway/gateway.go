// Package gateway implements the DB Gateway (spec §4.1): it issues batches
// of SQL statements to a pooled connection, delivers per-statement results
// or a terminal error through callbacks, and supports mid-flight
// cancellation of an outstanding batch.
//
// Ordering: pgx pipelines a *pgx.Batch as one network round trip, so the
// statements inside one batch run in order. Separate batches are not
// ordered: each ExecBatch call runs on its own goroutine against whatever
// pool connection it gets, and the reconciler (internal/reconcile) can have
// several batches for the same session in flight at once, so their
// callbacks may arrive in any order.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one result row, column name to value.
type Row map[string]any

// ResultSet is the ordered set of rows returned by one statement.
type ResultSet []Row

// Results is the ordered list of per-statement result sets for a batch,
// mirroring the original CPQueryResults array indexed by statement.
type Results []ResultSet

// ErrKind classifies a Gateway error for the caller's recovery policy.
type ErrKind int

const (
	// ErrKindStatement means a statement or the batch failed for any reason
	// other than cancellation, including a dropped connection.
	ErrKindStatement ErrKind = iota
	// ErrKindConnection means the batch's context was canceled (by
	// Handle.Cancel or by the caller's ctx) before the batch finished.
	ErrKindConnection
)

// Error is the structured error delivered to onError.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Rows is the narrow slice of pgx.Rows the gateway depends on, so tests can
// fake result sets without a real Postgres connection.
type Rows interface {
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
	FieldDescriptions() []pgx.FieldDescription
}

// BatchResults is the narrow slice of pgx.BatchResults the gateway depends on.
type BatchResults interface {
	Query() (Rows, error)
	Close() error
}

// DB sends a pipelined batch of statements and returns their results in
// order, one result set per call to BatchResults.Query.
type DB interface {
	SendBatch(ctx context.Context, statements []string) BatchResults
}

// PoolDB adapts a *pgxpool.Pool to DB.
type PoolDB struct {
	Pool *pgxpool.Pool
}

// SendBatch queues each statement onto a *pgx.Batch and submits it in one
// pipelined round trip.
func (p PoolDB) SendBatch(ctx context.Context, statements []string) BatchResults {
	batch := &pgx.Batch{}
	for _, stmt := range statements {
		batch.Queue(stmt)
	}
	return pgxBatchResults{br: p.Pool.SendBatch(ctx, batch)}
}

type pgxBatchResults struct {
	br pgx.BatchResults
}

func (b pgxBatchResults) Query() (Rows, error) {
	rows, err := b.br.Query()
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (b pgxBatchResults) Close() error { return b.br.Close() }

// Gateway dispatches batches against a pooled connection.
type Gateway struct {
	db     DB
	logger *slog.Logger
}

// New returns a Gateway backed by db (typically a PoolDB wrapping a *pgxpool.Pool).
func New(db DB, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{db: db, logger: logger}
}

// OnData is invoked once per row, if non-nil, after all rows of that row's
// statement have been read.
type OnData func(statementIndex int, row Row)

// OnDone is invoked once, with every statement's results, after the whole
// batch completes successfully.
type OnDone func(Results)

// OnError is invoked once, in place of OnDone, if any statement fails,
// dispatch fails, or the connection is lost.
type OnError func(*Error)

// Handle is returned by ExecBatch and lets the caller cancel the batch
// while it is still in flight.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	finished  bool
	cancelErr error
}

// ExecBatch submits statements as a single pipelined batch and returns
// immediately with a Handle; callbacks run on a goroutine the gateway owns,
// not on the caller's loop — callers that need single-threaded semantics
// (internal/scheduler) re-enter their own loop via a channel, matching the
// suspension points spec §5 calls out ("the gateway's asynchronous dispatch").
func (g *Gateway) ExecBatch(ctx context.Context, statements []string, onData OnData, onDone OnDone, onError OnError) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)

		br := g.db.SendBatch(ctx, statements)
		defer func() {
			_ = br.Close()
		}()

		results := make(Results, 0, len(statements))
		var execErr *Error

		for i := range statements {
			rows, err := br.Query()
			if err != nil {
				execErr = classifyErr(ctx, err)
				break
			}

			rs, scanErr := collect(rows)
			if scanErr != nil {
				execErr = classifyErr(ctx, scanErr)
				break
			}

			if onData != nil {
				for _, row := range rs {
					onData(i, row)
				}
			}
			results = append(results, rs)
		}

		h.mu.Lock()
		h.finished = true
		if execErr != nil {
			h.cancelErr = execErr.Err
		}
		h.mu.Unlock()

		if execErr != nil {
			if onError != nil {
				onError(execErr)
			}
			return
		}
		if onDone != nil {
			onDone(results)
		}
	}()

	return h
}

// Cancel attempts to abort the running batch (spec §4.1).
//
// It returns true if cancellation succeeded: the dispatch goroutine observed
// context cancellation before the batch produced a result, so nothing the
// caller needs to roll back was committed. It returns false with reason
// populated if the batch finished on its own (successfully or with an
// unrelated error) while Cancel was waiting for it — the database already
// acted on it and the caller must reconcile via a compensating action instead.
//
// Cancel is safe to call after the batch has completed: it is a no-op that
// returns true, matching spec §4.1 ("Cancel is safe to call after
// completion").
func (h *Handle) Cancel() (ok bool, reason string) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return true, ""
	}
	h.mu.Unlock()

	h.cancel()
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	if errors.Is(h.cancelErr, context.Canceled) {
		return true, ""
	}
	return false, "already committed"
}

func classifyErr(ctx context.Context, err error) *Error {
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrKindConnection, Err: err}
	}
	if ctx.Err() != nil {
		return &Error{Kind: ErrKindConnection, Err: ctx.Err()}
	}
	return &Error{Kind: ErrKindStatement, Err: err}
}

func collect(rows Rows) (ResultSet, error) {
	fields := rows.FieldDescriptions()
	var rs ResultSet
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			rows.Close()
			return nil, err
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			if i < len(values) {
				row[string(f.Name)] = values[i]
			}
		}
		rs = append(rs, row)
	}
	err := rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}
	return rs, nil
}
