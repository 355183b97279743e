// Package reconcile implements the Reconciler (spec §4.4), the heart of the
// system: per tick, for each active session, it fetches the jobs that
// session may see and drives each observed (id, state) through the
// lifecycle decision table by invoking the seven transition operations
// (§4.4.1).
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/apostoldevel/process-TaskScheduler/internal/events"
	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/logctx"
	"github.com/apostoldevel/process-TaskScheduler/internal/loop"
	"github.com/apostoldevel/process-TaskScheduler/internal/registry"
	"github.com/apostoldevel/process-TaskScheduler/internal/storedproc"
)

// StateFilter is the api.job argument used every tick (spec §4.4 step 1).
// The name is contractual; the catalog returns every non-terminal state the
// scheduler must react to, not only rows literally in state "enabled".
const StateFilter = "enabled"

// PeriodicJobType is the type_code that routes a successful DoRun to
// DoDone instead of DoComplete (spec §3, §4.4.1).
const PeriodicJobType = "periodic.job"

// FatalFunc reports an unrecoverable error (spec §7's DoFatal). The caller
// (internal/scheduler) owns the Running->Stopped transition and the
// auth_deadline/check_deadline backoff; the Reconciler only classifies and
// reports.
type FatalFunc func(err error)

// Job is one row returned by api.job: the (id, type_code, state_code,
// body) tuple the decision table in spec §4.4 reacts to.
type Job struct {
	ID        string
	TypeCode  string
	StateCode string
	Body      string
}

// Reconciler holds no lock. Every row it examines and every registry
// mutation it makes is run through post, so the decision table for two
// sessions is never evaluated concurrently even though their batches are
// dispatched concurrently (see Tick).
type Reconciler struct {
	gw        *gateway.Gateway
	registry  *registry.Registry
	logger    *slog.Logger
	onFatal   FatalFunc
	post      loop.Poster
	publisher *events.Publisher
}

// New returns a Reconciler. post must deliver fn to the scheduler's single
// event-loop goroutine (see internal/loop). publisher may be nil, in which
// case lifecycle events are simply not published.
func New(gw *gateway.Gateway, reg *registry.Registry, logger *slog.Logger, onFatal FatalFunc, post loop.Poster, publisher *events.Publisher) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{gw: gw, registry: reg, logger: logger, onFatal: onFatal, post: post, publisher: publisher}
}

// Tick runs one reconciliation pass. One goroutine is fanned out per
// session via errgroup (spec §4.4: "across sessions no order is
// guaranteed") to dispatch that session's authorize+job batch; each
// goroutine only dispatches and returns, it never touches Sessions, Jobs,
// or the clock fields directly. The resulting rows are handed back to the
// loop via post before the decision table runs, so no two sessions'
// decision-table work ever overlaps. Batches for one session are not kept
// in submission order (see internal/gateway).
func (r *Reconciler) Tick(ctx context.Context, sessions []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, session := range sessions {
		session := session
		g.Go(func() error {
			r.tickSession(gctx, session)
			return nil
		})
	}
	return g.Wait()
}

func (r *Reconciler) tickSession(ctx context.Context, session string) {
	ctx = logctx.WithSession(ctx, session)
	statements := []string{
		storedproc.Authorize(session),
		storedproc.Jobs(StateFilter),
	}
	r.gw.ExecBatch(ctx, statements, nil,
		func(results gateway.Results) {
			r.post(func() { r.onTickResults(ctx, session, results) })
		},
		func(err *gateway.Error) {
			r.post(func() {
				r.fatal(ctx, fmt.Errorf("reconcile: session %s: tick batch: %w", session, err))
			})
		},
	)
}

func (r *Reconciler) onTickResults(ctx context.Context, session string, results gateway.Results) {
	if len(results) < 2 || len(results[0]) == 0 {
		r.fatal(ctx, fmt.Errorf("reconcile: session %s: authorize returned no row", session))
		return
	}

	authorized, _ := results[0][0]["authorized"].(string)
	if authorized != "t" {
		message, _ := results[0][0]["message"].(string)
		r.fatal(ctx, fmt.Errorf("reconcile: session %s: not authorized: %s", session, message))
		return
	}

	for _, row := range results[1] {
		r.applyRow(ctx, session, parseJob(row))
	}
}

func parseJob(row gateway.Row) Job {
	var j Job
	if v, ok := row["id"].(string); ok {
		j.ID = v
	}
	if v, ok := row["typecode"].(string); ok {
		j.TypeCode = v
	}
	if v, ok := row["statecode"].(string); ok {
		j.StateCode = v
	}
	if v, ok := row["body"].(string); ok {
		j.Body = v
	}
	return j
}

// applyRow is the decision table in spec §4.4, disambiguated per §9's open
// question: each branch is mutually exclusive, there is no fall-through
// between the "registry has id" and "registry lacks id" cases.
func (r *Reconciler) applyRow(ctx context.Context, session string, job Job) {
	if job.ID == "" {
		return
	}
	handle, present := r.registry.Get(job.ID)

	switch job.StateCode {
	case "canceled":
		if !present {
			r.doAbort(ctx, session, job.ID)
			return
		}
		if ok, reason := handle.Cancel(); ok {
			r.doAbort(ctx, session, job.ID)
		} else {
			r.doFail(ctx, session, job.ID, reason)
		}
	case "executed":
		if !present {
			// the database thinks we own this job but we've forgotten it
			// (crash or restart); force it back to a known state.
			r.doCancel(ctx, session, job.ID)
		}
		// present: job is progressing, leave alone.
	case "enabled", "aborted", "failed":
		r.doStart(ctx, session, job.ID, job.TypeCode, job.Body)
	default:
		// completed, done, or anything else: nothing to do.
	}
}

func (r *Reconciler) doStart(ctx context.Context, session, id, typeCode, body string) {
	ctx = logctx.WithJob(ctx, id)
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionExecute)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: DoStart(%s): %w", id, err))
		return
	}
	statements := []string{storedproc.Authorize(session), action}
	r.gw.ExecBatch(ctx, statements, nil,
		func(gateway.Results) {
			r.post(func() {
				r.logger.InfoContext(ctx, fmt.Sprintf("[%s] task started", id))
				r.publish(ctx, events.KindStarted, session, id, "")
				r.doRun(ctx, session, id, typeCode, body)
			})
		},
		func(err *gateway.Error) {
			// the id was never put in the registry, so there is nothing to
			// clean up here (spec §9: DoStart error paths are exempt from
			// the "delete in the terminal callback" rule).
			r.post(func() { r.fatal(ctx, fmt.Errorf("reconcile: DoStart(%s): %w", id, err)) })
		},
	)
}

func (r *Reconciler) doRun(ctx context.Context, session, id, typeCode, body string) {
	statements := []string{storedproc.Authorize(session), body}
	handle := r.gw.ExecBatch(ctx, statements, nil,
		func(gateway.Results) {
			r.post(func() {
				if typeCode == PeriodicJobType {
					r.doDone(ctx, session, id)
				} else {
					r.doComplete(ctx, session, id)
				}
			})
		},
		func(err *gateway.Error) {
			// errors inside the job's own body are non-fatal (spec §7):
			// reported as the job's failure via the lifecycle, not ours.
			r.post(func() {
				r.registry.Delete(id)
				r.logger.WarnContext(ctx, "job body failed", slog.Any("error", err))
			})
		},
	)
	r.registry.Put(id, handle)
}

func (r *Reconciler) doComplete(ctx context.Context, session, id string) {
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionComplete)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doComplete(%s): %w", id, err))
		return
	}
	r.dispatchTerminal(ctx, session, id, events.KindCompleted, "", []string{action})
}

func (r *Reconciler) doDone(ctx context.Context, session, id string) {
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionDone)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doDone(%s): %w", id, err))
		return
	}
	r.dispatchTerminal(ctx, session, id, events.KindDone, "", []string{action})
}

func (r *Reconciler) doAbort(ctx context.Context, session, id string) {
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionAbort)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doAbort(%s): %w", id, err))
		return
	}
	r.dispatchTerminal(ctx, session, id, events.KindAborted, "", []string{action})
}

func (r *Reconciler) doCancel(ctx context.Context, session, id string) {
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionCancel)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doCancel(%s): %w", id, err))
		return
	}
	r.dispatchTerminal(ctx, session, id, events.KindCanceled, "", []string{action})
}

func (r *Reconciler) doFail(ctx context.Context, session, id, reason string) {
	action, err := storedproc.ExecuteObjectAction(id, storedproc.ActionFail)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doFail(%s): %w", id, err))
		return
	}
	label, err := storedproc.SetObjectLabel(id, reason)
	if err != nil {
		r.fatal(ctx, fmt.Errorf("reconcile: doFail(%s): %w", id, err))
		return
	}
	r.dispatchTerminal(ctx, session, id, events.KindFailed, reason, []string{action, label})
}

// dispatchTerminal issues authorize(session); ops as one batch and clears
// the registry entry in the completion callback, whether ops succeeded or
// failed (spec §9's chosen rule: delete in the terminal callback). A
// failure here is fatal: the transition batch itself could not be trusted,
// as distinct from a failure inside the job's own body (doRun).
func (r *Reconciler) dispatchTerminal(ctx context.Context, session, id string, kind events.Kind, reason string, ops []string) {
	ctx = logctx.WithJob(ctx, id)
	statements := append([]string{storedproc.Authorize(session)}, ops...)
	r.gw.ExecBatch(ctx, statements, nil,
		func(gateway.Results) {
			r.post(func() {
				r.registry.Delete(id)
				r.logTransition(ctx, kind, id, reason)
				r.publish(ctx, kind, session, id, reason)
			})
		},
		func(err *gateway.Error) {
			r.post(func() {
				r.registry.Delete(id)
				r.fatal(ctx, fmt.Errorf("reconcile: transition(id=%s): %w", id, err))
			})
		},
	)
}

// logTransition emits one line per completed transition, mirroring the
// original's "[%s] Task started."/"[%s] Task aborted." style messages.
func (r *Reconciler) logTransition(ctx context.Context, kind events.Kind, id, reason string) {
	switch kind {
	case events.KindFailed:
		r.logger.InfoContext(ctx, fmt.Sprintf("[%s] task failed: %s", id, reason))
	default:
		r.logger.InfoContext(ctx, fmt.Sprintf("[%s] task %s", id, kind))
	}
}

func (r *Reconciler) publish(ctx context.Context, kind events.Kind, session, id, reason string) {
	if r.publisher == nil {
		return
	}
	r.publisher.Publish(ctx, events.Event{
		Kind:      kind,
		Session:   session,
		JobID:     id,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (r *Reconciler) fatal(ctx context.Context, err error) {
	r.logger.ErrorContext(ctx, err.Error())
	if r.onFatal != nil {
		r.onFatal(err)
	}
}
