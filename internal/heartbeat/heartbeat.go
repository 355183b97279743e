// Package heartbeat implements the Heartbeat/Clock (spec §4.5): a
// 1-second timer that is the single point at which the scheduler advances
// time, deciding when to (re-)authenticate and when to reconcile.
package heartbeat

import (
	"context"
	"time"
)

// Interval is the timer's own tick rate (spec §4.5: "invoked by a
// 1-second timer"). This is distinct from heartbeat_interval (spec §6),
// the configurable reconcile cadence below.
const Interval = time.Second

// DefaultCheckInterval is heartbeat_interval's default (spec §6).
const DefaultCheckInterval = time.Second

// MinCheckInterval is the lowest heartbeat_interval a configuration may
// request (spec §6: "must be ≥ 100 ms").
const MinCheckInterval = 100 * time.Millisecond

// AuthBackoff is the re-auth cadence once Running (spec §4.2 step 2).
const AuthBackoff = 24 * time.Hour

// AuthBump is how far auth_deadline is pushed forward immediately before
// Auth is invoked, so a slow login batch doesn't cause the next tick to
// re-issue it (spec §4.5).
const AuthBump = 5 * time.Second

// Now abstracts the wall clock so tests can advance time deterministically
// instead of sleeping. Defaults to time.Now; this package's tests
// substitute a fixed clock.
type Now func() time.Time

// Clock tracks the two deadlines described in spec §3: auth_deadline and
// check_deadline. It holds no lock: like the rest of the core, it is only
// ever touched from the scheduler's single loop goroutine.
type Clock struct {
	now           Now
	checkInterval time.Duration

	AuthDeadline  time.Time
	CheckDeadline time.Time
}

// New returns a Clock with both deadlines unset (zero), matching the
// post-Reload state (spec §3: "Reload... clears... both deadlines").
// checkInterval is heartbeat_interval (spec §6); it is clamped to
// MinCheckInterval if lower.
func New(now Now, checkInterval time.Duration) *Clock {
	if now == nil {
		now = time.Now
	}
	if checkInterval < MinCheckInterval {
		checkInterval = MinCheckInterval
	}
	return &Clock{now: now, checkInterval: checkInterval}
}

// Reset clears both deadlines, used by Reload (spec §3).
func (c *Clock) Reset() {
	c.AuthDeadline = time.Time{}
	c.CheckDeadline = time.Time{}
}

// BumpAuth pushes auth_deadline to now+AuthBump (spec §4.5 step 1, first
// half: "push auth_deadline = now + 5s" before Auth is actually invoked).
func (c *Clock) BumpAuth() {
	c.AuthDeadline = c.now().Add(AuthBump)
}

// BackoffAuth sets auth_deadline to now+duration, used on login success
// (AuthBackoff) or on any fatal error (10s, spec §7).
func (c *Clock) BackoffAuth(d time.Duration) {
	c.AuthDeadline = c.now().Add(d)
}

// BumpCheck pushes check_deadline to now+heartbeat_interval (spec §4.5
// step 2).
func (c *Clock) BumpCheck() {
	c.CheckDeadline = c.now().Add(c.checkInterval)
}

// SetCheck sets check_deadline directly, used by DoFatal to align it with
// auth_deadline (spec §7, invariant 3).
func (c *Clock) SetCheck(t time.Time) {
	c.CheckDeadline = t
}

// AuthDue reports whether now >= auth_deadline (spec §4.5 step 1). A zero
// deadline (the post-Reload/startup state, spec §3) is always due.
func (c *Clock) AuthDue() bool {
	return !c.now().Before(c.AuthDeadline)
}

// CheckDue reports whether now >= check_deadline (spec §4.5 step 2). A
// zero deadline is always due.
func (c *Clock) CheckDue() bool {
	return !c.now().Before(c.CheckDeadline)
}

// Heartbeat invokes OnAuth/OnReconcile from Fire. The callbacks run on the
// caller's own goroutine — the scheduler calls Fire on each ticker tick from
// its single loop goroutine, so these callbacks are themselves loop
// callbacks, not async continuations.
type Heartbeat struct {
	clock   *Clock
	running func() bool

	OnAuth      func(ctx context.Context)
	OnReconcile func(ctx context.Context)
}

// NewHeartbeat returns a Heartbeat bound to clock. running reports the scheduler's
// current SchedulerState == Running (spec §4.5 step 2: reconcile only
// fires while Running).
func NewHeartbeat(clock *Clock, running func() bool) *Heartbeat {
	return &Heartbeat{clock: clock, running: running}
}

// Fire runs one timer tick (spec §4.5): checks auth_deadline, then, if
// Running, check_deadline. Called once per Interval by the scheduler's
// timer loop.
func (h *Heartbeat) Fire(ctx context.Context) {
	if h.clock.AuthDue() {
		h.clock.BumpAuth()
		if h.OnAuth != nil {
			h.OnAuth(ctx)
		}
	}
	if h.running() && h.clock.CheckDue() {
		h.clock.BumpCheck()
		if h.OnReconcile != nil {
			h.OnReconcile(ctx)
		}
	}
}
