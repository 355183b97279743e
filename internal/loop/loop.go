// Package loop defines the single-threaded cooperative event loop's
// re-entry point (spec §5: "No mutex is needed for Sessions, Jobs, or the
// clock fields because no two callbacks run concurrently").
//
// internal/gateway dispatches batches on goroutines it owns; every other
// component (internal/authmgr, internal/reconcile, internal/heartbeat) is
// only ever mutated from the scheduler's own loop goroutine. A Poster is
// how a gateway callback — which runs on a dispatch goroutine — hands its
// continuation back to that single loop goroutine instead of mutating
// shared state directly.
package loop

// Poster posts fn to run on the owning event loop goroutine. Callers from
// any goroutine may call Poster; fn itself must only be called by the loop.
type Poster func(fn func())
