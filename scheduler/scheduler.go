// Package scheduler provides the timer and single-threaded execution seam
// the engine is built on. Per the concurrency model, the session table is
// intentionally unsynchronized: every entry point and every fired timer
// must run on one executor.
package scheduler

import "time"

// Handle is a scheduled one-shot callback. Cancel is safe to call more
// than once and after the callback has already fired.
type Handle interface {
	Cancel()
}

// Scheduler schedules one-shot callbacks and marshals arbitrary work onto
// the engine's single executor. Implementations must guarantee that no
// two callbacks (timer fire or posted work) ever run concurrently.
type Scheduler interface {
	// After schedules fn to run after d, on the executor. Returns a
	// handle that cancels the pending fire; Cancel on an already-fired
	// or already-cancelled handle is a no-op.
	After(d time.Duration, fn func()) Handle

	// Post marshals fn onto the executor for execution as soon as it is
	// free, preserving FIFO order with other posted work and fired
	// timers. External callers (inbound I/O, application encrypt calls,
	// store callback replies) use this to reach the engine safely.
	Post(fn func())

	// Stop shuts the executor down. Pending timers are cancelled;
	// queued work that has not yet run is discarded.
	Stop()
}
