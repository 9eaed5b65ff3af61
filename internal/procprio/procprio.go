// Package procprio approximates "dedicated OS thread, elevated priority"
// for the processor and trigger-emitter goroutines. Actual
// scheduling-priority elevation is platform-specific; this package gives
// every caller the portable half (locking the calling goroutine to its
// OS thread) and leaves priority itself a documented no-op.
package procprio

import "runtime"

// Elevate locks the calling goroutine to its current OS thread so the Go
// scheduler never migrates it mid-frame. Call once at the top of a
// worker's run loop, never from a goroutine that returns control to a
// pool afterwards.
//
// Raising the OS thread's scheduling priority beyond this is left to a
// platform-specific build (e.g. sched_setscheduler on Linux,
// SetThreadPriority on Windows) that this module does not ship.
func Elevate() {
	runtime.LockOSThread()
}
