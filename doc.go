// Package callout provides a deferred-callback scheduler for long-running
// virtual machine hosts in Go.
//
// # Overview
//
// callout stores a bounded population of pending callouts (opaque handles
// bound to an owning object), orders them by wall-clock deadline, and
// delivers expired ones in deterministic order to an external execution
// engine. It supports insertion, cancellation, time-remaining queries, and
// checkpoint save/restore, so a host process can shut down with thousands
// of timers pending and pick them all up again after a restart.
//
// # Core Concepts
//
// The scheduler keeps every pending callout in one fixed-size arena and
// files it into one of three stores depending on its deadline:
//
//   - Time wheel: a 128-slot cyclic buffer for whole-second deadlines
//     within 128 seconds of the virtual clock. Insertion and expiry are
//     O(1); callouts in the same slot fire in insertion order.
//   - Priority queue: a binary min-heap for distant deadlines and for any
//     deadline with sub-second precision.
//   - Immediate list: a FIFO of zero-delay callouts pending dispatch.
//
// Time is virtual: the scheduler tracks an adjusted clock that never runs
// backward, never skips over a pending deadline, and can be shifted as a
// whole when a snapshot is restored, so downtime defers every deadline
// instead of expiring them all at once.
//
// The scheduler is generic over the host's object type and never inspects
// it; objects are resolved through an ObjectStore and handed to an
// Executor together with the callout handle.
//
// # Usage Example
//
//	type VMObject struct{ /* host state */ }
//
//	store := callout.StoreFunc[*VMObject](objects.Lookup)
//	exec := callout.ExecutorFunc[*VMObject](func(ctx context.Context, obj *VMObject, handle uint16) error {
//	    return obj.RunCallback(ctx, handle)
//	})
//
//	sched := callout.New("vm-callouts", 10000, store, exec)
//
//	// Schedule a callback 30 seconds out.
//	t, m, bucket, err := sched.Check(1, 30, callout.NoMillis)
//	if err != nil {
//	    return err // table full, or delay overflows
//	}
//	sched.Create(obj.Index, handle, t, m, bucket)
//
//	// Host main loop.
//	for {
//	    secs, millis := sched.Delay(0, 0)
//	    sleep(secs, millis)
//	    sched.Call(ctx)
//	}
//
// # Concurrency
//
// The scheduler is single-threaded and cooperative: all operations must
// run on one goroutine, and the only suspension point is the host's own
// sleep between ticks. No internal locking is performed. A re-entrant
// Call (calling Call from inside an executing callback) panics; creating
// or canceling callouts from inside a callback is fully supported.
//
// # Observability
//
// Every scheduler carries a metricz registry, a tracez tracer, and hookz
// event hooks (OnFired, OnFailed, OnRejected). State transitions worth
// alerting on (table overflow, executor failures, clock stalls, snapshot
// activity) are emitted as capitan signals.
package callout
