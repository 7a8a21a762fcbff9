package callout

import "github.com/zoobzio/capitan"

// Signal constants for scheduler events.
// Signals follow the pattern: callout.<event>.
var (
	// SignalOverflow fires when Check rejects a reservation because the
	// arena is out of headroom.
	SignalOverflow = capitan.NewSignal("callout.overflow", "arena out of headroom")
	// SignalFailed fires when an executor returns an error for a
	// dispatched callout.
	SignalFailed = capitan.NewSignal("callout.failed", "executor returned an error")
	// SignalPanic fires when an executor panics; the panic is contained
	// and dispatch continues with the next callout.
	SignalPanic = capitan.NewSignal("callout.panic", "executor panicked")
	// SignalClockStall fires when the raw clock has run more than a
	// minute ahead of the virtual timestamp between ticks.
	SignalClockStall = capitan.NewSignal("callout.clock-stall", "raw clock ran ahead of virtual timestamp")

	// Snapshot signals.
	SignalSnapshotSaved    = capitan.NewSignal("callout.snapshot-saved", "scheduler snapshot saved")
	SignalSnapshotRestored = capitan.NewSignal("callout.snapshot-restored", "scheduler snapshot restored")
)

// Common field keys using capitan primitive types.
var (
	FieldName      = capitan.NewStringKey("name")       // Scheduler instance name
	FieldError     = capitan.NewStringKey("error")      // Error message
	FieldTimestamp = capitan.NewFloat64Key("timestamp") // Unix timestamp

	FieldObject = capitan.NewIntKey("oindex") // Owning-object index
	FieldHandle = capitan.NewIntKey("handle") // Callout handle

	FieldShort    = capitan.NewIntKey("short")    // Short-term callout count
	FieldQueued   = capitan.NewIntKey("queued")   // Priority-queue callout count
	FieldCapacity = capitan.NewIntKey("capacity") // Arena capacity
	FieldWanted   = capitan.NewIntKey("wanted")   // Slots the reservation asked for

	FieldLag     = capitan.NewIntKey("lag")     // Seconds the raw clock ran ahead
	FieldElapsed = capitan.NewIntKey("elapsed") // Downtime seconds applied on restore
)
