package callout

import "context"

// Name is a type alias for scheduler instance names.
// Using this type encourages storing names as constants rather than
// using inline strings throughout your code.
//
// Example:
//
//	const VMCalloutsName callout.Name = "vm-callouts"
type Name = string

// NoMillis is the sentinel millisecond value meaning "no sub-second
// component". Deadlines carrying it are kept at whole-second precision
// and are eligible for the time wheel; any other value forces the
// priority queue.
const NoMillis uint16 = 0xffff

// Bucket identifies which store a callout will be committed to.
// Check returns the bucket for a prospective callout; the same value must
// be passed unchanged to Create.
type Bucket int

// Bucket kinds.
const (
	// BucketNone means no bucket was chosen: Check failed or the
	// scheduler is disabled. Create ignores it.
	BucketNone Bucket = iota
	// BucketImmediate files the callout on the zero-delay FIFO.
	BucketImmediate
	// BucketWheel files the callout in the cyclic buffer slot derived
	// from its deadline.
	BucketWheel
	// BucketQueue files the callout in the priority queue.
	BucketQueue
)

// String returns a human-readable bucket kind for debugging.
func (b Bucket) String() string {
	switch b {
	case BucketImmediate:
		return "immediate"
	case BucketWheel:
		return "wheel"
	case BucketQueue:
		return "queue"
	default:
		return "none"
	}
}

// Executor runs the user-visible callback for an expired callout.
// The scheduler frees the callout record before dispatch, so an executor
// may schedule or cancel callouts freely. An error return (or a panic)
// is contained and reported; subsequent callouts in the same tick still
// fire.
type Executor[O any] interface {
	Run(ctx context.Context, obj O, handle uint16) error
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc[O any] func(ctx context.Context, obj O, handle uint16) error

// Run implements Executor.
func (f ExecutorFunc[O]) Run(ctx context.Context, obj O, handle uint16) error {
	return f(ctx, obj, handle)
}

// ObjectStore resolves an owning-object index to a live object.
// Resolution must not fail for an index that owns a pending callout; the
// host's bookkeeping is trusted to keep owners alive.
type ObjectStore[O any] interface {
	Resolve(oindex uint16) O
}

// StoreFunc adapts a plain lookup function to the ObjectStore interface.
type StoreFunc[O any] func(oindex uint16) O

// Resolve implements ObjectStore.
func (f StoreFunc[O]) Resolve(oindex uint16) O {
	return f(oindex)
}

// Swapper is the byte transport for snapshots. Save produces a stream of
// fixed-layout little-endian records through Write; Restore consumes the
// same stream through Read. Read must fill the whole buffer or fail,
// io.ReadFull style. StreamSwapper adapts any io.Writer/io.Reader pair.
type Swapper interface {
	Write(p []byte) error
	Read(p []byte) error
}
