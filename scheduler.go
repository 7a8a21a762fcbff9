package callout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the scheduler front-end.
const (
	// Metrics.
	CalloutsCreatedTotal  = metricz.Key("callout.created.total")
	CalloutsFiredTotal    = metricz.Key("callout.fired.total")
	CalloutsCanceledTotal = metricz.Key("callout.canceled.total")
	CalloutsRejectedTotal = metricz.Key("callout.rejected.total")
	CalloutFailuresTotal  = metricz.Key("callout.failures.total")
	CalloutsShortCurrent  = metricz.Key("callout.short.current")
	CalloutsQueuedCurrent = metricz.Key("callout.queued.current")

	// Spans.
	CallSpan    = tracez.Key("callout.call")
	ExpireSpan  = tracez.Key("callout.expire")
	SaveSpan    = tracez.Key("callout.save")
	RestoreSpan = tracez.Key("callout.restore")

	// Tags.
	TagFired  = tracez.Tag("callout.fired")
	TagShort  = tracez.Tag("callout.short")
	TagQueued = tracez.Tag("callout.queued")
	TagError  = tracez.Tag("callout.error")

	// Hook event keys.
	EventFired    = hookz.Key("callout.fired")
	EventFailed   = hookz.Key("callout.failed")
	EventRejected = hookz.Key("callout.rejected")
)

// errReentrantCall marks the re-entrant Call panic so executor panic
// containment can tell it apart from callback bugs.
var errReentrantCall = errors.New("callout: re-entrant Call")

// Event is emitted via hooks when a callout fires, fails, or is
// rejected at reservation time.
type Event struct {
	Name      Name      // Scheduler instance name
	OIndex    uint16    // Owning-object index (zero for rejections)
	Handle    uint16    // Callout handle (zero for rejections)
	Err       error     // Executor or reservation error, if any
	Timestamp time.Time // When the event occurred
}

// Scheduler is a deferred-callback scheduler for a VM host: a bounded
// arena of pending callouts ordered by wall-clock deadline, delivered in
// deterministic order to an Executor when they expire.
//
// CRITICAL: Scheduler is a STATEFUL, single-threaded component. Create
// it once per host and drive every operation from the same goroutine;
// the cooperative model needs no locking, and none is performed. Calling
// Call from inside an executing callback panics.
//
// A capacity of 0 disables scheduling: Check, Create, Del, Remaining,
// Call, and Delay become no-ops that report no pending work. Now then
// reads the raw clock, the swap-rate accumulator (SwapCount, Expire,
// SwapRate1, SwapRate5) keeps working, and Save and Restore handle an
// empty snapshot.
type Scheduler[O any] struct {
	name  Name
	store ObjectStore[O]
	exec  Executor[O]
	clock clockz.Clock

	// Arena. tab[0] is the heap sentinel and the nil list marker.
	// tab[1..queuebrk] is the heap prefix; tab[cycbrk..cotabsz] is the
	// wheel/immediate/running/free region, growing downward.
	tab       []callout
	cotabsz   int
	queuebrk  int
	cycbrk    int
	flist     int
	nzero     int
	nshort    int
	running   int
	immediate int
	cycbuf    [cycbufSize]int

	// Virtual clock.
	timestamp uint32
	timeout   uint32
	timediff  uint32
	cached    uint32
	cachedM   uint16

	// Swap-rate accumulator.
	swaptime  uint32
	swapped1  [swapPeriod]uint32
	swapped5  [swapPeriod]uint32
	swaprate1 uint32
	swaprate5 uint32

	inCall bool

	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[Event]
}

// New creates a Scheduler holding at most capacity pending callouts.
// Objects are resolved through store and callbacks dispatched through
// exec. A capacity of 0 disables the subsystem; capacities above 65534
// are clamped (arena indices travel as 16-bit snapshot fields).
func New[O any](name Name, capacity int, store ObjectStore[O], exec Executor[O]) *Scheduler[O] {
	if capacity < 0 {
		capacity = 0
	}
	if capacity > maxCapacity {
		capacity = maxCapacity
	}

	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(CalloutsCreatedTotal)
	metrics.Counter(CalloutsFiredTotal)
	metrics.Counter(CalloutsCanceledTotal)
	metrics.Counter(CalloutsRejectedTotal)
	metrics.Counter(CalloutFailuresTotal)
	metrics.Gauge(CalloutsShortCurrent)
	metrics.Gauge(CalloutsQueuedCurrent)
	metrics.Gauge(SwapRate1Current)
	metrics.Gauge(SwapRate5Current)

	s := &Scheduler[O]{
		name:    name,
		store:   store,
		exec:    exec,
		tab:     make([]callout, capacity+1),
		cotabsz: capacity,
		cycbrk:  capacity + 1,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[Event](),
	}
	s.swaptime = uint32(s.getClock().Now().Unix())
	return s
}

// Name returns the name of this scheduler.
func (s *Scheduler[O]) Name() Name {
	return s.name
}

// Capacity returns the arena capacity set at construction.
func (s *Scheduler[O]) Capacity() int {
	return s.cotabsz
}

// Metrics returns the metrics registry for this scheduler.
func (s *Scheduler[O]) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this scheduler.
func (s *Scheduler[O]) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Scheduler[O]) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.hooks.Close()
	return nil
}

// OnFired registers a handler called asynchronously after a callout's
// executor completes without error.
func (s *Scheduler[O]) OnFired(handler func(context.Context, Event) error) error {
	_, err := s.hooks.Hook(EventFired, handler)
	return err
}

// OnFailed registers a handler called asynchronously when an executor
// returns an error or panics.
func (s *Scheduler[O]) OnFailed(handler func(context.Context, Event) error) error {
	_, err := s.hooks.Hook(EventFailed, handler)
	return err
}

// OnRejected registers a handler called asynchronously when Check
// rejects a reservation.
func (s *Scheduler[O]) OnRejected(handler func(context.Context, Event) error) error {
	_, err := s.hooks.Hook(EventRejected, handler)
	return err
}

// syncGauges publishes the population counters.
func (s *Scheduler[O]) syncGauges() {
	s.metrics.Gauge(CalloutsShortCurrent).Set(float64(s.nshort))
	s.metrics.Gauge(CalloutsQueuedCurrent).Set(float64(s.queuebrk))
}

// Check reserves space for n forthcoming creations (n is 1 for a single
// Create) and decides how the next callout will be filed: immediately,
// in the wheel, or in the queue. It returns the deadline and millisecond
// values to store with the callout and pass back to Create.
//
// Check fails with ErrTooManyCallouts when fewer than n slots remain in
// the unused middle of the arena, between the queue and the wheel region
// (slots on the free list are not counted), and with ErrTooLongDelay
// when the delay overflows the
// deadline. Within one tick the clock reading is cached, so repeated
// Checks agree on the bucket.
func (s *Scheduler[O]) Check(n int, delay uint32, mdelay uint16) (uint32, uint16, Bucket, error) {
	if s.cotabsz == 0 {
		// callouts are disabled
		return 0, 0, BucketNone, nil
	}

	if s.queuebrk+n >= s.cycbrk {
		s.metrics.Counter(CalloutsRejectedTotal).Inc()
		capitan.Error(context.Background(), SignalOverflow,
			FieldName.Field(string(s.name)),
			FieldWanted.Field(n),
			FieldShort.Field(s.nshort),
			FieldQueued.Field(s.queuebrk),
			FieldCapacity.Field(s.cotabsz),
			FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
		)
		err := &Error{
			Err:       ErrTooManyCallouts,
			Path:      []Name{s.name, "check"},
			Timestamp: s.getClock().Now(),
		}
		_ = s.hooks.Emit(context.Background(), EventRejected, Event{ //nolint:errcheck
			Name:      s.name,
			Err:       err,
			Timestamp: s.getClock().Now(),
		})
		return 0, 0, BucketNone, err
	}

	if delay == 0 && (mdelay == 0 || mdelay == NoMillis) {
		// immediate callout
		if s.nshort == 0 && s.queuebrk == 0 && n == 0 {
			s.cotime() // initialize timestamp
		}
		return 0, NoMillis, BucketImmediate, nil
	}

	// delayed callout
	tt, m := s.cotime()
	t := tt - s.timediff
	if t+delay+1 <= t {
		return 0, 0, BucketNone, &Error{
			Err:       ErrTooLongDelay,
			Path:      []Name{s.name, "check"},
			Timestamp: s.getClock().Now(),
		}
	}
	t += delay
	if mdelay != NoMillis {
		m += mdelay
		if m >= 1000 {
			m -= 1000
			t++
		}
	} else {
		m = NoMillis
	}

	if mdelay == NoMillis && t < s.timestamp+cycbufSize {
		// use cyclic buffer
		return t, m, BucketWheel, nil
	}
	// use queue
	return t, m, BucketQueue, nil
}

// Create commits one callout into the bucket chosen by a preceding
// successful Check, binding it to (oindex, handle). handle must be
// non-zero; zero marks a free arena slot.
func (s *Scheduler[O]) Create(oindex, handle uint16, t uint32, m uint16, bucket Bucket) {
	if s.cotabsz == 0 || bucket == BucketNone {
		return
	}

	var co *callout
	switch bucket {
	case BucketImmediate:
		co = s.newShort(&s.immediate, 0)
	case BucketWheel:
		co = s.newShort(&s.cycbuf[t&cycbufMask], t)
	default:
		if m == NoMillis {
			m = 0
		}
		co = s.enqueue(t, m)
	}
	co.handle = handle
	co.oindex = oindex

	s.metrics.Counter(CalloutsCreatedTotal).Inc()
	s.syncGauges()
}

// Del removes the callout matching (oindex, handle), wherever it sits:
// its wheel slot when the deadline is inside the horizon, the immediate
// or running lists when the deadline has passed, or the queue. The
// caller's bookkeeping is trusted to hold a live callout; removing an
// unregistered one is an invariant violation and panics.
func (s *Scheduler[O]) Del(oindex, handle uint16, t uint32, m uint16) {
	if s.cotabsz == 0 {
		return
	}

	removed := false
	if m == NoMillis &&
		t > s.timestamp && t < s.timestamp+cycbufSize &&
		s.rmshort(&s.cycbuf[t&cycbufMask], oindex, handle, t) {
		// found in the cyclic buffer
		removed = true
	}
	if !removed && t <= s.timestamp {
		// possible immediate callout
		removed = s.rmshort(&s.immediate, oindex, handle, 0) ||
			s.rmshort(&s.running, oindex, handle, 0)
	}
	if !removed {
		// not short-term; it must be in the queue
		i := 1
		for {
			if i > s.queuebrk {
				panic(fmt.Sprintf("callout: failed to remove callout (%d, %d)", oindex, handle))
			}
			if s.tab[i].oindex == oindex && s.tab[i].handle == handle {
				s.dequeue(i)
				break
			}
			i++
		}
	}

	s.metrics.Counter(CalloutsCanceledTotal).Inc()
	s.syncGauges()
}

// Remaining returns the time left before the deadline (t, m) expires,
// with millisecond borrow. Expired and zero deadlines report
// (0, NoMillis).
func (s *Scheduler[O]) Remaining(t uint32, m uint16) (uint32, uint16) {
	if s.cotabsz == 0 {
		return 0, NoMillis
	}

	now, mnow := s.cotime()

	if t != 0 {
		t += s.timediff
		if m == NoMillis {
			if t > now {
				return t - now, NoMillis
			}
		} else if t == now && m > mnow {
			return 0, m - mnow
		} else if t > now {
			if m < mnow {
				t--
				m += 1000
			}
			return t - now, m - mnow
		}
	}

	return 0, NoMillis
}

// Expire promotes matured callouts onto the immediate list: the virtual
// timestamp is stepped one second at a time toward the raw clock,
// draining overtaken queue entries and splicing each overtaken wheel
// slot, then queue entries due within the current second are drained.
// The per-second stepping is what bounds wheel occupancy. The swap-rate
// window is advanced as a side effect.
func (s *Scheduler[O]) Expire() {
	_, span := s.tracer.StartSpan(context.Background(), ExpireSpan)
	defer span.Finish()

	t, m := s.rawMtime()
	t -= s.timediff
	if (s.timeout != 0 && s.timeout <= t) ||
		(s.queuebrk != 0 &&
			(s.tab[1].time < t || (s.tab[1].time == t && s.tab[1].mtime <= m))) {
		for s.timestamp < t {
			s.timestamp++

			// from queue
			for s.queuebrk != 0 && s.tab[1].time < s.timestamp {
				handle := s.tab[1].handle
				oindex := s.tab[1].oindex
				s.dequeue(1)
				co := s.newShort(&s.immediate, 0)
				co.handle = handle
				co.oindex = oindex
			}

			// from cyclic buffer list
			cyc := &s.cycbuf[s.timestamp&cycbufMask]
			if i := *cyc; i != 0 {
				*cyc = 0
				s.spliceImmediate(i)
			}
		}

		// from queue
		for s.queuebrk != 0 &&
			(s.tab[1].time < t ||
				(s.tab[1].time == t && s.tab[1].mtime <= m)) {
			handle := s.tab[1].handle
			oindex := s.tab[1].oindex
			s.dequeue(1)
			co := s.newShort(&s.immediate, 0)
			co.handle = handle
			co.oindex = oindex
		}

		if s.timeout <= s.timestamp {
			if s.nshort != s.nzero {
				s.timeout = s.nextTimeout(s.timestamp)
			} else {
				s.timeout = 0
			}
		}
	}

	s.expireSwapWindow(t)

	span.SetTag(TagShort, strconv.Itoa(s.nshort))
	span.SetTag(TagQueued, strconv.Itoa(s.queuebrk))
	s.syncGauges()
}

// Call dispatches expired callouts. When no drain is in progress, it
// runs Expire and atomically promotes the immediate list to the running
// list, so callouts created by an executing callback cannot fire until
// a subsequent Call. Each running entry is freed before dispatch, so
// recursive additions never observe it; executor errors and panics are
// contained per item and the drain continues.
//
// Call panics if invoked from inside an executing callback.
func (s *Scheduler[O]) Call(ctx context.Context) {
	if s.cotabsz == 0 {
		return
	}
	if s.inCall {
		panic(errReentrantCall)
	}
	s.inCall = true
	defer func() { s.inCall = false }()

	ctx, span := s.tracer.StartSpan(ctx, CallSpan)
	defer span.Finish()

	if s.running == 0 {
		s.Expire()
		s.running = s.immediate
		s.immediate = 0
	}

	fired := 0
	for s.running != 0 {
		// callouts to do
		i := s.running
		handle := s.tab[i].handle
		oindex := s.tab[i].oindex
		obj := s.store.Resolve(oindex)
		s.freeShort(&s.running, i, i, 0)

		s.dispatch(ctx, obj, oindex, handle)
		fired++
	}

	span.SetTag(TagFired, strconv.Itoa(fired))
	s.syncGauges()
}

// dispatch runs one callback, containing errors and panics so one buggy
// callback cannot starve the rest of the tick.
func (s *Scheduler[O]) dispatch(ctx context.Context, obj O, oindex, handle uint16) {
	defer func() {
		if r := recover(); r != nil {
			if r == errReentrantCall {
				// containment is for callback bugs; a re-entrant
				// Call is a host bug and must stay loud
				panic(r)
			}
			s.metrics.Counter(CalloutFailuresTotal).Inc()
			capitan.Error(ctx, SignalPanic,
				FieldName.Field(string(s.name)),
				FieldObject.Field(int(oindex)),
				FieldHandle.Field(int(handle)),
				FieldError.Field(fmt.Sprintf("%v", r)),
				FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
			)
			_ = s.hooks.Emit(ctx, EventFailed, Event{ //nolint:errcheck
				Name:      s.name,
				OIndex:    oindex,
				Handle:    handle,
				Err:       fmt.Errorf("callout panicked: %v", r),
				Timestamp: s.getClock().Now(),
			})
		}
	}()

	if err := s.exec.Run(ctx, obj, handle); err != nil {
		s.metrics.Counter(CalloutFailuresTotal).Inc()
		capitan.Error(ctx, SignalFailed,
			FieldName.Field(string(s.name)),
			FieldObject.Field(int(oindex)),
			FieldHandle.Field(int(handle)),
			FieldError.Field(err.Error()),
			FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
		)
		_ = s.hooks.Emit(ctx, EventFailed, Event{ //nolint:errcheck
			Name:      s.name,
			OIndex:    oindex,
			Handle:    handle,
			Err:       err,
			Timestamp: s.getClock().Now(),
		})
		return
	}

	s.metrics.Counter(CalloutsFiredTotal).Inc()
	_ = s.hooks.Emit(ctx, EventFired, Event{ //nolint:errcheck
		Name:      s.name,
		OIndex:    oindex,
		Handle:    handle,
		Timestamp: s.getClock().Now(),
	})
}

// Delay returns how long the host should sleep before the next
// interesting event among: pending immediate work (0, 0), the
// caller-supplied reference deadline (rtime, rmtime), the next wheel
// deadline, and the queue head. (0, NoMillis) means sleep indefinitely.
// The clock cache is invalidated so the next tick re-reads the clock.
func (s *Scheduler[O]) Delay(rtime uint32, rmtime uint16) (uint32, uint16) {
	if s.cotabsz == 0 {
		return 0, NoMillis
	}

	if s.nzero != 0 {
		// immediate
		return 0, 0
	}
	if rtime == 0 && s.timeout == 0 && s.queuebrk == 0 {
		// infinite
		return 0, NoMillis
	}
	if rtime != 0 {
		rtime -= s.timediff
	}
	if s.timeout != 0 && (rtime == 0 || s.timeout <= rtime) {
		rtime = s.timeout
		rmtime = 0
	}
	if s.queuebrk != 0 &&
		(rtime == 0 || s.tab[1].time < rtime ||
			(s.tab[1].time == rtime && s.tab[1].mtime <= rmtime)) {
		rtime = s.tab[1].time
		rmtime = s.tab[1].mtime
	}
	if rtime != 0 {
		rtime += s.timediff
	}

	t, m := s.cotime()
	s.cached = 0
	if t > rtime || (t == rtime && m >= rmtime) {
		// immediate
		return 0, 0
	}
	if m > rmtime {
		m -= 1000
		t++
	}
	return rtime - t, rmtime - m
}

// Info returns the short-term callout count (wheel, immediate, and
// running lists) and the priority-queue count, for observability.
func (s *Scheduler[O]) Info() (short, queued int) {
	return s.nshort, s.queuebrk
}
