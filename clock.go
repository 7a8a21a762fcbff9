package callout

import (
	"context"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Anti-jitter clamp: the adjusted clock never reports more than this
// many seconds ahead of the virtual timestamp.
const stallLimit = 60

// WithClock sets a custom clock for testing. The swap-rate window is
// re-anchored to the new clock.
func (s *Scheduler[O]) WithClock(clock clockz.Clock) *Scheduler[O] {
	s.clock = clock
	s.swaptime = uint32(clock.Now().Unix())
	s.cached = 0
	return s
}

// getClock returns the clock to use.
func (s *Scheduler[O]) getClock() clockz.Clock {
	if s.clock == nil {
		return clockz.RealClock
	}
	return s.clock
}

// rawMtime reads the raw clock as whole seconds and milliseconds.
func (s *Scheduler[O]) rawMtime() (uint32, uint16) {
	now := s.getClock().Now()
	return uint32(now.Unix()), uint16(now.Nanosecond() / int(time.Millisecond))
}

// cotime returns the current adjusted time. The raw reading is shifted
// by timediff and clamped so it never runs backward past the virtual
// timestamp. While nothing is running, the timestamp follows the reading
// but does not pass one second before the next wheel deadline; the
// reading itself may run past that deadline. A reading more than
// stallLimit seconds ahead of the timestamp is clamped to
// timestamp+stallLimit. The result is cached for the tick; Delay and
// SwapCount invalidate it.
func (s *Scheduler[O]) cotime() (uint32, uint16) {
	if s.cached != 0 {
		return s.cached, s.cachedM
	}

	t, m := s.rawMtime()
	t -= s.timediff
	if t < s.timestamp {
		// clock turned back?
		t = s.timestamp
		m = 0
	} else if s.timestamp < t {
		if s.running == 0 {
			if s.timeout == 0 || s.timeout > t {
				s.timestamp = t
			} else if s.timestamp < s.timeout {
				s.timestamp = s.timeout - 1
			}
		}
		if t > s.timestamp+stallLimit {
			// lot of lag?
			capitan.Warn(context.Background(), SignalClockStall,
				FieldName.Field(string(s.name)),
				FieldLag.Field(int(t-s.timestamp)),
				FieldTimestamp.Field(float64(s.getClock().Now().Unix())),
			)
			t = s.timestamp + stallLimit
			m = 0
		}
	}

	s.cachedM = m
	s.cached = t + s.timediff
	return s.cached, m
}

// Now returns the current adjusted time as whole seconds and
// milliseconds. The reading includes timediff, the clock offset that
// Restore sets; the deadlines returned by Check and accepted by Del and
// Remaining exclude it, so the two are directly comparable only while
// that offset is zero. The reference deadline passed to Delay is in the
// same terms as this reading.
func (s *Scheduler[O]) Now() (uint32, uint16) {
	if s.cotabsz == 0 {
		return s.rawMtime()
	}
	return s.cotime()
}
