package callout

import "github.com/zoobzio/metricz"

// Observability constants for the swap-rate accumulator.
const (
	SwapRate1Current = metricz.Key("callout.swaprate.1m")
	SwapRate5Current = metricz.Key("callout.swaprate.5m")
)

// Swap-rate window: 60 one-second slots and 60 five-second slots,
// giving rolling 1-minute and 5-minute totals on the same virtual clock
// the scheduler advances.
const swapPeriod = 60

// SwapCount records n objects swapped out in the current second. The
// clock cache is invalidated because the caller may imply time
// progression.
func (s *Scheduler[O]) SwapCount(n uint32) {
	s.swaprate1 += n
	s.swaprate5 += n
	s.swapped1[s.swaptime%swapPeriod] += n
	s.swapped5[s.swaptime%(swapPeriod*5)/5] += n
	s.cached = 0

	s.metrics.Gauge(SwapRate1Current).Set(float64(s.swaprate1))
	s.metrics.Gauge(SwapRate5Current).Set(float64(s.swaprate5))
}

// expireSwapWindow walks the window anchor forward to t, evicting the
// slots it crosses from the running sums.
func (s *Scheduler[O]) expireSwapWindow(t uint32) {
	for s.swaptime < t {
		s.swaptime++
		s.swaprate1 -= s.swapped1[s.swaptime%swapPeriod]
		s.swapped1[s.swaptime%swapPeriod] = 0
		if s.swaptime%5 == 0 {
			s.swaprate5 -= s.swapped5[s.swaptime%(5*swapPeriod)/5]
			s.swapped5[s.swaptime%(5*swapPeriod)/5] = 0
		}
	}

	s.metrics.Gauge(SwapRate1Current).Set(float64(s.swaprate1))
	s.metrics.Gauge(SwapRate5Current).Set(float64(s.swaprate5))
}

// SwapRate1 returns the number of objects swapped out over the last
// minute.
func (s *Scheduler[O]) SwapRate1() uint32 {
	return s.swaprate1
}

// SwapRate5 returns the number of objects swapped out over the last
// five minutes.
func (s *Scheduler[O]) SwapRate5() uint32 {
	return s.swaprate5
}
