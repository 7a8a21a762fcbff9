package callout

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Run("Reading Is Cached Within a Tick", func(t *testing.T) {
		s, clock, _ := newTestSched(t, 10)

		dt1, _, _, err := s.Check(1, 5, NoMillis)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		clock.Advance(2 * time.Second)
		dt2, _, _, _ := s.Check(1, 5, NoMillis)
		if dt2 != dt1 {
			t.Errorf("cached tick should pin the deadline: %d vs %d", dt1, dt2)
		}

		s.SwapCount(0) // invalidates the cache
		dt3, _, _, _ := s.Check(1, 5, NoMillis)
		if dt3 != dt1+2 {
			t.Errorf("expected fresh deadline %d, got %d", dt1+2, dt3)
		}
	})

	t.Run("Timestamp Holds Before the Next Deadline", func(t *testing.T) {
		s, clock, _ := newTestSched(t, 10)
		vt, _ := s.Now()
		mustCreate(t, s, 1, 1, 5, NoMillis)

		clock.Advance(30 * time.Second)
		s.SwapCount(0)
		now, _ := s.Now()
		if now != vt+30 {
			t.Errorf("expected reported time %d, got %d", vt+30, now)
		}
		if s.timestamp != vt+4 {
			t.Errorf("timestamp must stop at timeout-1: want %d, got %d", vt+4, s.timestamp)
		}
	})

	t.Run("Stall Clamp", func(t *testing.T) {
		s, clock, _ := newTestSched(t, 10)
		vt, _ := s.Now()
		mustCreate(t, s, 1, 1, 5, NoMillis)

		clock.Advance(120 * time.Second)
		s.SwapCount(0)
		now, millis := s.Now()
		if now != vt+64 || millis != 0 {
			t.Errorf("expected clamp to (%d, 0), got (%d, %d)", vt+64, now, millis)
		}
	})

	t.Run("Backward Clock Clamp", func(t *testing.T) {
		s, _, _ := newTestSched(t, 10)
		vt, _ := s.Now()

		s.timestamp = vt + 50 // as after a restore anchored in the future
		s.cached = 0
		now, millis := s.Now()
		if now != vt+50 || millis != 0 {
			t.Errorf("expected clamp to (%d, 0), got (%d, %d)", vt+50, now, millis)
		}
	})

	t.Run("Timestamp Advances Freely When Idle", func(t *testing.T) {
		s, clock, _ := newTestSched(t, 10)
		vt, _ := s.Now()

		clock.Advance(30 * time.Second)
		s.SwapCount(0)
		if now, _ := s.Now(); now != vt+30 {
			t.Errorf("expected %d, got %d", vt+30, now)
		}
		if s.timestamp != vt+30 {
			t.Errorf("expected timestamp %d, got %d", vt+30, s.timestamp)
		}
	})
}
