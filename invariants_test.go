package callout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

// recExec records dispatches in order and can be scripted to fail,
// panic, or run arbitrary code per handle.
type recExec struct {
	handles []uint16
	objs    []string
	errs    map[uint16]error
	panics  map[uint16]string
	fns     map[uint16]func()
}

func newRecExec() *recExec {
	return &recExec{
		errs:   make(map[uint16]error),
		panics: make(map[uint16]string),
		fns:    make(map[uint16]func()),
	}
}

func (r *recExec) Run(_ context.Context, obj string, handle uint16) error {
	r.handles = append(r.handles, handle)
	r.objs = append(r.objs, obj)
	if fn := r.fns[handle]; fn != nil {
		fn()
	}
	if msg := r.panics[handle]; msg != "" {
		panic(msg)
	}
	return r.errs[handle]
}

func testStore() StoreFunc[string] {
	return func(oindex uint16) string { return fmt.Sprintf("obj-%d", oindex) }
}

func newTestSched(t *testing.T, capacity int) (*Scheduler[string], *clockz.FakeClock, *recExec) {
	t.Helper()
	clock := clockz.NewFakeClockAt(time.Now().Truncate(time.Second))
	clock.Advance(1000 * time.Hour) // well away from the zero time
	exec := newRecExec()
	s := New[string]("test", capacity, testStore(), exec).WithClock(clock)
	t.Cleanup(func() { s.Close() })
	return s, clock, exec
}

func mustCreate(t *testing.T, s *Scheduler[string], oindex, handle uint16, delay uint32, mdelay uint16) (uint32, uint16) {
	t.Helper()
	dt, m, bucket, err := s.Check(1, delay, mdelay)
	if err != nil {
		t.Fatalf("check(%d, %d): %v", delay, mdelay, err)
	}
	s.Create(oindex, handle, dt, m, bucket)
	return dt, m
}

// listNodes walks a short-term list, validating the head bookkeeping.
func listNodes(t *testing.T, s *Scheduler[string], head int) []int {
	t.Helper()
	if head == 0 {
		return nil
	}
	var out []int
	seen := make(map[int]bool)
	for i := head; i != 0; i = int(s.tab[i].next()) {
		if seen[i] {
			t.Fatalf("list cycle at index %d", i)
		}
		seen[i] = true
		out = append(out, i)
	}
	if want := int(s.tab[head].count()); len(out) != want {
		t.Fatalf("list head claims %d entries, walked %d", want, len(out))
	}
	if len(out) > 1 && int(s.tab[head].last()) != out[len(out)-1] {
		t.Fatalf("list head tail index %d, walked tail %d", s.tab[head].last(), out[len(out)-1])
	}
	return out
}

// checkInvariants validates the structural invariants: accounting,
// arena partitioning, heap order, and the timeout witness.
func checkInvariants(t *testing.T, s *Scheduler[string]) {
	t.Helper()

	roles := make(map[int]string)
	claim := func(i int, role string) {
		t.Helper()
		if i < 1 || i > s.cotabsz {
			t.Fatalf("%s index %d out of range [1,%d]", role, i, s.cotabsz)
		}
		if prev, ok := roles[i]; ok {
			t.Fatalf("index %d in both %s and %s", i, prev, role)
		}
		roles[i] = role
	}

	for i := 1; i <= s.queuebrk; i++ {
		claim(i, "heap")
		if s.tab[i].handle == 0 {
			t.Errorf("heap entry %d has a zero handle", i)
		}
	}

	wheelCount := 0
	minDeadline := uint32(0)
	for k := range s.cycbuf {
		nodes := listNodes(t, s, s.cycbuf[k])
		for _, i := range nodes {
			claim(i, "wheel")
			if s.tab[i].handle == 0 {
				t.Errorf("wheel entry %d has a zero handle", i)
			}
		}
		wheelCount += len(nodes)
		if len(nodes) > 0 {
			// the slot position implies the deadline
			d := s.timestamp + 1 + ((uint32(k) - (s.timestamp + 1)) & cycbufMask)
			if minDeadline == 0 || d < minDeadline {
				minDeadline = d
			}
		}
	}

	imm := listNodes(t, s, s.immediate)
	run := listNodes(t, s, s.running)
	for _, i := range imm {
		claim(i, "immediate")
	}
	for _, i := range run {
		claim(i, "running")
	}

	seen := make(map[int]bool)
	for i := s.flist; i != 0; i = int(s.tab[i].next()) {
		if seen[i] {
			t.Fatalf("free list cycle at index %d", i)
		}
		seen[i] = true
		claim(i, "free")
		if s.tab[i].handle != 0 {
			t.Errorf("free slot %d still has handle %d", i, s.tab[i].handle)
		}
	}

	for i := s.cycbrk; i <= s.cotabsz; i++ {
		if _, ok := roles[i]; !ok {
			t.Errorf("wheel-region index %d is in no list", i)
		}
	}
	for i := s.queuebrk + 1; i < s.cycbrk; i++ {
		if role, ok := roles[i]; ok {
			t.Errorf("gap index %d claimed by %s", i, role)
		}
	}

	if got := wheelCount + len(imm) + len(run); got != s.nshort {
		t.Errorf("nshort = %d, walked %d short-term entries", s.nshort, got)
	}
	if got := len(imm) + len(run); got != s.nzero {
		t.Errorf("nzero = %d, walked %d zero-deadline entries", s.nzero, got)
	}

	for i := 2; i <= s.queuebrk; i++ {
		p := i / 2
		if s.tab[p].time > s.tab[i].time ||
			(s.tab[p].time == s.tab[i].time && s.tab[p].mtime > s.tab[i].mtime) {
			t.Errorf("heap order violated: parent %d (%d,%d) > child %d (%d,%d)",
				p, s.tab[p].time, s.tab[p].mtime, i, s.tab[i].time, s.tab[i].mtime)
		}
	}

	if minDeadline == 0 {
		if s.timeout != 0 {
			t.Errorf("timeout = %d with an empty wheel", s.timeout)
		}
	} else if s.timeout != minDeadline {
		t.Errorf("timeout = %d, minimum wheel deadline is %d", s.timeout, minDeadline)
	}
}

// TestInvariantsUnderChurn drives a random but reproducible mix of
// creates, cancels, clock advances, and dispatch ticks, validating the
// structural invariants after every step.
func TestInvariantsUnderChurn(t *testing.T) {
	s, clock, exec := newTestSched(t, 32)
	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()

	type key struct {
		dt uint32
		m  uint16
	}
	live := make(map[uint16]key)
	fired := make(map[uint16]bool)
	var next uint16 = 1

	for step := 0; step < 600; step++ {
		switch op := rng.Intn(10); {
		case op < 5: // create
			var delay uint32
			var mdelay uint16
			switch rng.Intn(3) {
			case 0: // immediate
				delay, mdelay = 0, NoMillis
			case 1: // wheel horizon
				delay, mdelay = uint32(1+rng.Intn(100)), NoMillis
			default: // queue
				delay, mdelay = uint32(rng.Intn(400)), uint16(rng.Intn(1000))
				if delay == 0 && mdelay == 0 {
					mdelay = 1
				}
			}
			dt, m, bucket, err := s.Check(1, delay, mdelay)
			if err != nil {
				if !errors.Is(err, ErrTooManyCallouts) {
					t.Fatalf("step %d: check: %v", step, err)
				}
				continue
			}
			s.Create(1, next, dt, m, bucket)
			live[next] = key{dt, m}
			next++
		case op < 7: // cancel the oldest live callout
			var victim uint16
			for h := range live {
				if victim == 0 || h < victim {
					victim = h
				}
			}
			if victim == 0 {
				continue
			}
			k := live[victim]
			s.Del(1, victim, k.dt, k.m)
			delete(live, victim)
		case op < 9: // advance and dispatch
			clock.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
			s.Call(ctx)
			for _, h := range exec.handles {
				if !fired[h] {
					fired[h] = true
					delete(live, h)
				}
			}
		default: // host tick without dispatch
			s.Delay(0, 0)
			s.Expire()
		}
		checkInvariants(t, s)
	}

	// drain everything still pending
	for h, k := range live {
		s.Del(1, h, k.dt, k.m)
	}
	checkInvariants(t, s)
	if short, queued := s.Info(); short != 0 || queued != 0 {
		t.Errorf("after drain: short %d queued %d, want 0 0", short, queued)
	}
}
