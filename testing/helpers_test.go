package testing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/francipvb/callout"
	"github.com/zoobzio/clockz"
)

func TestMockExecutorRecordsDispatches(t *testing.T) {
	clock := clockz.NewFakeClock()
	clock.Advance(1000 * time.Hour)

	store := NewMapStore[string]().Put(7, "obj-7")
	mock := NewMockExecutor[string](t)
	sched := callout.New("test", 16, store, mock).WithClock(clock)
	defer sched.Close()

	dt, m, bucket, err := sched.Check(1, 0, callout.NoMillis)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	sched.Create(7, 1, dt, m, bucket)
	sched.Call(context.Background())

	AssertFired(t, mock, 1)
	AssertHandles(t, mock, 1)
	if calls := mock.Calls(); calls[0].Obj != "obj-7" {
		t.Errorf("expected obj-7, got %v", calls[0].Obj)
	}
}

func TestMockExecutorScripting(t *testing.T) {
	clock := clockz.NewFakeClock()
	clock.Advance(1000 * time.Hour)

	mock := NewMockExecutor[string](t).
		WithError(1, errors.New("scripted failure")).
		WithPanic(2, "scripted panic")
	sched := callout.New("test", 16, NewMapStore[string](), mock).WithClock(clock)
	defer sched.Close()

	for h := uint16(1); h <= 3; h++ {
		dt, m, bucket, err := sched.Check(1, 0, callout.NoMillis)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		sched.Create(h, h, dt, m, bucket)
	}
	sched.Call(context.Background())

	// the scripted failure and panic are contained; all three dispatch
	AssertFired(t, mock, 3)
	AssertHandles(t, mock, 1, 2, 3)

	mock.Reset()
	AssertFired(t, mock, 0)
}

func TestMockExecutorWithFunc(t *testing.T) {
	clock := clockz.NewFakeClock()
	clock.Advance(1000 * time.Hour)

	var got uint16
	mock := NewMockExecutor[string](t).WithFunc(func(_ context.Context, _ string, handle uint16) error {
		got = handle
		return nil
	})
	sched := callout.New("test", 4, NewMapStore[string](), mock).WithClock(clock)
	defer sched.Close()

	dt, m, bucket, err := sched.Check(1, 0, callout.NoMillis)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	sched.Create(1, 9, dt, m, bucket)
	sched.Call(context.Background())
	if got != 9 {
		t.Errorf("expected the custom func to see handle 9, got %d", got)
	}
}

func TestBufferSwapperRoundTrip(t *testing.T) {
	clock := clockz.NewFakeClock()
	clock.Advance(1000 * time.Hour)

	mock := NewMockExecutor[string](t)
	sched := callout.New("test", 8, NewMapStore[string](), mock).WithClock(clock)
	defer sched.Close()

	dt, m, bucket, err := sched.Check(1, 3, callout.NoMillis)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	sched.Create(1, 1, dt, m, bucket)

	sw := NewBufferSwapper()
	if err := sched.Save(sw); err != nil {
		t.Fatalf("save: %v", err)
	}

	mock2 := NewMockExecutor[string](t)
	restored := callout.New("restored", 8, NewMapStore[string](), mock2).WithClock(clock)
	defer restored.Close()
	if err := restored.Restore(sw, 0); err != nil {
		t.Fatalf("restore: %v", err)
	}

	clock.Advance(3 * time.Second)
	restored.Call(context.Background())
	AssertHandles(t, mock2, 1)
}
