// Package testing provides test utilities and helpers for callout-based
// hosts.
//
// This package includes a scripted mock executor with call history and
// assertion helpers, a map-backed object store, and an in-memory swapper
// for snapshot round-trips.
//
// Example usage:
//
//	func TestMySchedule(t *testing.T) {
//		store := callouttesting.NewMapStore[string]()
//		store.Put(7, "obj-7")
//		mock := callouttesting.NewMockExecutor[string](t)
//
//		sched := callout.New("test", 16, store, mock)
//		dt, m, bucket, _ := sched.Check(1, 0, callout.NoMillis)
//		sched.Create(7, 1, dt, m, bucket)
//		sched.Call(context.Background())
//
//		callouttesting.AssertFired(t, mock, 1)
//	}
package testing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/francipvb/callout"
)

// MockCall represents a single dispatch through the mock executor.
type MockCall[O any] struct {
	Obj       O
	Handle    uint16
	Timestamp time.Time
}

// MockExecutor provides a configurable mock implementation of
// callout.Executor[O]. It tracks dispatches, allows scripting return
// errors or panics per handle, and provides assertion methods for
// testing schedule behavior.
type MockExecutor[O any] struct {
	t         *testing.T
	mu        sync.Mutex
	calls     []MockCall[O]
	returnErr map[uint16]error
	panicMsg  map[uint16]string
	fn        func(ctx context.Context, obj O, handle uint16) error
}

// NewMockExecutor creates a mock executor bound to the test.
func NewMockExecutor[O any](t *testing.T) *MockExecutor[O] {
	t.Helper()
	return &MockExecutor[O]{
		t:         t,
		returnErr: make(map[uint16]error),
		panicMsg:  make(map[uint16]string),
	}
}

// WithError scripts an error return for dispatches of handle.
func (m *MockExecutor[O]) WithError(handle uint16, err error) *MockExecutor[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnErr[handle] = err
	return m
}

// WithPanic scripts a panic for dispatches of handle.
func (m *MockExecutor[O]) WithPanic(handle uint16, msg string) *MockExecutor[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg[handle] = msg
	return m
}

// WithFunc installs a custom dispatch function, called after the call is
// recorded and before any scripted error or panic is applied.
func (m *MockExecutor[O]) WithFunc(fn func(ctx context.Context, obj O, handle uint16) error) *MockExecutor[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// Run implements callout.Executor.
func (m *MockExecutor[O]) Run(ctx context.Context, obj O, handle uint16) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall[O]{Obj: obj, Handle: handle, Timestamp: time.Now()})
	fn := m.fn
	err := m.returnErr[handle]
	msg := m.panicMsg[handle]
	m.mu.Unlock()

	if fn != nil {
		if ferr := fn(ctx, obj, handle); ferr != nil {
			return ferr
		}
	}
	if msg != "" {
		panic(msg)
	}
	return err
}

// CallCount returns the number of dispatches so far.
func (m *MockExecutor[O]) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns a copy of the dispatch history in order.
func (m *MockExecutor[O]) Calls() []MockCall[O] {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall[O], len(m.calls))
	copy(out, m.calls)
	return out
}

// Handles returns the dispatched handles in order.
func (m *MockExecutor[O]) Handles() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Handle
	}
	return out
}

// Reset clears the dispatch history and scripts.
func (m *MockExecutor[O]) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.returnErr = make(map[uint16]error)
	m.panicMsg = make(map[uint16]string)
	m.fn = nil
}

// AssertFired fails the test unless the executor dispatched exactly want
// callouts.
func AssertFired[O any](t *testing.T, m *MockExecutor[O], want int) {
	t.Helper()
	if got := m.CallCount(); got != want {
		t.Errorf("expected %d dispatches, got %d", want, got)
	}
}

// AssertHandles fails the test unless the dispatch order matches want
// exactly.
func AssertHandles[O any](t *testing.T, m *MockExecutor[O], want ...uint16) {
	t.Helper()
	got := m.Handles()
	if len(got) != len(want) {
		t.Errorf("expected handles %v, got %v", want, got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected handles %v, got %v", want, got)
			return
		}
	}
}

// MapStore is a map-backed callout.ObjectStore for tests.
type MapStore[O any] struct {
	mu      sync.RWMutex
	objects map[uint16]O
}

// NewMapStore creates an empty MapStore.
func NewMapStore[O any]() *MapStore[O] {
	return &MapStore[O]{objects: make(map[uint16]O)}
}

// Put registers an object under oindex.
func (s *MapStore[O]) Put(oindex uint16, obj O) *MapStore[O] {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[oindex] = obj
	return s
}

// Resolve implements callout.ObjectStore. Unknown indices return the
// zero object, mirroring a host table that never fails for live indices.
func (s *MapStore[O]) Resolve(oindex uint16) O {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[oindex]
}

// NewBufferSwapper returns a Swapper backed by an in-memory buffer, for
// save/restore round-trips within one test.
func NewBufferSwapper() *callout.StreamSwapper {
	var buf bytes.Buffer
	return &callout.StreamSwapper{W: &buf, R: &buf}
}
