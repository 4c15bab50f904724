package devsim

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
)

// valueSlot is a float64 with last-write-wins visibility, written by one
// goroutine and read by any.
type valueSlot struct {
	bits atomic.Uint64
}

func (v *valueSlot) Store(x float64) { v.bits.Store(math.Float64bits(x)) }
func (v *valueSlot) Load() float64   { return math.Float64frombits(v.bits.Load()) }

// signalSlot is a value plus a "fresh data available" flag, for the slots that
// consumers wait on (output data and file data). The value, any error, and the
// flag change together under the lock, so a waiter never sees a value
// without its flag. Every publish closes and replaces the changed channel
// to wake all current waiters.
type signalSlot struct {
	mu        sync.Mutex
	value     float64
	err       error
	available bool
	seq       uint64
	changed   chan struct{}
}

func newSignalSlot() *signalSlot {
	return &signalSlot{changed: make(chan struct{})}
}

// publish stores a new value and marks it available. A non-nil err is
// published in place of a value, and the previous value is kept.
func (s *signalSlot) publish(value float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.value = value
	}
	s.err = err
	s.available = true
	s.seq++
	close(s.changed)
	s.changed = make(chan struct{})
}

// peek returns the current contents without consuming them.
func (s *signalSlot) peek() (value float64, available bool, seq uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.available, s.seq, s.err
}

// reset forgets any unconsumed data.
func (s *signalSlot) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = 0
	s.err = nil
	s.available = false
}

// await blocks until the slot holds available data published after sequence
// number after, then consumes it by clearing the available flag. It returns
// ctx.Err() if ctx is done first.
func (s *signalSlot) await(ctx context.Context, after uint64) (float64, error) {
	for {
		s.mu.Lock()
		if s.available && s.seq > after {
			s.available = false
			value, err := s.value, s.err
			s.mu.Unlock()
			return value, err
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-changed:
		}
	}
}

// latch is a one-shot event flag. Setting an already set latch does nothing;
// taking the event clears it.
type latch chan struct{}

func newLatch() latch { return make(latch, 1) }

// set posts the event unless one is already pending, and reports whether it did.
func (l latch) set() bool {
	select {
	case l <- struct{}{}:
		return true
	default:
		return false
	}
}

// clear discards a pending event.
func (l latch) clear() {
	select {
	case <-l:
	default:
	}
}
