package devsim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSlot(t *testing.T) {
	var v valueSlot
	assert.Equal(t, 0.0, v.Load())
	v.Store(-1.25)
	assert.Equal(t, -1.25, v.Load())
}

func TestSignalSlot(t *testing.T) {
	s := newSignalSlot()
	_, available, seq, _ := s.peek()
	assert.False(t, available)
	assert.Equal(t, uint64(0), seq)

	s.publish(2.5, nil)
	value, available, seq, err := s.peek()
	assert.Equal(t, 2.5, value)
	assert.True(t, available)
	assert.Equal(t, uint64(1), seq)
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := s.await(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2.5, got)

	// Consumed: the value stays, the flag is gone.
	value, available, _, _ = s.peek()
	assert.Equal(t, 2.5, value)
	assert.False(t, available)
	_, err = s.await(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSignalSlotAfter(t *testing.T) {
	s := newSignalSlot()
	s.publish(1, nil)
	_, _, seq, _ := s.peek()

	// Data published at or before seq does not satisfy the wait.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.await(ctx, seq)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.publish(2, nil)
	}()
	got, err := s.await(context.Background(), seq)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got)
}

func TestSignalSlotError(t *testing.T) {
	s := newSignalSlot()
	s.publish(3, nil)
	boom := errors.New("boom")
	s.publish(0, boom)
	value, _, seq, err := s.peek()
	assert.Equal(t, 3.0, value, "an error keeps the previous value")
	assert.Equal(t, uint64(2), seq)
	assert.Equal(t, boom, err)

	_, err = s.await(context.Background(), 1)
	assert.Equal(t, boom, err)

	s.reset()
	value, available, seq, err := s.peek()
	assert.Equal(t, 0.0, value)
	assert.False(t, available)
	assert.Equal(t, uint64(2), seq, "reset keeps the sequence number")
	assert.NoError(t, err)
}

func TestLatch(t *testing.T) {
	l := newLatch()
	assert.True(t, l.set())
	assert.False(t, l.set(), "a pending event is not doubled")
	select {
	case <-l:
	default:
		t.Fatal("latch should hold an event")
	}
	select {
	case <-l:
		t.Fatal("latch should be empty after the event is taken")
	default:
	}

	l.set()
	l.clear()
	assert.True(t, l.set(), "clear discards the pending event")
	l.clear()
	l.clear()
}
