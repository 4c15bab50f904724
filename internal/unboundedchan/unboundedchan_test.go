package unboundedchan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUnboundedChannel(t *testing.T) {
	unboundedQueue := NewUnboundedChannel[int]()

	// Send all integers [0, 19].
	max := 20
	go func() {
		ch := unboundedQueue.In()
		for i := range max {
			ch <- i
		}
		unboundedQueue.Close()
	}()

	sum := 0
	expect := (max * (max - 1)) / 2
	for d := range unboundedQueue.Out() {
		sum += d
	}
	if sum != expect {
		t.Errorf("UnboundedQueue sum was %d, want %d", sum, expect)
	}
}

func TestSenderNeverWaitsForReceiver(t *testing.T) {
	uc := NewUnboundedChannel[string]()
	words := []string{"alpha", "beta", "gamma", "delta"}
	const repeats = 2000

	sent := make(chan struct{})
	go func() {
		for range repeats {
			for _, w := range words {
				uc.In() <- w
			}
		}
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("sender blocked although nobody was receiving yet")
	}
	uc.Close()

	var received []string
	for w := range uc.Out() {
		received = append(received, w)
	}
	assert.Len(t, received, repeats*len(words))
	for i, w := range received {
		if w != words[i%len(words)] {
			t.Fatalf("item %d = %q, want %q: order not preserved", i, w, words[i%len(words)])
		}
	}
}
