// Package unboundedchan provides a FIFO queue with channel ends, whose sender
// never blocks for long no matter how far behind the receiver falls.
package unboundedchan

// UnboundedChannel represents an unbounded queue, but data are entered and removed via channels.
// Beware! You almost certainly want T to be a primitive type; use pointers for large objects.
type UnboundedChannel[T any] struct {
	in    chan T
	out   chan T
	queue []T
}

// NewUnboundedChannel creates and initializes an UnboundedChannel
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:    make(chan T),
		out:   make(chan T),
		queue: make([]T, 0, 16),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	var zero T
	for {
		if len(uc.queue) == 0 {
			val, ok := <-uc.in
			if !ok {
				close(uc.out)
				return
			}
			uc.queue = append(uc.queue, val)
			continue
		}

		select {
		case uc.out <- uc.queue[0]:
			uc.queue[0] = zero // drop the reference held by the backing array
			uc.queue = uc.queue[1:]
			if len(uc.queue) == 0 && cap(uc.queue) > 1024 {
				uc.queue = make([]T, 0, 16)
			}

		case val, ok := <-uc.in:
			if !ok {
				// Deliver everything still queued, then close the output.
				for _, item := range uc.queue {
					uc.out <- item
				}
				close(uc.out)
				return
			}
			uc.queue = append(uc.queue, val)
		}
	}
}

// In returns the input channel for sending data
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}

// Close closes the input. Out delivers what is still queued and is then closed.
func (uc *UnboundedChannel[T]) Close() {
	close(uc.in)
}
