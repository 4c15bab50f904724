// Package asyncbufio provides a buffered writer whose writes are queued on a
// channel and performed by a background goroutine, so that a time-critical
// caller never waits on the disk.
package asyncbufio

import (
	"bufio"
	"io"
	"sync"
	"time"
)

// Writer provides asynchronous writing to an underlying io.Writer using buffered channels.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	flushNow      chan struct{} // Channel to signal the underlying writer to flush itself
	flushComplete chan error    // Channel to report that a requested flush is complete
	datachannel   chan []byte   // Channel to hold data before writing it
	flushInterval time.Duration // Interval for flushing the writer periodically
	err           error         // First write error; owned by writeLoop
	closeOnce     sync.Once
	closeErr      error
}

// NewWriter creates a new Writer that holds up to channelDepth pending writes
// and flushes to w at least once per flushInterval.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan error),
		flushInterval: flushInterval,
	}

	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for writing. It returns io.ErrShortWrite without
// queueing anything if the channel is full.
func (aw *Writer) Write(p []byte) (int, error) {
	data := make([]byte, len(p))
	copy(data, p)
	select {
	case aw.datachannel <- data:
		return len(p), nil
	default:
		return 0, io.ErrShortWrite
	}
}

// WriteString queues s for writing.
func (aw *Writer) WriteString(s string) (int, error) {
	select {
	case aw.datachannel <- []byte(s):
		return len(s), nil
	default:
		return 0, io.ErrShortWrite
	}
}

// Flush writes all queued data to the underlying writer and blocks until done.
// It returns the first error the underlying writer has reported, if any.
// Flush must not be called after Close.
func (aw *Writer) Flush() error {
	aw.flushNow <- struct{}{}
	return <-aw.flushComplete
}

// Close flushes remaining data and stops the background goroutine. Later calls
// do nothing and return the same error. The underlying writer is not closed.
func (aw *Writer) Close() error {
	aw.closeOnce.Do(func() {
		close(aw.flushNow) // Closing the flushNow channel signals the writeLoop to exit
		aw.closeErr = <-aw.flushComplete
	})
	return aw.closeErr
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)

		case _, ok := <-aw.flushNow:
			aw.flush()
			aw.flushComplete <- aw.err
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

func (aw *Writer) write(data []byte) {
	if _, err := aw.writer.Write(data); err != nil && aw.err == nil {
		aw.err = err
	}
}

// flush empties the data channel before calling the underlying writer's Flush.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.datachannel:
			aw.write(data)
		default:
			if err := aw.writer.Flush(); err != nil && aw.err == nil {
				aw.err = err
			}
			return
		}
	}
}
