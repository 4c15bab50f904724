package devsim

import (
	"context"
	"errors"
	"time"
)

// OutputPass holds the result of one complete pass of the main cycle.
type OutputPass struct {
	Seq    uint64
	Time   time.Time
	Values [NumOutputs]float64
}

// OutputSink receives every completed output pass. It is called from the main
// cycle, so it must not block; an error is logged and otherwise ignored.
type OutputSink interface {
	PublishOutputs(pass *OutputPass) error
}

// AddOutputSink registers sink to receive each completed output pass.
func (s *Simulator) AddOutputSink(sink OutputSink) {
	s.sinksLock.Lock()
	defer s.sinksLock.Unlock()
	s.sinks = append(s.sinks, sink)
}

// RemoveOutputSink unregisters sink.
func (s *Simulator) RemoveOutputSink(sink OutputSink) {
	s.sinksLock.Lock()
	defer s.sinksLock.Unlock()
	for i, other := range s.sinks {
		if other == sink {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return
		}
	}
}

// cycleLoop runs one pass immediately and then one per cycle interval, until abort closes.
func (s *Simulator) cycleLoop(abort <-chan struct{}) {
	defer s.runDone.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-abort:
			return
		case <-timer.C:
		}
		s.runPass()
		timer.Reset(s.CycleInterval())
	}
}

// runPass is one full input stage then output stage pass.
func (s *Simulator) runPass() {
	for ch := InputChannel(0); ch < NumInputs; ch++ {
		s.inputStage(ch)
	}
	pass := &OutputPass{Time: time.Now()}
	s.passLock.Lock()
	for ch := OutputChannel(0); ch < NumOutputs; ch++ {
		pass.Values[ch] = s.outputStage(ch)
	}
	s.passLock.Unlock()
	pass.Seq = s.passes.Add(1)

	s.sinksLock.Lock()
	sinks := append([]OutputSink(nil), s.sinks...)
	s.sinksLock.Unlock()
	for _, sink := range sinks {
		if err := sink.PublishOutputs(pass); err != nil {
			s.problemf("output sink %T: %v", sink, err)
		}
	}
}

// inputStage resolves input channel ch's source, applies its transform, and
// stores the result for the output stage.
func (s *Simulator) inputStage(ch InputChannel) {
	cfg := s.input(ch)
	var raw float64
	if cfg.source == SourceCyclic {
		raw = s.cyclic[ch].Load()
	} else {
		raw = s.external[ch].Load()
	}

	value := raw
	if cfg.transform != nil {
		var err error
		value, err = applyTransform(ch, cfg.transformName, cfg.transform, raw, s.previous[ch])
		if err != nil {
			s.problemf("%v", err)
		}
	}
	s.previous[ch] = raw
	s.processed[ch].Store(value)
}

// outputStage computes source*scale + noise for output channel ch, publishes
// it, and returns it.
func (s *Simulator) outputStage(ch OutputChannel) float64 {
	cfg := s.output(ch)
	var value float64
	if in, ok := cfg.mux.Input(); ok {
		value = s.processed[in].Load()
	} else if id, ok := cfg.mux.File(); ok {
		value, _, _, _ = s.files[id].slot.peek()
	}
	noise := s.randomSample()
	out := value*cfg.scale + noise*cfg.noise
	s.outputs[ch].publish(out, nil)
	return out
}

// ReadOutput returns the value of output channel ch.
//
// If ch is fed by a file source, a record is requested from the file first
// (unless the file's companion input is in ExternalTrigger mode, where the read
// waits for a triggered record), and the call waits for it.
// With blocking false, the current output value is then returned at once and
// stays available. With blocking true, the call waits for an output pass not yet
// consumed, returns it, and marks it consumed. For an input-fed output that
// pass may have run before a value pushed just ahead of the call; the pushed
// value shows up in the pass after it.
//
// Waiting is bounded by timeout for the call as a whole. Running out of time
// returns a *TimeoutError.
func (s *Simulator) ReadOutput(ch OutputChannel, blocking bool, timeout time.Duration) (float64, error) {
	if blocking && timeout <= 0 {
		return 0, paramError("ReadOutput", "timeout", timeout)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.ReadOutputContext(ctx, ch, blocking)
}

// ReadOutputContext is ReadOutput with the wait bounded by ctx instead of a
// timeout. Expiry of a ctx deadline returns a *TimeoutError; cancellation
// returns ctx.Err().
func (s *Simulator) ReadOutputContext(ctx context.Context, ch OutputChannel, blocking bool) (float64, error) {
	if !ch.Valid() {
		return 0, paramError("ReadOutput", "output channel", ch)
	}
	start := time.Now()
	out := s.outputs[ch]
	var after uint64

	if id, ok := s.output(ch).mux.File(); ok {
		if !s.fileBound(id) {
			return 0, &FileError{Op: "read", Err: ErrNoFile}
		}
		slot := s.files[id].slot
		var fileAfter uint64
		if s.input(id.Companion()).trigger != ExternalTrigger {
			_, _, fileAfter, _ = slot.peek()
			s.fileRequest[id].set()
		}
		if _, err := slot.await(ctx, fileAfter); err != nil {
			return 0, s.waitError(ctx, ch, "file data", start, err)
		}
		// Passes after this one see the new record.
		s.passLock.Lock()
		_, _, after, _ = out.peek()
		s.passLock.Unlock()
	}

	if !blocking {
		value, _, _, _ := out.peek()
		return value, nil
	}
	value, err := out.await(ctx, after)
	if err != nil {
		return 0, s.waitError(ctx, ch, "output data", start, err)
	}
	return value, nil
}

// waitError converts a deadline expiry into a *TimeoutError and passes
// other errors (file errors, cancellation) through.
func (s *Simulator) waitError(ctx context.Context, ch OutputChannel, waiting string, start time.Time, err error) error {
	if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		s.debugf("%v: timeout waiting for %s", ch, waiting)
		return &TimeoutError{Channel: ch, Waiting: waiting, Timeout: time.Since(start)}
	}
	return err
}
