package devsim

import "time"

// generatorLoop ticks input channel ch's waveform generator until abort closes.
// In FreeRunning and InternalTrigger modes it ticks once per cyclic rate. In
// ExternalTrigger mode it ticks once for each posted trigger event and the
// rate timer only re-arms. A change of trigger mode or rate takes effect at
// once: the timer restarts with the new rate.
func (s *Simulator) generatorLoop(ch InputChannel, abort <-chan struct{}) {
	defer s.runDone.Done()
	s.retime[ch].clear()
	timer := time.NewTimer(s.input(ch).rate)
	defer timer.Stop()

	for {
		var events <-chan struct{}
		if s.input(ch).trigger == ExternalTrigger {
			events = s.genTrigger[ch]
		}

		select {
		case <-abort:
			return

		case <-events:
			s.tick(ch)

		case <-s.retime[ch]:
			timer.Reset(s.input(ch).rate)

		case <-timer.C:
			cfg := s.input(ch)
			if cfg.trigger != ExternalTrigger {
				s.tick(ch)
			}
			timer.Reset(cfg.rate)
		}
	}
}

// tick advances input channel ch's generator and publishes the new sample.
func (s *Simulator) tick(ch InputChannel) {
	cfg := s.input(ch)
	s.cyclic[ch].Store(s.generators[ch].Next(cfg.waveform, cfg.level, cfg.offset))
}

// fileLoop reads file source id until abort closes. When the companion input
// channel is in ExternalTrigger mode, one record is read per posted trigger
// event; otherwise one record is read per request from ReadOutput. Events of
// the kind the current mode does not use are dropped.
func (s *Simulator) fileLoop(id FileSourceID, abort <-chan struct{}) {
	defer s.runDone.Done()
	companion := id.Companion()

	for {
		select {
		case <-abort:
			return

		case <-s.fileTrigger[id]:
			if s.input(companion).trigger == ExternalTrigger {
				s.readFile(id)
			}

		case <-s.fileRequest[id]:
			if s.input(companion).trigger != ExternalTrigger {
				s.readFile(id)
			}
		}
	}
}

// readFile reads the next record of file source id into its slot. A read
// error is published in place of a value, so a waiting reader receives it.
func (s *Simulator) readFile(id FileSourceID) {
	fc := s.files[id]
	fc.Lock()
	defer fc.Unlock()
	if fc.source == nil {
		return
	}
	value, err := fc.source.ReadNext()
	if err != nil {
		s.debugf("%v: %v", id, err)
	}
	fc.slot.publish(value, err)
}
