package devsim

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"gonum.org/v1/gonum/stat/distuv"
)

// SimState is used to indicate the active/inactive/transition state of the simulator.
type SimState int

// Names for the possible values of SimState
const (
	Inactive SimState = iota // not running; no background activity
	Starting                 // in transition to Active
	Active                   // cycle, generator and file tasks are running
	Stopping                 // in transition to Inactive
)

func (st SimState) String() string {
	switch st {
	case Inactive:
		return "Inactive"
	case Starting:
		return "Starting"
	case Active:
		return "Active"
	case Stopping:
		return "Stopping"
	}
	return fmt.Sprintf("SimState(%d)", int(st))
}

// fileChannel is one file source binding plus the slot its reads publish to.
type fileChannel struct {
	sync.Mutex // guards source
	source     *FileSource
	slot       *signalSlot
}

// Simulator is a simulated data acquisition device with NumInputs input channels,
// NumOutputs output channels and NumFiles recorded-data file sources.
//
// While active, one task runs the main cycle (input stage then output stage),
// one task per input channel ticks its waveform generator, and one task per
// file source reads records when triggered or requested. Channel settings
// (the Set* methods) may be changed at any time.
type Simulator struct {
	*registry

	external  [NumInputs]valueSlot // written by PushInput
	cyclic    [NumInputs]valueSlot // written by the generator tasks
	processed [NumInputs]valueSlot // written by the input stage
	previous  [NumInputs]float64   // owned by the main cycle
	outputs   [NumOutputs]*signalSlot
	files     [NumFiles]*fileChannel

	generators  [NumInputs]*Generator
	genTrigger  [NumInputs]latch // external trigger events for the generators
	fileTrigger [NumFiles]latch  // external trigger events for the file readers
	fileRequest [NumFiles]latch  // reads requested by ReadOutput

	noiseLock sync.Mutex // guards noise and noiseSeed
	noise     distuv.Uniform
	noiseSeed uint64

	sinksLock sync.Mutex
	sinks     []OutputSink
	passLock  sync.Mutex // held while the output stage runs
	passes    atomic.Uint64
	recorder  *Recorder

	debug    atomic.Bool
	problems atomic.Pointer[log.Logger]

	stateLock sync.Mutex // guards state and abort
	state     SimState
	abort     chan struct{}
	runDone   sync.WaitGroup
}

// NewSimulator creates an inactive Simulator with the settings in cfg applied on
// top of the defaults. If some settings are rejected, the Simulator is still
// returned, with those parameters left at their defaults, along with an error
// describing every rejection.
func NewSimulator(cfg Config) (*Simulator, error) {
	s := &Simulator{
		registry: newRegistry(),
	}
	for i := range s.outputs {
		s.outputs[i] = newSignalSlot()
	}
	for i := range s.files {
		s.files[i] = &fileChannel{slot: newSignalSlot()}
		s.fileTrigger[i] = newLatch()
		s.fileRequest[i] = newLatch()
	}
	for i := range s.generators {
		s.generators[i] = NewGenerator()
		s.genTrigger[i] = newLatch()
	}
	s.problems.Store(ProblemLogger)
	s.seedNoise(uint64(time.Now().UnixNano()))
	s.recorder = NewRecorder(s)
	s.AddOutputSink(s.recorder)
	return s, s.Configure(cfg)
}

// SetProblemLogger directs reports of absorbed runtime errors to logger.
// It may be called while the simulator runs.
func (s *Simulator) SetProblemLogger(logger *log.Logger) {
	s.problems.Store(logger)
}

func (s *Simulator) problemf(format string, args ...any) {
	s.problems.Load().Printf(format, args...)
}

func (s *Simulator) setDebug(debug bool) { s.debug.Store(debug) }

// Debug reports whether debug logging of pushes, triggers and timeouts is on.
func (s *Simulator) Debug() bool { return s.debug.Load() }

func (s *Simulator) debugf(format string, args ...any) {
	if s.debug.Load() {
		s.problemf("debug: "+format, args...)
	}
}

// seedNoise restarts the noise source from seed.
func (s *Simulator) seedNoise(seed uint64) {
	s.noiseLock.Lock()
	defer s.noiseLock.Unlock()
	s.noiseSeed = seed
	s.noise = distuv.Uniform{Min: 0, Max: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}
}

// NoiseSeed returns the seed the noise source was last started from.
func (s *Simulator) NoiseSeed() uint64 {
	s.noiseLock.Lock()
	defer s.noiseLock.Unlock()
	return s.noiseSeed
}

// randomSample draws the next noise sample in [0,1).
func (s *Simulator) randomSample() float64 {
	s.noiseLock.Lock()
	defer s.noiseLock.Unlock()
	return s.noise.Rand()
}

// Start launches the main cycle, generator and file reader tasks.
// It returns ErrAlreadyRunning unless the simulator is Inactive.
func (s *Simulator) Start() error {
	s.stateLock.Lock()
	if s.state != Inactive {
		s.stateLock.Unlock()
		return fmt.Errorf("cannot Start() a simulator that's %v: %w", s.state, ErrAlreadyRunning)
	}
	s.state = Starting
	abort := make(chan struct{})
	s.abort = abort
	s.runDone.Add(1 + NumInputs + NumFiles)
	s.stateLock.Unlock()

	if s.Debug() {
		s.problemf("debug: starting with configuration\n%s", spew.Sdump(s.Snapshot()))
	}
	for i := range s.genTrigger {
		s.genTrigger[i].clear()
	}
	for i := range s.files {
		s.fileTrigger[i].clear()
		s.fileRequest[i].clear()
	}

	go s.cycleLoop(abort)
	for ch := InputChannel(0); ch < NumInputs; ch++ {
		go s.generatorLoop(ch, abort)
	}
	for id := FileSourceID(0); id < NumFiles; id++ {
		go s.fileLoop(id, abort)
	}

	s.stateLock.Lock()
	if s.state == Starting {
		s.state = Active
	}
	s.stateLock.Unlock()
	log.Println("Simulator started")
	return nil
}

// Stop tells every background task to exit and waits until they have.
// No buffer is written by the simulator after Stop returns.
func (s *Simulator) Stop() error {
	s.stateLock.Lock()
	switch s.state {
	case Inactive:
		s.stateLock.Unlock()
		return ErrNotRunning

	case Stopping:
		// Ignore Stop if already Stopping.
		s.stateLock.Unlock()
		return nil
	}
	s.state = Stopping
	closeIfOpen(s.abort)
	s.stateLock.Unlock()

	s.runDone.Wait()

	s.stateLock.Lock()
	s.state = Inactive
	s.stateLock.Unlock()
	log.Println("Simulator stopped")
	return nil
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
		log.Println("warning: tried to close a channel twice")
	default:
		close(c)
	}
}

// Running tells whether the simulator is active.
func (s *Simulator) Running() bool {
	return s.GetState() == Active
}

// GetState returns the state value in a race-free fashion
func (s *Simulator) GetState() SimState {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()
	return s.state
}

// PushInput stores v as the external value of input channel ch. It is read by
// every following cycle until replaced.
func (s *Simulator) PushInput(ch InputChannel, v float64) error {
	if !ch.Valid() {
		return paramError("PushInput", "input channel", ch)
	}
	if !finite(v) {
		return paramError("PushInput", "value", v)
	}
	s.external[ch].Store(v)
	s.debugf("%v <- %g", ch, v)
	return nil
}

// PostTrigger posts a one-shot trigger event to input channel ch and to its
// companion file source. An event already pending is not doubled.
func (s *Simulator) PostTrigger(ch InputChannel) error {
	if !ch.Valid() {
		return paramError("PostTrigger", "input channel", ch)
	}
	posted := s.genTrigger[ch].set()
	s.fileTrigger[FileSourceID(ch)].set()
	s.debugf("trigger %v (new event: %t)", ch, posted)
	return nil
}

// BindFile opens path as the data file of file source id, closing any file
// bound before. An open failure is returned at once and leaves the old
// binding in place.
func (s *Simulator) BindFile(id FileSourceID, path string, recycle bool) error {
	if !id.Valid() {
		return paramError("BindFile", "file source", id)
	}
	fs, err := OpenFileSource(path, recycle)
	if err != nil {
		return err
	}
	fc := s.files[id]
	fc.Lock()
	old := fc.source
	fc.source = fs
	fc.slot.reset()
	fc.Unlock()
	if old != nil {
		old.Close()
	}
	s.debugf("%v bound to %s (recycle %t)", id, path, recycle)
	return nil
}

// UnbindFile closes the data file of file source id, if any.
func (s *Simulator) UnbindFile(id FileSourceID) error {
	if !id.Valid() {
		return paramError("UnbindFile", "file source", id)
	}
	fc := s.files[id]
	fc.Lock()
	old := fc.source
	fc.source = nil
	fc.slot.reset()
	fc.Unlock()
	if old != nil {
		return old.Close()
	}
	return nil
}

// FileBinding returns the path and recycle flag of file source id.
// The path is "" when no file is bound.
func (s *Simulator) FileBinding(id FileSourceID) (path string, recycle bool, err error) {
	if !id.Valid() {
		return "", false, paramError("FileBinding", "file source", id)
	}
	fc := s.files[id]
	fc.Lock()
	defer fc.Unlock()
	if fc.source == nil {
		return "", false, nil
	}
	return fc.source.Path(), fc.source.Recycle(), nil
}

func (s *Simulator) fileBound(id FileSourceID) bool {
	fc := s.files[id]
	fc.Lock()
	defer fc.Unlock()
	return fc.source != nil
}

// Passes returns the number of main cycle passes completed since creation.
func (s *Simulator) Passes() uint64 {
	return s.passes.Load()
}

// Recorder returns the simulator's output recorder.
func (s *Simulator) Recorder() *Recorder {
	return s.recorder
}
