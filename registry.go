package devsim

import (
	"math"
	"sync"
	"time"
)

// inputConfig holds the settings of one input channel.
type inputConfig struct {
	source        SourceSelect
	trigger       TriggerMode
	waveform      WaveformKind
	level         float64
	offset        float64
	rate          time.Duration
	transformName string
	transform     TransformFunc
}

// outputConfig holds the settings of one output channel.
type outputConfig struct {
	mux   MuxSource
	scale float64
	noise float64
}

// registry owns every channel parameter. Setters validate their arguments and
// change nothing on error. Its exported methods are promoted to Simulator.
type registry struct {
	mu         sync.RWMutex
	cycle      time.Duration
	inputs     [NumInputs]inputConfig
	outputs    [NumOutputs]outputConfig
	transforms map[string]TransformFunc

	// retime[ch] is set when channel ch's trigger mode or cyclic rate changes,
	// so its generator can re-arm at once.
	retime [NumInputs]latch
}

func newRegistry() *registry {
	r := &registry{
		cycle:      DefaultCycleInterval,
		transforms: make(map[string]TransformFunc),
	}
	for i := range r.inputs {
		r.inputs[i].rate = DefaultCyclicRate
		r.retime[i] = newLatch()
	}
	for i := range r.outputs {
		r.outputs[i] = outputConfig{mux: FromInput(InputChannel(i)), scale: 1.0}
	}
	for name, fn := range builtinTransforms {
		r.transforms[name] = fn
	}
	return r
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// input returns a copy of channel ch's settings.
func (r *registry) input(ch InputChannel) inputConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inputs[ch]
}

// output returns a copy of channel ch's settings.
func (r *registry) output(ch OutputChannel) outputConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outputs[ch]
}

// setInput validates ch and then applies change under the write lock.
func (r *registry) setInput(op string, ch InputChannel, change func(*inputConfig)) error {
	if !ch.Valid() {
		return paramError(op, "input channel", ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	change(&r.inputs[ch])
	return nil
}

func (r *registry) setOutput(op string, ch OutputChannel, change func(*outputConfig)) error {
	if !ch.Valid() {
		return paramError(op, "output channel", ch)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	change(&r.outputs[ch])
	return nil
}

func (r *registry) getInput(op string, ch InputChannel) (inputConfig, error) {
	if !ch.Valid() {
		return inputConfig{}, paramError(op, "input channel", ch)
	}
	return r.input(ch), nil
}

func (r *registry) getOutput(op string, ch OutputChannel) (outputConfig, error) {
	if !ch.Valid() {
		return outputConfig{}, paramError(op, "output channel", ch)
	}
	return r.output(ch), nil
}

// SetCycleInterval sets the period of the main simulation cycle.
func (r *registry) SetCycleInterval(d time.Duration) error {
	if d <= 0 {
		return paramError("SetCycleInterval", "interval", d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycle = d
	return nil
}

// CycleInterval returns the period of the main simulation cycle.
func (r *registry) CycleInterval() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycle
}

// SetInputSource selects whether input channel ch reads pushed values or its generator.
func (r *registry) SetInputSource(ch InputChannel, src SourceSelect) error {
	if !src.valid() {
		return paramError("SetInputSource", "source", src)
	}
	return r.setInput("SetInputSource", ch, func(c *inputConfig) { c.source = src })
}

// InputSource returns the source selection of input channel ch.
func (r *registry) InputSource(ch InputChannel) (SourceSelect, error) {
	c, err := r.getInput("InputSource", ch)
	return c.source, err
}

// SetTriggerMode sets the trigger mode of input channel ch, which also paces
// the file source of the same number.
func (r *registry) SetTriggerMode(ch InputChannel, mode TriggerMode) error {
	if !mode.valid() {
		return paramError("SetTriggerMode", "trigger mode", mode)
	}
	if err := r.setInput("SetTriggerMode", ch, func(c *inputConfig) { c.trigger = mode }); err != nil {
		return err
	}
	r.retime[ch].set()
	return nil
}

// TriggerMode returns the trigger mode of input channel ch.
func (r *registry) TriggerMode(ch InputChannel) (TriggerMode, error) {
	c, err := r.getInput("TriggerMode", ch)
	return c.trigger, err
}

// SetCyclicType selects the waveform generated for input channel ch.
func (r *registry) SetCyclicType(ch InputChannel, kind WaveformKind) error {
	if !kind.valid() {
		return paramError("SetCyclicType", "waveform", kind)
	}
	return r.setInput("SetCyclicType", ch, func(c *inputConfig) { c.waveform = kind })
}

// CyclicType returns the waveform selected for input channel ch.
func (r *registry) CyclicType(ch InputChannel) (WaveformKind, error) {
	c, err := r.getInput("CyclicType", ch)
	return c.waveform, err
}

// SetCyclicLevel sets the peak level of input channel ch's waveform.
func (r *registry) SetCyclicLevel(ch InputChannel, level float64) error {
	if !finite(level) {
		return paramError("SetCyclicLevel", "level", level)
	}
	return r.setInput("SetCyclicLevel", ch, func(c *inputConfig) { c.level = level })
}

// CyclicLevel returns the peak level of input channel ch's waveform.
func (r *registry) CyclicLevel(ch InputChannel) (float64, error) {
	c, err := r.getInput("CyclicLevel", ch)
	return c.level, err
}

// SetCyclicRate sets the time between ticks of input channel ch's generator.
func (r *registry) SetCyclicRate(ch InputChannel, rate time.Duration) error {
	if rate <= 0 {
		return paramError("SetCyclicRate", "rate", rate)
	}
	if err := r.setInput("SetCyclicRate", ch, func(c *inputConfig) { c.rate = rate }); err != nil {
		return err
	}
	r.retime[ch].set()
	return nil
}

// CyclicRate returns the time between ticks of input channel ch's generator.
func (r *registry) CyclicRate(ch InputChannel) (time.Duration, error) {
	c, err := r.getInput("CyclicRate", ch)
	return c.rate, err
}

// SetCyclicOffset sets the bias added to input channel ch's sine wave.
func (r *registry) SetCyclicOffset(ch InputChannel, offset float64) error {
	if !finite(offset) {
		return paramError("SetCyclicOffset", "offset", offset)
	}
	return r.setInput("SetCyclicOffset", ch, func(c *inputConfig) { c.offset = offset })
}

// CyclicOffset returns the bias added to input channel ch's sine wave.
func (r *registry) CyclicOffset(ch InputChannel) (float64, error) {
	c, err := r.getInput("CyclicOffset", ch)
	return c.offset, err
}

// RegisterTransform makes fn available to SetNamedTransform under name,
// replacing any earlier transform of that name.
func (r *registry) RegisterTransform(name string, fn TransformFunc) error {
	if name == "" {
		return paramError("RegisterTransform", "name", name)
	}
	if fn == nil {
		return paramError("RegisterTransform", "function", "nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transforms[name] = fn
	return nil
}

// SetTransform installs fn as the transform of input channel ch.
// The name identifies it in logs, errors and snapshots.
func (r *registry) SetTransform(ch InputChannel, name string, fn TransformFunc) error {
	if name == "" {
		return paramError("SetTransform", "name", name)
	}
	if fn == nil {
		return paramError("SetTransform", "function", "nil")
	}
	return r.setInput("SetTransform", ch, func(c *inputConfig) {
		c.transformName = name
		c.transform = fn
	})
}

// SetNamedTransform installs a built-in or registered transform on input channel ch.
func (r *registry) SetNamedTransform(ch InputChannel, name string) error {
	r.mu.RLock()
	fn, ok := r.transforms[name]
	r.mu.RUnlock()
	if !ok {
		return paramError("SetNamedTransform", "transform", name)
	}
	return r.SetTransform(ch, name, fn)
}

// ClearTransform removes any transform from input channel ch.
func (r *registry) ClearTransform(ch InputChannel) error {
	return r.setInput("ClearTransform", ch, func(c *inputConfig) {
		c.transformName = ""
		c.transform = nil
	})
}

// Transform returns the name of input channel ch's transform, or "" if it has none.
func (r *registry) Transform(ch InputChannel) (string, error) {
	c, err := r.getInput("Transform", ch)
	return c.transformName, err
}

// SetOutputSource selects the input channel or file source feeding output channel ch.
func (r *registry) SetOutputSource(ch OutputChannel, src MuxSource) error {
	if !src.Valid() {
		return paramError("SetOutputSource", "multiplexer source", src)
	}
	return r.setOutput("SetOutputSource", ch, func(c *outputConfig) { c.mux = src })
}

// OutputSource returns the selection feeding output channel ch.
func (r *registry) OutputSource(ch OutputChannel) (MuxSource, error) {
	c, err := r.getOutput("OutputSource", ch)
	return c.mux, err
}

// SetOutputScale sets the factor output channel ch multiplies its source by.
func (r *registry) SetOutputScale(ch OutputChannel, scale float64) error {
	if !finite(scale) {
		return paramError("SetOutputScale", "scale", scale)
	}
	return r.setOutput("SetOutputScale", ch, func(c *outputConfig) { c.scale = scale })
}

// OutputScale returns the scale factor of output channel ch.
func (r *registry) OutputScale(ch OutputChannel) (float64, error) {
	c, err := r.getOutput("OutputScale", ch)
	return c.scale, err
}

// SetNoiseScale sets the amplitude of the uniform noise added to output channel ch.
// Zero disables the noise.
func (r *registry) SetNoiseScale(ch OutputChannel, scale float64) error {
	if !finite(scale) || scale < 0 {
		return paramError("SetNoiseScale", "noise scale", scale)
	}
	return r.setOutput("SetNoiseScale", ch, func(c *outputConfig) { c.noise = scale })
}

// NoiseScale returns the noise amplitude of output channel ch.
func (r *registry) NoiseScale(ch OutputChannel) (float64, error) {
	c, err := r.getOutput("NoiseScale", ch)
	return c.noise, err
}
