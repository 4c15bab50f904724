package devsim

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefaults(t *testing.T) {
	r := newRegistry()
	assert.Equal(t, DefaultCycleInterval, r.CycleInterval())
	for ch := InputChannel(0); ch < NumInputs; ch++ {
		src, err := r.InputSource(ch)
		require.NoError(t, err)
		assert.Equal(t, SourceExternal, src)
		mode, _ := r.TriggerMode(ch)
		assert.Equal(t, FreeRunning, mode)
		kind, _ := r.CyclicType(ch)
		assert.Equal(t, WaveConstant, kind)
		rate, _ := r.CyclicRate(ch)
		assert.Equal(t, DefaultCyclicRate, rate)
		name, _ := r.Transform(ch)
		assert.Equal(t, "", name)
	}
	for ch := OutputChannel(0); ch < NumOutputs; ch++ {
		mux, err := r.OutputSource(ch)
		require.NoError(t, err)
		assert.Equal(t, FromInput(InputChannel(ch)), mux)
		scale, _ := r.OutputScale(ch)
		assert.Equal(t, 1.0, scale)
		noise, _ := r.NoiseScale(ch)
		assert.Equal(t, 0.0, noise)
	}
}

func TestRegistrySetters(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.SetCycleInterval(10*time.Millisecond))
	require.NoError(t, r.SetInputSource(InChan2, SourceCyclic))
	require.NoError(t, r.SetTriggerMode(InChan2, InternalTrigger))
	require.NoError(t, r.SetCyclicType(InChan2, WaveSawtooth))
	require.NoError(t, r.SetCyclicLevel(InChan2, -3.5))
	require.NoError(t, r.SetCyclicRate(InChan2, time.Second))
	require.NoError(t, r.SetCyclicOffset(InChan2, 0.25))
	require.NoError(t, r.SetOutputSource(OutChan4, FromFile(SrcFile3)))
	require.NoError(t, r.SetOutputScale(OutChan4, -2))
	require.NoError(t, r.SetNoiseScale(OutChan4, 0.5))

	assert.Equal(t, 10*time.Millisecond, r.CycleInterval())
	in := r.input(InChan2)
	assert.Equal(t, inputConfig{
		source:   SourceCyclic,
		trigger:  InternalTrigger,
		waveform: WaveSawtooth,
		level:    -3.5,
		offset:   0.25,
		rate:     time.Second,
	}, in)
	out := r.output(OutChan4)
	assert.Equal(t, outputConfig{mux: FromFile(SrcFile3), scale: -2, noise: 0.5}, out)

	// Other channels are untouched.
	assert.Equal(t, newRegistry().input(InChan1), r.input(InChan1))
}

func TestRegistryRejectsBadParameters(t *testing.T) {
	r := newRegistry()
	cycle, inputs, outputs := r.cycle, r.inputs, r.outputs

	badInputs := []error{
		r.SetInputSource(InputChannel(4), SourceCyclic),
		r.SetInputSource(InChan1, SourceSelect(2)),
		r.SetTriggerMode(InputChannel(-1), ExternalTrigger),
		r.SetTriggerMode(InChan1, TriggerMode(3)),
		r.SetCyclicType(InChan1, WaveformKind(5)),
		r.SetCyclicType(InChan1, WaveformKind(-1)),
		r.SetCyclicLevel(InChan1, math.NaN()),
		r.SetCyclicLevel(InputChannel(9), 1),
		r.SetCyclicRate(InChan1, 0),
		r.SetCyclicRate(InChan1, -time.Second),
		r.SetCyclicOffset(InChan1, math.Inf(-1)),
		r.SetNamedTransform(InChan1, "no such transform"),
		r.SetTransform(InChan1, "", builtinTransforms["abs"]),
		r.SetTransform(InChan1, "nil", nil),
		r.ClearTransform(InputChannel(4)),
		r.SetCycleInterval(0),
		r.SetOutputSource(OutputChannel(4), FromInput(InChan1)),
		r.SetOutputSource(OutChan1, FromInput(InputChannel(4))),
		r.SetOutputSource(OutChan1, FromFile(FileSourceID(4))),
		r.SetOutputSource(OutChan1, MuxSource{Kind: MuxKind(7)}),
		r.SetOutputScale(OutChan1, math.Inf(1)),
		r.SetOutputScale(OutputChannel(-1), 1),
		r.SetNoiseScale(OutChan1, -0.1),
		r.SetNoiseScale(OutChan1, math.NaN()),
		r.RegisterTransform("", builtinTransforms["abs"]),
		r.RegisterTransform("nil", nil),
	}
	for i, err := range badInputs {
		var pe *ParameterError
		assert.ErrorAs(t, err, &pe, "case %d", i)
		assert.Equal(t, BadParam, Code(err), "case %d", i)
	}
	assert.Equal(t, cycle, r.cycle)
	assert.Equal(t, inputs, r.inputs)
	assert.Equal(t, outputs, r.outputs)

	_, err := r.OutputScale(OutputChannel(4))
	assert.Equal(t, BadParam, Code(err))
	_, err = r.CyclicLevel(InputChannel(-2))
	assert.Equal(t, BadParam, Code(err))
}

func TestRegisterTransform(t *testing.T) {
	r := newRegistry()
	double := func(x0, x1 float64) (float64, error) { return 2 * x0, nil }
	require.NoError(t, r.RegisterTransform("double", double))
	require.NoError(t, r.SetNamedTransform(InChan3, "double"))
	name, err := r.Transform(InChan3)
	require.NoError(t, err)
	assert.Equal(t, "double", name)

	v, err := r.input(InChan3).transform(4, 0)
	require.NoError(t, err)
	assert.Equal(t, 8.0, v)

	// Registrations belong to one registry only.
	assert.Error(t, newRegistry().SetNamedTransform(InChan3, "double"))
}
