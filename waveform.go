package devsim

import "math"

// Fixed shape parameters of the cyclic waveforms, in generator ticks.
const (
	SineStep        = 0.1 // phase advance per tick, in radians
	PulseHalfPeriod = 20  // ticks spent at each pulse level
	RampSteps       = 100 // ticks to rise from 0 to the peak; the next tick resets to 0
	SawHalfSteps    = 50  // ticks to rise from 0 to the peak, and again to fall back to 0
)

// Generator synthesizes one channel's cyclic waveform, one sample per tick.
// It keeps the phase of every waveform kind, so the kind may be changed
// between ticks without disturbing the others.
//
// A Generator is not safe for concurrent use: it belongs to the goroutine
// that ticks it.
type Generator struct {
	sinePhase  float64
	pulseCount int
	pulseHigh  bool
	rampCount  int
	sawPos     int
	sawFalling bool
}

// NewGenerator creates a Generator with every waveform at the start of its cycle.
func NewGenerator() *Generator {
	return new(Generator)
}

// Reset returns all waveforms to the start of their cycle.
func (g *Generator) Reset() {
	*g = Generator{}
}

// Next advances the waveform of the given kind by one tick and returns the new sample.
// peak is the waveform's maximum level relative to zero. offset is added to sine
// samples only.
func (g *Generator) Next(kind WaveformKind, peak, offset float64) float64 {
	switch kind {
	case WaveSine:
		return g.sine(peak, offset)
	case WavePulse:
		return g.pulse(peak)
	case WaveRamp:
		return g.ramp(peak)
	case WaveSawtooth:
		return g.sawtooth(peak)
	}
	return peak
}

func (g *Generator) sine(peak, offset float64) float64 {
	value := peak*math.Sin(g.sinePhase) + offset
	g.sinePhase += SineStep
	if g.sinePhase >= 2*math.Pi {
		g.sinePhase -= 2 * math.Pi
	}
	return value
}

// pulse is a 50% duty-cycle square wave that starts low.
func (g *Generator) pulse(peak float64) float64 {
	if g.pulseCount >= PulseHalfPeriod {
		g.pulseHigh = !g.pulseHigh
		g.pulseCount = 0
	}
	g.pulseCount++
	if g.pulseHigh {
		return peak
	}
	return 0.0
}

// ramp rises linearly to the peak, then drops back to zero.
func (g *Generator) ramp(peak float64) float64 {
	if g.rampCount >= RampSteps {
		g.rampCount = 0
	} else {
		g.rampCount++
	}
	return peak * float64(g.rampCount) / RampSteps
}

// sawtooth is the symmetric rise-and-fall (triangle) wave.
func (g *Generator) sawtooth(peak float64) float64 {
	if g.sawFalling {
		g.sawPos--
		if g.sawPos <= 0 {
			g.sawFalling = false
		}
	} else {
		g.sawPos++
		if g.sawPos >= SawHalfSteps {
			g.sawFalling = true
		}
	}
	return peak * float64(g.sawPos) / SawHalfSteps
}
