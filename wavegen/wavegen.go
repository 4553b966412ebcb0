// Package wavegen generates periodic test waveforms. It replaces the
// MIDI source in the bridge's self-test mode, sweeping the CV outputs
// with a known shape so an oscilloscope on the jacks verifies the whole
// chain without a USB host.
package wavegen

import (
	"fmt"
	"math"
)

// Shape selects a waveform.
type Shape uint8

const (
	Sinus Shape = iota
	Triangle
	Square
	Sawtooth
	Stair
	SinusRectified
	SinusDiode
	HeartBeat
)

var shapeNames = map[string]Shape{
	"sinus":           Sinus,
	"triangle":        Triangle,
	"square":          Square,
	"sawtooth":        Sawtooth,
	"stair":           Stair,
	"sinus-rectified": SinusRectified,
	"sinus-diode":     SinusDiode,
	"heartbeat":       HeartBeat,
}

// ParseShape resolves a shape by name.
func ParseShape(name string) (Shape, error) {
	s, ok := shapeNames[name]
	if !ok {
		return 0, fmt.Errorf("wavegen: unknown shape %q", name)
	}
	return s, nil
}

func (s Shape) String() string {
	for name, v := range shapeNames {
		if v == s {
			return name
		}
	}
	return "unknown"
}

// heartBeat is a one-period lookup table, linearly interpolated.
var heartBeat = [32]float64{
	2000 / 32767.0, 4000 / 32767.0, 6000 / 32767.0, 8000 / 32767.0,
	10000 / 32767.0, 12000 / 32767.0, 14000 / 32767.0, 16000 / 32767.0,
	18000 / 32767.0, 20000 / 32767.0, 22000 / 32767.0, 24000 / 32767.0,
	26000 / 32767.0, 28000 / 32767.0, 30000 / 32767.0, 32000 / 32767.0,
	30000 / 32767.0, 28000 / 32767.0, 26000 / 32767.0, 24000 / 32767.0,
	22000 / 32767.0, 20000 / 32767.0, 18000 / 32767.0, 16000 / 32767.0,
	14000 / 32767.0, 12000 / 32767.0, 10000 / 32767.0, 8000 / 32767.0,
	6000 / 32767.0, 4000 / 32767.0, 2000 / 32767.0, 0,
}

// Generator evaluates waveforms at arbitrary times. The zero value is
// not useful; use New.
type Generator struct {
	period    float64
	amplitude float64
	phase     float64
	yShift    float64
	dutyCycle float64
}

// New returns a generator with the given frequency in Hz, unit
// amplitude, zero phase and shift, and 50% duty cycle.
func New(freqHz float64) *Generator {
	g := &Generator{
		amplitude: 1,
		dutyCycle: 0.5,
	}
	g.SetFrequency(freqHz)
	return g
}

// SetFrequency sets the waveform frequency in Hz.
func (g *Generator) SetFrequency(freqHz float64) {
	if freqHz <= 0 {
		freqHz = 1
	}
	g.period = 1 / freqHz
}

// Frequency reports the waveform frequency in Hz.
func (g *Generator) Frequency() float64 { return 1 / g.period }

// SetAmplitude sets the peak amplitude.
func (g *Generator) SetAmplitude(a float64) { g.amplitude = a }

// SetPhase shifts the waveform in time, in seconds.
func (g *Generator) SetPhase(p float64) { g.phase = p }

// SetYShift offsets the waveform output.
func (g *Generator) SetYShift(y float64) { g.yShift = y }

// SetDutyCycle sets the duty cycle in percent, clamped to [0, 100].
func (g *Generator) SetDutyCycle(pct float64) {
	switch {
	case pct < 0:
		g.dutyCycle = 0
	case pct > 100:
		g.dutyCycle = 1
	default:
		g.dutyCycle = pct / 100
	}
}

// Sample evaluates the shape at time t seconds.
func (g *Generator) Sample(s Shape, t float64) float64 {
	switch s {
	case Sinus:
		return g.Sinus(t)
	case Triangle:
		return g.Triangle(t)
	case Square:
		return g.Square(t)
	case Sawtooth:
		return g.Sawtooth(t)
	case Stair:
		return g.Stair(t, 8)
	case SinusRectified:
		return g.SinusRectified(t)
	case SinusDiode:
		return g.SinusDiode(t)
	case HeartBeat:
		return g.HeartBeat(t)
	}
	return g.yShift
}

// wrap folds t (plus phase) into [0, period).
func (g *Generator) wrap(t float64) float64 {
	t = math.Mod(t+g.phase, g.period)
	if t < 0 {
		t += g.period
	}
	return t
}

// Sinus is a sine wave.
func (g *Generator) Sinus(t float64) float64 {
	return g.yShift + g.amplitude*math.Sin((t+g.phase)*2*math.Pi/g.period)
}

// Triangle rises for the duty-cycle fraction of the period and falls for
// the rest.
func (g *Generator) Triangle(t float64) float64 {
	t = g.wrap(t)
	var v float64
	if rise := g.period * g.dutyCycle; t < rise {
		v = -1 + 2*t/rise
	} else {
		v = 1 - 2*(t-g.period*g.dutyCycle)/(g.period*(1-g.dutyCycle))
	}
	return g.yShift + g.amplitude*v
}

// Square is high for the duty-cycle fraction of the period.
func (g *Generator) Square(t float64) float64 {
	if t = g.wrap(t); t < g.period*g.dutyCycle {
		return g.yShift + g.amplitude
	}
	return g.yShift - g.amplitude
}

// Sawtooth ramps from -amplitude to +amplitude once per period.
func (g *Generator) Sawtooth(t float64) float64 {
	t = g.wrap(t)
	return g.yShift + g.amplitude*(-1+2*t/g.period)
}

// Stair quantizes the sawtooth into the given number of steps.
func (g *Generator) Stair(t float64, steps int) float64 {
	if steps < 2 {
		steps = 2
	}
	t = g.wrap(t)
	level := int(float64(steps) * t / g.period)
	if level >= steps {
		level = steps - 1
	}
	return g.yShift + g.amplitude*(-1+2*float64(level)/float64(steps-1))
}

// SinusRectified is the absolute value of the sine wave.
func (g *Generator) SinusRectified(t float64) float64 {
	return g.yShift + math.Abs(g.amplitude*math.Sin((t+g.phase)*2*math.Pi/g.period))
}

// SinusDiode passes only the positive half-wave, like a diode would.
func (g *Generator) SinusDiode(t float64) float64 {
	if v := g.Sinus(t); v > g.yShift {
		return v
	}
	return g.yShift
}

// HeartBeat is a pulse-like LUT waveform; at 1.2 Hz it resembles a
// 72 BPM heartbeat.
func (g *Generator) HeartBeat(t float64) float64 {
	t = g.wrap(t)
	pos := t / g.period * float64(len(heartBeat))
	i := int(pos)
	frac := pos - float64(i)
	a := heartBeat[i%len(heartBeat)]
	b := heartBeat[(i+1)%len(heartBeat)]
	return g.yShift + g.amplitude*(a+(b-a)*frac)
}
