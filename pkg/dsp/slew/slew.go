// Package slew ramps a channel's gain in and out around state changes so that
// turning a channel on or off does not click.
//
// An up transition outputs silence for the up delay, then rises along a
// raised cosine for the up slew time. A down transition passes the signal for
// the down delay, then falls along the mirrored curve and stays silent.
package slew

import (
	"math"
	"time"

	"github.com/norasector/wdsp/pkg/dsp/filters/fir"
)

type phase int

const (
	phaseSilent phase = iota
	phaseDelayUp
	phaseRampUp
	phaseOn
	phaseDelayDown
	phaseRampDown
)

func (p phase) String() string {
	switch p {
	case phaseSilent:
		return "silent"
	case phaseDelayUp:
		return "delay_up"
	case phaseRampUp:
		return "ramp_up"
	case phaseOn:
		return "on"
	case phaseDelayDown:
		return "delay_down"
	case phaseRampDown:
		return "ramp_down"
	default:
		return "unknown"
	}
}

// Timing holds the four transition times of a channel.
type Timing struct {
	DelayUp   time.Duration `yaml:"delay_up" json:"delay_up"`
	SlewUp    time.Duration `yaml:"slew_up" json:"slew_up"`
	DelayDown time.Duration `yaml:"delay_down" json:"delay_down"`
	SlewDown  time.Duration `yaml:"slew_down" json:"slew_down"`
}

// Samples converts d to a sample count at rate.
func Samples(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(rate)))
}

type Slew struct {
	rate   int
	timing Timing

	nDelayUp   int
	nDelayDown int
	up         []float32
	down       []float32

	phase phase
	count int
	gain  float32
}

// New returns a silent Slew. Call Up to start passing samples.
func New(rate int, timing Timing) *Slew {
	s := &Slew{}
	s.SetTiming(rate, timing)
	return s
}

// rampCurve returns the n+1 sample rising half of a Hann window, from 0 to 1.
func rampCurve(n int) []float32 {
	if n <= 0 {
		return nil
	}
	return fir.HannWindow(2*n + 1)[:n+1]
}

// SetTiming rebuilds the ramp curves. A ramp in progress continues from the
// same relative position on the new curve.
func (s *Slew) SetTiming(rate int, timing Timing) {
	var progress float64
	if s.phase == phaseRampUp && len(s.up) > 0 {
		progress = float64(s.count) / float64(len(s.up))
	} else if s.phase == phaseRampDown && len(s.down) > 0 {
		progress = float64(s.count) / float64(len(s.down))
	}

	s.rate = rate
	s.timing = timing
	s.nDelayUp = Samples(timing.DelayUp, rate)
	s.nDelayDown = Samples(timing.DelayDown, rate)
	s.up = rampCurve(Samples(timing.SlewUp, rate))
	s.down = rampCurve(Samples(timing.SlewDown, rate))
	reverse(s.down)

	switch s.phase {
	case phaseRampUp:
		s.count = int(progress * float64(len(s.up)))
	case phaseRampDown:
		s.count = int(progress * float64(len(s.down)))
	case phaseDelayUp:
		if s.count > s.nDelayUp {
			s.count = s.nDelayUp
		}
	case phaseDelayDown:
		if s.count > s.nDelayDown {
			s.count = s.nDelayDown
		}
	}
}

func reverse(f []float32) {
	for i, j := 0, len(f)-1; i < j; i, j = i+1, j-1 {
		f[i], f[j] = f[j], f[i]
	}
}

func (s *Slew) Timing() Timing {
	return s.timing
}

// Up starts (or resumes) the rise to unity gain.
func (s *Slew) Up() {
	switch s.phase {
	case phaseSilent:
		s.phase = phaseDelayUp
		s.count = 0
	case phaseDelayDown:
		s.phase = phaseOn
		s.count = 0
	case phaseRampDown:
		// Continue upward from the current gain.
		g := s.gain
		s.phase = phaseRampUp
		s.count = indexAtOrAbove(s.up, g)
	}
}

// Down starts (or resumes) the fall to silence.
func (s *Slew) Down() {
	switch s.phase {
	case phaseOn:
		s.phase = phaseDelayDown
		s.count = 0
	case phaseRampUp:
		g := s.gain
		s.phase = phaseRampDown
		s.count = indexAtOrBelow(s.down, g)
	case phaseDelayUp:
		s.phase = phaseSilent
		s.count = 0
		s.gain = 0
	}
}

// Reset forces the silent state.
func (s *Slew) Reset() {
	s.phase = phaseSilent
	s.count = 0
	s.gain = 0
}

// Done reports whether the slew is silent, i.e. a down transition finished.
func (s *Slew) Done() bool {
	return s.phase == phaseSilent
}

// Steady reports whether the slew passes samples at unity gain.
func (s *Slew) Steady() bool {
	return s.phase == phaseOn
}

// Gain is the gain applied to the last processed sample.
func (s *Slew) Gain() float32 {
	return s.gain
}

func (s *Slew) Phase() string {
	return s.phase.String()
}

func indexAtOrAbove(curve []float32, g float32) int {
	for i, c := range curve {
		if c >= g {
			return i
		}
	}
	return len(curve)
}

func indexAtOrBelow(curve []float32, g float32) int {
	for i, c := range curve {
		if c <= g {
			return i
		}
	}
	return len(curve)
}

// next advances the state machine by one sample and returns its gain.
func (s *Slew) next() float32 {
	for {
		switch s.phase {
		case phaseSilent:
			return 0
		case phaseOn:
			return 1
		case phaseDelayUp:
			if s.count < s.nDelayUp {
				s.count++
				return 0
			}
			s.phase, s.count = phaseRampUp, 0
		case phaseRampUp:
			if s.count < len(s.up) {
				g := s.up[s.count]
				s.count++
				return g
			}
			s.phase, s.count = phaseOn, 0
		case phaseDelayDown:
			if s.count < s.nDelayDown {
				s.count++
				return 1
			}
			s.phase, s.count = phaseRampDown, 0
		case phaseRampDown:
			if s.count < len(s.down) {
				g := s.down[s.count]
				s.count++
				return g
			}
			s.phase, s.count = phaseSilent, 0
		}
	}
}

func (s *Slew) WorkBuffer(input, output []complex64) int {
	for i := 0; i < len(input); i++ {
		switch s.phase {
		case phaseOn:
			output[i] = input[i]
			s.gain = 1
			continue
		case phaseSilent:
			output[i] = 0
			s.gain = 0
			continue
		}
		s.gain = s.next()
		output[i] = input[i] * complex(s.gain, 0)
	}
	return len(input)
}

func (s *Slew) PredictOutputSize(inputSize int) int {
	return inputSize
}
