package slew

import (
	"math"
	"testing"
	"time"
)

func ones(n int) []complex64 {
	ret := make([]complex64, n)
	for i := range ret {
		ret[i] = 1
	}
	return ret
}

func gains(s *Slew, n int) []float32 {
	out := make([]complex64, n)
	s.WorkBuffer(ones(n), out)
	ret := make([]float32, n)
	for i, v := range out {
		ret[i] = real(v)
	}
	return ret
}

func TestSamples(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		rate int
		want int
	}{
		{"zero", 0, 48000, 0},
		{"negative", -time.Millisecond, 48000, 0},
		{"1ms@48k", time.Millisecond, 48000, 48},
		{"10ms@8k", 10 * time.Millisecond, 8000, 80},
		{"rounding", 1500 * time.Microsecond, 1000, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Samples(tt.d, tt.rate); got != tt.want {
				t.Errorf("Samples() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewIsSilent(t *testing.T) {
	s := New(1000, Timing{})
	for i, g := range gains(s, 16) {
		if g != 0 {
			t.Fatalf("sample %d gain %v, want 0", i, g)
		}
	}
	if !s.Done() {
		t.Error("new slew should be done")
	}
}

func TestUpDelayThenRaisedCosine(t *testing.T) {
	// 4 delay samples, 8 sample ramp (9 curve points).
	s := New(1000, Timing{DelayUp: 4 * time.Millisecond, SlewUp: 8 * time.Millisecond})
	s.Up()

	g := gains(s, 20)
	for i := 0; i < 4; i++ {
		if g[i] != 0 {
			t.Fatalf("delay sample %d gain %v, want 0", i, g[i])
		}
	}
	for i := 0; i <= 8; i++ {
		want := 0.5 * (1 - math.Cos(math.Pi*float64(i)/8))
		if math.Abs(float64(g[4+i])-want) > 1e-6 {
			t.Errorf("ramp sample %d gain %v, want %v", i, g[4+i], want)
		}
	}
	for i := 13; i < 20; i++ {
		if g[i] != 1 {
			t.Errorf("sample %d gain %v, want 1", i, g[i])
		}
	}
	if !s.Steady() {
		t.Errorf("phase %s, want on", s.Phase())
	}
}

func TestDownDelayThenFall(t *testing.T) {
	s := New(1000, Timing{DelayDown: 3 * time.Millisecond, SlewDown: 4 * time.Millisecond})
	s.Up()
	gains(s, 1)
	if !s.Steady() {
		t.Fatalf("zero up timing should be steady immediately, got %s", s.Phase())
	}

	s.Down()
	g := gains(s, 12)
	for i := 0; i < 3; i++ {
		if g[i] != 1 {
			t.Fatalf("delay sample %d gain %v, want 1", i, g[i])
		}
	}
	for i := 1; i < 5; i++ {
		if g[3+i] > g[3+i-1] {
			t.Errorf("ramp not falling at %d: %v > %v", i, g[3+i], g[3+i-1])
		}
	}
	if g[7] != 0 {
		t.Errorf("last ramp sample %v, want 0", g[7])
	}
	for i := 8; i < 12; i++ {
		if g[i] != 0 {
			t.Errorf("sample %d gain %v, want 0", i, g[i])
		}
	}
	if !s.Done() {
		t.Errorf("phase %s, want silent", s.Phase())
	}
}

func TestDownDuringRampUpContinuesFromGain(t *testing.T) {
	s := New(1000, Timing{SlewUp: 10 * time.Millisecond, SlewDown: 10 * time.Millisecond})
	s.Up()
	g := gains(s, 6)
	reached := g[len(g)-1]

	s.Down()
	next := gains(s, 1)[0]
	if next > reached {
		t.Errorf("gain jumped up from %v to %v on down", reached, next)
	}
	if reached-next > 0.2 {
		t.Errorf("gain dropped too far from %v to %v", reached, next)
	}
}

func TestUpDuringRampDownContinuesFromGain(t *testing.T) {
	s := New(1000, Timing{SlewUp: 10 * time.Millisecond, SlewDown: 10 * time.Millisecond})
	s.Up()
	gains(s, 20)
	s.Down()
	g := gains(s, 5)
	reached := g[len(g)-1]

	s.Up()
	next := gains(s, 1)[0]
	if next < reached {
		t.Errorf("gain fell from %v to %v on up", reached, next)
	}
	if next-reached > 0.2 {
		t.Errorf("gain jumped from %v to %v", reached, next)
	}
}

func TestDownDuringDelayUpIsImmediate(t *testing.T) {
	s := New(1000, Timing{DelayUp: 50 * time.Millisecond, SlewUp: 5 * time.Millisecond})
	s.Up()
	gains(s, 10)
	s.Down()
	if !s.Done() {
		t.Errorf("phase %s, want silent", s.Phase())
	}
}

func TestSetTimingKeepsProgress(t *testing.T) {
	s := New(1000, Timing{SlewUp: 10 * time.Millisecond})
	s.Up()
	gains(s, 6)
	before := s.Gain()

	s.SetTiming(1000, Timing{SlewUp: 20 * time.Millisecond})
	after := gains(s, 1)[0]
	if math.Abs(float64(after-before)) > 0.2 {
		t.Errorf("gain moved from %v to %v across retiming", before, after)
	}
}

func TestSetTimingRescalesRampIndex(t *testing.T) {
	s := New(1000, Timing{SlewUp: 10 * time.Millisecond})
	s.Up()
	gains(s, 6) // 6 of 11 curve samples

	// Doubling the slew time leaves about twice the remaining ramp.
	s.SetTiming(1000, Timing{SlewUp: 20 * time.Millisecond})
	gains(s, 9)
	if s.Steady() {
		t.Fatalf("steady after 9 samples, want ramp rescaled to the longer curve")
	}
	gains(s, 2)
	if !s.Steady() {
		t.Errorf("phase %s after 11 samples, want on", s.Phase())
	}
}

func TestSetTimingClampsDelay(t *testing.T) {
	s := New(1000, Timing{DelayUp: 10 * time.Millisecond})
	s.Up()
	gains(s, 8)

	s.SetTiming(1000, Timing{DelayUp: 3 * time.Millisecond})
	if g := gains(s, 1)[0]; g != 1 {
		t.Errorf("gain %v, want 1 once the shortened delay has passed", g)
	}
	if !s.Steady() {
		t.Errorf("phase %s, want on", s.Phase())
	}
}
