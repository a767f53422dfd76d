package fir

import (
	"math"
	"math/cmplx"
	"testing"
)

func TestWindowsSymmetric(t *testing.T) {
	tests := []struct {
		name    string
		winType WindowType
	}{
		{"hamming", Hamming},
		{"hann", Hann},
		{"blackman", Blackman},
		{"blackman-harris", BlackmanHarris},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Window(tt.winType, 33)
			for i := 0; i < len(w)/2; i++ {
				if math.Abs(float64(w[i]-w[len(w)-1-i])) > 1e-6 {
					t.Fatalf("window not symmetric at %d: %v != %v", i, w[i], w[len(w)-1-i])
				}
			}
			if mid := w[len(w)/2]; math.Abs(float64(mid)-1) > 1e-3 {
				t.Errorf("window peak = %v, want 1", mid)
			}
		})
	}
}

func TestHannRisingHalf(t *testing.T) {
	const n = 8
	w := HannWindow(2*n + 1)
	for i := 0; i <= n; i++ {
		want := 0.5 * (1 - math.Cos(math.Pi*float64(i)/n))
		if math.Abs(float64(w[i])-want) > 1e-6 {
			t.Errorf("w[%d] = %v, want %v", i, w[i], want)
		}
	}
}

func TestMakeLowPassDCGain(t *testing.T) {
	taps := MakeLowPass(2.0, 48000, 3000, 1000, Hamming)
	if len(taps)%2 != 1 {
		t.Fatalf("expected odd tap count, got %d", len(taps))
	}
	var sum float64
	for _, tap := range taps {
		sum += float64(tap)
	}
	if math.Abs(sum-2.0) > 1e-4 {
		t.Errorf("DC gain = %v, want 2", sum)
	}
}

func TestMakeComplexBandPassCentre(t *testing.T) {
	const rate = 48000.0
	taps := MakeComplexBandPass(1.0, rate, 2000, 6000, 1000, Hamming)

	response := func(freq float64) float64 {
		var acc complex128
		for i, tap := range taps {
			acc += complex128(tap) * cmplx.Exp(complex(0, -2*math.Pi*freq*float64(i)/rate))
		}
		return cmplx.Abs(acc)
	}

	if centre := response(4000); math.Abs(centre-1) > 0.05 {
		t.Errorf("passband gain = %v, want ~1", centre)
	}
	if image := response(-4000); image > 0.05 {
		t.Errorf("image gain = %v, want ~0", image)
	}
}

func TestBlackmanHarrisVariants(t *testing.T) {
	for _, atten := range []int{61, 67, 74, 92} {
		w := BlackmanHarrisWindow(21, atten)
		if math.Abs(float64(w[0])) > 0.02 || w[10] < 0.99 {
			t.Errorf("%d dB: edge %v, peak %v", atten, w[0], w[10])
		}
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic for unsupported attenuation")
		}
	}()
	BlackmanHarrisWindow(21, 50)
}
