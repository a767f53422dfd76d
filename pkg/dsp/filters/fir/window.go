// Package fir designs windowed-sinc filter taps.
package fir

import (
	"fmt"
	"math"
)

type WindowType int

const (
	Hamming WindowType = iota
	Hann
	BlackmanHarris
	Blackman
)

type window struct {
	// Stopband attenuation in dB, used to size filters.
	attenuation int
	coeffs      []float64
}

var windows = map[WindowType]window{
	Hamming:        {53, []float64{0.54, 0.46}},
	Hann:           {44, []float64{0.5, 0.5}},
	Blackman:       {74, []float64{0.42, 0.5, 0.08}},
	BlackmanHarris: {92, blackmanHarris[92]},
}

var blackmanHarris = map[int][]float64{
	61: {0.42323, 0.49755, 0.07922},
	67: {0.44959, 0.49364, 0.05677},
	74: {0.40271, 0.49703, 0.09392, 0.00183},
	92: {0.35875, 0.48829, 0.14128, 0.01168},
}

// Window returns ntaps coefficients of the given window type.
func Window(winType WindowType, ntaps int) []float32 {
	w, ok := windows[winType]
	if !ok {
		panic(fmt.Sprintf("unknown window type %d", winType))
	}
	return cosineSum(ntaps, w.coeffs...)
}

// cosineSum evaluates a0 - a1*cos(x) + a2*cos(2x) - ... over x = 2*pi*i/(n-1).
func cosineSum(ntaps int, coeffs ...float64) []float32 {
	ret := make([]float32, ntaps)
	if ntaps == 1 {
		ret[0] = 1
		return ret
	}
	m := float64(ntaps - 1)
	for i := range ret {
		x := 2 * math.Pi * float64(i) / m
		var v, sign float64 = 0, 1
		for k, a := range coeffs {
			v += sign * a * math.Cos(float64(k)*x)
			sign = -sign
		}
		ret[i] = float32(v)
	}
	return ret
}

// computeNTaps estimates an odd tap count from the window's stopband attenuation.
func computeNTaps(sampleRate, transitionWidth float64, winType WindowType) int {
	atten := float64(windows[winType].attenuation)
	return int(atten*sampleRate/(22*transitionWidth)) | 1
}

func HammingWindow(ntaps int) []float32 { return Window(Hamming, ntaps) }

// HannWindow is the raised cosine 0.5-0.5cos(2*pi*i/(n-1)). Its first half is
// the ramp shape used for channel state transitions.
func HannWindow(ntaps int) []float32 { return Window(Hann, ntaps) }

func BlackmanWindow(ntaps int) []float32 { return Window(Blackman, ntaps) }

// BlackmanHarrisWindow supports attenuations of 61, 67, 74 and 92 dB.
func BlackmanHarrisWindow(ntaps, atten int) []float32 {
	coeffs, ok := blackmanHarris[atten]
	if !ok {
		panic(fmt.Sprintf("blackman harris window has no %d dB variant", atten))
	}
	return cosineSum(ntaps, coeffs...)
}
