// Package rtlsdr captures from RTL2832U dongles.
package rtlsdr

import (
	"context"
	"fmt"
	"sync"

	gsdr "github.com/jpoirier/gortlsdr"
	"github.com/norasector/turbine-common/types"
)

const maxSampleRate = 2.4e6

type RTLSDRDevice struct {
	index int

	mu  sync.Mutex
	dev *gsdr.Context

	// In-flight callbacks and the ReadAsync call.
	wg sync.WaitGroup
}

func NewRTLSDRDevice(index int) (*RTLSDRDevice, error) {
	if count := gsdr.GetDeviceCount(); index < 0 || index >= count {
		return nil, fmt.Errorf("rtlsdr index %d not present (%d devices)", index, count)
	}
	return &RTLSDRDevice{index: index}, nil
}

func (r *RTLSDRDevice) MaxSampleRate() int {
	return maxSampleRate
}

// Start opens the dongle and blocks delivering segments until Stop.
func (r *RTLSDRDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	dev, err := gsdr.Open(r.index)
	if err != nil {
		return fmt.Errorf("opening rtlsdr %d: %w", r.index, err)
	}

	settings := []struct {
		name string
		set  func() error
	}{
		{"center frequency", func() error { return dev.SetCenterFreq(centerFreq) }},
		{"sample rate", func() error { return dev.SetSampleRate(sampleRate) }},
		{"agc", func() error { return dev.SetAgcMode(true) }},
		{"buffer reset", dev.ResetBuffer},
	}
	for _, s := range settings {
		if err := s.set(); err != nil {
			dev.Close()
			return fmt.Errorf("rtlsdr %s: %w", s.name, err)
		}
	}

	r.mu.Lock()
	r.dev = dev
	r.wg.Add(1)
	r.mu.Unlock()
	defer r.wg.Done()

	cb := func(buf []byte) {
		r.wg.Add(1)
		defer r.wg.Done()

		// The driver reuses buf once the callback returns.
		seg := types.SegmentCS8Raw{
			SampleRate: sampleRate,
			Frequency:  centerFreq,
			Data:       append([]byte(nil), buf...),
		}
		select {
		case <-ctx.Done():
		case complexSamples <- seg.ToComplex64():
		}
	}
	return dev.ReadAsync(cb, nil, 0, 0)
}

func (r *RTLSDRDevice) Stop() error {
	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.mu.Unlock()
	if dev == nil {
		return nil
	}

	err := dev.CancelAsync()
	r.wg.Wait()
	if closeErr := dev.Close(); err == nil {
		err = closeErr
	}
	return err
}
