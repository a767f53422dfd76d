// Package hackrf captures from a HackRF One.
package hackrf

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/norasector/turbine-common/types"
	"github.com/samuel/go-hackrf/hackrf"
)

const (
	maxSampleRate = 20e6
	lnaGain       = 32
	vgaGain       = 20
)

type HackRFDevice struct {
	dev *hackrf.Device

	// record receives raw cs8 instead of the segment channel when set.
	record io.WriteCloser
}

// NewHackRFDevice initializes libhackrf and opens the first device. Stop
// releases both.
func NewHackRFDevice() (*HackRFDevice, error) {
	if err := hackrf.Init(); err != nil {
		return nil, fmt.Errorf("hackrf init: %w", err)
	}
	dev, err := hackrf.Open()
	if err != nil {
		hackrf.Exit()
		return nil, fmt.Errorf("opening hackrf: %w", err)
	}
	return &HackRFDevice{dev: dev}, nil
}

// NewRecordingHackRFDevice captures to path in the cs8 format the file device
// plays back.
func NewRecordingHackRFDevice(path string) (*HackRFDevice, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	h, err := NewHackRFDevice()
	if err != nil {
		f.Close()
		return nil, err
	}
	h.record = f
	return h, nil
}

func (h *HackRFDevice) MaxSampleRate() int {
	return maxSampleRate
}

// Start tunes the device and receives until ctx is done.
func (h *HackRFDevice) Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error {
	settings := []struct {
		name string
		set  func() error
	}{
		{"frequency", func() error { return h.dev.SetFreq(uint64(centerFreq)) }},
		{"sample rate", func() error { return h.dev.SetSampleRateManual(sampleRate*2, 2) }},
		{"lna gain", func() error { return h.dev.SetLNAGain(lnaGain) }},
		{"vga gain", func() error { return h.dev.SetVGAGain(vgaGain) }},
		{"baseband filter", func() error { return h.dev.SetBasebandFilterBandwidth(sampleRate) }},
	}
	for _, s := range settings {
		if err := s.set(); err != nil {
			return fmt.Errorf("hackrf %s: %w", s.name, err)
		}
	}

	cb := func(buf []byte) error {
		if h.record != nil {
			_, err := h.record.Write(buf)
			return err
		}
		seg := types.SegmentCS8Raw{
			SampleRate: sampleRate,
			Frequency:  centerFreq,
			Data:       append([]byte(nil), buf...),
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case complexSamples <- seg.ToComplex64():
			return nil
		}
	}
	if err := h.dev.StartRX(cb); err != nil {
		return fmt.Errorf("hackrf start rx: %w", err)
	}

	<-ctx.Done()
	return ctx.Err()
}

func (h *HackRFDevice) Stop() error {
	defer hackrf.Exit()
	if h.record != nil {
		defer h.record.Close()
	}
	if err := h.dev.StopRX(); err != nil {
		return err
	}
	return h.dev.Close()
}
