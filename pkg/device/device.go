// Package device produces complex baseband segments from SDR hardware or
// recordings.
package device

import (
	"context"
	"fmt"
	"time"

	"github.com/norasector/turbine-common/types"

	"github.com/norasector/wdsp/pkg/device/file"
	"github.com/norasector/wdsp/pkg/device/hackrf"
	"github.com/norasector/wdsp/pkg/device/rtlsdr"
)

type Device interface {
	Start(ctx context.Context, centerFreq int, sampleRate int, complexSamples chan *types.SegmentComplex64) error
	Stop() error
	MaxSampleRate() int
}

const (
	TypeFile   = "file"
	TypeRTLSDR = "rtlsdr"
	TypeHackRF = "hackrf"
)

// Config selects and sets up a device.
type Config struct {
	Type       string `yaml:"type"`
	CenterFreq int    `yaml:"center_freq"`
	SampleRate int    `yaml:"sample_rate"`

	// file
	Path     string        `yaml:"path"`
	Format   string        `yaml:"format"`
	ReadSize int           `yaml:"read_size"`
	Interval time.Duration `yaml:"interval"`
	Loop     bool          `yaml:"loop"`

	// rtlsdr
	Index int `yaml:"index"`

	// hackrf
	Record string `yaml:"record"`
}

func Open(cfg Config) (Device, error) {
	var (
		dev Device
		err error
	)
	switch cfg.Type {
	case TypeFile:
		dev, err = file.NewFileDevice(cfg.Path, file.Format(cfg.Format), cfg.ReadSize, cfg.SampleRate, cfg.Interval, cfg.Loop)
	case TypeRTLSDR:
		dev, err = rtlsdr.NewRTLSDRDevice(cfg.Index)
	case TypeHackRF:
		if cfg.Record != "" {
			dev, err = hackrf.NewRecordingHackRFDevice(cfg.Record)
		} else {
			dev, err = hackrf.NewHackRFDevice()
		}
	default:
		return nil, fmt.Errorf("unknown device type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s device: %w", cfg.Type, err)
	}

	if cfg.SampleRate > dev.MaxSampleRate() {
		dev.Stop()
		return nil, fmt.Errorf("sample rate %d above %s maximum %d", cfg.SampleRate, cfg.Type, dev.MaxSampleRate())
	}
	return dev, nil
}
