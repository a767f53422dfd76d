// Package config loads the wdspd daemon configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/norasector/wdsp/pkg/device"
	"github.com/norasector/wdsp/pkg/metrics"
	"github.com/norasector/wdsp/pkg/output"
	"github.com/norasector/wdsp/pkg/wdsp"
)

const (
	defaultControlAddr = ":8090"
	defaultVizPort     = 8091
)

type Config struct {
	StationID int           `yaml:"station_id"`
	LogLevel  string        `yaml:"log_level"`
	WisdomDir string        `yaml:"wisdom_dir"`
	Device    device.Config `yaml:"device"`
	Channels  []Channel     `yaml:"channels"`
	Outputs   Outputs       `yaml:"outputs"`
	VizServer struct {
		Enabled        bool          `yaml:"enabled"`
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval"`
	} `yaml:"viz_server"`
	Control struct {
		Addr string `yaml:"addr"`
	} `yaml:"control"`
	InfluxDB metrics.Config `yaml:"influxdb"`
}

// Channel is one channel to open at startup.
type Channel struct {
	ID                 int `yaml:"id"`
	wdsp.ChannelConfig `yaml:",inline"`
	RX                 Stages `yaml:"rx"`
	TX                 Stages `yaml:"tx"`
}

// Stages lists the optional stages of one channel type, applied in the order
// shift then passband.
type Stages struct {
	Shift    float64   `yaml:"shift"`
	Passband *Passband `yaml:"passband"`
}

type Passband struct {
	Low        float64 `yaml:"low"`
	High       float64 `yaml:"high"`
	Transition float64 `yaml:"transition"`
}

func (s Stages) Build() []wdsp.Stage {
	var ret []wdsp.Stage
	if s.Shift != 0 {
		ret = append(ret, wdsp.ShiftStage(s.Shift))
	}
	if s.Passband != nil {
		ret = append(ret, wdsp.PassbandStage(s.Passband.Low, s.Passband.High, s.Passband.Transition))
	}
	return ret
}

// Options returns the channel options for opening c.
func (c Channel) Options() []wdsp.ChannelOption {
	return []wdsp.ChannelOption{
		wdsp.WithStages(wdsp.TypeRX, c.RX.Build()...),
		wdsp.WithStages(wdsp.TypeTX, c.TX.Build()...),
	}
}

// SameStages reports whether c and other build the same stages.
func (c Channel) SameStages(other Channel) bool {
	return stagesEqual(c.RX, other.RX) && stagesEqual(c.TX, other.TX)
}

func stagesEqual(a, b Stages) bool {
	if a.Shift != b.Shift || (a.Passband == nil) != (b.Passband == nil) {
		return false
	}
	return a.Passband == nil || *a.Passband == *b.Passband
}

type Outputs struct {
	Raw     []RawOutput    `yaml:"raw"`
	UDP     *UDPOutput     `yaml:"udp"`
	Speaker *SpeakerOutput `yaml:"speaker"`
}

type RawOutput struct {
	// Path is a file to write to, or "-" for stdout.
	Path     string `yaml:"path"`
	Channels []int  `yaml:"channels,flow"`
}

type UDPOutput struct {
	SampleRate   int                  `yaml:"sample_rate"`
	Destinations []output.Destination `yaml:"destinations"`
	Channels     []int                `yaml:"channels,flow"`
}

type SpeakerOutput struct {
	Channel         int `yaml:"channel"`
	SampleRate      int `yaml:"sample_rate"`
	FramesPerBuffer int `yaml:"frames_per_buffer"`
}

func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(contents)
}

func Parse(contents []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Control.Addr == "" {
		cfg.Control.Addr = defaultControlAddr
	}
	if cfg.VizServer.Port == 0 {
		cfg.VizServer.Port = defaultVizPort
	}
	if cfg.VizServer.UpdateInterval == 0 {
		cfg.VizServer.UpdateInterval = time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks channel ids and that every channel takes its input at the
// device sample rate.
func (c *Config) Validate() error {
	seen := make(map[int]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.ID < 0 || ch.ID >= wdsp.MaxChannels {
			return fmt.Errorf("channel %d: %w", ch.ID, wdsp.ErrInvalidChannel)
		}
		if _, ok := seen[ch.ID]; ok {
			return fmt.Errorf("channel %d configured twice", ch.ID)
		}
		seen[ch.ID] = struct{}{}

		if err := ch.ChannelConfig.Validate(); err != nil {
			return fmt.Errorf("channel %d: %w", ch.ID, err)
		}
		if c.Device.SampleRate != 0 && ch.InputRate != c.Device.SampleRate {
			return fmt.Errorf("channel %d: input rate %d differs from device rate %d",
				ch.ID, ch.InputRate, c.Device.SampleRate)
		}
	}
	return nil
}

// Channel returns the configured channel with the given id.
func (c *Config) Channel(id int) (Channel, bool) {
	for _, ch := range c.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return Channel{}, false
}
