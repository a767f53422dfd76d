package wdsp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/wdsp/pkg/dsp/viz"
	"github.com/norasector/wdsp/pkg/metrics"
	"github.com/norasector/wdsp/pkg/wisdom"
)

// Manager owns a fixed table of channel slots.
type Manager struct {
	mu       sync.RWMutex
	channels [MaxChannels]*Channel

	logger    zerolog.Logger
	writeAPI  api.WriteAPI
	vizServer *viz.Server
}

type ManagerOption func(m *Manager) error

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) error {
		m.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) ManagerOption {
	return func(m *Manager) error {
		if writeAPI == nil {
			return fmt.Errorf("nil influxdb write api")
		}
		m.writeAPI = writeAPI
		return nil
	}
}

// WithVizServer registers each channel's plots in bucket channel-<id>.
func WithVizServer(vizServer *viz.Server) ManagerOption {
	return func(m *Manager) error {
		m.vizServer = vizServer
		return nil
	}
}

func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		logger:   log.Logger,
		writeAPI: metrics.NopWriteAPI{},
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Wisdom prepares the shared FFT plan cache from dir.
func (m *Manager) Wisdom(dir string) error {
	return wisdom.Default().Prepare(dir, m.logger)
}

func checkID(id int) error {
	if id < 0 || id >= MaxChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, id)
	}
	return nil
}

func (m *Manager) OpenChannel(id int, cfg ChannelConfig, opts ...ChannelOption) error {
	if err := checkID(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channels[id] != nil {
		return fmt.Errorf("%w: %d", ErrChannelOpen, id)
	}

	c, err := newChannel(id, cfg, m, opts...)
	if err != nil {
		return err
	}
	m.channels[id] = c
	return nil
}

func (m *Manager) CloseChannel(id int) error {
	if err := checkID(id); err != nil {
		return err
	}

	m.mu.Lock()
	c := m.channels[id]
	m.channels[id] = nil
	m.mu.Unlock()

	if c == nil {
		return fmt.Errorf("%w: %d", ErrChannelNotOpen, id)
	}
	c.close()
	return nil
}

// CloseAll closes every open channel.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	channels := m.channels
	m.channels = [MaxChannels]*Channel{}
	m.mu.Unlock()

	for _, c := range channels {
		if c != nil {
			c.close()
		}
	}
}

func (m *Manager) Channel(id int) (*Channel, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	m.mu.RLock()
	c := m.channels[id]
	m.mu.RUnlock()

	if c == nil {
		return nil, fmt.Errorf("%w: %d", ErrChannelNotOpen, id)
	}
	return c, nil
}

func (m *Manager) Info(id int) (ChannelInfo, error) {
	c, err := m.Channel(id)
	if err != nil {
		return ChannelInfo{}, err
	}
	return c.Info(), nil
}

// Channels returns info for every open channel, ordered by id.
func (m *Manager) Channels() []ChannelInfo {
	m.mu.RLock()
	channels := m.channels
	m.mu.RUnlock()

	ret := make([]ChannelInfo, 0, MaxChannels)
	for _, c := range channels {
		if c != nil {
			ret = append(ret, c.Info())
		}
	}
	return ret
}

func (m *Manager) Exchange(id int, in, out []complex64) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	return c.Exchange(in, out)
}

func (m *Manager) SetChannelState(ctx context.Context, id int, state State, mode DrainMode) (State, error) {
	c, err := m.Channel(id)
	if err != nil {
		return StateOff, err
	}
	return c.SetState(ctx, state, mode)
}

func (m *Manager) with(id int, fn func(c *Channel) error) error {
	c, err := m.Channel(id)
	if err != nil {
		return err
	}
	return fn(c)
}

func (m *Manager) SetType(id int, t ChannelType) error {
	return m.with(id, func(c *Channel) error { return c.SetType(t) })
}

func (m *Manager) SetInputBuffsize(id, size int) error {
	return m.with(id, func(c *Channel) error { return c.SetInputBuffsize(size) })
}

func (m *Manager) SetDSPBuffsize(id, size int) error {
	return m.with(id, func(c *Channel) error { return c.SetDSPBuffsize(size) })
}

func (m *Manager) SetInputSamplerate(id, rate int) error {
	return m.with(id, func(c *Channel) error { return c.SetInputSamplerate(rate) })
}

func (m *Manager) SetDSPSamplerate(id, rate int) error {
	return m.with(id, func(c *Channel) error { return c.SetDSPSamplerate(rate) })
}

func (m *Manager) SetOutputSamplerate(id, rate int) error {
	return m.with(id, func(c *Channel) error { return c.SetOutputSamplerate(rate) })
}

func (m *Manager) SetAllRates(id, inRate, dspRate, outRate int) error {
	return m.with(id, func(c *Channel) error { return c.SetAllRates(inRate, dspRate, outRate) })
}

func (m *Manager) SetChannelTDelayUp(id int, d time.Duration) error {
	return m.with(id, func(c *Channel) error { return c.SetTDelayUp(d) })
}

func (m *Manager) SetChannelTSlewUp(id int, d time.Duration) error {
	return m.with(id, func(c *Channel) error { return c.SetTSlewUp(d) })
}

func (m *Manager) SetChannelTDelayDown(id int, d time.Duration) error {
	return m.with(id, func(c *Channel) error { return c.SetTDelayDown(d) })
}

func (m *Manager) SetChannelTSlewDown(id int, d time.Duration) error {
	return m.with(id, func(c *Channel) error { return c.SetTSlewDown(d) })
}
