package wdsp

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"

	"github.com/norasector/wdsp/pkg/dsp/iobuff"
	"github.com/norasector/wdsp/pkg/dsp/processor"
	"github.com/norasector/wdsp/pkg/dsp/resample"
	"github.com/norasector/wdsp/pkg/dsp/slew"
	"github.com/norasector/wdsp/pkg/dsp/viz"
	"github.com/norasector/wdsp/pkg/wisdom"
)

// resamplerSlack is extra output latency for channels whose rational
// resamplers do not emit an exact sample count per block.
const resamplerSlack = 64

// Channel is one DSP context. All methods are safe for concurrent use;
// Exchange and the setters serialize on the channel lock.
type Channel struct {
	id int

	mu      sync.Mutex
	cfg     ChannelConfig
	pending *ChannelConfig
	stages  map[ChannelType][]Stage

	exchanging bool
	draining   bool
	rampDone   bool
	drainLeft  int
	drained    chan struct{}
	closed     bool

	slew     *slew.Slew
	proc     *processor.Processor
	in       *iobuff.FIFO
	out      *iobuff.FIFO
	block    []complex64
	latency  int
	gainPlot *viz.TimeDomainPlotter

	blocks     uint64
	underflows uint64

	logger    zerolog.Logger
	writeAPI  api.WriteAPI
	vizServer *viz.Server
}

type ChannelOption func(c *Channel)

// WithStages sets the stages a channel runs while it has type t.
func WithStages(t ChannelType, stages ...Stage) ChannelOption {
	return func(c *Channel) {
		c.stages[t] = append(c.stages[t], stages...)
	}
}

func newChannel(id int, cfg ChannelConfig, m *Manager, opts ...ChannelOption) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Channel{
		id:        id,
		cfg:       cfg,
		stages:    make(map[ChannelType][]Stage),
		logger:    m.logger.With().Int("channel", id).Logger(),
		writeAPI:  m.writeAPI,
		vizServer: m.vizServer,
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.build(); err != nil {
		return nil, err
	}
	if cfg.State == StateOn {
		c.start()
	}

	c.logger.Info().
		Str("type", cfg.Type.String()).
		Str("state", cfg.State.String()).
		Int("in_size", cfg.InputSize).
		Int("dsp_size", cfg.DSPSize).
		Int("out_size", cfg.OutputSize()).
		Int("input_rate", cfg.InputRate).
		Int("dsp_rate", cfg.DSPRate).
		Int("output_rate", cfg.OutputRate).
		Int("latency", c.latency).
		Msg("opened channel")

	return c, nil
}

func (c *Channel) ID() int {
	return c.id
}

func (c *Channel) bucket() string {
	return fmt.Sprintf("channel-%d", c.id)
}

// build creates a fresh pipeline for c.cfg. Filter history and queued samples
// are discarded.
func (c *Channel) build() error {
	cfg := c.cfg

	proc := processor.NewProcessor(c.bucket(), "Channel Input", c.vizServer)
	proc.AddBlock(processor.NewDSPWorker(
		"input_resampler",
		"Input Resampler",
		cfg.InputRate,
		cfg.DSPRate,
		resample.New(cfg.InputRate, cfg.DSPRate),
		processor.WithVizLength(wisdom.RoundSize(cfg.DSPRate/40)),
	))
	for _, stage := range c.stages[cfg.Type] {
		proc.AddBlock(processor.NewDSPWorker(
			stage.Name,
			stage.DisplayName,
			cfg.DSPRate,
			cfg.DSPRate,
			stage.Build(cfg.DSPRate),
			append([]processor.DSPWorkerOption{processor.WithVizLength(wisdom.RoundSize(cfg.DSPRate/40))}, stage.Options...)...,
		))
	}
	proc.AddBlock(processor.NewDSPWorker(
		"output_resampler",
		"Output Resampler",
		cfg.DSPRate,
		cfg.OutputRate,
		resample.New(cfg.DSPRate, cfg.OutputRate),
		processor.WithVizLength(wisdom.RoundSize(cfg.OutputRate/40)),
	))

	if c.proc != nil {
		c.proc.Unregister()
	}
	if err := proc.Initialize(); err != nil {
		return fmt.Errorf("building channel %d: %w", c.id, err)
	}
	c.proc = proc

	if c.slew == nil {
		c.slew = slew.New(cfg.InputRate, cfg.Timing)
	} else {
		c.slew.Reset()
		c.slew.SetTiming(cfg.InputRate, cfg.Timing)
	}

	dspIn, dspOut, outSize := cfg.DSPInputSize(), cfg.DSPOutputSize(), cfg.OutputSize()
	c.in = iobuff.NewFIFO(cfg.InputSize + dspIn)
	c.out = iobuff.NewFIFO(2 * (outSize + dspOut + resamplerSlack))
	c.block = make([]complex64, dspIn)

	c.latency = dspOut - resample.GCD(outSize, dspOut)
	for _, block := range proc.Blocks() {
		if (block.Name == "input_resampler" || block.Name == "output_resampler") &&
			!resample.IsPassthrough(block.Worker()) {
			c.latency += resamplerSlack
			break
		}
	}

	if c.vizServer != nil {
		c.gainPlot = viz.NewTimeDomainPlotter("00. Ramp Gain", 256)
		c.gainPlot.SetRange(-0.1, 1.1)
		c.gainPlot.SetPlotType(viz.PlotTypeLines)
		c.vizServer.Register(c.bucket(), c.gainPlot)
	}

	return nil
}

// start begins exchanging from an empty pipeline with an up ramp.
func (c *Channel) start() {
	c.in.Reset()
	c.out.Reset()
	c.out.Prefill(c.latency)
	c.slew.Reset()
	c.slew.Up()
	c.exchanging = true
}

func (c *Channel) beginDrain() {
	if c.draining {
		return
	}
	c.slew.Down()
	c.draining = true
	c.rampDone = false
	c.drainLeft = 0
	c.drained = make(chan struct{})
}

func (c *Channel) cancelDrain() {
	c.slew.Up()
	c.draining = false
	c.rampDone = false
	close(c.drained)
	c.drained = nil
}

// finishDrain runs once the down ramp has left the output queue. It applies
// any pending configuration and restarts the channel if it is logically on.
func (c *Channel) finishDrain() {
	c.exchanging = false
	c.draining = false
	c.rampDone = false
	close(c.drained)
	c.drained = nil

	if c.pending != nil {
		next := *c.pending
		next.State = c.cfg.State
		c.cfg = next
		c.pending = nil
		c.logger.Info().
			Str("type", next.Type.String()).
			Int("in_size", next.InputSize).
			Int("dsp_size", next.DSPSize).
			Int("input_rate", next.InputRate).
			Int("dsp_rate", next.DSPRate).
			Int("output_rate", next.OutputRate).
			Msg("applied channel config")
	}
	if err := c.build(); err != nil {
		// The config was validated before it became pending.
		c.logger.Error().Err(err).Msg("failed to rebuild channel")
		return
	}

	if c.cfg.State == StateOn {
		c.start()
	}
	c.logger.Debug().Bool("exchanging", c.exchanging).Msg("channel drained")
}

func (c *Channel) checkRamp() {
	if c.draining && !c.rampDone && c.slew.Done() {
		c.rampDone = true
		c.drainLeft = c.out.Len()
	}
}

// Exchange pushes one input block and pulls one output block. len(in) must
// be InputSize and len(out) at least OutputSize. When the channel is not
// exchanging the output is silence.
func (c *Channel) Exchange(in, out []complex64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	outSize := c.cfg.OutputSize()
	if len(in) != c.cfg.InputSize || len(out) < outSize {
		return fmt.Errorf("%w: got in %d out %d, want in %d out %d",
			ErrBufferSize, len(in), len(out), c.cfg.InputSize, outSize)
	}

	if !c.exchanging {
		for i := 0; i < outSize; i++ {
			out[i] = 0
		}
		return nil
	}

	start := time.Now()
	metrics := map[string]interface{}{}

	c.checkRamp()
	c.in.Write(in)
	blocks := 0
	for c.in.Len() >= len(c.block) {
		c.in.Read(c.block)
		c.slew.WorkBuffer(c.block, c.block)
		if c.gainPlot != nil {
			c.gainPlot.AppendFloat(c.slew.Gain())
		}

		res, err := c.proc.Process(c.block, metrics)
		if err != nil {
			return fmt.Errorf("channel %d: %w", c.id, err)
		}
		c.out.Write(res)
		blocks++
		c.checkRamp()
	}
	c.blocks += uint64(blocks)

	n := c.out.Read(out[:outSize])
	for i := n; i < outSize; i++ {
		out[i] = 0
	}

	var err error
	if n < outSize {
		c.underflows++
		err = ErrOutputUnderflow
	}

	if c.rampDone {
		c.drainLeft -= n
		if c.drainLeft <= 0 {
			c.finishDrain()
		}
	}

	if blocks > 0 {
		metrics["blocks"] = blocks
		metrics["underflow"] = outSize - n
		metrics["duration"] = time.Since(start).Microseconds()
		go c.writeAPI.WritePoint(influxdb2.NewPoint("channel.exchange",
			map[string]string{
				"channel": strconv.Itoa(c.id),
				"type":    c.cfg.Type.String(),
			},
			metrics, start))
	}

	return err
}

// SetState changes the logical state and returns the previous one. Turning a
// channel off ramps it down; with DrainWait the call returns once the ramp
// has drained out of the channel, ctx is done or the channel is closed.
func (c *Channel) SetState(ctx context.Context, state State, mode DrainMode) (State, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return StateOff, ErrChannelClosed
	}
	prior := c.cfg.State
	if state != StateOff && state != StateOn {
		c.mu.Unlock()
		return prior, fmt.Errorf("%w: state %d", ErrInvalidConfig, int(state))
	}
	if state == prior {
		c.mu.Unlock()
		return prior, nil
	}

	c.cfg.State = state
	var wait chan struct{}
	switch state {
	case StateOff:
		if c.exchanging {
			c.beginDrain()
			wait = c.drained
		}
	case StateOn:
		switch {
		case c.draining && c.pending == nil:
			c.cancelDrain()
		case !c.exchanging:
			c.start()
		}
	}

	c.logger.Info().
		Str("prior", prior.String()).
		Str("state", state.String()).
		Bool("wait", mode == DrainWait).
		Msg("channel state change")
	go c.writeAPI.WritePoint(influxdb2.NewPoint("channel.state",
		map[string]string{"channel": strconv.Itoa(c.id)},
		map[string]interface{}{"state": int(state), "prior": int(prior)},
		time.Now()))
	c.mu.Unlock()

	if mode != DrainWait || wait == nil {
		return prior, nil
	}

	select {
	case <-wait:
	case <-ctx.Done():
		return prior, ctx.Err()
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return prior, ErrChannelClosed
	}
	return prior, nil
}

// Reconfigure applies fn to the channel's next config. A channel that is
// exchanging drains first; the change takes effect when the drain finishes.
// The state and timing fields are ignored; use SetState and the timing
// setters for those.
func (c *Channel) Reconfigure(fn func(cfg *ChannelConfig)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	current := c.cfg
	if c.pending != nil {
		current = *c.pending
	}
	next := current
	fn(&next)
	next.State = c.cfg.State
	next.Timing = current.Timing
	current.State = c.cfg.State

	if err := next.Validate(); err != nil {
		return err
	}
	if next == current {
		return nil
	}

	if !c.exchanging {
		c.cfg = next
		c.pending = nil
		return c.build()
	}

	c.pending = &next
	c.beginDrain()
	c.logger.Debug().Msg("channel config pending drain")
	return nil
}

func (c *Channel) setTiming(fn func(t *Timing)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	timing := c.cfg.Timing
	fn(&timing)
	if err := validateTiming(timing); err != nil {
		return err
	}

	c.cfg.Timing = timing
	if c.pending != nil {
		c.pending.Timing = timing
	}
	c.slew.SetTiming(c.cfg.InputRate, timing)
	return nil
}

func (c *Channel) SetType(t ChannelType) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.Type = t })
}

func (c *Channel) SetInputBuffsize(size int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.InputSize = size })
}

func (c *Channel) SetDSPBuffsize(size int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.DSPSize = size })
}

func (c *Channel) SetInputSamplerate(rate int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.InputRate = rate })
}

func (c *Channel) SetDSPSamplerate(rate int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.DSPRate = rate })
}

func (c *Channel) SetOutputSamplerate(rate int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) { cfg.OutputRate = rate })
}

func (c *Channel) SetAllRates(inRate, dspRate, outRate int) error {
	return c.Reconfigure(func(cfg *ChannelConfig) {
		cfg.InputRate = inRate
		cfg.DSPRate = dspRate
		cfg.OutputRate = outRate
	})
}

func (c *Channel) SetTDelayUp(d time.Duration) error {
	return c.setTiming(func(t *Timing) { t.DelayUp = d })
}

func (c *Channel) SetTSlewUp(d time.Duration) error {
	return c.setTiming(func(t *Timing) { t.SlewUp = d })
}

func (c *Channel) SetTDelayDown(d time.Duration) error {
	return c.setTiming(func(t *Timing) { t.DelayDown = d })
}

func (c *Channel) SetTSlewDown(d time.Duration) error {
	return c.setTiming(func(t *Timing) { t.SlewDown = d })
}

// InputSize is the length Exchange currently expects for in.
func (c *Channel) InputSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.InputSize
}

// OutputSize is the number of samples Exchange currently writes to out.
func (c *Channel) OutputSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.OutputSize()
}

// Target returns the config the channel runs once a pending change, if any,
// is applied.
func (c *Channel) Target() ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		next := *c.pending
		next.State = c.cfg.State
		return next
	}
	return c.cfg
}

// Config returns the applied configuration.
func (c *Channel) Config() ChannelConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// ChannelInfo is a point in time view of a channel.
type ChannelInfo struct {
	ID         int           `json:"id"`
	Config     ChannelConfig `json:"config"`
	OutputSize int           `json:"out_size"`
	Latency    int           `json:"latency"`
	Exchanging bool          `json:"exchanging"`
	Draining   bool          `json:"draining"`
	Pending    bool          `json:"pending"`
	Ramp       string        `json:"ramp"`
	Blocks     uint64        `json:"blocks"`
	Underflows uint64        `json:"underflows"`
}

func (c *Channel) Info() ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChannelInfo{
		ID:         c.id,
		Config:     c.cfg,
		OutputSize: c.cfg.OutputSize(),
		Latency:    c.latency,
		Exchanging: c.exchanging,
		Draining:   c.draining,
		Pending:    c.pending != nil,
		Ramp:       c.slew.Phase(),
		Blocks:     c.blocks,
		Underflows: c.underflows,
	}
}

// close stops the channel at once. Waiters in SetState get ErrChannelClosed.
func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.exchanging = false
	if c.drained != nil {
		close(c.drained)
		c.drained = nil
	}
	c.draining = false
	c.pending = nil
	if c.proc != nil {
		c.proc.Unregister()
	}
	c.logger.Info().Msg("closed channel")
}
