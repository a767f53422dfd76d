package wdsp

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/norasector/wdsp/pkg/dsp/processor"
	"github.com/norasector/wdsp/pkg/dsp/viz"
	"github.com/norasector/wdsp/pkg/metrics"
)

// smallBlocks buffers 64 sample exchanges into 256 sample DSP blocks, which
// gives a prefill of 192 samples.
func smallBlocks() ChannelConfig {
	return ChannelConfig{
		InputSize:  64,
		DSPSize:    256,
		InputRate:  48000,
		DSPRate:    48000,
		OutputRate: 48000,
		Type:       TypeRX,
		State:      StateOn,
	}
}

// largeBlocks runs four DSP blocks per exchange with no prefill.
func largeBlocks() ChannelConfig {
	cfg := smallBlocks()
	cfg.InputSize = 256
	cfg.DSPSize = 64
	return cfg
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	opts = append([]ManagerOption{WithLogger(zerolog.Nop())}, opts...)
	m, err := NewManager(opts...)
	require.NoError(t, err)
	t.Cleanup(m.CloseAll)
	return m
}

func ones(n int) []complex64 {
	ret := make([]complex64, n)
	for i := range ret {
		ret[i] = 1
	}
	return ret
}

func TestOpenChannelErrors(t *testing.T) {
	m := newTestManager(t)

	require.ErrorIs(t, m.OpenChannel(-1, smallBlocks()), ErrInvalidChannel)
	require.ErrorIs(t, m.OpenChannel(MaxChannels, smallBlocks()), ErrInvalidChannel)

	bad := smallBlocks()
	bad.DSPSize = 0
	require.ErrorIs(t, m.OpenChannel(0, bad), ErrInvalidConfig)

	require.NoError(t, m.OpenChannel(0, smallBlocks()))
	require.ErrorIs(t, m.OpenChannel(0, smallBlocks()), ErrChannelOpen)

	require.ErrorIs(t, m.CloseChannel(1), ErrChannelNotOpen)
	require.ErrorIs(t, m.SetType(1, TypeTX), ErrChannelNotOpen)
	require.ErrorIs(t, m.SetType(MaxChannels, TypeTX), ErrInvalidChannel)
	_, err := m.SetChannelState(context.Background(), 1, StateOn, DrainNoWait)
	require.ErrorIs(t, err, ErrChannelNotOpen)

	require.NoError(t, m.CloseChannel(0))
	require.ErrorIs(t, m.CloseChannel(0), ErrChannelNotOpen)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))
}

func TestExchangeDelayedIdentity(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))

	info, err := m.Info(0)
	require.NoError(t, err)
	require.Equal(t, 192, info.Latency)

	var got []complex64
	in := make([]complex64, 64)
	out := make([]complex64, 64)
	for n := 0; n < 20; n++ {
		for i := range in {
			in[i] = complex(float32(n*64+i+1), 0)
		}
		require.NoError(t, m.Exchange(0, in, out))
		got = append(got, out...)
	}

	for j, v := range got {
		var want complex64
		if j >= 192 {
			want = complex(float32(j-192+1), 0)
		}
		if v != want {
			t.Fatalf("sample %d = %v, want %v", j, v, want)
		}
	}
}

func TestExchangeRampsUpOnOpen(t *testing.T) {
	m := newTestManager(t)
	cfg := smallBlocks()
	cfg.Timing.SlewUp = time.Millisecond // 48 samples
	require.NoError(t, m.OpenChannel(0, cfg))

	var got []complex64
	out := make([]complex64, 64)
	for n := 0; n < 8; n++ {
		require.NoError(t, m.Exchange(0, ones(64), out))
		got = append(got, out...)
	}

	require.Equal(t, complex64(0), got[191])
	require.Equal(t, complex64(0), got[192])
	require.InDelta(t, 0.5, float64(real(got[192+24])), 1e-5)
	for i := 1; i <= 48; i++ {
		require.GreaterOrEqual(t, real(got[192+i]), real(got[192+i-1]))
	}
	for j := 192 + 48; j < len(got); j++ {
		require.InDelta(t, 1, float64(real(got[j])), 1e-6, "sample %d", j)
	}
}

func TestExchangeBufferSize(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))

	require.ErrorIs(t, m.Exchange(0, make([]complex64, 63), make([]complex64, 64)), ErrBufferSize)
	require.ErrorIs(t, m.Exchange(0, make([]complex64, 64), make([]complex64, 32)), ErrBufferSize)
	require.NoError(t, m.Exchange(0, make([]complex64, 64), make([]complex64, 128)))
}

type swallow struct{}

func (swallow) WorkBuffer(input, output []complex64) int { return 0 }
func (swallow) PredictOutputSize(inputSize int) int     { return 0 }

func TestExchangeUnderflowZeroPads(t *testing.T) {
	m := newTestManager(t)
	stage := Stage{
		Name:        "swallow",
		DisplayName: "Swallow",
		Build:       func(int) processor.CCWorker { return swallow{} },
	}
	require.NoError(t, m.OpenChannel(0, largeBlocks(), WithStages(TypeRX, stage)))

	out := ones(256)
	require.ErrorIs(t, m.Exchange(0, ones(256), out), ErrOutputUnderflow)
	for i, v := range out {
		require.Equal(t, complex64(0), v, "sample %d", i)
	}

	info, err := m.Info(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), info.Underflows)
	require.Equal(t, uint64(4), info.Blocks)
}

func TestExchangeWhileOffIsSilent(t *testing.T) {
	m := newTestManager(t)
	cfg := smallBlocks()
	cfg.State = StateOff
	require.NoError(t, m.OpenChannel(0, cfg))

	out := ones(64)
	require.NoError(t, m.Exchange(0, ones(64), out))
	for _, v := range out {
		require.Equal(t, complex64(0), v)
	}
}

func TestStateOffDrains(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))

	prior, err := m.SetChannelState(context.Background(), 0, StateOff, DrainNoWait)
	require.NoError(t, err)
	require.Equal(t, StateOn, prior)

	info, err := m.Info(0)
	require.NoError(t, err)
	require.True(t, info.Draining)
	require.True(t, info.Exchanging)

	out := make([]complex64, 64)
	n := 0
	for ; n < 100 && info.Exchanging; n++ {
		require.NoError(t, m.Exchange(0, ones(64), out))
		info, err = m.Info(0)
		require.NoError(t, err)
	}
	require.False(t, info.Exchanging, "still exchanging after %d exchanges", n)
	require.False(t, info.Draining)
	require.Equal(t, StateOff, info.Config.State)

	require.NoError(t, m.Exchange(0, ones(64), out))
	for _, v := range out {
		require.Equal(t, complex64(0), v)
	}

	prior, err = m.SetChannelState(context.Background(), 0, StateOff, DrainWait)
	require.NoError(t, err)
	require.Equal(t, StateOff, prior)
}

func TestStateOffWaitsForDrain(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, largeBlocks()))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		in := ones(256)
		out := make([]complex64, 256)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = m.Exchange(0, in, out)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	prior, err := m.SetChannelState(ctx, 0, StateOff, DrainWait)
	require.NoError(t, err)
	require.Equal(t, StateOn, prior)

	info, err := m.Info(0)
	require.NoError(t, err)
	require.False(t, info.Exchanging)

	close(stop)
	<-done
}

func TestStateOffWaitHonoursContext(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	prior, err := m.SetChannelState(ctx, 0, StateOff, DrainWait)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StateOn, prior)

	info, err := m.Info(0)
	require.NoError(t, err)
	require.True(t, info.Draining)
}

func TestCloseReleasesDrainWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))
	c, err := m.Channel(0)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := c.SetState(context.Background(), StateOff, DrainWait)
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.CloseChannel(0))

	select {
	case err := <-errc:
		require.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by close")
	}

	require.ErrorIs(t, c.Exchange(ones(64), make([]complex64, 64)), ErrChannelClosed)
}

func TestStateOnCancelsDrain(t *testing.T) {
	m := newTestManager(t)
	cfg := largeBlocks()
	cfg.Timing.SlewDown = 10 * time.Millisecond
	require.NoError(t, m.OpenChannel(0, cfg))

	out := make([]complex64, 256)
	require.NoError(t, m.Exchange(0, ones(256), out))

	_, err := m.SetChannelState(context.Background(), 0, StateOff, DrainNoWait)
	require.NoError(t, err)
	info, err := m.Info(0)
	require.NoError(t, err)
	require.True(t, info.Draining)

	prior, err := m.SetChannelState(context.Background(), 0, StateOn, DrainNoWait)
	require.NoError(t, err)
	require.Equal(t, StateOff, prior)

	info, err = m.Info(0)
	require.NoError(t, err)
	require.False(t, info.Draining)
	require.True(t, info.Exchanging)

	prior, err = m.SetChannelState(context.Background(), 0, StateOn, DrainNoWait)
	require.NoError(t, err)
	require.Equal(t, StateOn, prior)

	require.NoError(t, m.Exchange(0, ones(256), out))
	for _, v := range out {
		require.Equal(t, complex64(1), v)
	}
}

func TestReconfigureWhileOffAppliesAtOnce(t *testing.T) {
	m := newTestManager(t)
	cfg := smallBlocks()
	cfg.State = StateOff
	require.NoError(t, m.OpenChannel(0, cfg))
	c, err := m.Channel(0)
	require.NoError(t, err)

	require.NoError(t, m.SetAllRates(0, 96000, 48000, 48000))
	require.Equal(t, 32, c.OutputSize())
	require.NoError(t, m.SetType(0, TypeTX))
	require.Equal(t, TypeTX, c.Config().Type)

	require.ErrorIs(t, m.SetInputBuffsize(0, 0), ErrInvalidConfig)
	require.ErrorIs(t, m.SetOutputSamplerate(0, 44100), ErrInvalidConfig)
	require.Equal(t, 64, c.InputSize())

	info := c.Info()
	require.False(t, info.Pending)
	require.Equal(t, 96000, info.Config.InputRate)
}

func TestReconfigureWhileOnDrainsThenRestarts(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))
	c, err := m.Channel(0)
	require.NoError(t, err)

	require.NoError(t, m.SetInputBuffsize(0, 128))
	require.NoError(t, m.SetDSPBuffsize(0, 512))

	info := c.Info()
	require.True(t, info.Pending)
	require.True(t, info.Draining)
	require.Equal(t, 64, info.Config.InputSize)
	require.Equal(t, 256, info.Config.DSPSize)

	for n := 0; n < 100 && c.Info().Pending; n++ {
		size := c.InputSize()
		require.NoError(t, c.Exchange(ones(size), make([]complex64, c.OutputSize())))
	}

	info = c.Info()
	require.False(t, info.Pending)
	require.True(t, info.Exchanging)
	require.Equal(t, 128, info.Config.InputSize)
	require.Equal(t, 512, info.Config.DSPSize)
	require.Equal(t, StateOn, info.Config.State)
	require.Equal(t, 512-128, info.Latency)

	require.NoError(t, c.Exchange(ones(128), make([]complex64, 128)))
}

func TestTimingSetters(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, smallBlocks()))

	require.ErrorIs(t, m.SetChannelTSlewUp(0, -time.Millisecond), ErrInvalidConfig)
	require.NoError(t, m.SetChannelTDelayUp(0, time.Millisecond))
	require.NoError(t, m.SetChannelTSlewUp(0, 2*time.Millisecond))
	require.NoError(t, m.SetChannelTDelayDown(0, 3*time.Millisecond))
	require.NoError(t, m.SetChannelTSlewDown(0, 4*time.Millisecond))

	info, err := m.Info(0)
	require.NoError(t, err)
	require.Equal(t, Timing{
		DelayUp:   time.Millisecond,
		SlewUp:    2 * time.Millisecond,
		DelayDown: 3 * time.Millisecond,
		SlewDown:  4 * time.Millisecond,
	}, info.Config.Timing)
	require.False(t, info.Pending)
}

func TestStagesFollowType(t *testing.T) {
	m := newTestManager(t)
	cfg := largeBlocks()
	cfg.State = StateOff
	require.NoError(t, m.OpenChannel(0, cfg,
		WithStages(TypeTX, ShiftStage(6000)),
		WithStages(TypeRX, PassbandStage(-3000, 3000, 1000)),
	))
	c, err := m.Channel(0)
	require.NoError(t, err)

	names := func() []string {
		var ret []string
		for _, b := range c.proc.Blocks() {
			ret = append(ret, b.Name)
		}
		return ret
	}
	require.Equal(t, []string{"input_resampler", "passband", "output_resampler"}, names())

	require.NoError(t, m.SetType(0, TypeTX))
	require.Equal(t, []string{"input_resampler", "shift", "output_resampler"}, names())

	_, err = m.SetChannelState(context.Background(), 0, StateOn, DrainNoWait)
	require.NoError(t, err)
	out := make([]complex64, 256)
	for n := 0; n < 4; n++ {
		require.NoError(t, m.Exchange(0, ones(256), out))
	}
	// A shifted DC input keeps its magnitude.
	for _, v := range out {
		mag := math.Hypot(float64(real(v)), float64(imag(v)))
		require.InDelta(t, 1, mag, 1e-3)
	}
}

func TestExchangeWritesMetrics(t *testing.T) {
	rec := metrics.NewRecorder(64)
	m := newTestManager(t, WithInfluxDB(rec))
	require.NoError(t, m.OpenChannel(2, largeBlocks()))

	require.NoError(t, m.Exchange(2, ones(256), make([]complex64, 256)))
	p := rec.Next("channel.exchange", 5*time.Second)
	require.NotNil(t, p)

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	require.Equal(t, "2", tags["channel"])
	require.Equal(t, "rx", tags["type"])
}

func TestChannelsRegisterViz(t *testing.T) {
	srv := viz.NewServer(0, time.Second)
	m := newTestManager(t, WithVizServer(srv))

	require.NoError(t, m.OpenChannel(3, smallBlocks()))
	require.Contains(t, srv.Buckets(), "channel-3")

	require.NoError(t, m.CloseChannel(3))
	require.NotContains(t, srv.Buckets(), "channel-3")
}

func TestChannelsListsOpen(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(5, smallBlocks()))
	require.NoError(t, m.OpenChannel(1, largeBlocks()))

	infos := m.Channels()
	require.Len(t, infos, 2)
	require.Equal(t, 1, infos[0].ID)
	require.Equal(t, 5, infos[1].ID)
	require.Equal(t, 256, infos[0].OutputSize)
}

func TestPackageLevelFunctions(t *testing.T) {
	const id = MaxChannels - 1
	require.NoError(t, OpenChannel(id, smallBlocks()))
	defer CloseChannel(id)

	require.NoError(t, Exchange(id, ones(64), make([]complex64, 64)))
	prior, err := SetChannelState(context.Background(), id, StateOff, DrainNoWait)
	require.NoError(t, err)
	require.Equal(t, StateOn, prior)
	require.NoError(t, SetChannelTSlewDown(id, time.Millisecond))
	require.NoError(t, SetType(id, TypeTX))
}

func resampling(in, dsp, inRate, dspRate, outRate int) ChannelConfig {
	return ChannelConfig{
		InputSize:  in,
		DSPSize:    dsp,
		InputRate:  inRate,
		DSPRate:    dspRate,
		OutputRate: outRate,
		Type:       TypeRX,
		State:      StateOn,
	}
}

// exchangeN runs n exchanges of ones and fails on any error once warm
// exchanges have passed.
func exchangeN(t *testing.T, c *Channel, n, warm int) {
	t.Helper()
	for i := 0; i < n; i++ {
		out := make([]complex64, c.OutputSize())
		err := c.Exchange(ones(c.InputSize()), out)
		if i < warm && errors.Is(err, ErrOutputUnderflow) {
			continue
		}
		require.NoError(t, err, "exchange %d", i)
	}
}

func TestExchangeResampling(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChannelConfig
		outSize int
		latency int
	}{
		// dsp_outsize 160, gcd(160, 160) = 160
		{"decimating", resampling(960, 480, 48000, 24000, 8000), 160, 0 + resamplerSlack},
		// dsp_outsize 1920, gcd(4800, 1920) = 960
		{"fractional", resampling(4800, 1764, 48000, 44100, 48000), 4800, 960 + resamplerSlack},
		// input passthrough, output 24000 -> 48000; dsp_outsize 512, gcd(1024, 512) = 512
		{"interpolating", resampling(512, 256, 24000, 24000, 48000), 1024, 512 - 512 + resamplerSlack},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			require.NoError(t, m.OpenChannel(0, tt.cfg))
			c, err := m.Channel(0)
			require.NoError(t, err)

			info := c.Info()
			require.Equal(t, tt.outSize, info.OutputSize)
			require.Equal(t, tt.latency, info.Latency)

			exchangeN(t, c, 200, 4)
			warm := c.Info().Underflows
			exchangeN(t, c, 200, 0)
			require.Equal(t, warm, c.Info().Underflows)
		})
	}
}

func TestResamplingDrainThenRebuild(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, resampling(960, 480, 48000, 24000, 8000)))
	c, err := m.Channel(0)
	require.NoError(t, err)
	exchangeN(t, c, 20, 4)

	_, err = c.SetState(context.Background(), StateOff, DrainNoWait)
	require.NoError(t, err)
	require.True(t, c.Info().Draining)
	for n := 0; n < 100 && c.Info().Exchanging; n++ {
		err := c.Exchange(ones(960), make([]complex64, 160))
		if err != nil {
			require.ErrorIs(t, err, ErrOutputUnderflow)
		}
	}
	require.False(t, c.Info().Exchanging)

	require.NoError(t, c.SetAllRates(48000, 24000, 16000))
	info := c.Info()
	require.False(t, info.Pending)
	require.Equal(t, 320, info.OutputSize)
	require.Equal(t, resamplerSlack, info.Latency)

	_, err = c.SetState(context.Background(), StateOn, DrainNoWait)
	require.NoError(t, err)
	exchangeN(t, c, 200, 4)
}

func TestResamplingReconfigureWhileOn(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.OpenChannel(0, resampling(960, 480, 48000, 24000, 8000)))
	c, err := m.Channel(0)
	require.NoError(t, err)
	exchangeN(t, c, 20, 4)

	require.NoError(t, c.SetAllRates(48000, 24000, 16000))
	require.True(t, c.Info().Pending)

	for n := 0; n < 100 && c.Info().Pending; n++ {
		err := c.Exchange(ones(c.InputSize()), make([]complex64, c.OutputSize()))
		if err != nil {
			require.ErrorIs(t, err, ErrOutputUnderflow)
		}
	}

	info := c.Info()
	require.False(t, info.Pending)
	require.True(t, info.Exchanging)
	require.Equal(t, 16000, info.Config.OutputRate)
	require.Equal(t, 320, info.OutputSize)
	exchangeN(t, c, 200, 4)
}
