// Package wdsp runs numbered DSP channels. A caller opens a channel with its
// block sizes and sample rates, then trades one input block for one output
// block per Exchange. Turning a channel on or off ramps its gain; changing its
// sizes, rates or type drains the channel and rebuilds it.
//
// The package level functions operate on a default Manager.
package wdsp

import (
	"context"
	"time"
)

var defaultManager, _ = NewManager()

// Default returns the Manager behind the package level functions.
func Default() *Manager {
	return defaultManager
}

// Wisdom prepares FFT plans for every power of two size between 64 and
// 262144, reading and writing the plan list in dir.
func Wisdom(dir string) error {
	return defaultManager.Wisdom(dir)
}

func OpenChannel(id int, cfg ChannelConfig, opts ...ChannelOption) error {
	return defaultManager.OpenChannel(id, cfg, opts...)
}

func CloseChannel(id int) error {
	return defaultManager.CloseChannel(id)
}

func Exchange(id int, in, out []complex64) error {
	return defaultManager.Exchange(id, in, out)
}

func SetType(id int, t ChannelType) error {
	return defaultManager.SetType(id, t)
}

func SetInputBuffsize(id, size int) error {
	return defaultManager.SetInputBuffsize(id, size)
}

func SetDSPBuffsize(id, size int) error {
	return defaultManager.SetDSPBuffsize(id, size)
}

func SetInputSamplerate(id, rate int) error {
	return defaultManager.SetInputSamplerate(id, rate)
}

func SetDSPSamplerate(id, rate int) error {
	return defaultManager.SetDSPSamplerate(id, rate)
}

func SetOutputSamplerate(id, rate int) error {
	return defaultManager.SetOutputSamplerate(id, rate)
}

func SetAllRates(id, inRate, dspRate, outRate int) error {
	return defaultManager.SetAllRates(id, inRate, dspRate, outRate)
}

// SetChannelState returns the state the channel had before the call.
func SetChannelState(ctx context.Context, id int, state State, mode DrainMode) (State, error) {
	return defaultManager.SetChannelState(ctx, id, state, mode)
}

func SetChannelTDelayUp(id int, d time.Duration) error {
	return defaultManager.SetChannelTDelayUp(id, d)
}

func SetChannelTSlewUp(id int, d time.Duration) error {
	return defaultManager.SetChannelTSlewUp(id, d)
}

func SetChannelTDelayDown(id int, d time.Duration) error {
	return defaultManager.SetChannelTDelayDown(id, d)
}

func SetChannelTSlewDown(id int, d time.Duration) error {
	return defaultManager.SetChannelTSlewDown(id, d)
}
