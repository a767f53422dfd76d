package wdsp

import (
	"fmt"

	"github.com/norasector/wdsp/pkg/dsp/slew"
)

// MaxChannels is the size of a Manager's channel table.
const MaxChannels = 32

// Timing holds the ramp delays and slew times used on state changes.
type Timing = slew.Timing

// ChannelConfig holds everything OpenChannel needs. InputSize is the number
// of samples per Exchange at InputRate; DSPSize the block processed at DSPRate.
type ChannelConfig struct {
	InputSize  int         `yaml:"in_size" json:"in_size"`
	DSPSize    int         `yaml:"dsp_size" json:"dsp_size"`
	InputRate  int         `yaml:"input_rate" json:"input_rate"`
	DSPRate    int         `yaml:"dsp_rate" json:"dsp_rate"`
	OutputRate int         `yaml:"output_rate" json:"output_rate"`
	Type       ChannelType `yaml:"type" json:"type"`
	State      State       `yaml:"state" json:"state"`
	Timing     Timing      `yaml:",inline" json:"timing"`
}

// OutputSize is the number of samples Exchange produces per call.
func (c ChannelConfig) OutputSize() int {
	return c.InputSize * c.OutputRate / c.InputRate
}

// DSPInputSize is the number of input-rate samples making up one DSP block.
func (c ChannelConfig) DSPInputSize() int {
	return c.DSPSize * c.InputRate / c.DSPRate
}

// DSPOutputSize is the number of output-rate samples one DSP block yields.
func (c ChannelConfig) DSPOutputSize() int {
	return c.DSPSize * c.OutputRate / c.DSPRate
}

func (c ChannelConfig) Validate() error {
	switch {
	case c.InputSize <= 0:
		return fmt.Errorf("%w: input size %d", ErrInvalidConfig, c.InputSize)
	case c.DSPSize <= 0:
		return fmt.Errorf("%w: dsp size %d", ErrInvalidConfig, c.DSPSize)
	case c.InputRate <= 0 || c.DSPRate <= 0 || c.OutputRate <= 0:
		return fmt.Errorf("%w: rates must be positive (input %d, dsp %d, output %d)",
			ErrInvalidConfig, c.InputRate, c.DSPRate, c.OutputRate)
	case !c.Type.Valid():
		return fmt.Errorf("%w: type %d", ErrInvalidConfig, int(c.Type))
	case c.State != StateOff && c.State != StateOn:
		return fmt.Errorf("%w: state %d", ErrInvalidConfig, int(c.State))
	}
	if err := validateTiming(c.Timing); err != nil {
		return err
	}
	if (c.InputSize*c.OutputRate)%c.InputRate != 0 {
		return fmt.Errorf("%w: input size %d at %d Hz is not a whole number of samples at %d Hz",
			ErrInvalidConfig, c.InputSize, c.InputRate, c.OutputRate)
	}
	if (c.DSPSize*c.InputRate)%c.DSPRate != 0 {
		return fmt.Errorf("%w: dsp size %d at %d Hz is not a whole number of samples at %d Hz",
			ErrInvalidConfig, c.DSPSize, c.DSPRate, c.InputRate)
	}
	if (c.DSPSize*c.OutputRate)%c.DSPRate != 0 {
		return fmt.Errorf("%w: dsp size %d at %d Hz is not a whole number of samples at %d Hz",
			ErrInvalidConfig, c.DSPSize, c.DSPRate, c.OutputRate)
	}
	return nil
}

func validateTiming(t Timing) error {
	if t.DelayUp < 0 || t.SlewUp < 0 || t.DelayDown < 0 || t.SlewDown < 0 {
		return fmt.Errorf("%w: negative ramp time", ErrInvalidConfig)
	}
	return nil
}
