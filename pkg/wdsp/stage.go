package wdsp

import (
	"github.com/norasector/wdsp/pkg/dsp/filters/fir"
	"github.com/norasector/wdsp/pkg/dsp/mixer"
	"github.com/norasector/wdsp/pkg/dsp/processor"
	"github.com/norasector/wdsp/pkg/dsp/viz"
	"github.com/racerxdl/segdsp/dsp"
)

// Stage is a block a channel runs at its DSP rate. Build is called each time
// the channel pipeline is (re)built, so stages never carry state across a
// rate change.
type Stage struct {
	Name        string
	DisplayName string
	Build       func(dspRate int) processor.CCWorker
	// Options tune the stage's plot when a viz server is attached.
	Options []processor.DSPWorkerOption
}

// ShiftStage moves the spectrum by hz.
func ShiftStage(hz float64) Stage {
	return Stage{
		Name:        "shift",
		DisplayName: "Frequency Shift",
		Build: func(dspRate int) processor.CCWorker {
			return mixer.NewWaveformMixer(dspRate, hz)
		},
		Options: []processor.DSPWorkerOption{processor.ShowFFTBalance()},
	}
}

// PassbandStage keeps low..high Hz of the complex baseband. Both edges may be
// negative to select the lower sideband.
func PassbandStage(low, high, transition float64) Stage {
	return Stage{
		Name:        "passband",
		DisplayName: "Passband Filter",
		Build: func(dspRate int) processor.CCWorker {
			taps := fir.MakeComplexBandPass(1.0, float64(dspRate), low, high, transition, fir.Hamming)
			return dsp.MakeDecimationCTFirFilter(1, taps)
		},
		Options: []processor.DSPWorkerOption{
			processor.WithPlotOptions(viz.MarkFrequencies(low, high)),
		},
	}
}
