package processor

import (
	"errors"
	"fmt"
	"time"

	"github.com/norasector/wdsp/pkg/dsp/viz"
)

const defaultVizLength = 1024

type Processor struct {
	Name        string
	InputName   string
	blocks      []*DSPWorker
	vizServer   *viz.Server
	initialized bool
	inputFFT    *viz.FFTPlotter
}

// NewProcessor creates an empty chain. vizServer may be nil.
func NewProcessor(name, inputName string, vizServer *viz.Server) *Processor {
	return &Processor{
		Name:      name,
		InputName: inputName,
		vizServer: vizServer,
	}
}

func (p *Processor) AddBlock(worker *DSPWorker) {
	p.blocks = append(p.blocks, worker)
}

func (p *Processor) Blocks() []*DSPWorker {
	return p.blocks
}

// InputRate is the rate expected by the first block.
func (p *Processor) InputRate() int {
	if len(p.blocks) == 0 {
		return 0
	}
	return p.blocks[0].InputRate
}

// OutputRate is the rate produced by the last block.
func (p *Processor) OutputRate() int {
	if len(p.blocks) == 0 {
		return 0
	}
	return p.blocks[len(p.blocks)-1].OutputRate
}

func (p *Processor) Initialize() error {
	if p.initialized {
		return nil
	}
	if len(p.blocks) < 2 {
		return fmt.Errorf("must specify at least 2 blocks")
	}

	for i := 1; i < len(p.blocks); i++ {
		cur, next := p.blocks[i-1], p.blocks[i]
		if cur.OutputRate != next.InputRate {
			return fmt.Errorf("cur: %s next %s rate mismatch (%d %d)", cur.Name, next.Name, cur.OutputRate, next.InputRate)
		}
	}

	if p.vizServer != nil {
		vizIndex := 0
		nextIndexString := func(s string) string {
			vizIndex++
			return fmt.Sprintf("%02d. %s", vizIndex, s)
		}

		p.inputFFT = viz.NewFFTPlotterComplex(nextIndexString(p.InputName), defaultVizLength, p.blocks[0].InputRate)
		p.vizServer.Register(p.Name, p.inputFFT)

		for _, block := range p.blocks {
			length := defaultVizLength
			if block.plot.length > 0 {
				length = block.plot.length
			}
			block.fft = viz.NewFFTPlotterComplex(nextIndexString(block.DisplayName), length, block.OutputRate)
			block.fft.ShowBalance(block.plot.balance)
			for _, opt := range block.plot.options {
				block.fft.AddPlotOption(opt)
			}
			p.vizServer.Register(p.Name, block.fft)
		}
	}

	p.initialized = true

	return nil
}

// Unregister removes this chain's plots from the viz server.
func (p *Processor) Unregister() {
	if p.vizServer != nil {
		p.vizServer.Unregister(p.Name)
	}
}

// Process runs input through every block. The returned slice is owned by the
// last block and is only valid until the next call. Block durations in
// microseconds are added to metrics as <name>_duration.
func (p *Processor) Process(input []complex64, metrics map[string]interface{}) ([]complex64, error) {
	if !p.initialized {
		if err := p.Initialize(); err != nil {
			return nil, err
		}
	}
	if len(input) == 0 {
		return nil, errors.New("must specify input")
	}

	if p.inputFFT != nil {
		p.inputFFT.AppendComplex(input)
	}

	cur := input
	for _, block := range p.blocks {
		start := time.Now()
		cur = block.work(cur)
		if metrics != nil {
			metrics[fmt.Sprintf("%s_duration", block.Name)] = time.Since(start).Microseconds()
		}
		if len(cur) == 0 {
			// Nothing to feed downstream until this block fills its history.
			break
		}
	}

	return cur, nil
}
