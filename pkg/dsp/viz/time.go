package viz

import (
	"sync"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

type PlotType int

const (
	PlotTypeDefault PlotType = iota
	PlotTypeScatter
	PlotTypeLines
)

// TimeDomainPlotter plots the most recent values appended to it.
type TimeDomainPlotter struct {
	name string
	size int

	mu       sync.Mutex
	values   []float32
	lines    bool
	min, max float64
	options  []PlotOptions
}

func NewTimeDomainPlotter(name string, size int) *TimeDomainPlotter {
	return &TimeDomainPlotter{
		name:   name,
		size:   size,
		values: make([]float32, 0, size),
		min:    -4,
		max:    4,
	}
}

func (t *TimeDomainPlotter) Name() string {
	return t.name
}

// SetPlotType picks lines or scatter points. Scatter is the default.
func (t *TimeDomainPlotter) SetPlotType(tp PlotType) {
	t.mu.Lock()
	t.lines = tp == PlotTypeLines
	t.mu.Unlock()
}

// SetRange fixes the y axis.
func (t *TimeDomainPlotter) SetRange(min, max float64) {
	t.mu.Lock()
	t.min, t.max = min, max
	t.mu.Unlock()
}

func (t *TimeDomainPlotter) AppendFloat(f ...float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.values = append(t.values, f...)
	if drop := len(t.values) - t.size; drop > 0 {
		t.values = t.values[:copy(t.values, t.values[drop:])]
	}
}

func (t *TimeDomainPlotter) AddPlotOption(opt PlotOptions) {
	t.mu.Lock()
	t.options = append(t.options, opt)
	t.mu.Unlock()
}

func (t *TimeDomainPlotter) GetImage() *ImageContainer {
	t.mu.Lock()
	if len(t.values) == 0 {
		t.mu.Unlock()
		return nil
	}
	xys := make(plotter.XYs, len(t.values))
	for i, v := range t.values {
		xys[i].X, xys[i].Y = float64(i), float64(v)
	}
	p := plotWithDefaults()
	p.Title.Text = t.name
	p.X.Label.Text = "t"
	p.Y.Label.Text = "Amplitude"
	p.Y.Min, p.Y.Max = t.min, t.max
	for _, opt := range t.options {
		opt(p)
	}
	add := plotutil.AddScatters
	if t.lines {
		add = plotutil.AddLines
	}
	t.mu.Unlock()

	p.Add(plotter.NewGrid())
	if err := add(p, "f(t)", xys); err != nil {
		return nil
	}
	return render(t.name, p)
}

var _ Producer = (*TimeDomainPlotter)(nil)
