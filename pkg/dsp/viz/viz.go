// Package viz renders live spectrum and time domain plots of channel
// pipelines and serves them over HTTP.
package viz

import (
	"bytes"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type PlotOptions func(p *plot.Plot)

// MarkFrequencies draws a dashed vertical line at each frequency across the
// Y range set so far.
func MarkFrequencies(freqs ...float64) PlotOptions {
	return func(p *plot.Plot) {
		for _, f := range freqs {
			line, err := plotter.NewLine(plotter.XYs{{X: f, Y: p.Y.Min}, {X: f, Y: p.Y.Max}})
			if err != nil {
				continue
			}
			line.Color = color.RGBA{R: 255, G: 160, A: 255}
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
			p.Add(line)
		}
	}
}

func plotWithDefaults() *plot.Plot {
	p := plot.New()
	p.BackgroundColor = color.Black
	p.Title.TextStyle.Color = color.White
	p.Y.Label.TextStyle.Color = color.White
	p.Y.Color = color.White
	p.X.Label.TextStyle.Color = color.White
	p.X.Color = color.White
	p.Legend.TextStyle.Color = color.White
	p.X.Tick.Color = color.White
	p.Y.Tick.Color = color.White
	p.X.Tick.Label.Color = color.White
	p.Y.Tick.Label.Color = color.White

	return p
}

func render(name string, p *plot.Plot) *ImageContainer {
	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return nil
	}
	var imageData bytes.Buffer
	if _, err := w.WriteTo(&imageData); err != nil {
		return nil
	}
	return &ImageContainer{name: name, data: imageData.Bytes()}
}
