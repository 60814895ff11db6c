// Package report renders a finished training run for humans and for
// node-exporter style collectors.
package report

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/optionscorer/simple"
)

// LossPlotName is the default file name of the loss curve.
const LossPlotName = "option_scorer.loss.png"

// lossCurves splits the history into train and val loss lines. Non-finite
// points are dropped since they cannot be drawn.
func lossCurves(history []simple.EpochRecord) (train, val plotter.XYs) {
	for _, rec := range history {
		x := float64(rec.Epoch)
		if rec.TrainLoss.Finite() {
			train = append(train, plotter.XY{X: x, Y: float64(rec.TrainLoss)})
		}
		if rec.ValLoss.Finite() {
			val = append(val, plotter.XY{X: x, Y: float64(rec.ValLoss)})
		}
	}
	return train, val
}

// PlotHistory writes a PNG with train loss (blue), val loss (red) and a
// marker at the best epoch.
func PlotHistory(path string, r *simple.MetricsReport) error {
	if len(r.History) == 0 {
		return fmt.Errorf("no epochs to plot")
	}
	p := plot.New()
	p.Title.Text = "Option scorer loss (MSE)"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	train, val := lossCurves(r.History)
	if len(train) > 0 {
		tl, err := plotter.NewLine(train)
		if err != nil {
			return err
		}
		tl.Color = color.RGBA{R: 20, G: 80, B: 200, A: 255}
		tl.Width = vg.Points(1.2)
		p.Add(tl)
		p.Legend.Add("train", tl)
	}
	if len(val) > 0 {
		vl, err := plotter.NewLine(val)
		if err != nil {
			return err
		}
		vl.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
		vl.Width = vg.Points(1.2)
		p.Add(vl)
		p.Legend.Add("val", vl)
	}

	// Best epoch marker
	for _, pt := range val {
		if int(pt.X) != r.BestEpoch {
			continue
		}
		best, err := plotter.NewScatter(plotter.XYs{pt})
		if err != nil {
			return err
		}
		best.GlyphStyle.Color = color.RGBA{R: 40, G: 120, B: 40, A: 255}
		best.GlyphStyle.Radius = vg.Points(3.5)
		p.Add(best)
		p.Legend.Add(fmt.Sprintf("best (epoch %d)", r.BestEpoch), best)
	}

	p.X.Min = 1
	p.X.Max = math.Max(2, float64(len(r.History)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
