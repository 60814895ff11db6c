package report

import (
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Noofbiz/optionscorer/simple"
)

// TextfileName is the default name of the exposition file.
const TextfileName = "option_scorer.prom"

const namespace = "optionscorer"

// Registry exposes the final numbers of a run as gauges on a fresh
// registry, labelled with the model name.
func Registry(model string, r *simple.MetricsReport) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"model": model}

	split := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "split_metric",
		Help:        "Final regression metric per split, computed with the best weights.",
		ConstLabels: labels,
	}, []string{"split", "metric"})
	epochs := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "epochs_run",
		Help:        "Number of epochs trained before stopping.",
		ConstLabels: labels,
	})
	best := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "best_epoch",
		Help:        "Epoch whose weights were kept.",
		ConstLabels: labels,
	})
	stopped := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "stopped_early",
		Help:        "1 when early stopping ended training.",
		ConstLabels: labels,
	})
	for _, c := range []prometheus.Collector{split, epochs, best, stopped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	for name, m := range map[string]simple.SplitMetrics{"val": r.Val, "test": r.Test} {
		split.WithLabelValues(name, "loss").Set(float64(m.Loss))
		split.WithLabelValues(name, "mae").Set(float64(m.MAE))
		split.WithLabelValues(name, "rmse").Set(float64(m.RMSE))
		split.WithLabelValues(name, "r2").Set(float64(m.R2))
	}
	epochs.Set(float64(r.EpochsRun))
	best.Set(float64(r.BestEpoch))
	if r.StoppedEarly {
		stopped.Set(1)
	}
	return reg, nil
}

// WriteTextfile writes the run's gauges in the Prometheus text format.
func WriteTextfile(path, model string, r *simple.MetricsReport) error {
	reg, err := Registry(model, r)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}
