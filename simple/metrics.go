package simple

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Float is a float64 that encodes NaN and ±Inf as JSON null, so a
// degenerate metric is reported instead of failing the whole report.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Finite reports whether the value is neither NaN nor infinite.
func (f Float) Finite() bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// SplitMetrics are the regression metrics of one split.
type SplitMetrics struct {
	Loss Float `json:"loss"`
	MAE  Float `json:"mae"`
	RMSE Float `json:"rmse"`
	R2   Float `json:"r2"`
}

// Regression computes MSE, MAE, RMSE and R² = 1 - SSR/SST. With no rows
// every metric is NaN; with zero target variance R² is non-finite.
func Regression(preds, targets []float64) SplitMetrics {
	n := len(preds)
	if n == 0 {
		nan := Float(math.NaN())
		return SplitMetrics{Loss: nan, MAE: nan, RMSE: nan, R2: nan}
	}
	var sq, abs float64
	for i := range preds {
		d := preds[i] - targets[i]
		sq += d * d
		abs += math.Abs(d)
	}
	mse := sq / float64(n)
	return SplitMetrics{
		Loss: Float(mse),
		MAE:  Float(abs / float64(n)),
		RMSE: Float(math.Sqrt(mse)),
		R2:   Float(stat.RSquaredFrom(preds, targets, nil)),
	}
}

// Evaluate runs the model over ds in row order, batch by batch.
func (m *Model) Evaluate(ds Dataset) (SplitMetrics, error) {
	n := ds.Len()
	preds := make([]float64, 0, n)
	targets := make([]float64, 0, n)
	for start := 0; start < n; start += m.Config.BatchSize {
		end := min(start+m.Config.BatchSize, n)
		idx := make([]int, end-start)
		for i := range idx {
			idx[i] = start + i
		}
		inputs, y, err := ds.Batch(idx)
		if err != nil {
			return SplitMetrics{}, err
		}
		p, err := m.PredictBatch(inputs)
		if err != nil {
			return SplitMetrics{}, err
		}
		for i := range p {
			preds = append(preds, float64(p[i]))
			targets = append(targets, float64(y[i]))
		}
	}
	return Regression(preds, targets), nil
}

// MetricsReport is the per-run report written next to the checkpoint.
type MetricsReport struct {
	RunID        string               `json:"run_id"`
	Device       string               `json:"device"`
	BestEpoch    int                  `json:"best_epoch"`
	EpochsRun    int                  `json:"epochs_run"`
	StoppedEarly bool                 `json:"stopped_early"`
	Val          SplitMetrics         `json:"val"`
	Test         SplitMetrics         `json:"test"`
	History      []EpochRecord        `json:"history"`
	Degeneracies []failure.Degeneracy `json:"degeneracies,omitempty"`
}

// WriteMetrics writes r as indented JSON.
func WriteMetrics(path string, r *MetricsReport) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics %s: %w", path, err)
	}
	return nil
}

// ReadMetrics loads a report written by WriteMetrics.
func ReadMetrics(path string) (*MetricsReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics %s: %w", path, err)
	}
	var r MetricsReport
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode metrics %s: %w", path, err)
	}
	return &r, nil
}

// degeneracies lists non-finite final metrics.
func degeneracies(split string, sm SplitMetrics) []failure.Degeneracy {
	var out []failure.Degeneracy
	check := func(name string, v Float) {
		if !v.Finite() {
			out = append(out, failure.Degeneracy{Feature: split + "." + name, Reason: "non-finite value"})
		}
	}
	check("loss", sm.Loss)
	check("mae", sm.MAE)
	check("rmse", sm.RMSE)
	check("r2", sm.R2)
	return out
}
