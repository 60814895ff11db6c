// Package baseline fits the closed-form ridge regressor the neural scorer
// is compared against.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/simple"
)

const DefaultModelName = "baseline_ridge.json"

// Ridge is a linear model with an unpenalized intercept.
type Ridge struct {
	Alpha        float64   `json:"alpha"`
	Intercept    float64   `json:"intercept"`
	Coef         []float64 `json:"coef"`
	FeatureNames []string  `json:"feature_names,omitempty"`
}

// Fit solves (XcᵀXc + αI)w = Xcᵀyc on centered data, then recovers the
// intercept from the column means.
func Fit(train *datasets.EncodedDataset, alpha float64) (*Ridge, error) {
	if alpha < 0 {
		return nil, failure.Configf("ridge alpha must be non-negative, got %g", alpha)
	}
	n, d := train.Len(), train.Width()
	if n == 0 {
		return nil, failure.Configf("train split is empty")
	}
	if d == 0 {
		return nil, failure.Configf("train split has no feature columns")
	}

	xMean := make([]float64, d)
	var yMean float64
	for i, row := range train.X {
		for j, v := range row {
			xMean[j] += float64(v)
		}
		yMean += float64(train.Y[i])
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range train.X {
		for j, v := range row {
			xc.Set(i, j, float64(v)-xMean[j])
		}
		yc.SetVec(i, float64(train.Y[i])-yMean)
	}

	gram := mat.NewSymDense(d, nil)
	gram.SymOuterK(1, xc.T())
	for j := range d {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(gram); !ok {
		return nil, failure.Configf("ridge system is singular; increase alpha (got %g)", alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, fmt.Errorf("ridge solve: %w", err)
	}

	r := &Ridge{
		Alpha:        alpha,
		Coef:         make([]float64, d),
		FeatureNames: append([]string(nil), train.FeatureNames...),
	}
	r.Intercept = yMean
	for j := range d {
		r.Coef[j] = w.AtVec(j)
		r.Intercept -= r.Coef[j] * xMean[j]
	}
	return r, nil
}

// Predict scores each row.
func (r *Ridge) Predict(x [][]float32) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != len(r.Coef) {
			return nil, failure.Integrityf("row %d has %d features, model expects %d", i, len(row), len(r.Coef))
		}
		y := r.Intercept
		for j, v := range row {
			y += r.Coef[j] * float64(v)
		}
		out[i] = y
	}
	return out, nil
}

// Scores are the baseline metrics of one split.
type Scores struct {
	MAE  simple.Float `json:"mae"`
	RMSE simple.Float `json:"rmse"`
	R2   simple.Float `json:"r2"`
}

// Report is written next to the model as <name>.metrics.json.
type Report struct {
	Val  Scores `json:"val"`
	Test Scores `json:"test"`
}

// Evaluate scores the model on ds.
func (r *Ridge) Evaluate(ds *datasets.EncodedDataset) (Scores, error) {
	preds, err := r.Predict(ds.X)
	if err != nil {
		return Scores{}, err
	}
	targets := make([]float64, len(ds.Y))
	for i, y := range ds.Y {
		targets[i] = float64(y)
	}
	m := simple.Regression(preds, targets)
	return Scores{MAE: m.MAE, RMSE: m.RMSE, R2: m.R2}, nil
}

// Save writes the model as JSON.
func (r *Ridge) Save(path string) error {
	return writeJSON(path, r)
}

// Load reads a model written by Save.
func Load(path string) (*Ridge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var r Ridge
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if len(r.Coef) == 0 {
		return nil, failure.Integrityf("%s has no coefficients", path)
	}
	return &r, nil
}

// WriteReport writes the val/test report.
func WriteReport(path string, rep Report) error {
	return writeJSON(path, rep)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", path, err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
