package baseline

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
)

// linear builds rows with y = 2*x0 - x1 + 3.
func linear(n int) *datasets.EncodedDataset {
	d := &datasets.EncodedDataset{Name: "train", FeatureNames: []string{"num__a", "num__b"}}
	for i := 0; i < n; i++ {
		a := float32(i % 7)
		b := float32((i * 3) % 5)
		d.X = append(d.X, []float32{a, b})
		d.Y = append(d.Y, 2*a-b+3)
		d.IDs = append(d.IDs, "s")
	}
	return d
}

func TestFitRecoversLinearModel(t *testing.T) {
	r, err := Fit(linear(50), 1e-9)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, r.Coef[0], 1e-6)
	assert.InDelta(t, -1.0, r.Coef[1], 1e-6)
	assert.InDelta(t, 3.0, r.Intercept, 1e-6)
	assert.Equal(t, []string{"num__a", "num__b"}, r.FeatureNames)

	s, err := r.Evaluate(linear(20))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, float64(s.MAE), 1e-5)
	assert.InDelta(t, 1.0, float64(s.R2), 1e-9)
}

func TestFitShrinksSingleFeature(t *testing.T) {
	d := &datasets.EncodedDataset{
		FeatureNames: []string{"x"},
		X:            [][]float32{{0}, {1}, {2}, {3}},
		Y:            []float32{1, 3, 5, 7},
		IDs:          []string{"a", "b", "c", "d"},
	}
	// centered x: -1.5 -0.5 0.5 1.5, Σx² = 5, Σxy = 10
	r, err := Fit(d, 1)
	require.NoError(t, err)
	assert.InDelta(t, 10.0/6.0, r.Coef[0], 1e-12)
	assert.InDelta(t, 4-1.5*10.0/6.0, r.Intercept, 1e-12)
}

func TestFitErrors(t *testing.T) {
	_, err := Fit(&datasets.EncodedDataset{FeatureNames: []string{"x"}}, 1)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))

	_, err = Fit(linear(5), -1)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))

	constant := &datasets.EncodedDataset{
		FeatureNames: []string{"x"},
		X:            [][]float32{{1}, {1}},
		Y:            []float32{1, 2},
		IDs:          []string{"a", "b"},
	}
	_, err = Fit(constant, 0)
	assert.True(t, errors.Is(err, failure.ErrConfiguration), "singular system without shrinkage")
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	r := &Ridge{Coef: []float64{1, 2}}
	_, err := r.Predict([][]float32{{1}})
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}

func TestSaveLoad(t *testing.T) {
	r, err := Fit(linear(30), 0.5)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultModelName)
	require.NoError(t, r.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	s, err := r.Evaluate(linear(10))
	require.NoError(t, err)
	require.NoError(t, WriteReport(filepath.Join(dir, "baseline_ridge.metrics.json"), Report{Val: s, Test: s}))
}
