package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMergesOverDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yaml")
	doc := `
split:
  seed: 7
train:
  hidden_dims: [32, 16]
  patience: 3
export:
  opset: 18
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	want := Default()
	want.Split.Seed = 7
	want.Train.HiddenDims = []int{32, 16}
	want.Train.Patience = 3
	want.Export.Opset = 18
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(path, []byte("train:\n  epoch: 3\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestLoadRejectsExtension(t *testing.T) {
	_, err := Load("pipeline.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestValidateSplitFractions(t *testing.T) {
	cases := []struct {
		name     string
		val, tst float64
		ok       bool
	}{
		{"defaults", 0.15, 0.15, true},
		{"sum at one", 0.5, 0.5, false},
		{"sum over one", 0.7, 0.6, false},
		{"nothing held out", 0, 0, false},
		{"negative", -0.1, 0.2, false},
		{"test only", 0, 0.2, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Split.ValSize = tc.val
			cfg.Split.TestSize = tc.tst
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, failure.ErrConfiguration))
		})
	}
}

func TestValidateFieldTags(t *testing.T) {
	cfg := Default()
	cfg.Train.Optimizer = "rmsprop"
	cfg.Train.HiddenDims = []int{64, 0}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "Optimizer"), err.Error())
	assert.True(t, strings.Contains(err.Error(), "HiddenDims[1]"), err.Error())
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, filepath.Join("ml", "processed", "option_scorer.ckpt"), cfg.CheckpointPath())
	assert.Equal(t, filepath.Join("ml", "processed", "option_scorer.metrics.json"), cfg.MetricsPath())
	assert.Equal(t, "a/b.metrics.json", WithSuffix("a/b.pt", ".metrics.json"))
}
