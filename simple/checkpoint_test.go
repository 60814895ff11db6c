package simple

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

func TestCheckpointRoundTrip(t *testing.T) {
	m, err := NewModel(Config{InputDim: 4, HiddenSizes: []int{6, 3}, Dropout: 0.1, Seed: 8})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "option_scorer.ckpt")
	require.NoError(t, SaveCheckpoint(path, m.Checkpoint(7)))

	c, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, 7, c.BestEpoch)
	assert.Equal(t, []int{4, 6, 3, 1}, c.LayerSizes())

	loaded, err := FromCheckpoint(c)
	require.NoError(t, err)

	in := [][]float32{{0.5, -1, 2, 0}, {0, 0, 0, 0}}
	want, err := m.PredictBatch(in)
	require.NoError(t, err)
	got, err := loaded.PredictBatch(in)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("predictions differ after reload (-want +got):\n%s", diff)
	}
}

func TestCheckpointValidate(t *testing.T) {
	m, err := NewModel(Config{InputDim: 2, HiddenSizes: []int{3}, Seed: 1})
	require.NoError(t, err)

	c := m.Checkpoint(1)
	require.NoError(t, c.Validate())

	c.InputDim = 5
	assert.True(t, errors.Is(c.Validate(), failure.ErrConfiguration))

	c = m.Checkpoint(1)
	c.Version = "other"
	assert.True(t, errors.Is(c.Validate(), failure.ErrConfiguration))

	c = m.Checkpoint(1)
	c.HiddenDims = []int{3, 3}
	_, err = FromCheckpoint(c)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestLoadCheckpointMissing(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "nope.ckpt"))
	assert.Error(t, err)
}
