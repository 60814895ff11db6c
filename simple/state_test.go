package simple

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observeAll(t *testing.T, losses []float64, patience int) (TrainingState, int) {
	t.Helper()
	calls := 0
	snap := func() *Snapshot {
		calls++
		return &Snapshot{}
	}
	s := NewTrainingState()
	for i, l := range losses {
		s = s.Observe(EpochRecord{Epoch: i + 1, ValLoss: Float(l)}, snap, patience)
		if s.Stopped {
			break
		}
	}
	return s, calls
}

func TestObserveTracksStrictImprovement(t *testing.T) {
	s, calls := observeAll(t, []float64{1.0, 0.8, 0.8, 0.5, 0.6}, 10)

	assert.Equal(t, 4, s.BestEpoch)
	assert.Equal(t, 0.5, s.BestLoss)
	assert.Equal(t, 1, s.SinceImprovement)
	assert.Equal(t, 3, calls, "an equal loss is not an improvement")
	assert.False(t, s.Stopped)
	assert.Len(t, s.History, 5)
}

func TestObserveStopsAfterPatience(t *testing.T) {
	s, _ := observeAll(t, []float64{1.0, 0.5, 0.6, 0.7, 0.8, 0.1}, 3)

	require.True(t, s.Stopped)
	assert.Equal(t, 2, s.BestEpoch)
	assert.Len(t, s.History, 5, "stops on the patience-th non-improving epoch")
}

func TestObserveZeroPatienceNeverStops(t *testing.T) {
	s, _ := observeAll(t, []float64{1, 2, 3, 4, 5, 6}, 0)
	assert.False(t, s.Stopped)
	assert.Equal(t, 1, s.BestEpoch)
	assert.Equal(t, 5, s.SinceImprovement)
}

func TestObserveFirstEpochAlwaysBest(t *testing.T) {
	nan := math.NaN()
	s, calls := observeAll(t, []float64{nan, nan, nan}, 5)

	assert.Equal(t, 1, s.BestEpoch)
	assert.Equal(t, 1, calls)
	require.NotNil(t, s.Best)
	assert.Equal(t, 2, s.SinceImprovement)
}

func TestObserveNaNNeverImproves(t *testing.T) {
	s, _ := observeAll(t, []float64{0.9, math.NaN(), 0.95, 0.4}, 5)
	assert.Equal(t, 4, s.BestEpoch)
	assert.Equal(t, 0.4, s.BestLoss)
}

func TestObserveFiniteBeatsNaNBest(t *testing.T) {
	s, calls := observeAll(t, []float64{math.NaN(), 3, 2}, 5)
	assert.Equal(t, 3, s.BestEpoch)
	assert.Equal(t, 3, calls)
}

func TestObserveDoesNotMutateReceiver(t *testing.T) {
	s0 := NewTrainingState()
	s1 := s0.Observe(EpochRecord{Epoch: 1, ValLoss: 1}, func() *Snapshot { return &Snapshot{} }, 2)
	s2 := s1.Observe(EpochRecord{Epoch: 2, ValLoss: 2}, func() *Snapshot { return &Snapshot{} }, 2)

	assert.Empty(t, s0.History)
	assert.Nil(t, s0.Best)
	assert.Len(t, s1.History, 1)
	assert.Equal(t, 0, s1.SinceImprovement)
	assert.Len(t, s2.History, 2)
	assert.Equal(t, 1, s2.SinceImprovement)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	m, err := NewModel(Config{InputDim: 3, HiddenSizes: []int{4}, Seed: 11})
	require.NoError(t, err)
	in := [][]float32{{1, 2, 3}}
	want, err := m.PredictBatch(in)
	require.NoError(t, err)

	snap := m.Snapshot()
	m.weights[0][0][0] += 10
	m.biases[1][0] += 10
	changed, err := m.PredictBatch(in)
	require.NoError(t, err)
	require.NotEqual(t, want, changed)

	require.NoError(t, m.Restore(snap))
	got, err := m.PredictBatch(in)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreRejectsShapeMismatch(t *testing.T) {
	a, err := NewModel(Config{InputDim: 3, HiddenSizes: []int{4}, Seed: 1})
	require.NoError(t, err)
	b, err := NewModel(Config{InputDim: 3, HiddenSizes: []int{5}, Seed: 1})
	require.NoError(t, err)

	assert.Error(t, a.Restore(b.Snapshot()))
	assert.Error(t, a.Restore(nil))
}
