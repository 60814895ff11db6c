package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/simple"
)

func sampleReport() *simple.MetricsReport {
	return &simple.MetricsReport{
		RunID:        "run",
		Device:       "cpu",
		BestEpoch:    2,
		EpochsRun:    4,
		StoppedEarly: true,
		Val:          simple.SplitMetrics{Loss: 0.25, MAE: 0.4, RMSE: 0.5, R2: 0.75},
		Test:         simple.SplitMetrics{Loss: 0.36, MAE: 0.5, RMSE: 0.6, R2: simple.Float(math.NaN())},
		History: []simple.EpochRecord{
			{Epoch: 1, TrainLoss: 1.0, ValLoss: 0.5},
			{Epoch: 2, TrainLoss: 0.6, ValLoss: 0.25},
			{Epoch: 3, TrainLoss: 0.4, ValLoss: simple.Float(math.NaN())},
			{Epoch: 4, TrainLoss: 0.3, ValLoss: 0.3},
		},
	}
}

func TestLossCurvesDropNonFinite(t *testing.T) {
	train, val := lossCurves(sampleReport().History)
	assert.Len(t, train, 4)
	assert.Len(t, val, 3)
	assert.Equal(t, 4.0, val[2].X)
}

func TestPlotHistoryWritesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", LossPlotName)
	require.NoError(t, PlotHistory(path, sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "\x89PNG", string(data[:4]))
}

func TestPlotHistoryEmpty(t *testing.T) {
	assert.Error(t, PlotHistory(filepath.Join(t.TempDir(), "x.png"), &simple.MetricsReport{}))
}

func TestRegistryGauges(t *testing.T) {
	reg, err := Registry("option_scorer", sampleReport())
	require.NoError(t, err)

	n, err := testutil.GatherAndCount(reg, "optionscorer_split_metric")
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	n, err = testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), TextfileName)
	require.NoError(t, WriteTextfile(path, "option_scorer", sampleReport()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `optionscorer_split_metric{metric="mae",model="option_scorer",split="val"} 0.4`)
	assert.Contains(t, text, `optionscorer_best_epoch{model="option_scorer"} 2`)
	assert.Contains(t, text, `optionscorer_stopped_early{model="option_scorer"} 1`)
	assert.Contains(t, text, `optionscorer_split_metric{metric="r2",model="option_scorer",split="test"} NaN`)
}
