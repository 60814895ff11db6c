package export

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/preprocess"
	"github.com/Noofbiz/optionscorer/simple"
)

func testSchema() datasets.Schema {
	return datasets.Schema{
		ID:          "scenario_id",
		Target:      "expected_harm",
		Numeric:     []string{"occupants", "certainty"},
		Categorical: []string{"option", "severity_level"},
	}
}

func row(id string, occ, cert float64, option string, level int64) datasets.ScenarioRow {
	return datasets.ScenarioRow{
		ScenarioID:  id,
		Numeric:     []float64{occ, cert},
		Categorical: []datasets.Value{datasets.StringValue(option), datasets.IntValue(level)},
		Target:      occ * 2,
	}
}

func trainRows() []datasets.ScenarioRow {
	return []datasets.ScenarioRow{
		row("a", 1, 80, "Option A", 1),
		row("a", 3, 80, "Option B", 3),
		row("b", 2, 80, "Option A", 2),
		row("b", 6, 80, "Option B", 1),
	}
}

func fixture(t *testing.T) (*preprocess.Preprocessor, *simple.Checkpoint) {
	t.Helper()
	p := preprocess.New(testSchema(), nil)
	require.NoError(t, p.Fit(trainRows()))
	m, err := simple.NewModel(simple.Config{InputDim: p.Width(), HiddenSizes: []int{5, 3}, Seed: 3})
	require.NoError(t, err)
	return p, m.Checkpoint(2)
}

func TestExportWritesArtifacts(t *testing.T) {
	p, ckpt := fixture(t)
	dir := filepath.Join(t.TempDir(), "public", "models")

	probe := append(trainRows(), row("c", 9, 50, "Option C", 7))
	art, err := Export(ckpt, p, probe, Options{OutputDir: dir})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "option_scorer.onnx"), art.ONNXPath)
	assert.Equal(t, filepath.Join(dir, "encoder.json"), art.EncoderPath)
	assert.Equal(t, 5, art.Probed)
	assert.LessOrEqual(t, art.MaxDiff, DefaultTolerance)

	enc, err := ReadEncoder(art.EncoderPath)
	require.NoError(t, err)
	assert.Equal(t, ckpt.InputDim, enc.InputDim)

	info, err := VerifyFiles(art.ONNXPath, art.EncoderPath, ckpt)
	require.NoError(t, err)
	assert.Equal(t, int64(DefaultOpset), info.Opset)
	assert.Equal(t, "2", info.Metadata["best_epoch"])
}

func TestExportWithoutProbeRowsUsesSyntheticVectors(t *testing.T) {
	p, ckpt := fixture(t)
	art, err := Export(ckpt, p, nil, Options{OutputDir: t.TempDir(), ONNXName: "m.onnx", EncoderName: "e.json", Opset: 13})
	require.NoError(t, err)
	assert.Equal(t, syntheticProbes, art.Probed)
	assert.Equal(t, int64(13), art.Graph.Opset)
}

func TestExportRejectsInputDimMismatch(t *testing.T) {
	p, _ := fixture(t)
	m, err := simple.NewModel(simple.Config{InputDim: p.Width() + 1, HiddenSizes: []int{4}, Seed: 1})
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = Export(m.Checkpoint(1), p, nil, Options{OutputDir: dir})
	require.True(t, errors.Is(err, failure.ErrConfiguration), "got %v", err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing may be written on mismatch")
}

func TestExportRejectsUnfittedPreprocessor(t *testing.T) {
	_, ckpt := fixture(t)
	_, err := Export(ckpt, preprocess.New(testSchema(), nil), nil, Options{OutputDir: t.TempDir()})
	assert.True(t, errors.Is(err, failure.ErrConfiguration))
}

func TestParityDetectsDifferentWeights(t *testing.T) {
	p, ckpt := fixture(t)
	g, err := BuildGraph(ckpt, GraphOptions{})
	require.NoError(t, err)

	other, err := simple.NewModel(simple.Config{InputDim: p.Width(), HiddenSizes: []int{5, 3}, Seed: 99})
	require.NoError(t, err)

	_, err = Parity(g, other, syntheticVectors(p.Width()), DefaultTolerance)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity), "got %v", err)
}

func TestVerifyDetectsEncoderMismatch(t *testing.T) {
	p, ckpt := fixture(t)
	g, err := BuildGraph(ckpt, GraphOptions{})
	require.NoError(t, err)

	enc := EncoderFromDescription(p.Describe())
	_, err = Verify(g.Marshal(), enc)
	require.NoError(t, err)

	enc.Categorical[0].Categories = enc.Categorical[0].Categories[:1]
	enc.InputDim--
	_, err = Verify(g.Marshal(), enc)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity), "got %v", err)
}

func TestEncoderDocumentShape(t *testing.T) {
	desc := preprocess.Description{
		Numeric: []preprocess.NumericFeature{
			{Name: "occupants", Mean: 2.5, Scale: 1.5},
			{Name: "certainty", Mean: 80, Scale: 0},
		},
		Categorical: []preprocess.CategoricalFeature{
			{Name: "option", Categories: []datasets.Value{datasets.StringValue("Option A"), datasets.StringValue("Option B")}},
			{Name: "level", Categories: []datasets.Value{datasets.FloatValue(1), datasets.FloatValue(2.5)}},
		},
	}
	enc := EncoderFromDescription(desc)
	data, err := json.Marshal(enc)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"input_dim": 6,
		"numeric": {"features": ["occupants", "certainty"], "mean": [2.5, 80], "scale": [1.5, 0]},
		"categorical": [
			{"feature": "option", "categories": ["Option A", "Option B"]},
			{"feature": "level", "categories": [1, 2.5]}
		]
	}`, string(data))
	assert.Equal(t, datasets.KindInt, enc.Categorical[1].Categories[0].Kind)
}

func TestEncodeMatchesTransform(t *testing.T) {
	p, _ := fixture(t)
	enc := EncoderFromDescription(p.Describe())
	rows := append(trainRows(), row("z", 4, 10, "Option Z", 9))

	want, err := p.Transform(rows)
	require.NoError(t, err)
	for i, r := range rows {
		got, err := enc.Encode(RawFromRow(p.Schema(), r))
		require.NoError(t, err)
		if diff := cmp.Diff(want[i], got); diff != "" {
			t.Fatalf("row %d (-transform +encode):\n%s", i, diff)
		}
	}
}

func TestEncodeRawFields(t *testing.T) {
	p, _ := fixture(t)
	enc := EncoderFromDescription(p.Describe())

	// occupants mean 3, population std sqrt(3.5); certainty constant 80
	got, err := enc.Encode(RawOption{
		"occupants":      true,
		"option":         "Option B",
		"severity_level": 2.0,
	})
	require.NoError(t, err)
	require.Len(t, got, enc.InputDim)
	assert.InDelta(t, (1-3)/1.8708286933869707, got[0], 1e-6)
	assert.Equal(t, float32(-80), got[1])
	assert.Equal(t, []float32{0, 1}, got[2:4])
	assert.Equal(t, []float32{0, 1, 0}, got[4:7])

	got, err = enc.Encode(RawOption{"severity_level": "2"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, got[4:7], "a string never matches a numeric category")

	_, err = enc.Encode(RawOption{"occupants": "three"})
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
	_, err = enc.Encode(RawOption{"option": []string{"x"}})
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}

func TestReadEncoderRejectsBadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "encoder.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"input_dim": 3, "numeric": {"features": ["a"], "mean": [0], "scale": [1]}, "categorical": []}`), 0o644))
	_, err := ReadEncoder(path)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}
