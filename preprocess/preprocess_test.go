package preprocess

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
)

var s = datasets.StringValue

func testSchema() datasets.Schema {
	return datasets.Schema{
		ID:          "scenario_id",
		Target:      "expected_harm",
		Numeric:     []string{"occupants", "certainty"},
		Categorical: []string{"option", "severity"},
	}
}

func row(id string, occ, cert float64, option, severity string, target float64) datasets.ScenarioRow {
	return datasets.ScenarioRow{
		ScenarioID:  id,
		Numeric:     []float64{occ, cert},
		Categorical: []datasets.Value{s(option), s(severity)},
		Target:      target,
	}
}

func trainRows() []datasets.ScenarioRow {
	return []datasets.ScenarioRow{
		row("a", 1, 80, "Option A", "minor", 1),
		row("a", 3, 80, "Option B", "fatal", 2),
		row("b", 2, 80, "Option A", "serious", 3),
		row("b", 6, 80, "Option B", "minor", 4),
	}
}

func fitted(t *testing.T) *Preprocessor {
	t.Helper()
	p := New(testSchema(), nil)
	require.NoError(t, p.Fit(trainRows()))
	return p
}

func TestFitDescribe(t *testing.T) {
	p := fitted(t)
	d := p.Describe()

	require.Len(t, d.Numeric, 2)
	assert.Equal(t, "occupants", d.Numeric[0].Name)
	assert.InDelta(t, 3.0, d.Numeric[0].Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(3.5), d.Numeric[0].Scale, 1e-12)

	assert.Equal(t, 80.0, d.Numeric[1].Mean)
	assert.Equal(t, 0.0, d.Numeric[1].Scale)

	assert.Equal(t, []datasets.Value{s("Option A"), s("Option B")}, d.Categorical[0].Categories)
	assert.Equal(t, []datasets.Value{s("fatal"), s("minor"), s("serious")}, d.Categorical[1].Categories)

	assert.Equal(t, 7, d.Width())
	assert.Equal(t, p.Width(), d.Width())
	assert.Equal(t, []string{
		"num__occupants", "num__certainty",
		"cat__option_Option A", "cat__option_Option B",
		"cat__severity_fatal", "cat__severity_minor", "cat__severity_serious",
	}, p.FeatureNames())

	require.Len(t, p.Degeneracies(), 1)
	assert.Equal(t, "certainty", p.Degeneracies()[0].Feature)
}

func TestDescribeIsACopy(t *testing.T) {
	p := fitted(t)
	d := p.Describe()
	d.Numeric[0].Mean = 100
	d.Categorical[0].Categories[0] = s("mutated")
	assert.InDelta(t, 3.0, p.Describe().Numeric[0].Mean, 1e-12)
	assert.Equal(t, s("Option A"), p.Describe().Categorical[0].Categories[0])
}

func TestTransformLayout(t *testing.T) {
	p := fitted(t)
	d := p.Describe()
	m, sd := d.Numeric[0].Mean, d.Numeric[0].Scale

	x, err := p.Transform([]datasets.ScenarioRow{
		row("z", m, 80, "Option B", "serious", 0),
		row("z", m+sd, 95, "Option C", "fatal", 0),
	})
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 0, 0, 1, 0, 0, 1}, x[0])
	assert.InDelta(t, 1.0, x[1][0], 1e-6)
	// Constant train column: centered only, never NaN.
	assert.Equal(t, float32(15), x[1][1])
	// Unseen "Option C" leaves its block at zero.
	assert.Equal(t, []float32{0, 0}, x[1][2:4])
	assert.Equal(t, []float32{1, 0, 0}, x[1][4:7])
}

func TestZeroVarianceTrainRowsAreZero(t *testing.T) {
	p := fitted(t)
	x, err := p.Transform(trainRows())
	require.NoError(t, err)
	for _, r := range x {
		assert.Equal(t, float32(0), r[1])
		for _, v := range r {
			assert.False(t, math.IsNaN(float64(v)))
		}
	}
}

func TestTransformDeterministic(t *testing.T) {
	p := fitted(t)
	a, err := p.Transform(trainRows())
	require.NoError(t, err)
	b, err := p.Transform(trainRows())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransformBeforeFitPanics(t *testing.T) {
	p := New(testSchema(), nil)
	assert.Panics(t, func() { _, _ = p.Transform(trainRows()) })
	assert.Panics(t, func() { p.Describe() })
}

func TestFitErrors(t *testing.T) {
	p := New(testSchema(), nil)
	err := p.Fit(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrConfiguration))

	bad := trainRows()
	bad[2].Numeric = bad[2].Numeric[:1]
	err = New(testSchema(), nil).Fit(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))

	p = fitted(t)
	assert.Error(t, p.Fit(trainRows()))
}

func TestTransformDataset(t *testing.T) {
	p := fitted(t)
	d, err := p.TransformDataset("val", trainRows()[:2])
	require.NoError(t, err)
	require.NoError(t, d.Validate())
	assert.Equal(t, "val", d.Name)
	assert.Equal(t, []float32{1, 2}, d.Y)
	assert.Equal(t, []string{"a", "a"}, d.IDs)
	assert.Equal(t, p.FeatureNames(), d.FeatureNames)

	empty, err := p.TransformDataset("test", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, 7, empty.Width())
}

func TestNumericCategoryVocabulary(t *testing.T) {
	schema := datasets.Schema{ID: "id", Target: "y", Categorical: []string{"lane"}}
	rows := []datasets.ScenarioRow{
		{ScenarioID: "a", Categorical: []datasets.Value{datasets.IntValue(3)}},
		{ScenarioID: "a", Categorical: []datasets.Value{datasets.IntValue(1)}},
		{ScenarioID: "b", Categorical: []datasets.Value{datasets.IntValue(3)}},
	}
	p := New(schema, nil)
	require.NoError(t, p.Fit(rows))
	assert.Equal(t, []datasets.Value{datasets.IntValue(1), datasets.IntValue(3)}, p.Describe().Categorical[0].Categories)

	x, err := p.Transform([]datasets.ScenarioRow{{Categorical: []datasets.Value{datasets.FloatValue(3)}}})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1}, x[0])
}

func TestSaveLoad(t *testing.T) {
	p := fitted(t)
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, p.Save(path))

	q, err := Load(path, nil)
	require.NoError(t, err)
	if diff := cmp.Diff(p.Describe(), q.Describe()); diff != "" {
		t.Fatalf("description mismatch (-saved +loaded):\n%s", diff)
	}
	assert.Equal(t, p.Degeneracies(), q.Degeneracies())

	a, err := p.Transform(trainRows())
	require.NoError(t, err)
	b, err := q.Transform(trainRows())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.Error(t, New(testSchema(), nil).Save(path))
}

func TestLoadRejectsTamperedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	doc := `{
  "version": "preprocessor.v1",
  "schema": {"id": "scenario_id", "target": "expected_harm", "numeric_features": ["occupants"], "categorical_features": ["option"]},
  "description": {
    "numeric": [{"name": "occupants", "mean": 1, "scale": 1}],
    "categorical": [{"name": "option", "categories": ["Option B", "Option A"]}]
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	_, err := Load(path, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrDataIntegrity))
}
