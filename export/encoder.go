package export

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/preprocess"
)

// NumericBlock lists the standardized columns in vector order.
type NumericBlock struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// CategoricalBlock is one one-hot block. Categories keep their JSON type
// so the runtime's strict equality matches numbers and strings correctly.
type CategoricalBlock struct {
	Feature    string           `json:"feature"`
	Categories []datasets.Value `json:"categories"`
}

// EncoderMetadata is the encoder.json document: everything the runtime
// needs to rebuild the model input from a raw option.
type EncoderMetadata struct {
	InputDim    int                `json:"input_dim"`
	Numeric     NumericBlock       `json:"numeric"`
	Categorical []CategoricalBlock `json:"categorical"`
}

// EncoderFromDescription derives the document from a fitted description.
// Integral float categories are emitted as integers.
func EncoderFromDescription(d preprocess.Description) EncoderMetadata {
	e := EncoderMetadata{
		InputDim: d.Width(),
		Numeric: NumericBlock{
			Features: make([]string, len(d.Numeric)),
			Mean:     make([]float64, len(d.Numeric)),
			Scale:    make([]float64, len(d.Numeric)),
		},
		Categorical: make([]CategoricalBlock, len(d.Categorical)),
	}
	for i, n := range d.Numeric {
		e.Numeric.Features[i] = n.Name
		e.Numeric.Mean[i] = n.Mean
		e.Numeric.Scale[i] = n.Scale
	}
	for i, c := range d.Categorical {
		cats := make([]datasets.Value, len(c.Categories))
		for j, v := range c.Categories {
			cats[j] = normalizeCategory(v)
		}
		e.Categorical[i] = CategoricalBlock{Feature: c.Name, Categories: cats}
	}
	return e
}

func normalizeCategory(v datasets.Value) datasets.Value {
	if v.Kind == datasets.KindFloat && v.Float == math.Trunc(v.Float) && math.Abs(v.Float) < 1<<53 {
		return datasets.IntValue(int64(v.Float))
	}
	return v
}

// Width is the length of the vector the document describes.
func (e EncoderMetadata) Width() int {
	w := len(e.Numeric.Features)
	for _, c := range e.Categorical {
		w += len(c.Categories)
	}
	return w
}

// Validate checks that the declared input_dim matches the blocks.
func (e EncoderMetadata) Validate() error {
	n := len(e.Numeric.Features)
	if len(e.Numeric.Mean) != n || len(e.Numeric.Scale) != n {
		return failure.Integrityf("numeric block has %d features, %d means and %d scales",
			n, len(e.Numeric.Mean), len(e.Numeric.Scale))
	}
	if e.InputDim != e.Width() {
		return failure.Integrityf("input_dim is %d but the blocks describe %d columns", e.InputDim, e.Width())
	}
	return nil
}

// RawOption is a single option as named raw fields: numbers (or booleans)
// for numeric features, strings or numbers for categorical ones.
type RawOption map[string]any

// RawFromRow rebuilds the raw fields of a row read with schema.
func RawFromRow(schema datasets.Schema, row datasets.ScenarioRow) RawOption {
	raw := make(RawOption, len(schema.Numeric)+len(schema.Categorical))
	for i, name := range schema.Numeric {
		raw[name] = row.Numeric[i]
	}
	for i, name := range schema.Categorical {
		raw[name] = row.Categorical[i].Any()
	}
	return raw
}

// Encode builds the feature vector the way the runtime does: every numeric
// feature standardized in order, then one block per categorical feature
// with a 1 at the matching category. A missing numeric field counts as 0;
// a missing or unseen category leaves its block all zero.
func (e EncoderMetadata) Encode(raw RawOption) ([]float32, error) {
	vec := make([]float32, 0, e.Width())
	for i, name := range e.Numeric.Features {
		x, err := numericField(raw[name])
		if err != nil {
			return nil, failure.Integrityf("feature %s: %v", name, err)
		}
		vec = append(vec, float32(preprocess.Standardize(x, e.Numeric.Mean[i], e.Numeric.Scale[i])))
	}
	for _, block := range e.Categorical {
		v, ok, err := categoryField(raw[block.Feature])
		if err != nil {
			return nil, failure.Integrityf("feature %s: %v", block.Feature, err)
		}
		for _, c := range block.Categories {
			if ok && c.Equal(v) {
				vec = append(vec, 1)
			} else {
				vec = append(vec, 0)
			}
		}
	}
	return vec, nil
}

func numericField(x any) (float64, error) {
	switch v := x.(type) {
	case nil:
		return 0, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("numeric value has type %T", x)
}

func categoryField(x any) (datasets.Value, bool, error) {
	switch v := x.(type) {
	case nil:
		return datasets.Value{}, false, nil
	case string:
		return datasets.StringValue(v), true, nil
	case int:
		return datasets.IntValue(int64(v)), true, nil
	case int64:
		return datasets.IntValue(v), true, nil
	case float64:
		return datasets.FloatValue(v), true, nil
	case json.Number:
		var val datasets.Value
		if err := val.UnmarshalJSON([]byte(v.String())); err != nil {
			return datasets.Value{}, false, err
		}
		return val, true, nil
	}
	return datasets.Value{}, false, fmt.Errorf("category value has type %T", x)
}

// WriteEncoder writes the document as indented JSON.
func WriteEncoder(path string, e EncoderMetadata) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode encoder metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadEncoder loads and validates an encoder document.
func ReadEncoder(path string) (EncoderMetadata, error) {
	var e EncoderMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		return e, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := e.Validate(); err != nil {
		return e, fmt.Errorf("%s: %w", path, err)
	}
	return e, nil
}
