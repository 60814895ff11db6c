// Package preprocess fits the numeric standardization and categorical
// vocabularies on the train split and applies them to every split.
//
// A Preprocessor is fitted exactly once. Transform on an unfitted
// Preprocessor is a programming error and panics. Categories not seen
// during Fit encode as an all-zero block.
package preprocess

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/internal/logging"
)

// Preprocessor holds the fitted encoding for one schema.
type Preprocessor struct {
	schema       datasets.Schema
	desc         Description
	degeneracies []failure.Degeneracy
	fitted       bool
	log          *slog.Logger
}

// New returns an unfitted Preprocessor. A nil logger discards output.
func New(schema datasets.Schema, logger *slog.Logger) *Preprocessor {
	return &Preprocessor{schema: schema, log: logging.OrDiscard(logger)}
}

// Schema returns the column layout this Preprocessor reads.
func (p *Preprocessor) Schema() datasets.Schema {
	return p.schema
}

// Fitted reports whether Fit has run.
func (p *Preprocessor) Fitted() bool {
	return p.fitted
}

// Fit computes means, scales and vocabularies from train rows.
func (p *Preprocessor) Fit(rows []datasets.ScenarioRow) error {
	if p.fitted {
		return fmt.Errorf("preprocessor already fitted")
	}
	if err := p.schema.Check(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return failure.Configf("cannot fit preprocessor on an empty train split")
	}
	if err := p.checkRows(rows); err != nil {
		return err
	}

	desc := Description{
		Numeric:     make([]NumericFeature, len(p.schema.Numeric)),
		Categorical: make([]CategoricalFeature, len(p.schema.Categorical)),
	}
	var degens []failure.Degeneracy

	col := make([]float64, len(rows))
	for j, name := range p.schema.Numeric {
		for i, r := range rows {
			col[i] = r.Numeric[j]
		}
		nf := NumericFeature{Name: name}
		if constant(col) {
			nf.Mean, nf.Scale = col[0], 0
			degens = append(degens, failure.Degeneracy{Feature: name, Reason: "zero variance on train split; scale set to 0"})
		} else {
			nf.Mean, nf.Scale = stat.PopMeanStdDev(col, nil)
		}
		desc.Numeric[j] = nf
	}

	for j, name := range p.schema.Categorical {
		vals := make([]datasets.Value, len(rows))
		for i, r := range rows {
			vals[i] = r.Categorical[j]
		}
		desc.Categorical[j] = CategoricalFeature{Name: name, Categories: vocabulary(vals)}
	}

	for _, d := range degens {
		p.log.Warn("numeric degeneracy", "feature", d.Feature, "reason", d.Reason)
	}
	p.desc = desc
	p.degeneracies = degens
	p.fitted = true
	p.log.Info("preprocessor fitted", "rows", len(rows), "numeric", len(desc.Numeric),
		"categorical", len(desc.Categorical), "width", desc.Width())
	return nil
}

func constant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}

// vocabulary returns the sorted distinct values of vals.
func vocabulary(vals []datasets.Value) []datasets.Value {
	sorted := append([]datasets.Value(nil), vals...)
	sort.SliceStable(sorted, func(i, j int) bool { return datasets.Compare(sorted[i], sorted[j]) < 0 })
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || datasets.Compare(v, out[len(out)-1]) != 0 {
			out = append(out, v)
		}
	}
	return append([]datasets.Value(nil), out...)
}

func (p *Preprocessor) checkRows(rows []datasets.ScenarioRow) error {
	for i, r := range rows {
		if len(r.Numeric) != len(p.schema.Numeric) || len(r.Categorical) != len(p.schema.Categorical) {
			return failure.Integrityf("row %d (%s) has %d numeric and %d categorical values, schema wants %d and %d",
				i, r.ScenarioID, len(r.Numeric), len(r.Categorical), len(p.schema.Numeric), len(p.schema.Categorical))
		}
	}
	return nil
}

func (p *Preprocessor) mustBeFitted(op string) {
	if !p.fitted {
		panic("preprocess: " + op + " called before Fit")
	}
}

// Width is the number of output columns.
func (p *Preprocessor) Width() int {
	p.mustBeFitted("Width")
	return p.desc.Width()
}

// FeatureNames names the output columns.
func (p *Preprocessor) FeatureNames() []string {
	p.mustBeFitted("FeatureNames")
	return p.desc.FeatureNames()
}

// Describe returns a copy of the fitted state: the exact means, scales and
// vocabularies Transform uses, in output column order.
func (p *Preprocessor) Describe() Description {
	p.mustBeFitted("Describe")
	return p.desc.Clone()
}

// Degeneracies lists the numeric problems found during Fit.
func (p *Preprocessor) Degeneracies() []failure.Degeneracy {
	return append([]failure.Degeneracy(nil), p.degeneracies...)
}

// Transform encodes rows into a [len(rows)][Width()] matrix.
func (p *Preprocessor) Transform(rows []datasets.ScenarioRow) ([][]float32, error) {
	p.mustBeFitted("Transform")
	if err := p.checkRows(rows); err != nil {
		return nil, err
	}

	width := p.desc.Width()
	offsets := p.desc.Offsets()
	out := make([][]float32, len(rows))
	unknown := 0
	for i, r := range rows {
		vec := make([]float32, width)
		for j, nf := range p.desc.Numeric {
			vec[j] = float32(Standardize(r.Numeric[j], nf.Mean, nf.Scale))
		}
		for j, cf := range p.desc.Categorical {
			k := indexOf(cf.Categories, r.Categorical[j])
			if k < 0 {
				unknown++
				continue
			}
			vec[offsets[j]+k] = 1
		}
		out[i] = vec
	}
	if unknown > 0 {
		p.log.Debug("unseen categories encoded as zeros", "count", unknown)
	}
	return out, nil
}

// indexOf finds v in a sorted vocabulary, or returns -1.
func indexOf(vocab []datasets.Value, v datasets.Value) int {
	k := sort.Search(len(vocab), func(i int) bool { return datasets.Compare(vocab[i], v) >= 0 })
	if k < len(vocab) && vocab[k].Equal(v) {
		return k
	}
	return -1
}

// TransformDataset encodes rows into a named EncodedDataset carrying
// targets, scenario ids and feature names.
func (p *Preprocessor) TransformDataset(name string, rows []datasets.ScenarioRow) (*datasets.EncodedDataset, error) {
	x, err := p.Transform(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	d := &datasets.EncodedDataset{
		Name:         name,
		FeatureNames: p.FeatureNames(),
		X:            x,
		Y:            make([]float32, len(rows)),
		IDs:          make([]string, len(rows)),
	}
	for i, r := range rows {
		d.Y[i] = float32(r.Target)
		d.IDs[i] = r.ScenarioID
	}
	return d, nil
}

// checkDescription verifies a description is usable against schema.
func checkDescription(schema datasets.Schema, d Description) error {
	if len(d.Numeric) != len(schema.Numeric) || len(d.Categorical) != len(schema.Categorical) {
		return failure.Integrityf("description has %d numeric and %d categorical features, schema has %d and %d",
			len(d.Numeric), len(d.Categorical), len(schema.Numeric), len(schema.Categorical))
	}
	for i, nf := range d.Numeric {
		if nf.Name != schema.Numeric[i] {
			return failure.Integrityf("numeric feature %d is %q, schema has %q", i, nf.Name, schema.Numeric[i])
		}
		if math.IsNaN(nf.Mean) || math.IsInf(nf.Mean, 0) || nf.Scale < 0 || math.IsNaN(nf.Scale) || math.IsInf(nf.Scale, 0) {
			return failure.Integrityf("numeric feature %q has invalid mean=%v scale=%v", nf.Name, nf.Mean, nf.Scale)
		}
	}
	for i, cf := range d.Categorical {
		if cf.Name != schema.Categorical[i] {
			return failure.Integrityf("categorical feature %d is %q, schema has %q", i, cf.Name, schema.Categorical[i])
		}
		for k := 1; k < len(cf.Categories); k++ {
			if datasets.Compare(cf.Categories[k-1], cf.Categories[k]) >= 0 {
				return failure.Integrityf("categories of %q are not sorted and unique at position %d", cf.Name, k)
			}
		}
	}
	return nil
}
