package preprocess

import (
	"github.com/Noofbiz/optionscorer/datasets"
)

// NumericFeature is the fitted standardization of one numeric column.
type NumericFeature struct {
	Name  string  `json:"name"`
	Mean  float64 `json:"mean"`
	Scale float64 `json:"scale"`
}

// CategoricalFeature is the fitted vocabulary of one categorical column.
// The position of a category is the position of its one-hot column.
type CategoricalFeature struct {
	Name       string           `json:"name"`
	Categories []datasets.Value `json:"categories"`
}

// Description is everything needed to rebuild the feature vector without
// the Preprocessor: numeric block first, then one block per categorical
// feature in declared order.
type Description struct {
	Numeric     []NumericFeature     `json:"numeric"`
	Categorical []CategoricalFeature `json:"categorical"`
}

// Width is the length of the encoded feature vector.
func (d Description) Width() int {
	w := len(d.Numeric)
	for _, c := range d.Categorical {
		w += len(c.Categories)
	}
	return w
}

// FeatureNames returns one name per output column, in column order.
func (d Description) FeatureNames() []string {
	names := make([]string, 0, d.Width())
	for _, n := range d.Numeric {
		names = append(names, "num__"+n.Name)
	}
	for _, c := range d.Categorical {
		for _, v := range c.Categories {
			names = append(names, "cat__"+c.Name+"_"+v.String())
		}
	}
	return names
}

// Offsets returns the starting column of every categorical block.
func (d Description) Offsets() []int {
	off := make([]int, len(d.Categorical))
	at := len(d.Numeric)
	for i, c := range d.Categorical {
		off[i] = at
		at += len(c.Categories)
	}
	return off
}

// Clone returns a deep copy.
func (d Description) Clone() Description {
	out := Description{
		Numeric:     append([]NumericFeature(nil), d.Numeric...),
		Categorical: make([]CategoricalFeature, len(d.Categorical)),
	}
	for i, c := range d.Categorical {
		out.Categorical[i] = CategoricalFeature{
			Name:       c.Name,
			Categories: append([]datasets.Value(nil), c.Categories...),
		}
	}
	return out
}

// Standardize applies the fitted numeric rule. A zero scale marks a column
// that was constant on the train split; its values are only centered.
func Standardize(v, mean, scale float64) float64 {
	if scale == 0 {
		return v - mean
	}
	return (v - mean) / scale
}
