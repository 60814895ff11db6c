package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// EncodedDataset is one split after preprocessing: a feature matrix, the
// target vector and the scenario id of every row, aligned row for row.
// FeatureNames fixes the width even when the split has no rows.
type EncodedDataset struct {
	Name         string
	FeatureNames []string
	X            [][]float32
	Y            []float32
	IDs          []string
}

// Len returns the number of rows.
func (d *EncodedDataset) Len() int {
	return len(d.X)
}

// Width returns the number of feature columns.
func (d *EncodedDataset) Width() int {
	if len(d.FeatureNames) > 0 || len(d.X) == 0 {
		return len(d.FeatureNames)
	}
	return len(d.X[0])
}

// Validate checks row alignment and that every row has Width columns.
func (d *EncodedDataset) Validate() error {
	if len(d.Y) != len(d.X) || len(d.IDs) != len(d.X) {
		return failure.Integrityf("%s: misaligned arrays X=%d y=%d ids=%d", d.Name, len(d.X), len(d.Y), len(d.IDs))
	}
	w := d.Width()
	for i, row := range d.X {
		if len(row) != w {
			return failure.Integrityf("%s: row %d has %d columns, want %d", d.Name, i, len(row), w)
		}
	}
	return nil
}

// Batch returns the feature rows and targets at indices. Rows are shared,
// not copied.
func (d *EncodedDataset) Batch(indices []int) ([][]float32, []float32, error) {
	inputs := make([][]float32, len(indices))
	targets := make([]float32, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(d.X) {
			return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.X))
		}
		inputs[i] = d.X[idx]
		targets[i] = d.Y[idx]
	}
	return inputs, targets, nil
}

// Tensors reads a batch and returns it as gomlx tensors shaped
// [batch, width] and [batch].
func (d *EncodedDataset) Tensors(indices []int) (inputs *tensors.Tensor, targets *tensors.Tensor, err error) {
	in, y, err := d.Batch(indices)
	if err != nil {
		return nil, nil, err
	}
	b, err := MakeBatchFlat(in, y, d.Width())
	if err != nil {
		return nil, nil, err
	}
	return b.ToGomlxTensors()
}

// CheckCompatible verifies that every split shares the same column layout.
func CheckCompatible(sets ...*EncodedDataset) error {
	if len(sets) == 0 {
		return nil
	}
	ref := sets[0]
	for _, s := range sets {
		if err := s.Validate(); err != nil {
			return err
		}
		if s.Width() != ref.Width() {
			return failure.Integrityf("%s has %d columns but %s has %d", s.Name, s.Width(), ref.Name, ref.Width())
		}
		if len(s.FeatureNames) > 0 && len(ref.FeatureNames) > 0 {
			for i := range s.FeatureNames {
				if s.FeatureNames[i] != ref.FeatureNames[i] {
					return failure.Integrityf("%s column %d is %q but %s has %q",
						s.Name, i, s.FeatureNames[i], ref.Name, ref.FeatureNames[i])
				}
			}
		}
	}
	return nil
}

// CheckDisjoint verifies that no scenario id appears in more than one split.
func CheckDisjoint(sets ...*EncodedDataset) error {
	owner := make(map[string]string)
	for _, s := range sets {
		for _, id := range s.IDs {
			if prev, ok := owner[id]; ok && prev != s.Name {
				return failure.Integrityf("scenario %q appears in both %s and %s", id, prev, s.Name)
			}
			owner[id] = s.Name
		}
	}
	return nil
}

// BatchFlat stores a batch in flat contiguous buffers.
type BatchFlat struct {
	Inputs    []float32
	Targets   []float32
	BatchSize int
	InputDim  int
}

// MakeBatchFlat flattens a batch into contiguous buffers.
func MakeBatchFlat(inputs [][]float32, targets []float32, inputDim int) (*BatchFlat, error) {
	if len(inputs) != len(targets) {
		return nil, fmt.Errorf("inputs and targets batch sizes don't match: %d != %d", len(inputs), len(targets))
	}
	batchSize := len(inputs)
	flat := make([]float32, batchSize*inputDim)
	for i := range batchSize {
		if len(inputs[i]) != inputDim {
			return nil, fmt.Errorf("inconsistent input dimensions at example %d: expected %d, got %d",
				i, inputDim, len(inputs[i]))
		}
		copy(flat[i*inputDim:], inputs[i])
	}
	y := make([]float32, batchSize)
	copy(y, targets)
	return &BatchFlat{
		Inputs:    flat,
		Targets:   y,
		BatchSize: batchSize,
		InputDim:  inputDim,
	}, nil
}

// ToGomlxTensors converts the batch to gomlx tensors.
func (b *BatchFlat) ToGomlxTensors() (*tensors.Tensor, *tensors.Tensor, error) {
	inT := tensors.FromFlatDataAndDimensions(b.Inputs, b.BatchSize, b.InputDim)
	yT := tensors.FromFlatDataAndDimensions(b.Targets, b.BatchSize)
	return inT, yT, nil
}
