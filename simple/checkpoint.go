package simple

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// CheckpointVersion is bumped when the checkpoint layout changes.
const CheckpointVersion = "option_scorer.v1"

// Checkpoint is the architecture and weights of a trained model.
type Checkpoint struct {
	Version    string
	InputDim   int
	HiddenDims []int
	Dropout    float64
	BestEpoch  int
	Weights    [][][]float32
	Biases     [][]float32
}

// Checkpoint captures the current parameters together with the shape
// needed to rebuild the network.
func (m *Model) Checkpoint(bestEpoch int) *Checkpoint {
	s := m.Snapshot()
	return &Checkpoint{
		Version:    CheckpointVersion,
		InputDim:   m.InputDim(),
		HiddenDims: m.HiddenDims(),
		Dropout:    m.Config.Dropout,
		BestEpoch:  bestEpoch,
		Weights:    s.Weights,
		Biases:     s.Biases,
	}
}

// LayerSizes returns input, hidden and output widths.
func (c *Checkpoint) LayerSizes() []int {
	sizes := make([]int, 0, len(c.HiddenDims)+2)
	sizes = append(sizes, c.InputDim)
	sizes = append(sizes, c.HiddenDims...)
	return append(sizes, 1)
}

// Validate checks that the weight tensors match the declared architecture.
func (c *Checkpoint) Validate() error {
	if c.Version != CheckpointVersion {
		return failure.Configf("unsupported checkpoint version %q (want %q)", c.Version, CheckpointVersion)
	}
	if c.InputDim <= 0 {
		return failure.Configf("checkpoint input dimension must be positive, got %d", c.InputDim)
	}
	return checkShapes(c.LayerSizes(), c.Weights, c.Biases)
}

func checkShapes(sizes []int, weights [][][]float32, biases [][]float32) error {
	L := len(sizes) - 1
	if len(weights) != L || len(biases) != L {
		return failure.Configf("architecture has %d layers, weights have %d and biases %d", L, len(weights), len(biases))
	}
	for l := 0; l < L; l++ {
		in, out := sizes[l], sizes[l+1]
		if len(weights[l]) != out || len(biases[l]) != out {
			return failure.Configf("layer %d: want %d outputs, weights have %d rows and biases %d",
				l, out, len(weights[l]), len(biases[l]))
		}
		for j, row := range weights[l] {
			if len(row) != in {
				return failure.Configf("layer %d row %d: want %d inputs, got %d", l, j, in, len(row))
			}
		}
	}
	return nil
}

// FromCheckpoint rebuilds the exact architecture described by c and loads
// its weights. A mismatch is a configuration error.
func FromCheckpoint(c *Checkpoint) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	hidden := c.HiddenDims
	if len(hidden) == 0 {
		return nil, failure.Configf("checkpoint declares no hidden layers")
	}
	m, err := NewModel(Config{
		InputDim:    c.InputDim,
		HiddenSizes: append([]int(nil), hidden...),
		Dropout:     c.Dropout,
		Seed:        1,
	})
	if err != nil {
		return nil, err
	}
	if err := m.Restore(&Snapshot{Weights: c.Weights, Biases: c.Biases}); err != nil {
		return nil, err
	}
	return m, nil
}

// SaveCheckpoint writes c as a gob stream.
func SaveCheckpoint(path string, c *Checkpoint) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint %s: %w", path, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return f.Close()
}

// LoadCheckpoint reads and validates a checkpoint.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", path, err)
	}
	defer f.Close()
	var c Checkpoint
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}
