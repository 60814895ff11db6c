package simple

import (
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/internal/logging"
)

// Config holds configurable hyperparameters for the MLP model and training.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{256, 128, 64}
	// If empty, a single hidden layer of size 64 will be used.
	HiddenSizes []int

	// InputDim is the width of the encoded feature vector. Required.
	InputDim int

	// Dropout is the drop probability applied after every hidden activation
	// during training.
	Dropout float64

	// LearningRate used by the optimizer (SGD or Adam).
	LearningRate float64

	// WeightDecay is the L2 penalty added to every parameter gradient.
	WeightDecay float64

	// Epochs is the epoch cap (default if 0 will be set by NewModel to 10).
	Epochs int

	// Patience is the number of consecutive non-improving epochs tolerated
	// before training stops. Zero disables early stopping.
	Patience int

	// BatchSize for mini-batch updates (default if 0 will be set by NewModel to 8).
	BatchSize int

	// Seed controls RNG for weight init, shuffling and dropout. If zero, time-based seed is used.
	Seed int64

	// Optimizer selects the optimizer to use: "adam" or "sgd". Default: "adam".
	Optimizer string

	// Adam hyperparameters (used when Optimizer == "adam"; defaults below if zero).
	Beta1   float64
	Beta2   float64
	Epsilon float64

	// ClipNorm is the global gradient norm threshold. Zero disables clipping.
	ClipNorm float64
}

// Dataset is the minimal interface this package requires from an encoded
// split. datasets.EncodedDataset satisfies it.
type Dataset interface {
	Len() int
	Width() int
	// Batch returns inputs and targets for the provided indices.
	Batch(indices []int) ([][]float32, []float32, error)
}

// Model is a feed-forward regressor: Linear, ReLU and Dropout per hidden
// layer, then a single linear output unit.
type Model struct {
	// Config used for training / initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size 1.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	// rng used for weight initialization, shuffling and dropout masks
	rng *rand.Rand

	log *slog.Logger
}

// NewModel creates a new Model instance with the provided configuration.
// It initializes weights (small random values) and is ready to train.
func NewModel(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 {
		return nil, failure.Configf("input dimension must be positive, got %d", cfg.InputDim)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, failure.Configf("dropout must be in [0, 1), got %g", cfg.Dropout)
	}
	for _, h := range cfg.HiddenSizes {
		if h <= 0 {
			return nil, failure.Configf("hidden sizes must be positive, got %v", cfg.HiddenSizes)
		}
	}
	// defaults
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{64}
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.001
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Optimizer == "" {
		cfg.Optimizer = "adam"
	}
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	switch cfg.Optimizer {
	case "adam", "sgd":
	default:
		return nil, failure.Configf("unknown optimizer %q", cfg.Optimizer)
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		log:    logging.Discard(),
	}

	const outputDim = 1

	// build layer sizes
	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InputDim)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, outputDim)
	m.layerSizes = sizes

	// allocate weights and biases
	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := 0; l < L; l++ {
		in := sizes[l]
		out := sizes[l+1]
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := 0; j < out; j++ {
			row := make([]float32, in)
			for i := 0; i < in; i++ {
				// Xavier/Glorot uniform initialization heuristic
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit * 0.5
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}

	return m, nil
}

// SetLogger routes training progress to l. Nil discards it.
func (m *Model) SetLogger(l *slog.Logger) {
	m.log = logging.OrDiscard(l)
}

// InputDim is the feature width the model accepts.
func (m *Model) InputDim() int {
	return m.layerSizes[0]
}

// HiddenDims returns the hidden layer widths.
func (m *Model) HiddenDims() []int {
	return append([]int(nil), m.layerSizes[1:len(m.layerSizes)-1]...)
}

// activationReLU applies ReLU in-place over the slice.
func activationReLU(x []float32) {
	for i := range x {
		if x[i] < 0 {
			x[i] = 0
		}
	}
}

// activationReLUDeriv returns elementwise derivative of ReLU applied to preact.
// derivative is 1 where preact>0, else 0.
func activationReLUDeriv(preact []float32) []float32 {
	d := make([]float32, len(preact))
	for i := range preact {
		if preact[i] > 0 {
			d[i] = 1.0
		}
	}
	return d
}

// pass holds the intermediate values of one forward pass.
type pass struct {
	preActs [][]float32 // len L
	acts    [][]float32 // len L+1, acts[0] = input
	masks   [][]float32 // len L-1 when training; scaled keep masks per hidden layer
}

// forwardSingle performs a forward pass for a single input vector. When
// train is true inverted dropout is applied after every hidden activation
// and the masks are kept for backprop; otherwise the pass is deterministic.
func (m *Model) forwardSingle(input []float32, train bool) (*pass, error) {
	if len(input) != m.layerSizes[0] {
		return nil, errors.New("input has incorrect dimension")
	}
	L := len(m.weights)
	p := &pass{
		preActs: make([][]float32, L),
		acts:    make([][]float32, L+1),
	}
	p.acts[0] = input

	dropout := train && m.Config.Dropout > 0
	if dropout {
		p.masks = make([][]float32, L-1)
	}
	keep := float32(1 - m.Config.Dropout)

	for l := 0; l < L; l++ {
		inVec := p.acts[l]
		W := m.weights[l]
		b := m.biases[l]
		pre := make([]float32, len(b))
		for j := range pre {
			sum := b[j]
			row := W[j]
			for i, x := range inVec {
				sum += row[i] * x
			}
			pre[j] = sum
		}
		p.preActs[l] = pre

		// Activation: ReLU (+ dropout) for hidden, linear for last layer
		act := make([]float32, len(pre))
		copy(act, pre)
		if l < L-1 {
			activationReLU(act)
			if dropout {
				mask := make([]float32, len(act))
				for i := range mask {
					if m.rng.Float32() < keep {
						mask[i] = 1 / keep
					}
					act[i] *= mask[i]
				}
				p.masks[l] = mask
			}
		}
		p.acts[l+1] = act
	}
	return p, nil
}

func (p *pass) output() float32 {
	return p.acts[len(p.acts)-1][0]
}

// PredictBatch returns one prediction per input row. It is a pure forward
// pass with dropout disabled.
func (m *Model) PredictBatch(inputs [][]float32) ([]float32, error) {
	out := make([]float32, len(inputs))
	for i, in := range inputs {
		p, err := m.forwardSingle(in, false)
		if err != nil {
			return nil, err
		}
		out[i] = p.output()
	}
	return out, nil
}

// grads mirrors the weight and bias layout.
type grads struct {
	w [][][]float32
	b [][]float32
}

func (m *Model) zeroGrads() *grads {
	L := len(m.weights)
	g := &grads{w: make([][][]float32, L), b: make([][]float32, L)}
	for l := 0; l < L; l++ {
		g.w[l] = make([][]float32, len(m.weights[l]))
		for j := range m.weights[l] {
			g.w[l][j] = make([]float32, len(m.weights[l][j]))
		}
		g.b[l] = make([]float32, len(m.biases[l]))
	}
	return g
}

// backward accumulates the gradient of scale*(pred-target)^2 into g.
func (m *Model) backward(p *pass, target, scale float32, g *grads) {
	delta := []float32{2.0 * (p.output() - target) * scale}

	for l := len(m.weights) - 1; l >= 0; l-- {
		inAct := p.acts[l]
		for j, d := range delta {
			g.b[l][j] += d
			gw := g.w[l][j]
			for i, x := range inAct {
				gw[i] += d * x
			}
		}

		// propagate delta to previous layer if needed
		if l > 0 {
			prevLen := len(inAct)
			newDelta := make([]float32, prevLen)
			for j, d := range delta {
				row := m.weights[l][j]
				for i := 0; i < prevLen; i++ {
					newDelta[i] += row[i] * d
				}
			}
			deriv := activationReLUDeriv(p.preActs[l-1])
			for i := range newDelta {
				newDelta[i] *= deriv[i]
				if p.masks != nil {
					newDelta[i] *= p.masks[l-1][i]
				}
			}
			delta = newDelta
		}
	}
}

// trainEpoch runs one pass over ds in the order given by indices and
// returns the mean training loss.
func (m *Model) trainEpoch(ds Dataset, indices []int, opt optimizer) (float64, error) {
	n := len(indices)
	batchSize := m.Config.BatchSize
	var total float64
	for bstart := 0; bstart < n; bstart += batchSize {
		bend := min(bstart+batchSize, n)

		inputs, targets, err := ds.Batch(indices[bstart:bend])
		if err != nil {
			return 0, err
		}
		batchN := len(inputs)
		if batchN == 0 {
			continue
		}

		g := m.zeroGrads()
		scale := float32(1.0 / float64(batchN))
		for ex := 0; ex < batchN; ex++ {
			p, err := m.forwardSingle(inputs[ex], true)
			if err != nil {
				return 0, err
			}
			d := float64(p.output() - targets[ex])
			total += d * d
			m.backward(p, targets[ex], scale, g)
		}
		opt.step(m, g)
	}
	return total / float64(n), nil
}
