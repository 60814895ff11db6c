// Package export turns a trained checkpoint and a fitted preprocessor into
// the two artifacts the browser runtime loads: an ONNX graph and the
// encoder document describing its input layout.
package export

import (
	"fmt"
	"math"
	"strconv"

	"github.com/gomlx/gomlx/pkg/core/tensors"

	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/simple"
)

const (
	// InputName and OutputName are the tensor names the runtime binds.
	InputName  = "features"
	OutputName = "expected_harm"
	// BatchParam names the symbolic batch dimension.
	BatchParam = "batch_size"

	DefaultOpset = 17
	irVersion    = 8
	producerName = "optionscorer"
)

// ONNX tensor element types.
const (
	elemFloat int32 = 1
	elemInt64 int32 = 7
)

// ONNX attribute types.
const (
	attrFloat int32 = 1
	attrInt   int32 = 2
	attrInts  int32 = 7
)

// Tensor is a named constant (an ONNX initializer).
type Tensor struct {
	Name     string
	DataType int32
	Dims     []int64
	Floats   []float32
	Int64s   []int64
}

// Attribute is a node attribute. Only the kinds the scorer emits are kept.
type Attribute struct {
	Name string
	Type int32
	F    float32
	I    int64
	Ints []int64
}

// Node is one operator application.
type Node struct {
	Name       string
	OpType     string
	Inputs     []string
	Outputs    []string
	Attributes []Attribute
}

func (n Node) attr(name string) (Attribute, bool) {
	for _, a := range n.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Dim is a tensor dimension, either fixed or symbolic.
type Dim struct {
	Value int64
	Param string
}

func (d Dim) String() string {
	if d.Param != "" {
		return d.Param
	}
	return strconv.FormatInt(d.Value, 10)
}

// ValueInfo declares a graph input or output.
type ValueInfo struct {
	Name     string
	ElemType int32
	Dims     []Dim
}

// Property is a model-level metadata entry.
type Property struct {
	Key, Value string
}

// Graph is the in-memory form of the exported model.
type Graph struct {
	Name            string
	IRVersion       int64
	Opset           int64
	ProducerName    string
	ProducerVersion string
	Input           ValueInfo
	Output          ValueInfo
	Nodes           []Node
	Initializers    []Tensor
	Metadata        []Property
}

// GraphOptions tunes BuildGraph.
type GraphOptions struct {
	Opset           int
	ProducerVersion string
}

// BuildGraph reconstructs the checkpointed network as Gemm and Relu nodes
// followed by a Squeeze of the unit output axis. Dropout is the identity at
// inference and is not emitted.
func BuildGraph(ckpt *simple.Checkpoint, opts GraphOptions) (*Graph, error) {
	if err := ckpt.Validate(); err != nil {
		return nil, err
	}
	opset := opts.Opset
	if opset == 0 {
		opset = DefaultOpset
	}
	if opset < 13 {
		// Squeeze takes its axes as an input from opset 13 on.
		return nil, failure.Configf("opset must be at least 13, got %d", opset)
	}

	g := &Graph{
		Name:            "option_scorer",
		IRVersion:       irVersion,
		Opset:           int64(opset),
		ProducerName:    producerName,
		ProducerVersion: opts.ProducerVersion,
		Input: ValueInfo{
			Name:     InputName,
			ElemType: elemFloat,
			Dims:     []Dim{{Param: BatchParam}, {Value: int64(ckpt.InputDim)}},
		},
		Output: ValueInfo{
			Name:     OutputName,
			ElemType: elemFloat,
			Dims:     []Dim{{Param: BatchParam}},
		},
		Metadata: []Property{
			{Key: "input_dim", Value: strconv.Itoa(ckpt.InputDim)},
			{Key: "hidden_dims", Value: fmt.Sprint(ckpt.HiddenDims)},
			{Key: "best_epoch", Value: strconv.Itoa(ckpt.BestEpoch)},
		},
	}

	prev := InputName
	last := len(ckpt.Weights) - 1
	for l, w := range ckpt.Weights {
		out, in := len(w), len(w[0])
		flat := make([]float32, 0, out*in)
		for _, row := range w {
			flat = append(flat, row...)
		}
		wName := fmt.Sprintf("layers.%d.weight", l)
		bName := fmt.Sprintf("layers.%d.bias", l)
		g.Initializers = append(g.Initializers,
			Tensor{Name: wName, DataType: elemFloat, Dims: []int64{int64(out), int64(in)}, Floats: flat},
			Tensor{Name: bName, DataType: elemFloat, Dims: []int64{int64(out)}, Floats: append([]float32(nil), ckpt.Biases[l]...)},
		)

		gemmOut := fmt.Sprintf("gemm_%d", l)
		g.Nodes = append(g.Nodes, Node{
			Name:    fmt.Sprintf("Gemm_%d", l),
			OpType:  "Gemm",
			Inputs:  []string{prev, wName, bName},
			Outputs: []string{gemmOut},
			Attributes: []Attribute{
				{Name: "alpha", Type: attrFloat, F: 1},
				{Name: "beta", Type: attrFloat, F: 1},
				{Name: "transB", Type: attrInt, I: 1},
			},
		})
		prev = gemmOut
		if l == last {
			break
		}
		reluOut := fmt.Sprintf("relu_%d", l)
		g.Nodes = append(g.Nodes, Node{
			Name:    fmt.Sprintf("Relu_%d", l),
			OpType:  "Relu",
			Inputs:  []string{prev},
			Outputs: []string{reluOut},
		})
		prev = reluOut
	}

	g.Initializers = append(g.Initializers, Tensor{
		Name: "squeeze_axes", DataType: elemInt64, Dims: []int64{1}, Int64s: []int64{1},
	})
	g.Nodes = append(g.Nodes, Node{
		Name:    "Squeeze_0",
		OpType:  "Squeeze",
		Inputs:  []string{prev, "squeeze_axes"},
		Outputs: []string{OutputName},
	})
	return g, nil
}

// InputDim is the fixed feature dimension of the graph input.
func (g *Graph) InputDim() int {
	if len(g.Input.Dims) != 2 {
		return 0
	}
	return int(g.Input.Dims[1].Value)
}

// Run evaluates the graph on a [batch, input_dim] float32 tensor and
// returns a [batch] tensor.
func (g *Graph) Run(x *tensors.Tensor) (*tensors.Tensor, error) {
	dims := x.Shape().Dimensions
	if len(dims) != 2 || dims[1] != g.InputDim() {
		return nil, failure.Integrityf("graph expects [batch, %d] input, got %v", g.InputDim(), dims)
	}
	rows, ok := x.Value().([][]float32)
	if !ok {
		return nil, failure.Integrityf("graph expects float32 input, got %T", x.Value())
	}
	out, err := g.RunRows(rows)
	if err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(out, len(out)), nil
}

// RunRows evaluates the graph row by row.
func (g *Graph) RunRows(rows [][]float32) ([]float32, error) {
	consts := make(map[string]Tensor, len(g.Initializers))
	for _, t := range g.Initializers {
		consts[t.Name] = t
	}
	out := make([]float32, len(rows))
	for r, row := range rows {
		if len(row) != g.InputDim() {
			return nil, failure.Integrityf("row %d has %d features, graph expects %d", r, len(row), g.InputDim())
		}
		v, err := g.eval(consts, row)
		if err != nil {
			return nil, err
		}
		out[r] = v
	}
	return out, nil
}

// eval walks the nodes in order for a single row. Every intermediate is a
// vector; Squeeze of the unit axis reduces the final length-1 vector.
func (g *Graph) eval(consts map[string]Tensor, row []float32) (float32, error) {
	env := map[string][]float32{InputName: row}
	for _, n := range g.Nodes {
		if len(n.Inputs) == 0 || len(n.Outputs) != 1 {
			return 0, failure.Integrityf("node %s has unexpected arity", n.Name)
		}
		in, ok := env[n.Inputs[0]]
		if !ok {
			return 0, failure.Integrityf("node %s reads undefined value %q", n.Name, n.Inputs[0])
		}
		switch n.OpType {
		case "Gemm":
			y, err := gemm(n, consts, in)
			if err != nil {
				return 0, err
			}
			env[n.Outputs[0]] = y
		case "Relu":
			y := make([]float32, len(in))
			for i, v := range in {
				y[i] = float32(math.Max(0, float64(v)))
			}
			env[n.Outputs[0]] = y
		case "Squeeze":
			if len(in) != 1 {
				return 0, failure.Integrityf("squeeze of a width-%d value", len(in))
			}
			env[n.Outputs[0]] = in
		default:
			return 0, failure.Integrityf("unsupported operator %q", n.OpType)
		}
	}
	y, ok := env[g.Output.Name]
	if !ok || len(y) != 1 {
		return 0, failure.Integrityf("graph did not produce %q", g.Output.Name)
	}
	return y[0], nil
}

func gemm(n Node, consts map[string]Tensor, x []float32) ([]float32, error) {
	if len(n.Inputs) != 3 {
		return nil, failure.Integrityf("gemm %s needs 3 inputs", n.Name)
	}
	if a, ok := n.attr("transB"); !ok || a.I != 1 {
		return nil, failure.Integrityf("gemm %s must use transB=1", n.Name)
	}
	alpha, beta := float32(1), float32(1)
	if a, ok := n.attr("alpha"); ok {
		alpha = a.F
	}
	if a, ok := n.attr("beta"); ok {
		beta = a.F
	}
	w, ok := consts[n.Inputs[1]]
	if !ok || len(w.Dims) != 2 {
		return nil, failure.Integrityf("gemm %s: missing weight %q", n.Name, n.Inputs[1])
	}
	b, ok := consts[n.Inputs[2]]
	if !ok {
		return nil, failure.Integrityf("gemm %s: missing bias %q", n.Name, n.Inputs[2])
	}
	out, in := int(w.Dims[0]), int(w.Dims[1])
	if in != len(x) || len(w.Floats) != out*in || len(b.Floats) != out {
		return nil, failure.Integrityf("gemm %s: shape mismatch", n.Name)
	}
	y := make([]float32, out)
	for j := range out {
		var sum float32
		wr := w.Floats[j*in : (j+1)*in]
		for i, v := range x {
			sum += wr[i] * v
		}
		y[j] = alpha*sum + beta*b.Floats[j]
	}
	return y, nil
}
