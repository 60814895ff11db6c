package export

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"


	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/internal/logging"
	"github.com/Noofbiz/optionscorer/preprocess"
	"github.com/Noofbiz/optionscorer/simple"
)

const (
	DefaultONNXName    = "option_scorer.onnx"
	DefaultEncoderName = "encoder.json"
	// DefaultTolerance bounds the graph/model disagreement on probe rows.
	DefaultTolerance = 1e-4

	encodeTolerance = 1e-6
	syntheticProbes = 8
)

// Options controls where and how artifacts are written.
type Options struct {
	OutputDir       string
	ONNXName        string
	EncoderName     string
	Opset           int
	ProducerVersion string
	Tolerance       float64
	Logger          *slog.Logger
}

func (o *Options) defaults() {
	if o.ONNXName == "" {
		o.ONNXName = DefaultONNXName
	}
	if o.EncoderName == "" {
		o.EncoderName = DefaultEncoderName
	}
	if o.Opset == 0 {
		o.Opset = DefaultOpset
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
}

// Artifacts describes a finished export.
type Artifacts struct {
	ONNXPath    string
	EncoderPath string
	Graph       *Graph
	Encoder     EncoderMetadata
	Probed      int
	MaxDiff     float64
}

// Export writes the ONNX graph and encoder document for ckpt and pre.
//
// The checkpoint's input dimension must equal the preprocessor's output
// width. Before anything is written the serialized graph is decoded again
// and run against the checkpointed model on probe vectors: probe rows are
// encoded through the encoder document (and checked against the
// preprocessor's own transform), or seeded synthetic vectors are used when
// no rows are given. Any disagreement beyond the tolerance is a data
// integrity error and nothing is written.
func Export(ckpt *simple.Checkpoint, pre *preprocess.Preprocessor, probe []datasets.ScenarioRow, opts Options) (*Artifacts, error) {
	opts.defaults()
	log := logging.OrDiscard(opts.Logger)

	if pre == nil || !pre.Fitted() {
		return nil, failure.Configf("preprocessor is not fitted")
	}
	desc := pre.Describe()
	if ckpt.InputDim != desc.Width() {
		return nil, failure.Configf("checkpoint input_dim %d does not match preprocessor width %d", ckpt.InputDim, desc.Width())
	}
	enc := EncoderFromDescription(desc)
	if err := enc.Validate(); err != nil {
		return nil, err
	}

	g, err := BuildGraph(ckpt, GraphOptions{Opset: opts.Opset, ProducerVersion: opts.ProducerVersion})
	if err != nil {
		return nil, err
	}
	payload := g.Marshal()
	decoded, err := ParseModel(payload)
	if err != nil {
		return nil, err
	}
	model, err := simple.FromCheckpoint(ckpt)
	if err != nil {
		return nil, err
	}

	vectors, err := probeVectors(enc, pre, probe)
	if err != nil {
		return nil, err
	}
	maxDiff, err := Parity(decoded, model, vectors, opts.Tolerance)
	if err != nil {
		return nil, err
	}
	log.Info("parity probe passed", "rows", len(vectors), "max_abs_diff", maxDiff)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	art := &Artifacts{
		ONNXPath:    filepath.Join(opts.OutputDir, opts.ONNXName),
		EncoderPath: filepath.Join(opts.OutputDir, opts.EncoderName),
		Graph:       g,
		Encoder:     enc,
		Probed:      len(vectors),
		MaxDiff:     maxDiff,
	}
	if err := os.WriteFile(art.ONNXPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", art.ONNXPath, err)
	}
	if err := WriteEncoder(art.EncoderPath, enc); err != nil {
		return nil, err
	}
	log.Info("exported ONNX model", "path", art.ONNXPath, "opset", opts.Opset, "input_dim", ckpt.InputDim)
	log.Info("wrote encoder metadata", "path", art.EncoderPath)
	return art, nil
}

// probeVectors encodes probe rows with the encoder document, checking each
// against the preprocessor's transform of the same row.
func probeVectors(enc EncoderMetadata, pre *preprocess.Preprocessor, rows []datasets.ScenarioRow) ([][]float32, error) {
	if len(rows) == 0 {
		return syntheticVectors(enc.InputDim), nil
	}
	want, err := pre.Transform(rows)
	if err != nil {
		return nil, err
	}
	schema := pre.Schema()
	out := make([][]float32, len(rows))
	for i, r := range rows {
		v, err := enc.Encode(RawFromRow(schema, r))
		if err != nil {
			return nil, err
		}
		for j := range v {
			if math.Abs(float64(v[j]-want[i][j])) > encodeTolerance {
				return nil, failure.Integrityf("row %d column %d: encoder gives %v, preprocessor %v", i, j, v[j], want[i][j])
			}
		}
		out[i] = v
	}
	return out, nil
}

func syntheticVectors(width int) [][]float32 {
	rng := rand.New(rand.NewSource(1))
	out := make([][]float32, syntheticProbes)
	for i := range out {
		v := make([]float32, width)
		if i > 0 {
			for j := range v {
				v[j] = float32(rng.NormFloat64())
			}
		}
		out[i] = v
	}
	return out
}

// Parity runs g and model over the same vectors and returns the largest
// absolute difference, failing when it exceeds tol.
func Parity(g *Graph, model *simple.Model, vectors [][]float32, tol float64) (float64, error) {
	if len(vectors) == 0 {
		return 0, nil
	}
	b, err := datasets.MakeBatchFlat(vectors, make([]float32, len(vectors)), g.InputDim())
	if err != nil {
		return 0, failure.Integrityf("probe vectors: %v", err)
	}
	x, _, err := b.ToGomlxTensors()
	if err != nil {
		return 0, err
	}
	out, err := g.Run(x)
	if err != nil {
		return 0, err
	}
	got, ok := out.Value().([]float32)
	if !ok || len(got) != len(vectors) {
		return 0, failure.Integrityf("graph returned %v", out.Shape())
	}
	want, err := model.PredictBatch(vectors)
	if err != nil {
		return 0, err
	}
	var maxDiff float64
	for i := range want {
		d := math.Abs(float64(got[i] - want[i]))
		if math.IsNaN(d) {
			d = math.Inf(1)
		}
		maxDiff = max(maxDiff, d)
	}
	if maxDiff > tol {
		return maxDiff, failure.Integrityf("graph and model disagree by %g (tolerance %g)", maxDiff, tol)
	}
	return maxDiff, nil
}

// EvaluateGraph runs g over every row of ds and scores the output against
// the dataset targets.
func EvaluateGraph(g *Graph, ds *datasets.EncodedDataset) (simple.SplitMetrics, error) {
	if ds.Width() != g.InputDim() {
		return simple.SplitMetrics{}, failure.Integrityf("dataset %q has %d columns, graph expects %d", ds.Name, ds.Width(), g.InputDim())
	}
	if ds.Len() == 0 {
		return simple.Regression(nil, nil), nil
	}
	idx := make([]int, ds.Len())
	for i := range idx {
		idx[i] = i
	}
	x, y, err := ds.Tensors(idx)
	if err != nil {
		return simple.SplitMetrics{}, err
	}
	out, err := g.Run(x)
	if err != nil {
		return simple.SplitMetrics{}, err
	}
	got, _ := out.Value().([]float32)
	want, _ := y.Value().([]float32)
	preds := make([]float64, len(got))
	targets := make([]float64, len(want))
	for i := range got {
		preds[i] = float64(got[i])
	}
	for i := range want {
		targets[i] = float64(want[i])
	}
	return simple.Regression(preds, targets), nil
}
