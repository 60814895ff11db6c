package export

import (
	"fmt"
	"os"

	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/simple"
)

// Verify checks already written artifacts against each other: the graph
// must bind the expected input and output names, its input width must be
// the encoder's input_dim and the batch axis must stay symbolic.
func Verify(onnx []byte, enc EncoderMetadata) (*GraphInfo, error) {
	if err := enc.Validate(); err != nil {
		return nil, err
	}
	info, err := ReadGraphInfo(onnx)
	if err != nil {
		return nil, err
	}
	if info.InputName != InputName || info.OutputName != OutputName {
		return nil, failure.Integrityf("graph binds %q -> %q, want %q -> %q", info.InputName, info.OutputName, InputName, OutputName)
	}
	if len(info.InputDims) != 2 || info.InputDims[0].Param == "" {
		return nil, failure.Integrityf("graph input shape is %v, want [%s, %d]", info.InputDims, BatchParam, enc.InputDim)
	}
	if got := info.InputDims[1].Value; got != int64(enc.InputDim) {
		return nil, failure.Integrityf("graph input_dim %d does not match encoder input_dim %d", got, enc.InputDim)
	}
	if len(info.OutputDims) != 1 || info.OutputDims[0].Param == "" {
		return nil, failure.Integrityf("graph output shape is %v, want [%s]", info.OutputDims, BatchParam)
	}
	return info, nil
}

// VerifyFiles reads both artifacts from disk and runs Verify. When ckpt is
// not nil the decoded graph is also run against it on synthetic vectors.
func VerifyFiles(onnxPath, encoderPath string, ckpt *simple.Checkpoint) (*GraphInfo, error) {
	data, err := os.ReadFile(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", onnxPath, err)
	}
	enc, err := ReadEncoder(encoderPath)
	if err != nil {
		return nil, err
	}
	info, err := Verify(data, enc)
	if err != nil {
		return nil, err
	}
	if ckpt == nil {
		return info, nil
	}
	if ckpt.InputDim != enc.InputDim {
		return nil, failure.Configf("checkpoint input_dim %d does not match encoder input_dim %d", ckpt.InputDim, enc.InputDim)
	}
	g, err := ParseModel(data)
	if err != nil {
		return nil, err
	}
	model, err := simple.FromCheckpoint(ckpt)
	if err != nil {
		return nil, err
	}
	if _, err := Parity(g, model, syntheticVectors(enc.InputDim), DefaultTolerance); err != nil {
		return nil, err
	}
	return info, nil
}
