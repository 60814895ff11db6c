// Package config holds the pipeline configuration surface: paths, split
// fractions, seeds, network shape and optimizer knobs, and export names.
//
// A YAML file may supply any subset of fields; omitted fields keep the
// values from Default. Command-line flags are applied on top by the CLI.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Config is the root configuration document.
type Config struct {
	Paths    Paths    `yaml:"paths"`
	Split    Split    `yaml:"split"`
	Train    Train    `yaml:"train"`
	Baseline Baseline `yaml:"baseline"`
	Export   Export   `yaml:"export"`
	Log      Log      `yaml:"log"`
}

type Paths struct {
	// Input is the option-row CSV.
	Input string `yaml:"input" validate:"required"`
	// DataDir receives split archives, the preprocessor, checkpoint and metrics.
	DataDir string `yaml:"data_dir" validate:"required"`
	// ExportDir receives the ONNX graph and encoder document.
	ExportDir string `yaml:"export_dir" validate:"required"`
}

type Split struct {
	ValSize  float64 `yaml:"val_size" validate:"gte=0,lt=1"`
	TestSize float64 `yaml:"test_size" validate:"gte=0,lt=1"`
	Seed     int64   `yaml:"seed"`
}

type Train struct {
	Epochs       int     `yaml:"epochs" validate:"min=1"`
	BatchSize    int     `yaml:"batch_size" validate:"min=1"`
	LearningRate float64 `yaml:"learning_rate" validate:"gt=0"`
	WeightDecay  float64 `yaml:"weight_decay" validate:"gte=0"`
	Dropout      float64 `yaml:"dropout" validate:"gte=0,lt=1"`
	HiddenDims   []int   `yaml:"hidden_dims" validate:"dive,min=1"`
	Patience     int     `yaml:"patience" validate:"min=1"`
	Seed         int64   `yaml:"seed"`
	Optimizer    string  `yaml:"optimizer" validate:"oneof=adam sgd"`
	ClipNorm     float64 `yaml:"clip_norm" validate:"gte=0"`
	// CheckpointName is written inside Paths.DataDir.
	CheckpointName string `yaml:"checkpoint_name" validate:"required"`
}

type Baseline struct {
	Alpha     float64 `yaml:"alpha" validate:"gte=0"`
	ModelName string  `yaml:"model_name" validate:"required"`
}

type Export struct {
	ONNXName    string `yaml:"onnx_name" validate:"required"`
	EncoderName string `yaml:"encoder_name" validate:"required"`
	Opset       int    `yaml:"opset" validate:"min=13"`
}

type Log struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Paths: Paths{
			Input:     "data/option_rows.csv",
			DataDir:   "ml/processed",
			ExportDir: "public/models",
		},
		Split: Split{ValSize: 0.15, TestSize: 0.15, Seed: 42},
		Train: Train{
			Epochs:         200,
			BatchSize:      256,
			LearningRate:   1e-3,
			WeightDecay:    1e-4,
			Dropout:        0.2,
			HiddenDims:     []int{256, 128, 64},
			Patience:       15,
			Seed:           42,
			Optimizer:      "adam",
			CheckpointName: "option_scorer.ckpt",
		},
		Baseline: Baseline{Alpha: 1.0, ModelName: "baseline_ridge.json"},
		Export: Export{
			ONNXName:    "option_scorer.onnx",
			EncoderName: "encoder.json",
			Opset:       17,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the one cross-field rule: the held-out
// fractions must leave something to train on.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return failure.Configf("%s", strings.Join(msgs, "; "))
		}
		return failure.Configf("%v", err)
	}
	return c.Split.Check()
}

// Check validates the split fractions on their own.
func (s Split) Check() error {
	if s.ValSize < 0 || s.TestSize < 0 {
		return failure.Configf("split fractions must be non-negative (val=%g test=%g)", s.ValSize, s.TestSize)
	}
	held := s.ValSize + s.TestSize
	if held >= 1 {
		return failure.Configf("val+test must be < 1, got %g", held)
	}
	if held <= 0 {
		return failure.Configf("val+test must be > 0, got %g", held)
	}
	return nil
}

// CheckpointPath is where train writes and export reads the checkpoint.
func (c Config) CheckpointPath() string {
	return filepath.Join(c.Paths.DataDir, c.Train.CheckpointName)
}

// MetricsPath is the checkpoint path with its extension replaced by
// .metrics.json.
func (c Config) MetricsPath() string {
	return WithSuffix(c.CheckpointPath(), ".metrics.json")
}

// WithSuffix swaps the extension of path for suffix.
func WithSuffix(path, suffix string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + suffix
}

const maxFileSize = 1 << 20

// Load reads a YAML config file over Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	clean := filepath.Clean(path)
	switch ext := filepath.Ext(clean); ext {
	case ".yaml", ".yml":
	default:
		return cfg, failure.Configf("config file must have .yaml or .yml extension, got %q", ext)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return cfg, failure.Configf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode merges a YAML document into cfg.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return failure.Configf("failed to parse config: %v", err)
	}
	return nil
}
