// Package pipeline runs the stages behind each optionscorer command:
// prepare, train, baseline, export and verify. Every stage reads what the
// previous one wrote under the configured directories.
package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Noofbiz/optionscorer/baseline"
	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/export"
	"github.com/Noofbiz/optionscorer/internal/config"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/internal/logging"
	"github.com/Noofbiz/optionscorer/preprocess"
	"github.com/Noofbiz/optionscorer/report"
	"github.com/Noofbiz/optionscorer/simple"
)

// MetadataName is written by Prepare next to the split archives.
const MetadataName = "metadata.json"

// probeLimit caps how many raw rows the export parity probe encodes.
const probeLimit = 256

// Pipeline binds a configuration, the row schema and a logger.
type Pipeline struct {
	Config config.Config
	Schema datasets.Schema
	Log    *slog.Logger
}

// New validates cfg and returns a pipeline over the default option-row
// schema.
func New(cfg config.Config, log *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{Config: cfg, Schema: datasets.DefaultSchema(), Log: logging.OrDiscard(log)}, nil
}

// Metadata summarizes a prepare run.
type Metadata struct {
	ID                  string               `json:"id"`
	Target              string               `json:"target"`
	NumericFeatures     []string             `json:"numeric_features"`
	CategoricalFeatures []string             `json:"categorical_features"`
	FeatureNamesOut     []string             `json:"feature_names_out"`
	Splits              map[string]int       `json:"splits"`
	Scenarios           map[string]int       `json:"scenarios"`
	ValSize             float64              `json:"val_size"`
	TestSize            float64              `json:"test_size"`
	Seed                int64                `json:"seed"`
	Degeneracies        []failure.Degeneracy `json:"degeneracies,omitempty"`
}

// Prepare reads the option rows, splits scenarios, fits the preprocessor
// on the train rows only and writes the encoded splits, the preprocessor
// state and metadata.json.
func (p *Pipeline) Prepare() (*Metadata, error) {
	cfg := p.Config
	rows, err := datasets.ReadOptionRows(cfg.Paths.Input, p.Schema)
	if err != nil {
		return nil, err
	}
	p.Log.Info("loaded option rows", "path", cfg.Paths.Input, "rows", len(rows))

	split, err := datasets.SplitIDs(datasets.UniqueScenarioIDs(rows), cfg.Split.ValSize, cfg.Split.TestSize, cfg.Split.Seed)
	if err != nil {
		return nil, err
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	byLabel, err := split.AssignRows(rows)
	if err != nil {
		return nil, err
	}

	pre := preprocess.New(p.Schema, p.Log)
	if err := pre.Fit(byLabel[datasets.LabelTrain]); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	md := &Metadata{
		ID:                  p.Schema.ID,
		Target:              p.Schema.Target,
		NumericFeatures:     p.Schema.Numeric,
		CategoricalFeatures: p.Schema.Categorical,
		FeatureNamesOut:     pre.FeatureNames(),
		Splits:              make(map[string]int, len(datasets.Labels)),
		Scenarios:           make(map[string]int, len(datasets.Labels)),
		ValSize:             cfg.Split.ValSize,
		TestSize:            cfg.Split.TestSize,
		Seed:                cfg.Split.Seed,
		Degeneracies:        pre.Degeneracies(),
	}
	for _, l := range datasets.Labels {
		ds, err := pre.TransformDataset(l.String(), byLabel[l])
		if err != nil {
			return nil, err
		}
		if err := datasets.SaveArchive(filepath.Join(cfg.Paths.DataDir, datasets.ArchiveName(l)), ds); err != nil {
			return nil, err
		}
		md.Splits[l.String()] = ds.Len()
		md.Scenarios[l.String()] = len(split.IDs(l))
		p.Log.Info("wrote split", "split", l.String(), "rows", ds.Len(), "features", ds.Width())
	}

	if err := pre.Save(filepath.Join(cfg.Paths.DataDir, preprocess.FileName)); err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(cfg.Paths.DataDir, MetadataName), md); err != nil {
		return nil, err
	}
	return md, nil
}

// Train fits the scorer on the prepared splits and writes the checkpoint,
// the metrics report, the loss plot and the gauge textfile.
func (p *Pipeline) Train() (*simple.Result, error) {
	cfg := p.Config
	train, val, test, err := datasets.LoadSplits(cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}
	p.Log.Info("loaded splits", "train", train.Len(), "val", val.Len(), "test", test.Len(), "features", train.Width())

	model, err := simple.NewModel(simple.Config{
		InputDim:     train.Width(),
		HiddenSizes:  cfg.Train.HiddenDims,
		Dropout:      cfg.Train.Dropout,
		LearningRate: cfg.Train.LearningRate,
		WeightDecay:  cfg.Train.WeightDecay,
		Epochs:       cfg.Train.Epochs,
		Patience:     cfg.Train.Patience,
		BatchSize:    cfg.Train.BatchSize,
		Seed:         cfg.Train.Seed,
		Optimizer:    cfg.Train.Optimizer,
		ClipNorm:     cfg.Train.ClipNorm,
	})
	if err != nil {
		return nil, err
	}
	model.SetLogger(p.Log)

	res, err := model.Train(train, val, test)
	if err != nil {
		return nil, err
	}

	ckptPath := cfg.CheckpointPath()
	if err := simple.SaveCheckpoint(ckptPath, res.Checkpoint); err != nil {
		return nil, err
	}
	if err := simple.WriteMetrics(cfg.MetricsPath(), res.Report); err != nil {
		return nil, err
	}
	if err := report.PlotHistory(config.WithSuffix(ckptPath, ".loss.png"), res.Report); err != nil {
		p.Log.Warn("could not plot loss history", "error", err)
	}
	name := config.WithSuffix(filepath.Base(ckptPath), "")
	if err := report.WriteTextfile(config.WithSuffix(ckptPath, ".prom"), name, res.Report); err != nil {
		return nil, err
	}
	p.Log.Info("training finished",
		"run_id", res.Report.RunID,
		"best_epoch", res.Report.BestEpoch,
		"epochs_run", res.Report.EpochsRun,
		"val_mae", float64(res.Report.Val.MAE),
		"test_mae", float64(res.Report.Test.MAE),
		"checkpoint", ckptPath)
	return res, nil
}

// Baseline fits the ridge reference model on the prepared splits.
func (p *Pipeline) Baseline() (*baseline.Report, error) {
	cfg := p.Config
	train, val, test, err := datasets.LoadSplits(cfg.Paths.DataDir)
	if err != nil {
		return nil, err
	}
	r, err := baseline.Fit(train, cfg.Baseline.Alpha)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(cfg.Paths.DataDir, cfg.Baseline.ModelName)
	if err := r.Save(path); err != nil {
		return nil, err
	}
	var rep baseline.Report
	if rep.Val, err = r.Evaluate(val); err != nil {
		return nil, err
	}
	if rep.Test, err = r.Evaluate(test); err != nil {
		return nil, err
	}
	if err := baseline.WriteReport(config.WithSuffix(path, ".metrics.json"), rep); err != nil {
		return nil, err
	}
	p.Log.Info("baseline validation metrics", "mae", float64(rep.Val.MAE), "rmse", float64(rep.Val.RMSE), "r2", float64(rep.Val.R2))
	p.Log.Info("baseline test metrics", "mae", float64(rep.Test.MAE), "rmse", float64(rep.Test.RMSE), "r2", float64(rep.Test.R2))
	return &rep, nil
}

// Export writes the ONNX graph and encoder document for the trained
// checkpoint. Raw rows from the input CSV feed the parity probe when the
// file is still present.
func (p *Pipeline) Export() (*export.Artifacts, error) {
	cfg := p.Config
	ckpt, err := simple.LoadCheckpoint(cfg.CheckpointPath())
	if err != nil {
		return nil, err
	}
	pre, err := preprocess.Load(filepath.Join(cfg.Paths.DataDir, preprocess.FileName), p.Log)
	if err != nil {
		return nil, err
	}

	var probe []datasets.ScenarioRow
	rows, err := datasets.ReadOptionRows(cfg.Paths.Input, pre.Schema())
	switch {
	case err == nil:
		probe = rows[:min(len(rows), probeLimit)]
	case errors.Is(err, fs.ErrNotExist):
		p.Log.Warn("input rows not found, probing with synthetic vectors", "path", cfg.Paths.Input)
	default:
		return nil, err
	}

	return export.Export(ckpt, pre, probe, export.Options{
		OutputDir:   cfg.Paths.ExportDir,
		ONNXName:    cfg.Export.ONNXName,
		EncoderName: cfg.Export.EncoderName,
		Opset:       cfg.Export.Opset,
		Logger:      p.Log,
	})
}

// VerifyResult is the graph summary plus, when the test split archive is
// present, the exported graph's own metrics on it.
type VerifyResult struct {
	*export.GraphInfo
	Test *simple.SplitMetrics
}

// Verify re-reads the exported artifacts and checks them against each
// other and, when present, against the checkpoint and the test split.
func (p *Pipeline) Verify() (*VerifyResult, error) {
	cfg := p.Config
	var ckpt *simple.Checkpoint
	if _, err := os.Stat(cfg.CheckpointPath()); err == nil {
		if ckpt, err = simple.LoadCheckpoint(cfg.CheckpointPath()); err != nil {
			return nil, err
		}
	}
	info, err := export.VerifyFiles(
		filepath.Join(cfg.Paths.ExportDir, cfg.Export.ONNXName),
		filepath.Join(cfg.Paths.ExportDir, cfg.Export.EncoderName),
		ckpt,
	)
	if err != nil {
		return nil, err
	}
	p.Log.Info("artifacts agree",
		"input", info.InputName,
		"output", info.OutputName,
		"input_dim", info.InputDims[1].Value,
		"opset", info.Opset,
		"checked_against_checkpoint", ckpt != nil)

	res := &VerifyResult{GraphInfo: info}
	testPath := filepath.Join(cfg.Paths.DataDir, datasets.ArchiveName(datasets.LabelTest))
	if _, err := os.Stat(testPath); err != nil {
		return res, nil
	}
	if res.Test, err = p.scoreGraph(testPath); err != nil {
		return nil, err
	}
	p.Log.Info("exported graph test metrics", "mae", float64(res.Test.MAE), "rmse", float64(res.Test.RMSE), "r2", float64(res.Test.R2))
	return res, nil
}

func (p *Pipeline) scoreGraph(archive string) (*simple.SplitMetrics, error) {
	ds, err := datasets.LoadArchive(archive)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(p.Config.Paths.ExportDir, p.Config.Export.ONNXName))
	if err != nil {
		return nil, fmt.Errorf("failed to read exported graph: %w", err)
	}
	g, err := export.ParseModel(data)
	if err != nil {
		return nil, err
	}
	m, err := export.EvaluateGraph(g, ds)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
