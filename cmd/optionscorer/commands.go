package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Noofbiz/optionscorer/internal/config"
	"github.com/Noofbiz/optionscorer/internal/logging"
	"github.com/Noofbiz/optionscorer/internal/pipeline"
)

// options collects the global flags and every per-command override.
// Overrides are applied only when the flag was set explicitly, so values
// from the config file survive.
type options struct {
	configPath string
	logLevel   string
	logFormat  string

	input     string
	dataDir   string
	exportDir string

	valSize   float64
	testSize  float64
	splitSeed int64

	epochs       int
	batchSize    int
	learningRate float64
	weightDecay  float64
	dropout      float64
	hiddenDims   []int
	patience     int
	trainSeed    int64
	optimizer    string
	clipNorm     float64

	alpha float64

	onnxName    string
	encoderName string
	opset       int
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:   "optionscorer",
		Short: "Train and export the option harm scorer",
		Long: `optionscorer turns exported option rows into a trained MLP scorer and
the ONNX graph plus encoder document the browser calibrator loads.

Stages run in order: prepare, train (and optionally baseline), export,
verify. Each stage reads what the previous one wrote.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "YAML config file (defaults are used when empty)")
	pf.StringVar(&o.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&o.logFormat, "log-format", "", "log format: text or json")
	pf.StringVar(&o.dataDir, "data-dir", "", "directory for split archives, preprocessor, checkpoint and metrics")

	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Split scenarios, fit the preprocessor and write encoded splits",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.pipeline(cmd)
			if err != nil {
				return err
			}
			md, err := p.Prepare()
			if err != nil {
				return err
			}
			for _, name := range []string{"train", "val", "test"} {
				fmt.Fprintf(cmd.OutOrStdout(), "%s set: %d rows, %d features\n", name, md.Splits[name], len(md.FeatureNamesOut))
			}
			return nil
		},
	}
	fs := prepareCmd.Flags()
	fs.StringVar(&o.input, "input", "", "option-row CSV")
	fs.Float64Var(&o.valSize, "val-size", 0, "fraction of scenarios held out for validation")
	fs.Float64Var(&o.testSize, "test-size", 0, "fraction of scenarios held out for test")
	fs.Int64Var(&o.splitSeed, "seed", 0, "split seed")

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Train the scorer with early stopping",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.pipeline(cmd)
			if err != nil {
				return err
			}
			res, err := p.Train()
			if err != nil {
				return err
			}
			r := res.Report
			fmt.Fprintf(cmd.OutOrStdout(), "best epoch %d of %d\n", r.BestEpoch, r.EpochsRun)
			fmt.Fprintf(cmd.OutOrStdout(), "val:  mae=%.4f rmse=%.4f r2=%.4f\n", r.Val.MAE, r.Val.RMSE, r.Val.R2)
			fmt.Fprintf(cmd.OutOrStdout(), "test: mae=%.4f rmse=%.4f r2=%.4f\n", r.Test.MAE, r.Test.RMSE, r.Test.R2)
			return nil
		},
	}
	fs = trainCmd.Flags()
	fs.IntVar(&o.epochs, "epochs", 0, "maximum number of epochs")
	fs.IntVar(&o.batchSize, "batch-size", 0, "mini-batch size")
	fs.Float64Var(&o.learningRate, "lr", 0, "learning rate")
	fs.Float64Var(&o.weightDecay, "weight-decay", 0, "L2 weight decay")
	fs.Float64Var(&o.dropout, "dropout", 0, "dropout probability after each hidden layer")
	fs.IntSliceVar(&o.hiddenDims, "hidden-dims", nil, "hidden layer widths, e.g. 256,128,64")
	fs.IntVar(&o.patience, "patience", 0, "epochs without improvement before stopping")
	fs.Int64Var(&o.trainSeed, "seed", 0, "initialization, shuffling and dropout seed")
	fs.StringVar(&o.optimizer, "optimizer", "", "adam or sgd")
	fs.Float64Var(&o.clipNorm, "clip-norm", 0, "global gradient norm limit (0 disables)")

	baselineCmd := &cobra.Command{
		Use:   "baseline",
		Short: "Fit the ridge regression reference model",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.pipeline(cmd)
			if err != nil {
				return err
			}
			rep, err := p.Baseline()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "val:  mae=%.4f rmse=%.4f r2=%.4f\n", rep.Val.MAE, rep.Val.RMSE, rep.Val.R2)
			fmt.Fprintf(cmd.OutOrStdout(), "test: mae=%.4f rmse=%.4f r2=%.4f\n", rep.Test.MAE, rep.Test.RMSE, rep.Test.R2)
			return nil
		},
	}
	baselineCmd.Flags().Float64Var(&o.alpha, "alpha", 0, "ridge regularization strength")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Write the ONNX graph and encoder metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.pipeline(cmd)
			if err != nil {
				return err
			}
			art, err := p.Export()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported ONNX model to %s\n", art.ONNXPath)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote encoder metadata to %s\n", art.EncoderPath)
			return nil
		},
	}
	fs = exportCmd.Flags()
	addExportFlags(fs, o)
	fs.StringVar(&o.input, "input", "", "option-row CSV used for the parity probe")
	fs.IntVar(&o.opset, "opset", 0, "ONNX opset version")

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Check exported artifacts against each other and the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.pipeline(cmd)
			if err != nil {
				return err
			}
			info, err := p.Verify()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s %v -> %s %v (opset %d)\n",
				info.InputName, info.InputDims, info.OutputName, info.OutputDims, info.Opset)
			if m := info.Test; m != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "graph test: mae=%.4f rmse=%.4f r2=%.4f\n", m.MAE, m.RMSE, m.R2)
			}
			return nil
		},
	}
	addExportFlags(verifyCmd.Flags(), o)

	root.AddCommand(prepareCmd, trainCmd, baselineCmd, exportCmd, verifyCmd)
	return root
}

func addExportFlags(fs *pflag.FlagSet, o *options) {
	fs.StringVar(&o.exportDir, "output-dir", "", "directory for the ONNX graph and encoder document")
	fs.StringVar(&o.onnxName, "onnx-name", "", "ONNX file name")
	fs.StringVar(&o.encoderName, "encoder-name", "", "encoder metadata file name")
}

// pipeline loads the config, applies explicitly set flags and builds the
// logger.
func (o *options) pipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		if cfg, err = config.Load(o.configPath); err != nil {
			return nil, err
		}
	}
	o.apply(cmd, &cfg)

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cmd.ErrOrStderr()})
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, log)
}

func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	set := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if set("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if set("data-dir") {
		cfg.Paths.DataDir = o.dataDir
	}
	if set("input") {
		cfg.Paths.Input = o.input
	}
	if set("output-dir") {
		cfg.Paths.ExportDir = o.exportDir
	}

	switch cmd.Name() {
	case "prepare":
		if set("val-size") {
			cfg.Split.ValSize = o.valSize
		}
		if set("test-size") {
			cfg.Split.TestSize = o.testSize
		}
		if set("seed") {
			cfg.Split.Seed = o.splitSeed
		}
	case "train":
		if set("epochs") {
			cfg.Train.Epochs = o.epochs
		}
		if set("batch-size") {
			cfg.Train.BatchSize = o.batchSize
		}
		if set("lr") {
			cfg.Train.LearningRate = o.learningRate
		}
		if set("weight-decay") {
			cfg.Train.WeightDecay = o.weightDecay
		}
		if set("dropout") {
			cfg.Train.Dropout = o.dropout
		}
		if set("hidden-dims") {
			cfg.Train.HiddenDims = o.hiddenDims
		}
		if set("patience") {
			cfg.Train.Patience = o.patience
		}
		if set("seed") {
			cfg.Train.Seed = o.trainSeed
		}
		if set("optimizer") {
			cfg.Train.Optimizer = o.optimizer
		}
		if set("clip-norm") {
			cfg.Train.ClipNorm = o.clipNorm
		}
	case "baseline":
		if set("alpha") {
			cfg.Baseline.Alpha = o.alpha
		}
	}
	if set("onnx-name") {
		cfg.Export.ONNXName = o.onnxName
	}
	if set("encoder-name") {
		cfg.Export.EncoderName = o.encoderName
	}
	if set("opset") {
		cfg.Export.Opset = o.opset
	}
}
