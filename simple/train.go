package simple

import (
	"github.com/google/uuid"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Result is everything a training run produces.
type Result struct {
	State      TrainingState
	Checkpoint *Checkpoint
	Report     *MetricsReport
}

// Train fits the model on train with early stopping on val, then restores
// the best epoch's weights and reports final val and test metrics.
//
// Every epoch visits each train row exactly once in a freshly shuffled
// order. Validation is evaluated unshuffled. An empty val or test split is
// tolerated and yields NaN metrics; an empty train split is a
// configuration error.
func (m *Model) Train(train, val, test Dataset) (*Result, error) {
	if train == nil || train.Len() == 0 {
		return nil, failure.Configf("train split is empty")
	}
	for _, ds := range []Dataset{train, val, test} {
		if ds == nil {
			return nil, failure.Configf("missing val or test split")
		}
		if ds.Width() != m.InputDim() {
			return nil, failure.Integrityf("split has %d columns, model expects %d", ds.Width(), m.InputDim())
		}
	}

	n := train.Len()
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	opt := newOptimizer(m)
	state := NewTrainingState()
	for epoch := 1; epoch <= m.Config.Epochs; epoch++ {
		m.rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		trainLoss, err := m.trainEpoch(train, indices, opt)
		if err != nil {
			return nil, err
		}
		vm, err := m.Evaluate(val)
		if err != nil {
			return nil, err
		}
		rec := EpochRecord{
			Epoch:     epoch,
			TrainLoss: Float(trainLoss),
			ValLoss:   vm.Loss,
			MAE:       vm.MAE,
			RMSE:      vm.RMSE,
			R2:        vm.R2,
		}
		state = state.Observe(rec, m.Snapshot, m.Config.Patience)
		m.log.Info("epoch", "epoch", epoch, "train_loss", trainLoss, "val_loss", float64(vm.Loss), "val_mae", float64(vm.MAE))

		if state.Stopped {
			m.log.Info("early stopping triggered", "epoch", epoch, "best_epoch", state.BestEpoch)
			break
		}
	}

	if err := m.Restore(state.Best); err != nil {
		return nil, err
	}
	finalVal, err := m.Evaluate(val)
	if err != nil {
		return nil, err
	}
	finalTest, err := m.Evaluate(test)
	if err != nil {
		return nil, err
	}

	report := &MetricsReport{
		RunID:        uuid.NewString(),
		Device:       "cpu",
		BestEpoch:    state.BestEpoch,
		EpochsRun:    len(state.History),
		StoppedEarly: state.Stopped,
		Val:          finalVal,
		Test:         finalTest,
		History:      state.History,
	}
	report.Degeneracies = append(degeneracies("val", finalVal), degeneracies("test", finalTest)...)
	for _, d := range report.Degeneracies {
		m.log.Warn("degenerate metric", "metric", d.Feature, "reason", d.Reason)
	}

	return &Result{
		State:      state,
		Checkpoint: m.Checkpoint(state.BestEpoch),
		Report:     report,
	}, nil
}
