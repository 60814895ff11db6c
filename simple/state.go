package simple

import (
	"fmt"
	"math"
)

// Snapshot is a deep copy of the model parameters.
type Snapshot struct {
	Weights [][][]float32
	Biases  [][]float32
}

// Snapshot copies the current parameters.
func (m *Model) Snapshot() *Snapshot {
	s := &Snapshot{
		Weights: make([][][]float32, len(m.weights)),
		Biases:  make([][]float32, len(m.biases)),
	}
	for l := range m.weights {
		s.Weights[l] = make([][]float32, len(m.weights[l]))
		for j, row := range m.weights[l] {
			s.Weights[l][j] = append([]float32(nil), row...)
		}
		s.Biases[l] = append([]float32(nil), m.biases[l]...)
	}
	return s
}

// Restore loads parameters from s. The snapshot must match the model's
// layer sizes exactly.
func (m *Model) Restore(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if err := checkShapes(m.layerSizes, s.Weights, s.Biases); err != nil {
		return err
	}
	for l := range m.weights {
		for j := range m.weights[l] {
			copy(m.weights[l][j], s.Weights[l][j])
		}
		copy(m.biases[l], s.Biases[l])
	}
	return nil
}

// EpochRecord is one row of the training history.
type EpochRecord struct {
	Epoch     int   `json:"epoch"`
	TrainLoss Float `json:"train_loss"`
	ValLoss   Float `json:"val_loss"`
	MAE       Float `json:"mae"`
	RMSE      Float `json:"rmse"`
	R2        Float `json:"r2"`
}

// TrainingState is the early-stopping bookkeeping carried from one epoch
// to the next. Observe never mutates its receiver.
type TrainingState struct {
	BestLoss         float64
	BestEpoch        int
	Best             *Snapshot
	SinceImprovement int
	History          []EpochRecord
	Stopped          bool
}

// NewTrainingState returns the state before the first epoch.
func NewTrainingState() TrainingState {
	return TrainingState{BestLoss: math.Inf(1)}
}

// Observe folds one finished epoch into the state. An epoch improves when
// its validation loss is strictly below the best so far; the first epoch
// always becomes the best so a checkpoint exists even when validation loss
// is never finite, and any number beats a NaN best. snapshot is called only
// on improvement. Training stops
// once patience consecutive epochs fail to improve; patience <= 0 never
// stops early.
func (s TrainingState) Observe(rec EpochRecord, snapshot func() *Snapshot, patience int) TrainingState {
	next := s
	next.History = make([]EpochRecord, len(s.History), len(s.History)+1)
	copy(next.History, s.History)
	next.History = append(next.History, rec)

	loss := float64(rec.ValLoss)
	if s.Best == nil || loss < s.BestLoss || (math.IsNaN(s.BestLoss) && !math.IsNaN(loss)) {
		next.BestLoss = loss
		next.BestEpoch = rec.Epoch
		next.Best = snapshot()
		next.SinceImprovement = 0
		return next
	}

	next.SinceImprovement = s.SinceImprovement + 1
	if patience > 0 && next.SinceImprovement >= patience {
		next.Stopped = true
	}
	return next
}
