package datasets

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Label is the split a scenario belongs to.
type Label int

const (
	LabelTrain Label = iota
	LabelVal
	LabelTest
)

func (l Label) String() string {
	switch l {
	case LabelTrain:
		return "train"
	case LabelVal:
		return "val"
	case LabelTest:
		return "test"
	}
	return fmt.Sprintf("Label(%d)", int(l))
}

// Labels lists the splits in pipeline order.
var Labels = []Label{LabelTrain, LabelVal, LabelTest}

// Split is a scenario-level train/val/test partition.
type Split struct {
	Train []string
	Val   []string
	Test  []string

	labels map[string]Label
}

// SplitIDs partitions distinct scenario ids. The first cut holds out
// val+test of the ids using seed; the second cut takes test/(val+test) of
// the held-out ids as test using seed+1. Each cut holds out ceil(f*n) ids,
// so a fraction that selects nothing yields an empty split.
func SplitIDs(ids []string, valFrac, testFrac float64, seed int64) (*Split, error) {
	if valFrac < 0 || testFrac < 0 {
		return nil, failure.Configf("split fractions must be non-negative (val=%g test=%g)", valFrac, testFrac)
	}
	held := valFrac + testFrac
	if held <= 0 || held >= 1 {
		return nil, failure.Configf("val+test must be in (0, 1), got %g", held)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, failure.Integrityf("scenario id %q listed twice", id)
		}
		seen[id] = true
	}

	train, temp := holdOut(ids, held, seed)
	val, test := holdOut(temp, testFrac/held, seed+1)

	s := &Split{Train: train, Val: val, Test: test}
	if err := s.index(); err != nil {
		return nil, err
	}
	return s, nil
}

// fracEpsilon absorbs representation error so that 0.3 of 100 holds out
// 30 rather than 31.
const fracEpsilon = 1e-9

// holdOut permutes ids with a source seeded by seed and returns
// (kept, held) where held is the first ceil(frac*n) of the permutation.
func holdOut(ids []string, frac float64, seed int64) (kept, held []string) {
	n := len(ids)
	nHeld := int(math.Ceil(frac*float64(n) - fracEpsilon))
	if nHeld > n {
		nHeld = n
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	held = make([]string, 0, nHeld)
	kept = make([]string, 0, n-nHeld)
	for i, p := range perm {
		if i < nHeld {
			held = append(held, ids[p])
		} else {
			kept = append(kept, ids[p])
		}
	}
	return kept, held
}

func (s *Split) index() error {
	s.labels = make(map[string]Label, len(s.Train)+len(s.Val)+len(s.Test))
	for _, l := range Labels {
		for _, id := range s.IDs(l) {
			if prev, ok := s.labels[id]; ok {
				return failure.Integrityf("scenario %q assigned to both %s and %s", id, prev, l)
			}
			s.labels[id] = l
		}
	}
	return nil
}

// IDs returns the ids carrying label l.
func (s *Split) IDs(l Label) []string {
	switch l {
	case LabelTrain:
		return s.Train
	case LabelVal:
		return s.Val
	case LabelTest:
		return s.Test
	}
	return nil
}

// Label reports the split of a scenario id.
func (s *Split) Label(id string) (Label, bool) {
	if s.labels == nil {
		if err := s.index(); err != nil {
			return 0, false
		}
	}
	l, ok := s.labels[id]
	return l, ok
}

// Validate checks that no scenario appears in two splits.
func (s *Split) Validate() error {
	return s.index()
}

// Len is the number of scenario ids across all splits.
func (s *Split) Len() int {
	return len(s.Train) + len(s.Val) + len(s.Test)
}

// AssignRows buckets rows by their scenario's split, preserving row order.
// Every row of a scenario lands in the same bucket.
func (s *Split) AssignRows(rows []ScenarioRow) (map[Label][]ScenarioRow, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	out := map[Label][]ScenarioRow{
		LabelTrain: nil,
		LabelVal:   nil,
		LabelTest:  nil,
	}
	for _, r := range rows {
		l, ok := s.labels[r.ScenarioID]
		if !ok {
			return nil, failure.Integrityf("scenario %q has no split label", r.ScenarioID)
		}
		out[l] = append(out[l], r)
	}
	return out, nil
}
