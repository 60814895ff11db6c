// Package failure holds the error kinds shared by every pipeline stage.
//
// Two kinds are fatal and travel as wrapped errors:
//
//   - ErrConfiguration: invalid split fractions, an empty train split, a
//     checkpoint whose architecture does not match what is being built.
//   - ErrDataIntegrity: a scenario id carrying more than one split label,
//     column counts that differ between splits, artifacts that disagree.
//
// Numeric degeneracies (zero-variance features, non-finite R²) are not
// errors. They are collected as Degeneracy values and reported.
package failure

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrDataIntegrity = errors.New("data integrity error")
)

// Configf returns an error wrapping ErrConfiguration.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Integrityf returns an error wrapping ErrDataIntegrity.
func Integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// Degeneracy records a non-fatal numeric problem.
type Degeneracy struct {
	Feature string `json:"feature"`
	Reason  string `json:"reason"`
}

func (d Degeneracy) String() string {
	return d.Feature + ": " + d.Reason
}
