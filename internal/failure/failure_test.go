package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("prepare: %w", Configf("val+test=%.2f must be < 1", 1.2))
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, errors.Is(err, ErrDataIntegrity))
	assert.Contains(t, err.Error(), "val+test=1.20")

	err = Integrityf("scenario %q in %d splits", "s-1", 2)
	assert.True(t, errors.Is(err, ErrDataIntegrity))
	assert.Equal(t, `data integrity error: scenario "s-1" in 2 splits`, err.Error())
}

func TestDegeneracyString(t *testing.T) {
	d := Degeneracy{Feature: "certainty", Reason: "zero variance"}
	assert.Equal(t, "certainty: zero variance", d.String())
}
