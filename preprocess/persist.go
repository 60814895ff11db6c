package preprocess

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Noofbiz/optionscorer/datasets"
	"github.com/Noofbiz/optionscorer/internal/failure"
	"github.com/Noofbiz/optionscorer/internal/logging"
)

// FileName is the preprocessor document written into a data dir.
const FileName = "preprocessor.json"

const stateVersion = "preprocessor.v1"

type document struct {
	Version      string               `json:"version"`
	Schema       datasets.Schema      `json:"schema"`
	Description  Description          `json:"description"`
	Degeneracies []failure.Degeneracy `json:"degeneracies,omitempty"`
}

// Save writes the fitted state as JSON. Saving an unfitted Preprocessor
// is an error.
func (p *Preprocessor) Save(path string) error {
	if !p.fitted {
		return fmt.Errorf("cannot save an unfitted preprocessor")
	}
	doc := document{
		Version:      stateVersion,
		Schema:       p.schema,
		Description:  p.desc,
		Degeneracies: p.degeneracies,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode preprocessor: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create preprocessor dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write preprocessor %s: %w", path, err)
	}
	return nil
}

// Load reads a fitted Preprocessor written by Save. The loaded state is
// checked against its schema; it is never refitted.
func Load(path string, logger *slog.Logger) (*Preprocessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preprocessor %s: %w", path, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, failure.Integrityf("%s: %v", path, err)
	}
	if doc.Version != stateVersion {
		return nil, failure.Integrityf("%s: unsupported preprocessor version %q (want %q)", path, doc.Version, stateVersion)
	}
	if err := doc.Schema.Check(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkDescription(doc.Schema, doc.Description); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Preprocessor{
		schema:       doc.Schema,
		desc:         doc.Description,
		degeneracies: doc.Degeneracies,
		fitted:       true,
		log:          logging.OrDiscard(logger),
	}, nil
}
