package datasets

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Noofbiz/optionscorer/internal/failure"
)

// Schema names the columns of the option-row table.
type Schema struct {
	ID          string   `json:"id" yaml:"id"`
	Target      string   `json:"target" yaml:"target"`
	Numeric     []string `json:"numeric_features" yaml:"numeric"`
	Categorical []string `json:"categorical_features" yaml:"categorical"`
}

// DefaultSchema is the option-row layout exported by the scenario generator.
func DefaultSchema() Schema {
	return Schema{
		ID:     "scenario_id",
		Target: "expected_harm",
		Numeric: []string{
			"include_controversial",
			"include_extended",
			"include_network",
			"occupants",
			"occupant_age",
			"occupant_pregnant",
			"pedestrians",
			"pedestrian_age",
			"pedestrian_pregnant",
			"certainty",
			"total_people",
			"life_years_lost",
		},
		Categorical: []string{
			"option",
			"connectedness",
			"occupant_job",
			"occupant_health",
			"occupant_criminal",
			"occupant_legal_fault",
			"occupant_risk",
			"occupant_species",
			"occupant_network",
			"pedestrian_job",
			"pedestrian_health",
			"pedestrian_criminal",
			"pedestrian_legal_fault",
			"pedestrian_risk",
			"pedestrian_species",
			"pedestrian_network",
			"severity",
		},
	}
}

// Columns returns every column the schema reads.
func (s Schema) Columns() []string {
	cols := make([]string, 0, 2+len(s.Numeric)+len(s.Categorical))
	cols = append(cols, s.ID, s.Target)
	cols = append(cols, s.Numeric...)
	cols = append(cols, s.Categorical...)
	return cols
}

// Check rejects schemas with missing or repeated column names.
func (s Schema) Check() error {
	if s.ID == "" || s.Target == "" {
		return failure.Configf("schema needs id and target columns")
	}
	if len(s.Numeric)+len(s.Categorical) == 0 {
		return failure.Configf("schema declares no feature columns")
	}
	seen := make(map[string]bool)
	for _, c := range s.Columns() {
		if c == "" {
			return failure.Configf("schema has an empty column name")
		}
		if seen[c] {
			return failure.Configf("column %q declared twice", c)
		}
		seen[c] = true
	}
	return nil
}

// ScenarioRow is one option of one scenario. Numeric and Categorical follow
// the schema's column order.
type ScenarioRow struct {
	ScenarioID  string
	Numeric     []float64
	Categorical []Value
	Target      float64
}

// ReadOptionRows loads every row of the CSV at path.
func ReadOptionRows(path string, schema Schema) ([]ScenarioRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open option rows %s: %w", path, err)
	}
	defer file.Close()

	rows, err := ReadRows(file, schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadRows parses option rows from CSV. The header must contain every
// schema column; extra columns are ignored. Categorical columns are typed
// as a whole once all rows are read.
func ReadRows(r io.Reader, schema Schema) ([]ScenarioRow, error) {
	if err := schema.Check(); err != nil {
		return nil, err
	}
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.TrimSpace(col)] = i
	}
	for _, col := range schema.Columns() {
		if _, ok := colIndex[col]; !ok {
			return nil, failure.Integrityf("required column %q not found in CSV", col)
		}
	}

	var rows []ScenarioRow
	catCells := make([][]string, len(schema.Categorical))
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", line, err)
		}

		row := ScenarioRow{
			ScenarioID: strings.TrimSpace(record[colIndex[schema.ID]]),
			Numeric:    make([]float64, len(schema.Numeric)),
		}
		if row.ScenarioID == "" {
			return nil, failure.Integrityf("row %d: empty %s", line, schema.ID)
		}
		row.Target, err = parseFloat(record[colIndex[schema.Target]])
		if err != nil {
			return nil, failure.Integrityf("row %d: %s: %v", line, schema.Target, err)
		}
		for i, col := range schema.Numeric {
			row.Numeric[i], err = parseFloat(record[colIndex[col]])
			if err != nil {
				return nil, failure.Integrityf("row %d: %s: %v", line, col, err)
			}
		}
		for i, col := range schema.Categorical {
			catCells[i] = append(catCells[i], record[colIndex[col]])
		}
		rows = append(rows, row)
	}

	typed := make([][]Value, len(catCells))
	for i, cells := range catCells {
		typed[i] = typeColumn(cells)
	}
	for r := range rows {
		rows[r].Categorical = make([]Value, len(schema.Categorical))
		for c := range typed {
			rows[r].Categorical[c] = typed[c][r]
		}
	}
	return rows, nil
}

// UniqueScenarioIDs returns scenario ids in order of first appearance.
func UniqueScenarioIDs(rows []ScenarioRow) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, r := range rows {
		if !seen[r.ScenarioID] {
			seen[r.ScenarioID] = true
			ids = append(ids, r.ScenarioID)
		}
	}
	return ids
}
