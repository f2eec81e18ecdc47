// Package testdata embeds small feed fixtures shared by engine and pipeline tests.
package testdata

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed cases.csv
var casesCSV []byte

//go:embed counter.json
var counterJSON []byte

// CounterEntity is the entity the fixtures are built around.
const CounterEntity = "Ost-Nord total"

// CasesCSV returns the flat case/death fixture in the upstream CSV layout.
func CasesCSV() []byte {
	return append([]byte(nil), casesCSV...)
}

// CounterRecords parses the embedded counter records. Rows are deliberately
// out of timestamp order and mix JSON numbers with numeric strings.
func CounterRecords() ([]map[string]any, error) {
	var records []map[string]any
	if err := json.Unmarshal(counterJSON, &records); err != nil {
		return nil, fmt.Errorf("parse counter.json: %w", err)
	}
	return records, nil
}

// CounterEnvelope wraps records the way datastore_search answers.
func CounterEnvelope(records []map[string]any) map[string]any {
	if records == nil {
		records = []map[string]any{}
	}
	return map[string]any{
		"success": true,
		"result": map[string]any{
			"total":   len(records),
			"records": records,
		},
	}
}
