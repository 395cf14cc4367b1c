package analysis

import (
	"encoding/json"
	"fmt"
)

// resultColumns holds the JSON-encoded result fields as stored.
type resultColumns struct {
	differential   []byte
	plan           []byte
	visualFindings []byte
}

func encodeResult(a *Analysis) (resultColumns, error) {
	var cols resultColumns
	var err error
	if a.Differential != nil {
		if cols.differential, err = json.Marshal(a.Differential); err != nil {
			return cols, fmt.Errorf("encode differential: %w", err)
		}
	}
	if a.Plan != nil {
		if cols.plan, err = json.Marshal(a.Plan); err != nil {
			return cols, fmt.Errorf("encode plan: %w", err)
		}
	}
	if a.VisualFindings != nil {
		if cols.visualFindings, err = json.Marshal(a.VisualFindings); err != nil {
			return cols, fmt.Errorf("encode visual findings: %w", err)
		}
	}
	return cols, nil
}

func (cols resultColumns) decodeInto(a *Analysis) error {
	if len(cols.differential) > 0 {
		if err := json.Unmarshal(cols.differential, &a.Differential); err != nil {
			return fmt.Errorf("decode differential: %w", err)
		}
	}
	if len(cols.plan) > 0 {
		if err := json.Unmarshal(cols.plan, &a.Plan); err != nil {
			return fmt.Errorf("decode plan: %w", err)
		}
	}
	if len(cols.visualFindings) > 0 {
		if err := json.Unmarshal(cols.visualFindings, &a.VisualFindings); err != nil {
			return fmt.Errorf("decode visual findings: %w", err)
		}
	}
	return nil
}
