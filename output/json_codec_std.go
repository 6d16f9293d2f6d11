//go:build !jsonv2

package output

import (
	"encoding/json"
	"strings"
)

// encodeNested renders value for a report position depth levels deep.
func encodeNested(value any, depth int) ([]byte, error) {
	return json.MarshalIndent(value, strings.Repeat(reportIndent, depth), reportIndent)
}

// decodeDetails parses a ledger action's JSON details column.
func decodeDetails(raw string) (map[string]any, error) {
	details := map[string]any{}
	if raw == "" {
		return details, nil
	}
	if err := json.Unmarshal([]byte(raw), &details); err != nil {
		return nil, err
	}
	return details, nil
}
