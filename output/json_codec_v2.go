//go:build jsonv2

package output

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
	"strings"
)

func encodeNested(value any, depth int) ([]byte, error) {
	return jsonv2.Marshal(value, jsonv2.JoinOptions(
		jsontext.WithIndent(reportIndent),
		jsontext.WithIndentPrefix(strings.Repeat(reportIndent, depth)),
	))
}

func decodeDetails(raw string) (map[string]any, error) {
	details := map[string]any{}
	if raw == "" {
		return details, nil
	}
	if err := jsonv2.Unmarshal([]byte(raw), &details); err != nil {
		return nil, err
	}
	return details, nil
}
