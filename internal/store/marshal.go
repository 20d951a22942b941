package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// marshalQuantities converts a quantity map to JSON TEXT.
// Keys are sorted by encoding/json; values are decimal strings so no
// precision is lost.
func marshalQuantities(m map[string]decimal.Decimal) (string, error) {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.String()
	}
	return encodeJSON(out)
}

// unmarshalQuantities parses JSON TEXT produced by marshalQuantities.
func unmarshalQuantities(data string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if data == "" || data == "{}" {
		return out, nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal quantities: %w", err)
	}
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("unmarshal quantities: %q: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}

// marshalNames converts a name list to a JSON array TEXT.
func marshalNames(names []string) (string, error) {
	if names == nil {
		names = []string{}
	}
	return encodeJSON(names)
}

// unmarshalNames parses a JSON array TEXT.
func unmarshalNames(data string) ([]string, error) {
	names := []string{}
	if data == "" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal names: %w", err)
	}
	return names, nil
}

// encodeJSON encodes v without HTML escaping so ingredient names such as
// "milk & honey" are stored as written.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}
