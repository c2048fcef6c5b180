package store

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/roach88/kloop/internal/ir"
)

// MarshalStrategy converts a strategy's knobs to canonical JSON TEXT for
// storage. The name is stored in its own column.
func MarshalStrategy(s ir.Strategy) (string, error) {
	data, err := s.CanonicalJSON()
	if err != nil {
		return "", errors.Wrap(err, "marshal strategy")
	}
	return string(data), nil
}

// unmarshalStrategy parses strategy JSON TEXT. The canonical keys are the
// strategy's json tags.
func unmarshalStrategy(name, data string) (ir.Strategy, error) {
	var s ir.Strategy
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return ir.Strategy{}, errors.Wrap(err, "unmarshal strategy")
	}
	s.Name = name
	return s, nil
}

// marshalStrings converts a list of messages to JSON TEXT.
func marshalStrings(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(list); err != nil {
		return "", errors.Wrap(err, "marshal strings")
	}
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalStrings parses JSON TEXT to a list. Empty lists come back nil.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, errors.Wrap(err, "unmarshal strings")
	}
	return list, nil
}
