package state

import (
	"encoding/json"
	"fmt"

	"github.com/datalign/datalign/pkg/core"
)

// JSON codecs for the map and slice columns. SQLite has no native map
// type, so these surfaces are stored as JSON text.

func marshalFields(fields core.FieldMap) (string, error) {
	if fields == nil {
		fields = core.FieldMap{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalFields(data string) (core.FieldMap, error) {
	fields := core.FieldMap{}
	if data == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("invalid field map: %w", err)
	}
	return fields, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStringMap(data string) (map[string]string, error) {
	m := map[string]string{}
	if data == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("invalid string map: %w", err)
	}
	return m, nil
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var ss []string
	if data == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(data), &ss); err != nil {
		return nil, fmt.Errorf("invalid string list: %w", err)
	}
	return ss, nil
}
