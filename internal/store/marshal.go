package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/trcr/internal/ir"
)

// marshalStrings stores a string list as canonical JSON.
func marshalStrings(ss []string) (string, error) {
	arr := make(ir.IRArray, len(ss))
	for i, s := range ss {
		arr[i] = ir.IRString(s)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

// marshalInts stores an int list as canonical JSON.
func marshalInts(ns []int) (string, error) {
	arr := make(ir.IRArray, len(ns))
	for i, n := range ns {
		arr[i] = ir.IRInt(n)
	}
	data, err := ir.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal ints: %w", err)
	}
	return string(data), nil
}

// unmarshalStrings parses a stored string list. Empty lists read back as
// nil so records round-trip to what the engine produced.
func unmarshalStrings(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(data), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	return ss, nil
}

// unmarshalInts parses a stored int list.
func unmarshalInts(data string) ([]int, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ns []int
	if err := json.Unmarshal([]byte(data), &ns); err != nil {
		return nil, fmt.Errorf("unmarshal ints: %w", err)
	}
	return ns, nil
}
