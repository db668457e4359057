package main

import (
	"fmt"
	"strings"

	"github.com/danmuck/stackwire/internal/value"
)

// parseArg reads a call argument written as type:value. Arrays take comma separated
// elements ("int32[]:1,2,3") and an empty value is null.
func parseArg(raw string) (value.Value, error) {
	typName, text, ok := strings.Cut(raw, ":")
	if !ok {
		return value.Value{}, fmt.Errorf("argument %q: want type:value", raw)
	}
	t, err := value.ParseType(typName)
	if err != nil {
		return value.Value{}, fmt.Errorf("argument %q: %w", raw, err)
	}
	if t.IsTable() {
		return value.Value{}, fmt.Errorf("argument %q: tables cannot be passed on the command line", raw)
	}
	if !t.IsArray() {
		v, err := value.DecodeText(t, text)
		if err != nil {
			return value.Value{}, fmt.Errorf("argument %q: %w", raw, err)
		}
		return v, nil
	}

	if text == "" {
		return value.Null(t), nil
	}
	parts := strings.Split(text, ",")
	elems := make([]value.Value, len(parts))
	for i, p := range parts {
		if elems[i], err = value.DecodeText(t.Elem(), strings.TrimSpace(p)); err != nil {
			return value.Value{}, fmt.Errorf("argument %q element %d: %w", raw, i, err)
		}
	}
	return value.Array(t.Elem(), elems...)
}

func parseArgs(raw []string) ([]value.Value, error) {
	out := make([]value.Value, 0, len(raw))
	for _, r := range raw {
		v, err := parseArg(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
