package extractors

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is one JSON object decoded from a line of tool output.
type Record struct {
	Line   int
	Fields map[string]any
}

// JSONLines decodes every line that looks like a JSON object. Tools mix log
// chatter with JSON, so other lines are ignored; lines that look like objects
// but fail to decode are returned as bad line numbers.
func JSONLines(raw []byte) (records []Record, bad []int) {
	lines, overflow := Lines(raw)
	for _, line := range lines {
		if !strings.HasPrefix(line.Text, "{") || !strings.HasSuffix(line.Text, "}") {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(line.Text), &fields); err != nil {
			bad = append(bad, line.Number)
			continue
		}
		records = append(records, Record{Line: line.Number, Fields: fields})
	}
	if overflow > 0 {
		bad = append(bad, overflow)
	}
	return records, bad
}

// String resolves a dotted path inside the record and renders scalars as text.
func (r Record) String(path string) (string, bool) {
	var current any = r.Fields
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}
	return Scalar(current)
}

// Flatten renders the scalar members of an object as a string map, nesting keys with dots.
func Flatten(fields map[string]any) map[string]string {
	out := make(map[string]string, len(fields))
	flattenInto(out, "", fields)
	return out
}

func flattenInto(out map[string]string, prefix string, fields map[string]any) {
	for k, v := range fields {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(out, key, nested)
			continue
		}
		if s, ok := Scalar(v); ok {
			out[key] = s
		}
	}
}

// Scalar renders JSON strings, numbers and booleans as text. Arrays of scalars are joined with ", ".
func Scalar(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := Scalar(item)
			if !ok {
				return "", false
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), true
	case nil, map[string]any:
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}
