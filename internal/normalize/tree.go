package normalize

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Helpers for walking decoded JSON trees (map[string]any, []any, json.Number,
// string, bool, nil). All of them tolerate missing keys and wrong types.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// at descends through nested objects.
func at(v any, keys ...string) (any, bool) {
	cur := v
	for _, k := range keys {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// listAt returns the objects of the array found at keys. Non-object
// elements make the whole array unusable.
func listAt(v any, keys ...string) ([]map[string]any, bool) {
	node, ok := at(v, keys...)
	if !ok {
		return nil, false
	}
	return objects(node)
}

// dictAt returns the single object found at keys.
func dictAt(v any, keys ...string) ([]map[string]any, bool) {
	node, ok := at(v, keys...)
	if !ok {
		return nil, false
	}
	m, ok := asMap(node)
	if !ok {
		return nil, false
	}
	return []map[string]any{m}, true
}

func objects(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			return nil, false
		}
		out = append(out, m)
	}
	return out, true
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// str renders a scalar as a trimmed string. Objects and arrays yield "".
func str(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func strAt(v any, keys ...string) string {
	node, _ := at(v, keys...)
	return str(node)
}

// missingMarkers are placeholders upstreams use for "no reading".
var missingMarkers = map[string]bool{"": true, "-": true, "--": true, "ND": true, "NA": true, "N/A": true, "x": true}

// num parses a numeric scalar. ok is false for missing or placeholder values.
func num(v any) (float64, bool) {
	s := str(v)
	if missingMarkers[s] {
		return 0, false
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numAt(v any, keys ...string) (float64, bool) {
	node, ok := at(v, keys...)
	if !ok {
		return 0, false
	}
	return num(node)
}

// integer parses an integral scalar, accepting "5.0" style values. Values
// outside the int64 range are rejected.
func integer(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := num(v)
	if !ok || f != math.Trunc(f) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// taipei is the fixed +08:00 zone of every upstream. A fixed zone avoids a
// tzdata dependency.
var taipei = time.FixedZone("Asia/Taipei", 8*60*60)

var localLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	time.RFC1123Z,
	time.RFC1123,
}

// parseTime parses upstream timestamps. Values without an offset are local
// Taipei time. The result is UTC.
func parseTime(v any) (time.Time, bool) {
	s := str(v)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, taipei); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
