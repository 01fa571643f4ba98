// Package normalize maps variably-shaped upstream payloads onto canonical
// records.
//
// Every normalizer follows the same algorithm:
//
//  1. A canonical record, or its canonical JSON tree, is returned unchanged.
//     Normalizing twice is therefore the same as normalizing once.
//  2. Otherwise the known wire shapes of the source are tried in a fixed
//     priority order. The first shape whose items carry every required field
//     wins.
//  3. If no shape fits, the result is an UnexpectedShape error (or
//     MissingRequiredField when a shape matched but an item lacked a
//     required field, or EmptySchema when the payload only lists field
//     definitions). Missing data is never synthesized.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Normalizer maps a raw tree produced by Decode to a canonical record.
type Normalizer interface {
	Name() string
	Normalize(raw any) (any, error)
}

// shape is one known wire layout. extract locates the item objects; ok is
// false when the payload does not have this layout at all.
type shape struct {
	name    string
	extract func(raw any) (items []map[string]any, ok bool)
}

// matchShapes tries shapes in order and parses items of the first shape for
// which every item parses. A shape with zero items is a valid empty result.
func matchShapes[T any](raw any, shapes []shape, parse func(map[string]any) (T, error)) ([]T, error) {
	var firstFieldErr error
	for _, s := range shapes {
		items, ok := s.extract(raw)
		if !ok {
			continue
		}
		out := make([]T, 0, len(items))
		var parseErr error
		for _, item := range items {
			rec, err := parse(item)
			if err != nil {
				parseErr = err
				break
			}
			out = append(out, rec)
		}
		if parseErr == nil {
			return out, nil
		}
		if firstFieldErr == nil {
			firstFieldErr = parseErr
		}
	}

	if firstFieldErr != nil {
		return nil, firstFieldErr
	}
	if isEmptySchema(raw) {
		return nil, &domain.NormalizationError{Kind: domain.EmptySchema, Err: errors.New("payload lists field definitions but no records")}
	}
	return nil, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: fmt.Errorf("no known layout matches %s", describe(raw))}
}

// isEmptySchema detects the CWA/MOENV placeholder body returned for
// unauthorized keys: {"result": {"fields": [...]}} or {"fields": [...]}
// with no records at all.
func isEmptySchema(raw any) bool {
	if v, _ := at(raw, "records"); v != nil {
		return false
	}
	if v, _ := at(raw, "result", "records"); v != nil {
		return false
	}
	_, rootFields := at(raw, "fields")
	_, resultFields := at(raw, "result", "fields")
	return rootFields || resultFields
}

func describe(raw any) string {
	switch v := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 8 {
			keys = append(keys[:8], "...")
		}
		return fmt.Sprintf("object with keys %v", keys)
	case []any:
		return fmt.Sprintf("array of %d", len(v))
	case *XMLNode:
		return fmt.Sprintf("xml <%s>", v.Name)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", raw)
	}
}

// canonical decodes a canonical JSON tree into T. It only applies when raw is
// an object holding marker as an array (or, for single-object records, as a
// scalar), so upstream payloads never take this path.
func canonical[T any](raw any, marker string) (T, bool, error) {
	var zero T
	m, ok := asMap(raw)
	if !ok {
		return zero, false, nil
	}
	if _, ok := m[marker]; !ok {
		return zero, false, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return zero, true, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: err}
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, true, &domain.NormalizationError{Kind: domain.UnexpectedShape, Err: fmt.Errorf("canonical %T: %w", out, err)}
	}
	return out, true, nil
}

func missing(field string) error {
	return &domain.NormalizationError{Kind: domain.MissingRequiredField, Field: field}
}

// Registry resolves normalizers by name.
type Registry struct {
	byName map[string]Normalizer
}

// NewRegistry returns a registry holding every built-in normalizer.
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	r := &Registry{byName: make(map[string]Normalizer)}
	for _, n := range []Normalizer{
		Earthquake{},
		Forecast{},
		Reservoir{},
		CCTV{},
		Alerts{},
		AirQuality{},
		LiveBoard{},
		Token{Clock: clock},
	} {
		r.Register(n)
	}
	return r
}

// Register adds or replaces a normalizer.
func (r *Registry) Register(n Normalizer) {
	r.byName[n.Name()] = n
}

// Get returns the normalizer called name.
func (r *Registry) Get(name string) (Normalizer, bool) {
	n, ok := r.byName[name]
	return n, ok
}

// Names lists registered normalizers in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
