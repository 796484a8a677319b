// Package resource implements resource registration, parameter validation,
// instance deduplication, and subscriber fan-out on top of internal/reactive.
package resource

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

// Params is a validated, canonically-ordered parameter record. Field access
// goes through Get/GetPath rather than a typed struct, matching the
// spec's "validates arbitrary JSON into a typed record" contract without
// requiring one Go struct per resource.
type Params struct {
	raw  map[string]any
	json string
}

// Get returns a top-level field.
func (p Params) Get(key string) (any, bool) {
	v, ok := p.raw[key]
	return v, ok
}

// GetPath evaluates a JSONPath expression (e.g. "$.filters[0].symbol")
// against the parameters, grounded on PaesslerAG/jsonpath for factories
// that need to reach into nested structures without a bespoke struct.
func (p Params) GetPath(expr string) (any, error) {
	return jsonpath.Get(expr, p.raw)
}

// Raw returns the underlying decoded JSON value map. Callers must treat it
// as read-only.
func (p Params) Raw() map[string]any { return p.raw }

// String returns the canonical JSON encoding used for fingerprinting.
func (p Params) String() string { return p.json }

// FieldSpec describes one required or optional parameter field.
type FieldSpec struct {
	Name     string
	Required bool
	// Kind is one of "string", "number", "bool", "array", "object"; empty
	// means any JSON type is accepted.
	Kind string
}

// Schema is a resource's parameter contract: a flat field list validated
// with gjson against the raw request body before a factory ever sees it.
// It intentionally does not attempt general-purpose JSON Schema semantics
// (oneOf/allOf/refs) — resources needing more expressive validation reach
// into Params.GetPath themselves inside their factory.
type Schema struct {
	Fields []FieldSpec
}

// Validate parses raw JSON bytes, checks every required field is present
// and (when Kind is set) of the matching JSON type, and returns canonical
// Params on success.
func (s Schema) Validate(body []byte) (Params, error) {
	if !gjson.ValidBytes(body) {
		return Params{}, fmt.Errorf("resource: params is not valid JSON")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return Params{}, fmt.Errorf("resource: params must be a JSON object")
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Params{}, fmt.Errorf("resource: decode params: %w", err)
	}

	for _, f := range s.Fields {
		res := parsed.Get(f.Name)
		if !res.Exists() {
			if f.Required {
				return Params{}, fmt.Errorf("resource: missing required field %q", f.Name)
			}
			continue
		}
		if f.Kind == "" {
			continue
		}
		if !kindMatches(res, f.Kind) {
			return Params{}, fmt.Errorf("resource: field %q must be of kind %q", f.Name, f.Kind)
		}
	}

	canon, err := canonicalJSON(raw)
	if err != nil {
		return Params{}, fmt.Errorf("resource: canonicalize params: %w", err)
	}
	return Params{raw: raw, json: canon}, nil
}

func kindMatches(res gjson.Result, kind string) bool {
	switch kind {
	case "string":
		return res.Type == gjson.String
	case "number":
		return res.Type == gjson.Number
	case "bool":
		return res.Type == gjson.True || res.Type == gjson.False
	case "array":
		return res.IsArray()
	case "object":
		return res.IsObject()
	default:
		return true
	}
}

// canonicalJSON re-encodes v with object keys sorted lexically at every
// nesting level, so two semantically-equal parameter maps always produce
// identical bytes regardless of original key order (spec §4.6 fingerprint).
func canonicalJSON(v any) (string, error) {
	canon, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func canonicalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]canonicalEntry, 0, len(keys))
		for _, k := range keys {
			cv, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, canonicalEntry{Key: k, Value: cv})
		}
		return canonicalObject(out), nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			cv, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	default:
		return val, nil
	}
}

type canonicalEntry struct {
	Key   string
	Value any
}

// canonicalObject marshals as a JSON object with keys in insertion order
// (already sorted by canonicalize), since encoding/json would otherwise
// re-sort a map[string]any itself — this just makes the sort explicit and
// independent of that implementation detail.
type canonicalObject []canonicalEntry

func (c canonicalObject) MarshalJSON() ([]byte, error) {
	out := []byte{'{'}
	for i, e := range c {
		if i > 0 {
			out = append(out, ',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, k...)
		out = append(out, ':')
		out = append(out, v...)
	}
	out = append(out, '}')
	return out, nil
}
