// Package normalize maps the provider's inconsistent JSON field names onto one
// canonical schema. Every logical field is described by a table row listing the
// upstream names it has been seen under; the first present, non-empty value wins.
package normalize

import (
	"strings"
)

// Kind selects the coercion applied to a field value.
type Kind int

const (
	KindText    Kind = iota // string, "" when absent
	KindID                  // string, nil when absent
	KindAmount              // float64, 0.0 when absent or unparsable
	KindReading             // float64, nil when absent or unparsable
	KindCount               // integral float64, nil when absent or unparsable
	KindDate                // string kept verbatim, nil when absent
	KindRaw                 // value passed through
)

// Field describes one canonical field. Sources are dotted paths, tried in order.
// The canonical Name should be the first source so output re-normalizes to itself.
type Field struct {
	Name    string
	Sources []string
	Kind    Kind
}

// Schema is an ordered field table.
type Schema []Field

// Record is a normalized object keyed by canonical names. Every schema field is present.
type Record map[string]any

// Apply normalizes raw (a decoded JSON object) against the schema.
func (s Schema) Apply(raw any) Record {
	var obj map[string]any
	switch t := raw.(type) {
	case map[string]any:
		obj = t
	case Record:
		obj = t
	}
	out := make(Record, len(s))
	for _, f := range s {
		out[f.Name] = f.coerce(First(obj, f.Sources...))
	}
	return out
}

// ApplyAll normalizes each element of list.
func (s Schema) ApplyAll(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		switch item.(type) {
		case map[string]any, Record:
			out = append(out, s.Apply(item))
		}
	}
	return out
}

// Empty returns a record with every field at its placeholder value.
func (s Schema) Empty() Record {
	return s.Apply(nil)
}

func (f Field) coerce(v any) any {
	switch f.Kind {
	case KindText:
		return Text(v)
	case KindID:
		if s := Text(v); s != "" {
			return s
		}
		return nil
	case KindAmount:
		return ParseAmount(v)
	case KindReading:
		if n, ok := ParseNumber(v); ok {
			return n
		}
		return nil
	case KindCount:
		if n, ok := ParseNumber(v); ok && n == float64(int64(n)) {
			return n
		}
		return nil
	case KindDate:
		if s := Text(v); s != "" {
			return s
		}
		return nil
	default:
		return v
	}
}

// First returns the first present, non-nil, non-empty value among paths.
func First(obj map[string]any, paths ...string) any {
	if obj == nil {
		return nil
	}
	for _, p := range paths {
		v, ok := Lookup(obj, p)
		if ok && !isEmpty(v) {
			return v
		}
	}
	return nil
}

// FirstText is First rendered as a string.
func FirstText(obj map[string]any, paths ...string) string {
	return Text(First(obj, paths...))
}

// Lookup walks a dotted path through nested objects.
func Lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// Unwrap peels {"data": ...} envelopes, possibly nested.
func Unwrap(raw any) any {
	for i := 0; i < 3; i++ {
		obj, ok := raw.(map[string]any)
		if !ok {
			return raw
		}
		inner, ok := obj["data"]
		if !ok || inner == nil {
			return raw
		}
		raw = inner
	}
	return raw
}

var listKeys = []string{"items", "data", "list", "results", "invoices", "records"}

// Records extracts a list of objects from a response: a bare array, or the
// first array found under a known list key (searched through envelopes).
func Records(raw any) []any {
	for depth := 0; depth < 4; depth++ {
		switch t := raw.(type) {
		case []any:
			return t
		case map[string]any:
			next := any(nil)
			for _, k := range listKeys {
				if v, ok := t[k]; ok && v != nil {
					next = v
					break
				}
			}
			if next == nil {
				return nil
			}
			raw = next
		default:
			return nil
		}
	}
	return nil
}

// Object returns the unwrapped response as an object; a single-element list
// is accepted as its only element.
func Object(raw any) map[string]any {
	raw = Unwrap(raw)
	switch t := raw.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if m, ok := t[0].(map[string]any); ok {
				return m
			}
		}
	}
	return nil
}
