package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Kind discriminates the three shapes a Value can take.
type Kind int

const (
	KindScalar Kind = iota
	KindMap
	KindList
)

// Value is a tagged JSON value. Session state, deltas, and action inputs
// cross the store boundary as Values so the merge rule is an explicit
// branch on Kind rather than a runtime type switch over interface{}.
// The zero Value is a null scalar.
type Value struct {
	kind   Kind
	scalar any // string, float64, bool, or nil
	mapv   map[string]Value
	listv  []Value
}

// Null returns the null scalar value.
func Null() Value { return Value{} }

// String returns a string scalar.
func String(s string) Value { return Value{scalar: s} }

// Number returns a numeric scalar. JSON numbers are float64 throughout.
func Number(f float64) Value { return Value{scalar: f} }

// Int returns a numeric scalar from an int.
func Int(i int) Value { return Value{scalar: float64(i)} }

// Bool returns a boolean scalar.
func Bool(b bool) Value { return Value{scalar: b} }

// Map returns a map value over the given entries. A nil argument yields an
// empty map, not null.
func Map(entries map[string]Value) Value {
	if entries == nil {
		entries = make(map[string]Value)
	}
	return Value{kind: KindMap, mapv: entries}
}

// List returns a list value over the given elements.
func List(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindList, listv: elems}
}

// Kind reports the shape of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null scalar.
func (v Value) IsNull() bool { return v.kind == KindScalar && v.scalar == nil }

// Scalar returns the underlying scalar. It is nil for maps and lists.
func (v Value) Scalar() any {
	if v.kind != KindScalar {
		return nil
	}
	return v.scalar
}

// StringVal returns the scalar as a string when it is one.
func (v Value) StringVal() (string, bool) {
	s, ok := v.scalar.(string)
	return s, ok && v.kind == KindScalar
}

// NumberVal returns the scalar as a float64 when it is one.
func (v Value) NumberVal() (float64, bool) {
	f, ok := v.scalar.(float64)
	return f, ok && v.kind == KindScalar
}

// Get returns the entry for a key of a map value.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.mapv[key]
	return val, ok
}

// Len returns the entry or element count for maps and lists, zero otherwise.
func (v Value) Len() int {
	switch v.kind {
	case KindMap:
		return len(v.mapv)
	case KindList:
		return len(v.listv)
	default:
		return 0
	}
}

// Entries returns a copy of a map value's entries.
func (v Value) Entries() map[string]Value {
	out := make(map[string]Value, len(v.mapv))
	for k, val := range v.mapv {
		out[k] = val
	}
	return out
}

// Elems returns a copy of a list value's elements.
func (v Value) Elems() []Value {
	out := make([]Value, len(v.listv))
	copy(out, v.listv)
	return out
}

// FromAny converts a decoded-JSON interface tree into a Value.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Int(t)
	case int64:
		return Number(float64(t))
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case string:
		return String(t)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, val := range t {
			m[k] = FromAny(val)
		}
		return Map(m)
	case []any:
		l := make([]Value, len(t))
		for i, val := range t {
			l[i] = FromAny(val)
		}
		return Value{kind: KindList, listv: l}
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny converts a Value back into the interface-tree JSON shape.
func (v Value) ToAny() any {
	switch v.kind {
	case KindMap:
		m := make(map[string]any, len(v.mapv))
		for k, val := range v.mapv {
			m[k] = val.ToAny()
		}
		return m
	case KindList:
		l := make([]any, len(v.listv))
		for i, val := range v.listv {
			l[i] = val.ToAny()
		}
		return l
	default:
		return v.scalar
	}
}

// MarshalJSON encodes the value as ordinary JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON decodes ordinary JSON into the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	*v = FromAny(x)
	return nil
}

// Merge applies a delta to a base value.
//
// The rule is a shallow-recursive merge, not a general patch: when base and
// delta are both maps, delta keys are merged in; a key whose value is a map
// on both sides is combined one level deep (the delta's inner values
// replace the base's wholesale), while list-valued and scalar-valued keys
// replace the base entry entirely. Anything other than map-onto-map
// replaces the base outright.
func Merge(base, delta Value) Value {
	if base.kind != KindMap || delta.kind != KindMap {
		return delta
	}

	out := base.Entries()
	for key, dv := range delta.mapv {
		bv, exists := out[key]
		if exists && bv.kind == KindMap && dv.kind == KindMap {
			inner := bv.Entries()
			for ik, iv := range dv.mapv {
				inner[ik] = iv
			}
			out[key] = Map(inner)
			continue
		}
		out[key] = dv
	}
	return Map(out)
}

// canonicalAppend writes a deterministic serialization of the value: map
// keys are emitted in sorted order at every depth, lists in element order.
// The cache key derives from this form so identical (filters, sort) inputs
// always hash identically regardless of map iteration order.
func canonicalAppend(sb *strings.Builder, v Value) {
	switch v.kind {
	case KindMap:
		keys := make([]string, 0, len(v.mapv))
		for k := range v.mapv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			canonicalAppend(sb, v.mapv[k])
		}
		sb.WriteByte('}')
	case KindList:
		sb.WriteByte('[')
		for i, e := range v.listv {
			if i > 0 {
				sb.WriteByte(',')
			}
			canonicalAppend(sb, e)
		}
		sb.WriteByte(']')
	default:
		b, _ := json.Marshal(v.scalar)
		sb.Write(b)
	}
}

// Canonical returns the deterministic serialization used for hashing.
func (v Value) Canonical() string {
	var sb strings.Builder
	canonicalAppend(&sb, v)
	return sb.String()
}
