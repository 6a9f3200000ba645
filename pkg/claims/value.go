package claims

import (
	"iter"
	"slices"
)

// Kind identifies the variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBoolean
	KindList
	KindMap
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBoolean:
		return "boolean"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a sealed interface over the canonical claim value variants.
// Only Null, String, Integer, Float, Boolean, List and *Map implement it.
type Value interface {
	Kind() Kind
	claimValue()
}

// Null is the absence of a value.
type Null struct{}

func (Null) Kind() Kind  { return KindNull }
func (Null) claimValue() {}

// String is a text claim value.
type String string

func (String) Kind() Kind  { return KindString }
func (String) claimValue() {}

// Integer is a 64-bit signed integral claim value.
type Integer int64

func (Integer) Kind() Kind  { return KindInteger }
func (Integer) claimValue() {}

// Float is a non-integral numeric claim value. It is never rounded to an Integer.
type Float float64

func (Float) Kind() Kind  { return KindFloat }
func (Float) claimValue() {}

// Boolean is a true/false claim value.
type Boolean bool

func (Boolean) Kind() Kind  { return KindBoolean }
func (Boolean) claimValue() {}

// List is an ordered sequence of values.
type List []Value

func (List) Kind() Kind  { return KindList }
func (List) claimValue() {}

// Map is a string-keyed collection of values that remembers the order in which
// keys were first set. Setting an existing key replaces its value in place.
//
// The zero value is an empty map ready to use.
type Map struct {
	keys   []string
	values map[string]Value
}

func (*Map) Kind() Kind  { return KindMap }
func (*Map) claimValue() {}

// NewMap creates an empty Map with room for size entries.
func NewMap(size int) *Map {
	return &Map{
		keys:   make([]string, 0, size),
		values: make(map[string]Value, size),
	}
}

// Set stores v under key. A nil v is stored as Null.
func (m *Map) Set(key string, v Value) {
	if v == nil {
		v = Null{}
	}
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (Value, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *Map) Delete(key string) {
	if m == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	m.keys = slices.DeleteFunc(m.keys, func(k string) bool { return k == key })
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns a copy of the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// All iterates over the entries in insertion order.
func (m *Map) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	out := NewMap(len(m.keys))
	for k, v := range m.All() {
		out.Set(k, cloneValue(v))
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case List:
		out := make(List, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case *Map:
		return val.Clone()
	default:
		return v
	}
}

// Equal reports whether two values are structurally equal. Map comparison is
// order-sensitive.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case List:
		bv, ok := b.(List)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case *Map:
		bv, ok := b.(*Map)
		if !ok || av.Len() != bv.Len() {
			return false
		}
		for i, k := range av.keys {
			if bv.keys[i] != k || !Equal(av.values[k], bv.values[k]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
