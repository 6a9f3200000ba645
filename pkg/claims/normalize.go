package claims

import (
	"cmp"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"

	"github.com/tidwall/gjson"
)

// DefaultMaxDepth bounds the nesting of containers accepted by a Normalizer.
const DefaultMaxDepth = 64

// Entry is one member of an Object.
type Entry struct {
	Key   string
	Value any
}

// Object is a string-keyed mapping with a fixed iteration order. Use it instead of a
// Go map when claim order matters.
type Object []Entry

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithMaxDepth sets the maximum container nesting. Values below 1 select DefaultMaxDepth.
func WithMaxDepth(depth int) Option {
	return func(n *Normalizer) {
		if depth < 1 {
			depth = DefaultMaxDepth
		}
		n.maxDepth = depth
	}
}

// Normalizer converts arbitrary Go values into canonical claim values.
// A Normalizer holds only configuration and is safe for concurrent use.
type Normalizer struct {
	maxDepth int
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// MaxDepth returns the configured nesting limit.
func (n *Normalizer) MaxDepth() int {
	return n.maxDepth
}

var defaultNormalizer = NewNormalizer()

// Normalize converts v with the default Normalizer.
func Normalize(v any) (Value, error) {
	return defaultNormalizer.Normalize(v)
}

// Normalize converts v into a canonical Value. Dispatch order:
//
//  1. slices, arrays, List and Object members are normalized in order
//  2. mappings become a *Map (Go maps are emitted in sorted key order)
//  3. pre-built JSON values (gjson.Result, json.RawMessage, json.Number,
//     json.Marshaler) are unwrapped
//  4. numbers and booleans are kept as Integer, Float or Boolean
//  5. anything else becomes its textual representation
//
// Cycles and nesting deeper than the configured limit fail with ErrCyclicOrUnbounded.
func (n *Normalizer) Normalize(v any) (Value, error) {
	return n.NormalizeClaim("", v)
}

// NormalizeClaim is Normalize with errors reported relative to the claim name.
func (n *Normalizer) NormalizeClaim(name string, v any) (Value, error) {
	w := &walker{
		maxDepth: n.maxDepth,
		visiting: make(map[visitKey]struct{}),
	}
	return w.value(name, 0, v)
}

type visitKey struct {
	ptr uintptr
	len int
	typ reflect.Type
}

type walker struct {
	maxDepth int
	visiting map[visitKey]struct{}
}

// enter marks a container as being walked. The returned func must be called on exit.
func (w *walker) enter(path string, depth int, rv reflect.Value) (func(), error) {
	if depth > w.maxDepth {
		return nil, &PathError{Path: path, Err: fmt.Errorf("%w: nesting exceeds %d levels", ErrCyclicOrUnbounded, w.maxDepth)}
	}

	var key visitKey
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map:
		key = visitKey{ptr: uintptr(rv.UnsafePointer()), typ: rv.Type()}
	case reflect.Slice:
		key = visitKey{ptr: uintptr(rv.UnsafePointer()), len: rv.Len(), typ: rv.Type()}
	default:
		return func() {}, nil
	}
	if key.ptr == 0 {
		return func() {}, nil
	}

	if _, seen := w.visiting[key]; seen {
		return nil, &PathError{Path: path, Err: fmt.Errorf("%w: value refers to itself", ErrCyclicOrUnbounded)}
	}
	w.visiting[key] = struct{}{}
	return func() { delete(w.visiting, key) }, nil
}

func (w *walker) value(path string, depth int, v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Null, String, Integer, Float, Boolean:
		return val.(Value), nil
	case List:
		return w.list(path, depth, reflect.ValueOf(val))
	case *Map:
		if val == nil {
			return Null{}, nil
		}
		return w.claimMap(path, depth, val)
	case Object:
		return w.object(path, depth, val)
	case gjson.Result:
		return w.jsonResult(path, depth, val)
	case json.RawMessage:
		return w.rawJSON(path, depth, val)
	case json.Number:
		v, err := numberValue(string(val))
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
		return v, nil
	case string:
		return String(val), nil
	case bool:
		return Boolean(val), nil
	case int:
		return Integer(val), nil
	case int64:
		return Integer(val), nil
	case float64:
		return Float(val), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null{}, nil
		}
		if _, ok := v.(json.Marshaler); ok {
			return w.marshaler(path, depth, v)
		}
		leave, err := w.enter(path, depth, rv)
		if err != nil {
			return nil, err
		}
		defer leave()
		return w.value(path, depth, rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if tm, ok := v.(encoding.TextMarshaler); ok {
				return textValue(tm), nil
			}
			if rv.Kind() == reflect.Slice {
				if rv.IsNil() {
					return Null{}, nil
				}
				return String(base64.StdEncoding.EncodeToString(rv.Bytes())), nil
			}
		}
		return w.list(path, depth, rv)

	case reflect.Map:
		if rv.IsNil() {
			return Null{}, nil
		}
		return w.nativeMap(path, depth, rv)
	}

	if _, ok := v.(json.Marshaler); ok {
		return w.marshaler(path, depth, v)
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Boolean(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Integer(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return String(strconv.FormatUint(u, 10)), nil
		}
		return Integer(int64(u)), nil
	case reflect.Float32:
		// Reparse the shortest float32 form so 0.1 stays 0.1.
		f, _ := strconv.ParseFloat(strconv.FormatFloat(rv.Float(), 'g', -1, 32), 64)
		return Float(f), nil
	case reflect.Float64:
		return Float(rv.Float()), nil
	}

	if rv.Kind() == reflect.Struct {
		if err := w.guardText(path, depth, rv); err != nil {
			return nil, err
		}
	}
	return textValue(v), nil
}

// guardText walks the containers fmt would print for rv so that a value reaching
// itself fails instead of recursing without bound. Pointers below the top level are
// printed as addresses and are not followed.
func (w *walker) guardText(path string, depth int, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return w.guardText(path, depth, rv.Elem())

	case reflect.Struct:
		leave, err := w.enter(path, depth+1, rv)
		if err != nil {
			return err
		}
		defer leave()
		for i := range rv.NumField() {
			if err := w.guardText(keyPath(path, rv.Type().Field(i).Name), depth+1, rv.Field(i)); err != nil {
				return err
			}
		}

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		leave, err := w.enter(path, depth+1, rv)
		if err != nil {
			return err
		}
		defer leave()
		iter := rv.MapRange()
		for iter.Next() {
			if err := w.guardText(path, depth+1, iter.Key()); err != nil {
				return err
			}
			if err := w.guardText(path, depth+1, iter.Value()); err != nil {
				return err
			}
		}

	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil
		}
		leave, err := w.enter(path, depth+1, rv)
		if err != nil {
			return err
		}
		defer leave()
		for i := range rv.Len() {
			if err := w.guardText(indexPath(path, i), depth+1, rv.Index(i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *walker) list(path string, depth int, rv reflect.Value) (Value, error) {
	leave, err := w.enter(path, depth+1, rv)
	if err != nil {
		return nil, err
	}
	defer leave()

	out := make(List, rv.Len())
	for i := range rv.Len() {
		elem, err := w.value(indexPath(path, i), depth+1, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

func (w *walker) claimMap(path string, depth int, m *Map) (Value, error) {
	leave, err := w.enter(path, depth+1, reflect.ValueOf(m))
	if err != nil {
		return nil, err
	}
	defer leave()

	out := NewMap(m.Len())
	for k, v := range m.All() {
		nv, err := w.value(keyPath(path, k), depth+1, v)
		if err != nil {
			return nil, err
		}
		out.Set(k, nv)
	}
	return out, nil
}

func (w *walker) object(path string, depth int, obj Object) (Value, error) {
	leave, err := w.enter(path, depth+1, reflect.ValueOf(obj))
	if err != nil {
		return nil, err
	}
	defer leave()

	out := NewMap(len(obj))
	for _, e := range obj {
		nv, err := w.value(keyPath(path, e.Key), depth+1, e.Value)
		if err != nil {
			return nil, err
		}
		out.Set(e.Key, nv)
	}
	return out, nil
}

type mapEntry struct {
	key   string
	value reflect.Value
}

func (w *walker) nativeMap(path string, depth int, rv reflect.Value) (Value, error) {
	leave, err := w.enter(path, depth+1, rv)
	if err != nil {
		return nil, err
	}
	defer leave()

	entries := make([]mapEntry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		entries = append(entries, mapEntry{key: mapKey(iter.Key()), value: iter.Value()})
	}
	slices.SortFunc(entries, func(a, b mapEntry) int { return cmp.Compare(a.key, b.key) })
	for i := 1; i < len(entries); i++ {
		if entries[i].key == entries[i-1].key {
			return nil, &PathError{Path: keyPath(path, entries[i].key), Err: fmt.Errorf("%w: distinct map keys render as %q", ErrDuplicateClaim, entries[i].key)}
		}
	}

	out := NewMap(len(entries))
	for _, e := range entries {
		nv, err := w.value(keyPath(path, e.key), depth+1, e.value.Interface())
		if err != nil {
			return nil, err
		}
		out.Set(e.key, nv)
	}
	return out, nil
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return "<nil>"
		}
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return string(textValue(k.Interface()))
}

func (w *walker) marshaler(path string, depth int, v any) (Value, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &PathError{Path: path, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}
	return w.rawJSON(path, depth, raw)
}

// textValue renders v the way it prefers to be read as text.
func textValue(v any) String {
	switch t := v.(type) {
	case encoding.TextMarshaler:
		if b, err := t.MarshalText(); err == nil {
			return String(b)
		}
	case fmt.Stringer:
		return String(t.String())
	}
	return String(fmt.Sprint(v))
}
