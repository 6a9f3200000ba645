package claims

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

func (w *walker) rawJSON(path string, depth int, raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Null{}, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, &PathError{Path: path, Err: ErrInvalidJSON}
	}
	return w.jsonResult(path, depth, gjson.ParseBytes(raw))
}

// jsonResult unwraps a parsed JSON value. Objects and arrays are walked member by
// member so that the result never holds foreign JSON types.
func (w *walker) jsonResult(path string, depth int, r gjson.Result) (Value, error) {
	switch r.Type {
	case gjson.String:
		s, err := delimitedString(r)
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
		return s, nil
	case gjson.Number:
		lit := r.Raw
		if lit == "" {
			lit = strconv.FormatFloat(r.Num, 'f', -1, 64)
		}
		v, err := numberValue(lit)
		if err != nil {
			return nil, &PathError{Path: path, Err: err}
		}
		return v, nil
	case gjson.True:
		return Boolean(true), nil
	case gjson.False:
		return Boolean(false), nil
	case gjson.JSON:
		if r.IsObject() {
			return w.jsonObject(path, depth, r)
		}
		if r.IsArray() {
			return w.jsonArray(path, depth, r)
		}
		return nil, &PathError{Path: path, Err: ErrInvalidJSON}
	default:
		return Null{}, nil
	}
}

func (w *walker) jsonObject(path string, depth int, r gjson.Result) (Value, error) {
	if depth+1 > w.maxDepth {
		return nil, &PathError{Path: path, Err: fmt.Errorf("%w: nesting exceeds %d levels", ErrCyclicOrUnbounded, w.maxDepth)}
	}

	out := NewMap(0)
	var err error
	r.ForEach(func(key, member gjson.Result) bool {
		var v Value
		v, err = w.jsonResult(keyPath(path, key.Str), depth+1, member)
		if err != nil {
			return false
		}
		out.Set(key.Str, v)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (w *walker) jsonArray(path string, depth int, r gjson.Result) (Value, error) {
	if depth+1 > w.maxDepth {
		return nil, &PathError{Path: path, Err: fmt.Errorf("%w: nesting exceeds %d levels", ErrCyclicOrUnbounded, w.maxDepth)}
	}

	out := List{}
	i := 0
	var err error
	r.ForEach(func(_, member gjson.Result) bool {
		var v Value
		v, err = w.jsonResult(indexPath(path, i), depth+1, member)
		if err != nil {
			return false
		}
		out = append(out, v)
		i++
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// delimitedString returns the text of a JSON string value. The raw form must keep
// its quote delimiters; escapes are decoded.
func delimitedString(r gjson.Result) (String, error) {
	raw := r.Raw
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", fmt.Errorf("%w: %q", ErrMalformedDelimitedString, raw)
	}
	return String(r.Str), nil
}

// numberValue classifies a JSON number literal. Literals without a fraction or
// exponent that fit in 64 bits are integral; everything else is a Float.
func numberValue(lit string) (Value, error) {
	lit = strings.TrimSpace(lit)
	if !gjson.Valid(lit) {
		return nil, fmt.Errorf("%w: bad number %q", ErrInvalidJSON, lit)
	}
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return Integer(i), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return nil, fmt.Errorf("%w: bad number %q", ErrInvalidJSON, lit)
	}
	return Float(f), nil
}
