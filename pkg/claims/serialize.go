package claims

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Serialize renders a claim map as a JSON object. Members keep the map order.
//
// Map entries holding Null, or a value that has no JSON form, are omitted at every
// level of nesting. Inside a List the same values are written as null so that
// element positions survive.
func Serialize(m *Map) string {
	var buf bytes.Buffer
	writeMap(&buf, m)
	return buf.String()
}

// MarshalJSON implements json.Marshaler using Serialize.
func (m *Map) MarshalJSON() ([]byte, error) {
	return []byte(Serialize(m)), nil
}

func writeMap(buf *bytes.Buffer, m *Map) {
	buf.WriteByte('{')
	first := true
	for k, v := range m.All() {
		if !emittable(v) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeString(buf, k)
		buf.WriteByte(':')
		writeValue(buf, v)
	}
	buf.WriteByte('}')
}

func writeList(buf *bytes.Buffer, l List) {
	buf.WriteByte('[')
	for i, v := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		if !emittable(v) {
			buf.WriteString("null")
			continue
		}
		writeValue(buf, v)
	}
	buf.WriteByte(']')
}

// emittable reports whether v is written as a map member.
func emittable(v Value) bool {
	switch val := v.(type) {
	case String, Integer, Boolean, List:
		return true
	case Float:
		return !math.IsNaN(float64(val)) && !math.IsInf(float64(val), 0)
	case *Map:
		return val != nil
	default:
		return false
	}
}

func writeValue(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case String:
		writeString(buf, string(val))
	case Integer:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		buf.WriteString(formatFloat(float64(val)))
	case Boolean:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case List:
		writeList(buf, val)
	case *Map:
		writeMap(buf, val)
	default:
		buf.WriteString("null")
	}
}

func writeString(buf *bytes.Buffer, s string) {
	// Marshalling a string cannot fail.
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// formatFloat returns the shortest representation that parses back to f, always
// with a fractional part so that the value stays non-integral when read again.
func formatFloat(f float64) string {
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if strings.ContainsRune(s, '.') {
		return s
	}
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		return s[:i] + ".0" + s[i:]
	}
	return s + ".0"
}
