package sqlval

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// Kind identifies the storage class of a Value.
type Kind int

// Storage classes, matching SQLite's five fundamental datatypes.
const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
)

// String returns the lower-case SQLite name of the storage class.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged SQL value. The zero Value is NULL.
//
// Values are immutable once constructed; Bytes returns the underlying slice
// and callers must not modify it.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    []byte
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Integer returns an INTEGER value.
func Integer(v int64) Value { return Value{kind: KindInteger, i: v} }

// Float returns a REAL value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// Text returns a TEXT value.
func Text(v string) Value { return Value{kind: KindText, s: v} }

// Blob returns a BLOB value. A nil slice is stored as an empty blob, not NULL.
func Blob(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{kind: KindBlob, b: v}
}

// Bool returns 1 or 0 as an INTEGER, which is how SQLite stores booleans.
func Bool(v bool) Value {
	if v {
		return Integer(1)
	}
	return Integer(0)
}

// FromAny converts a Go or driver value into a Value.
//
// Accepted inputs are the database/sql driver types (nil, int64, float64,
// bool, []byte, string, time.Time), the other integer and float widths,
// and Value itself.
func FromAny(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return x, nil
	case int64:
		return Integer(x), nil
	case int:
		return Integer(int64(x)), nil
	case int32:
		return Integer(int64(x)), nil
	case int16:
		return Integer(int64(x)), nil
	case int8:
		return Integer(int64(x)), nil
	case uint8:
		return Integer(int64(x)), nil
	case uint16:
		return Integer(int64(x)), nil
	case uint32:
		return Integer(int64(x)), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, fmt.Errorf("sqlval: unsigned value %d overflows int64", x)
		}
		return Integer(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("sqlval: unsigned value %d overflows int64", x)
		}
		return Integer(int64(x)), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case bool:
		return Bool(x), nil
	case string:
		return Text(x), nil
	case []byte:
		return Blob(bytes.Clone(x)), nil
	case time.Time:
		return Text(x.UTC().Format(time.RFC3339Nano)), nil
	default:
		return Value{}, fmt.Errorf("sqlval: unsupported type %T", v)
	}
}

// MustFromAny is FromAny for values known to be convertible. It panics on
// unsupported types and is intended for tests and literals.
func MustFromAny(v any) Value {
	val, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Kind returns the storage class.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Int64 returns the integer payload. Floats are truncated and text is parsed
// the way SQLite's CAST(x AS INTEGER) would, reporting false when the value
// has no integer interpretation.
func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case KindInteger:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	case KindText:
		n, err := strconv.ParseInt(v.s, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Float64 returns the numeric payload as a float.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindText:
		f, err := strconv.ParseFloat(v.s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Text returns the textual form of v. NULL renders as the empty string and
// reports false.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindText:
		return v.s, true
	case KindBlob:
		return string(v.b), true
	case KindInteger:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), true
	default:
		return "", false
	}
}

// Bytes returns the byte form of v: blob payload, UTF-8 text, or the text
// rendering of a number. NULL reports false.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind == KindBlob {
		return v.b, true
	}
	s, ok := v.Text()
	if !ok {
		return nil, false
	}
	return []byte(s), true
}

// Any returns the value as a database/sql driver value.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether two values have the same storage class and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInteger:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBlob:
		return bytes.Equal(v.b, o.b)
	}
	return false
}

// String renders v for logs and error messages.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindText:
		return strconv.Quote(v.s)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.b)
	default:
		s, _ := v.Text()
		return s
	}
}

// blobJSON is the JSON envelope for BLOB values.
type blobJSON struct {
	Blob string `json:"$blob"`
}

// MarshalJSON encodes NULL as null, numbers as JSON numbers, text as a JSON
// string and blobs as {"$blob":"<base64>"}.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindInteger:
		return []byte(strconv.FormatInt(v.i, 10)), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return json.Marshal(strconv.FormatFloat(v.f, 'g', -1, 64))
		}
		return json.Marshal(v.f)
	case KindText:
		return json.Marshal(v.s)
	default:
		return json.Marshal(blobJSON{Blob: base64.StdEncoding.EncodeToString(v.b)})
	}
}

// UnmarshalJSON reverses MarshalJSON. JSON numbers without a fraction or
// exponent decode as INTEGER.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Null()
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	case len(data) > 0 && data[0] == '{':
		var b blobJSON
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		raw, err := base64.StdEncoding.DecodeString(b.Blob)
		if err != nil {
			return fmt.Errorf("sqlval: decoding blob: %w", err)
		}
		*v = Blob(raw)
		return nil
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*v = Integer(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("sqlval: invalid JSON value %q", data)
	}
	*v = Float(f)
	return nil
}
