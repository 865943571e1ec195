// Package attrval implements the tagged value variant used to represent
// OTLP attribute values internally, independent of whether they arrived via
// protobuf or JSON. A single canonical serializer drives both storage (typed
// JSON columns) and dimension fingerprinting, so Normalize and the store
// never need two parallel code paths for the two wire encodings (see
// SPEC_FULL.md's "OTLP/JSON vs protobuf duality" design note).
package attrval

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the concrete shape a Value holds.
type Kind uint8

const (
	KindString Kind = iota
	KindInt64
	KindDouble
	KindBool
	KindBytes
	KindArray
	KindKVList
	KindNull
)

// Value is a heterogeneous attribute value, mirroring OTLP's AnyValue
// oneof. Exactly one of the typed fields is meaningful for a given Kind.
type Value struct {
	Kind   Kind
	Str    string
	Int    int64
	Double float64
	Bool   bool
	Bytes  []byte
	Array  []Value
	KVList Map
}

// Map is a normalized attribute map: string keys to tagged Values.
type Map map[string]Value

func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Int(i int64) Value      { return Value{Kind: KindInt64, Int: i} }
func Double(f float64) Value { return Value{Kind: KindDouble, Double: f} }
func Bool(b bool) Value      { return Value{Kind: KindBool, Bool: b} }
func Bytes(b []byte) Value   { return Value{Kind: KindBytes, Bytes: b} }
func Array(vs []Value) Value { return Value{Kind: KindArray, Array: vs} }
func KVList(m Map) Value     { return Value{Kind: KindKVList, KVList: m} }
func Null() Value            { return Value{Kind: KindNull} }

// FromAny converts a loosely-typed Go value (as produced by encoding/json
// unmarshaling, or handed in by an OTLP protobuf decoder after it has
// unwrapped the AnyValue oneof) into a Value. This is the single point
// where JSON-decoded and protobuf-decoded attributes converge.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float32:
		return numberFromFloat(float64(t))
	case float64:
		return numberFromFloat(t)
	case []byte:
		return Bytes(t)
	case []interface{}:
		out := make([]Value, 0, len(t))
		for _, e := range t {
			out = append(out, FromAny(e))
		}
		return Array(out)
	case []Value:
		return Array(t)
	case map[string]interface{}:
		m := make(Map, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return KVList(m)
	case Map:
		return KVList(t)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// numberFromFloat preserves whole-valued float64 (the shape encoding/json
// always produces for JSON-encoded OTLP integers) as an int64 so that JSON
// and protobuf encodings of the same attribute set fingerprint identically.
func numberFromFloat(f float64) Value {
	if f == float64(int64(f)) {
		return Int(int64(f))
	}
	return Double(f)
}

// Canonicalize returns a new Map with string keys, recursively canonicalized
// array/KVList children, suitable as the input to Fingerprint or to a typed
// JSON column. It never mutates its input.
func Canonicalize(m Map) Map {
	if m == nil {
		return Map{}
	}
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = canonicalizeValue(v)
	}
	return out
}

func canonicalizeValue(v Value) Value {
	switch v.Kind {
	case KindArray:
		out := make([]Value, len(v.Array))
		for i, e := range v.Array {
			out[i] = canonicalizeValue(e)
		}
		return Array(out)
	case KindKVList:
		return KVList(Canonicalize(v.KVList))
	default:
		return v
	}
}

// AppendCanonical writes a deterministic, length-prefixed serialization of m
// onto buf and returns the extended slice. Keys are sorted by byte order
// (sort.Strings) before encoding; this is the canonical form both
// Fingerprint and any cross-process consumer must agree on (§4.A "Key
// algorithms").
func AppendCanonical(buf []byte, m Map) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf = appendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = appendLenPrefixed(buf, []byte(k))
		buf = appendValue(buf, m[k])
	}
	return buf
}

func appendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case KindString:
		buf = appendLenPrefixed(buf, []byte(v.Str))
	case KindInt64:
		buf = appendLenPrefixed(buf, []byte(strconv.FormatInt(v.Int, 10)))
	case KindDouble:
		buf = appendLenPrefixed(buf, []byte(strconv.FormatFloat(v.Double, 'g', -1, 64)))
	case KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case KindBytes:
		buf = appendLenPrefixed(buf, v.Bytes)
	case KindArray:
		buf = appendUvarint(buf, uint64(len(v.Array)))
		for _, e := range v.Array {
			buf = appendValue(buf, e)
		}
	case KindKVList:
		buf = AppendCanonical(buf, v.KVList)
	case KindNull:
		// no payload
	}
	return buf
}

func appendLenPrefixed(buf, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [10]byte
	n := 0
	for v >= 0x80 {
		tmp[n] = byte(v) | 0x80
		v >>= 7
		n++
	}
	tmp[n] = byte(v)
	n++
	return append(buf, tmp[:n]...)
}

// String renders a Value in a human-readable form. The store uses it to fold
// a log body into the log idempotency fingerprint.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt64:
		return strconv.FormatInt(v.Int, 10)
	case KindDouble:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindBytes:
		return string(v.Bytes)
	case KindArray:
		parts := make([]string, len(v.Array))
		for i, e := range v.Array {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindKVList:
		return fmt.Sprintf("%v", v.KVList)
	default:
		return ""
	}
}

// Truncate returns a copy of v with string/bytes payloads capped at maxLen
// bytes. Non-string/bytes kinds are returned unchanged since they have no
// unbounded payload. Used by Normalize (§4.B step 2) to cap oversized
// attribute values.
func (v Value) Truncate(maxLen int) Value {
	if maxLen <= 0 {
		return v
	}
	switch v.Kind {
	case KindString:
		if len(v.Str) > maxLen {
			return String(v.Str[:maxLen])
		}
	case KindBytes:
		if len(v.Bytes) > maxLen {
			return Bytes(v.Bytes[:maxLen])
		}
	}
	return v
}
