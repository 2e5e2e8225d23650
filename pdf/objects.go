package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// Object is the union of all PDF object kinds the engine understands.
type Object interface {
	String() string
}

// NameObject is a PDF name, stored with its leading slash ("/Type").
type NameObject string

func (n NameObject) String() string { return string(n) }

// NumberObject holds both integer and real PDF numbers.
type NumberObject float64

func (n NumberObject) String() string {
	f := float64(n)
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// StringObject is a literal string ( ... ).
type StringObject string

func (s StringObject) String() string { return "(" + string(s) + ")" }

// HexStringObject is a hex string < ... >, kept as raw hex digits.
type HexStringObject []byte

func (h HexStringObject) String() string { return "<" + string(h) + ">" }

// BooleanObject is true or false.
type BooleanObject bool

func (b BooleanObject) String() string {
	if b {
		return "true"
	}
	return "false"
}

// NullObject is the null object.
type NullObject struct{}

func (NullObject) String() string { return "null" }

// KeywordObject is a bare keyword token (obj, stream, endobj...). It only
// appears transiently during lexing and never inside a finished object graph.
type KeywordObject string

func (k KeywordObject) String() string { return string(k) }

// ArrayObject is an ordered heterogeneous array.
type ArrayObject []Object

func (a ArrayObject) String() string {
	parts := make([]string, len(a))
	for i, o := range a {
		parts[i] = o.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// DictionaryObject maps slash-prefixed names to objects.
type DictionaryObject map[string]Object

func (d DictionaryObject) String() string {
	var sb strings.Builder
	sb.WriteString("<<")
	for k, v := range d {
		sb.WriteString(k)
		sb.WriteByte(' ')
		sb.WriteString(v.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(">>")
	return sb.String()
}

// StreamObject pairs a stream dictionary with its raw (still encoded) data.
// Data is kept exactly as stored in the file so that copying a stream into a
// new document round-trips byte-exact; decoding happens only where the
// engine itself must look inside (xref streams, object streams).
type StreamObject struct {
	Dictionary DictionaryObject
	Data       []byte
}

func (s StreamObject) String() string {
	return fmt.Sprintf("%s stream[%d bytes]", s.Dictionary.String(), len(s.Data))
}

// IndirectObject is a reference "N G R".
type IndirectObject struct {
	ObjectNumber int
	Generation   int
}

func (r IndirectObject) String() string {
	return fmt.Sprintf("%d %d R", r.ObjectNumber, r.Generation)
}

// Int returns the dictionary entry as an int, or def when absent or not a
// number. The key includes the leading slash.
func (d DictionaryObject) Int(key string, def int) int {
	if n, ok := d[key].(NumberObject); ok {
		return int(n)
	}
	return def
}

// Name returns the dictionary entry as a name string, or "" when absent.
func (d DictionaryObject) Name(key string) string {
	if n, ok := d[key].(NameObject); ok {
		return string(n)
	}
	return ""
}

// Clone produces a shallow-value deep-structure copy of an object graph:
// arrays and dictionaries are copied recursively, stream data is duplicated,
// scalars and references are returned as-is.
func Clone(obj Object) Object {
	switch v := obj.(type) {
	case ArrayObject:
		out := make(ArrayObject, len(v))
		for i, item := range v {
			out[i] = Clone(item)
		}
		return out
	case DictionaryObject:
		out := make(DictionaryObject, len(v))
		for k, item := range v {
			out[k] = Clone(item)
		}
		return out
	case StreamObject:
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return StreamObject{Dictionary: Clone(v.Dictionary).(DictionaryObject), Data: data}
	default:
		return obj
	}
}
