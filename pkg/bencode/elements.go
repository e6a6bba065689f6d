package bencode

import (
	"bytes"
	"encoding/hex"
	"maps"
	"slices"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind identifies one of the four bencode value kinds.
type Kind int

const (
	KindNone Kind = iota
	KindInteger
	KindString
	KindList
	KindDict
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	default:
		return "none"
	}
}

// Bencode is a decoded bencode value. It is implemented only by
// Integer, String, List and Dict.
type Bencode interface {
	Kind() Kind
	String() string
	Encode() []byte

	write(buf *bytes.Buffer)
}

type (
	Integer int64

	// String holds raw bytes. They are not necessarily valid UTF-8.
	String string

	List []Bencode

	// Dict keys are raw byte strings. Encoding always emits them in
	// byte order.
	Dict map[string]Bencode
)

var (
	_ Bencode = Integer(0)
	_ Bencode = String("")
	_ Bencode = List(nil)
	_ Bencode = Dict(nil)
)

// Encode returns canonical bencode encoding of v.
func Encode(v Bencode) []byte {
	if v == nil {
		return nil
	}
	return v.Encode()
}

func Str(s string) String { return String(s) }

func NewList(values ...Bencode) List {
	return append(List{}, values...)
}

func (Integer) Kind() Kind { return KindInteger }

func (i Integer) String() string {
	return strconv.FormatInt(int64(i), 10)
}

func (i Integer) Encode() []byte {
	return encode(i)
}

func (i Integer) write(buf *bytes.Buffer) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(int64(i), 10))
	buf.WriteByte('e')
}

func (String) Kind() Kind { return KindString }

func (s String) String() string {
	if isPrintable(string(s)) {
		return string(s)
	}
	return "0x" + hex.EncodeToString([]byte(s))
}

func (s String) Bytes() []byte {
	return []byte(s)
}

func (s String) Encode() []byte {
	return encode(s)
}

func (s String) write(buf *bytes.Buffer) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(string(s))
}

func (List) Kind() Kind { return KindList }

func (l List) String() string {
	var sb strings.Builder
	printValue(&sb, l, "")
	return sb.String()
}

func (l List) Encode() []byte {
	return encode(l)
}

func (l List) write(buf *bytes.Buffer) {
	buf.WriteByte('l')
	for _, el := range l {
		if el == nil {
			continue
		}
		el.write(buf)
	}
	buf.WriteByte('e')
}

func (Dict) Kind() Kind { return KindDict }

func (d Dict) String() string {
	var sb strings.Builder
	printValue(&sb, d, "")
	return sb.String()
}

func (d Dict) Encode() []byte {
	return encode(d)
}

// Keys returns dictionary keys in canonical (byte) order.
func (d Dict) Keys() []string {
	return slices.Sorted(maps.Keys(d))
}

func (d Dict) write(buf *bytes.Buffer) {
	buf.WriteByte('d')
	for _, k := range d.Keys() {
		v := d[k]
		if v == nil {
			continue
		}
		String(k).write(buf)
		v.write(buf)
	}
	buf.WriteByte('e')
}

func encode(v Bencode) []byte {
	buf := &bytes.Buffer{}
	v.write(buf)
	return buf.Bytes()
}

func printValue(sb *strings.Builder, value Bencode, tabs string) {
	switch v := value.(type) {
	case Dict:
		if len(v) == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteString("{\n")
		for _, k := range v.Keys() {
			if v[k] == nil {
				continue
			}
			sb.WriteString(tabs + "\t" + String(k).String() + ": ")
			printValue(sb, v[k], tabs+"\t")
			sb.WriteString(",\n")
		}
		sb.WriteString(tabs + "}")
	case List:
		if len(v) == 0 {
			sb.WriteString("[]")
			return
		}
		sb.WriteString("[\n")
		for _, el := range v {
			if el == nil {
				continue
			}
			sb.WriteString(tabs + "\t")
			printValue(sb, el, tabs+"\t")
			sb.WriteString(",\n")
		}
		sb.WriteString(tabs + "]")
	default:
		sb.WriteString(value.String())
	}
}

func isPrintable(s string) bool {
	if !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
