package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
)

type impl struct{}

func (w *impl) Write(ctx context.Context, doc *Document, out io.Writer, cfg Config) error {
	if doc == nil || len(doc.Objects) == 0 {
		return errors.New("writer: empty document")
	}
	if _, ok := doc.Objects[doc.Root]; !ok {
		return fmt.Errorf("writer: root object %d missing", doc.Root)
	}
	version := cfg.Version
	if version == "" {
		version = PDF17
	}

	var buf bytes.Buffer
	// Binary comment line marks the file as 8-bit data for transfer agents.
	fmt.Fprintf(&buf, "%%PDF-%s\n%%\xE2\xE3\xCF\xD3\n", version)

	ordered := make([]int, 0, len(doc.Objects))
	for num := range doc.Objects {
		ordered = append(ordered, num)
	}
	sort.Ints(ordered)

	offsets := make(map[int]int64, len(ordered))
	for _, num := range ordered {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		offsets[num] = int64(buf.Len())
		serializeIndirect(&buf, num, doc.Objects[num])
	}

	xrefOffset := buf.Len()
	maxNum := ordered[len(ordered)-1]
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	trailer := pdf.DictionaryObject{
		"/Size": pdf.NumberObject(maxNum + 1),
		"/Root": pdf.IndirectObject{ObjectNumber: doc.Root},
	}
	if doc.Info != 0 {
		trailer["/Info"] = pdf.IndirectObject{ObjectNumber: doc.Info}
	}
	buf.WriteString("trailer\n")
	serializeObject(&buf, trailer)
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

func serializeIndirect(buf *bytes.Buffer, num int, obj pdf.Object) {
	fmt.Fprintf(buf, "%d 0 obj\n", num)
	serializeObject(buf, obj)
	buf.WriteString("\nendobj\n")
}

func serializeObject(buf *bytes.Buffer, obj pdf.Object) {
	switch v := obj.(type) {
	case pdf.NameObject:
		buf.WriteString(string(v))
	case pdf.NumberObject:
		buf.WriteString(v.String())
	case pdf.BooleanObject:
		buf.WriteString(v.String())
	case pdf.NullObject, nil:
		buf.WriteString("null")
	case pdf.StringObject:
		writeLiteralString(buf, string(v))
	case pdf.HexStringObject:
		buf.WriteByte('<')
		buf.Write(v)
		buf.WriteByte('>')
	case pdf.IndirectObject:
		fmt.Fprintf(buf, "%d %d R", v.ObjectNumber, v.Generation)
	case pdf.ArrayObject:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			serializeObject(buf, item)
		}
		buf.WriteByte(']')
	case pdf.DictionaryObject:
		serializeDict(buf, v)
	case pdf.StreamObject:
		// /Length always reflects the data actually written.
		dict := make(pdf.DictionaryObject, len(v.Dictionary))
		for k, item := range v.Dictionary {
			dict[k] = item
		}
		dict["/Length"] = pdf.NumberObject(len(v.Data))
		serializeDict(buf, dict)
		buf.WriteString("\nstream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	default:
		buf.WriteString("null")
	}
}

// serializeDict writes keys in sorted order so identical documents always
// serialize to identical bytes.
func serializeDict(buf *bytes.Buffer, dict pdf.DictionaryObject) {
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf.WriteString("<<")
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(' ')
		serializeObject(buf, dict[k])
		buf.WriteByte(' ')
	}
	buf.WriteString(">>")
}

func writeLiteralString(buf *bytes.Buffer, s string) {
	buf.WriteByte('(')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}
