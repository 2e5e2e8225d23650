package pdf

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// XRefEntry locates one indirect object, either at a byte offset or inside an
// object stream.
type XRefEntry struct {
	Offset     int64
	Generation int
	Free       bool
	Compressed bool
	StreamObj  int
	StreamIdx  int
}

// XRefTable is the merged cross-reference table across all /Prev sections.
type XRefTable struct {
	Entries map[int]XRefEntry
	Trailer DictionaryObject
}

// ParseXRef locates startxref and follows the /Prev chain, merging entries
// oldest-last so the newest definition of each object wins.
func ParseXRef(data []byte) (*XRefTable, error) {
	table := &XRefTable{
		Entries: make(map[int]XRefEntry),
		Trailer: make(DictionaryObject),
	}

	next, err := findStartXRef(data)
	if err != nil {
		return nil, err
	}

	visited := make(map[int64]bool)
	for next != 0 {
		if visited[next] || next < 0 || next >= int64(len(data)) {
			break
		}
		visited[next] = true

		section := data[next:]
		var prev int64
		var tr DictionaryObject
		if bytes.HasPrefix(bytes.TrimLeft(section, " \r\n\t"), []byte("xref")) {
			prev, tr, err = table.readClassicSection(section)
		} else {
			prev, tr, err = table.readStreamSection(section)
		}
		if err != nil {
			return nil, err
		}
		for k, v := range tr {
			if _, exists := table.Trailer[k]; !exists {
				table.Trailer[k] = v
			}
		}
		next = prev
	}

	if _, ok := table.Trailer["/Root"]; !ok {
		return nil, errors.New("missing /Root in trailer")
	}
	return table, nil
}

func findStartXRef(data []byte) (int64, error) {
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx == -1 {
		return 0, errors.New("startxref not found")
	}
	rest := strings.TrimSpace(string(tail[idx+len("startxref"):]))
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, errors.New("startxref offset missing")
	}
	return strconv.ParseInt(rest[:end], 10, 64)
}

// readClassicSection parses an "xref ... trailer <<...>>" section.
func (t *XRefTable) readClassicSection(section []byte) (int64, DictionaryObject, error) {
	body := bytes.TrimLeft(section, " \r\n\t")
	body = body[len("xref"):]
	lx := NewLexer(bytes.NewReader(body))

	for {
		lx.skipWhitespace()
		if peek, err := lx.r.Peek(7); err == nil && string(peek) == "trailer" {
			lx.r.Discard(7)
			break
		}
		startObj, err := lx.ReadObject()
		if err != nil {
			return 0, nil, fmt.Errorf("xref subsection header: %w", err)
		}
		countObj, err := lx.ReadObject()
		if err != nil {
			return 0, nil, fmt.Errorf("xref subsection header: %w", err)
		}
		start, ok1 := startObj.(NumberObject)
		count, ok2 := countObj.(NumberObject)
		if !ok1 || !ok2 {
			return 0, nil, errors.New("malformed xref subsection header")
		}
		lx.skipWhitespace()

		line := make([]byte, 20)
		for i := 0; i < int(count); i++ {
			if _, err := io.ReadFull(lx.r, line); err != nil {
				return 0, nil, fmt.Errorf("xref entry %d: %w", i, err)
			}
			offset, _ := strconv.ParseInt(strings.TrimSpace(string(line[:10])), 10, 64)
			gen, _ := strconv.Atoi(strings.TrimSpace(string(line[11:16])))
			id := int(start) + i
			if _, exists := t.Entries[id]; !exists {
				t.Entries[id] = XRefEntry{Offset: offset, Generation: gen, Free: line[17] == 'f'}
			}
		}
	}

	trObj, err := lx.ReadObject()
	if err != nil {
		return 0, nil, fmt.Errorf("trailer: %w", err)
	}
	tr, ok := trObj.(DictionaryObject)
	if !ok {
		return 0, nil, errors.New("trailer is not a dictionary")
	}
	var prev int64
	if p, ok := tr["/Prev"].(NumberObject); ok {
		prev = int64(p)
	}
	return prev, tr, nil
}

// readStreamSection parses a cross-reference stream (PDF 1.5+): an indirect
// stream object whose decoded data holds fixed-width binary entries.
func (t *XRefTable) readStreamSection(section []byte) (int64, DictionaryObject, error) {
	lx := NewLexer(bytes.NewReader(section))
	// "N G obj" header
	for i := 0; i < 3; i++ {
		if _, err := lx.ReadObject(); err != nil {
			return 0, nil, fmt.Errorf("xref stream header: %w", err)
		}
	}
	dictObj, err := lx.ReadObject()
	if err != nil {
		return 0, nil, fmt.Errorf("xref stream dictionary: %w", err)
	}
	dict, ok := dictObj.(DictionaryObject)
	if !ok {
		return 0, nil, errors.New("xref stream object is not a dictionary")
	}
	if dict.Name("/Type") != "/XRef" {
		return 0, nil, fmt.Errorf("expected /XRef stream, got %q", dict.Name("/Type"))
	}

	length := dict.Int("/Length", -1)
	if length < 0 {
		return 0, nil, errors.New("xref stream missing /Length")
	}
	wArr, ok := dict["/W"].(ArrayObject)
	if !ok || len(wArr) != 3 {
		return 0, nil, errors.New("xref stream missing /W")
	}
	w := make([]int, 3)
	for i, o := range wArr {
		n, ok := o.(NumberObject)
		if !ok {
			return 0, nil, errors.New("non-numeric /W entry")
		}
		w[i] = int(n)
	}
	var index []int
	if idx, ok := dict["/Index"].(ArrayObject); ok {
		for _, o := range idx {
			if n, ok := o.(NumberObject); ok {
				index = append(index, int(n))
			}
		}
	} else {
		index = []int{0, dict.Int("/Size", 0)}
	}

	lx.skipWhitespace()
	if peek, err := lx.r.Peek(6); err == nil && string(peek) == "stream" {
		lx.r.Discard(6)
	}
	consumeStreamEOL(lx.r)

	raw := make([]byte, length)
	if _, err := io.ReadFull(lx.r, raw); err != nil {
		return 0, nil, fmt.Errorf("xref stream data: %w", err)
	}

	decoded, err := decodeStreamData(dict, raw)
	if err != nil {
		return 0, nil, fmt.Errorf("xref stream decode: %w", err)
	}

	r := bytes.NewReader(decoded)
	for i := 0; i+1 < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count; j++ {
			f1 := readBinaryField(r, w[0], 1) // type defaults to 1 when W[0]==0
			f2 := readBinaryField(r, w[1], 0)
			f3 := readBinaryField(r, w[2], 0)
			id := start + j
			if _, exists := t.Entries[id]; exists {
				continue
			}
			switch f1 {
			case 0:
				t.Entries[id] = XRefEntry{Free: true, Generation: int(f3)}
			case 1:
				t.Entries[id] = XRefEntry{Offset: f2, Generation: int(f3)}
			case 2:
				t.Entries[id] = XRefEntry{Compressed: true, StreamObj: int(f2), StreamIdx: int(f3)}
			}
		}
	}

	var prev int64
	if p, ok := dict["/Prev"].(NumberObject); ok {
		prev = int64(p)
	}
	return prev, dict, nil
}

// decodeStreamData applies /Filter (FlateDecode only) and the PNG predictor
// family declared in /DecodeParms.
func decodeStreamData(dict DictionaryObject, data []byte) ([]byte, error) {
	filter := dict["/Filter"]
	switch f := filter.(type) {
	case nil:
		return data, nil
	case NameObject:
		if string(f) != "/FlateDecode" {
			return nil, fmt.Errorf("unsupported filter %s", f)
		}
	case ArrayObject:
		if len(f) != 1 {
			return nil, errors.New("unsupported filter chain")
		}
		if n, ok := f[0].(NameObject); !ok || string(n) != "/FlateDecode" {
			return nil, fmt.Errorf("unsupported filter %v", f[0])
		}
	default:
		return nil, fmt.Errorf("unsupported filter object %T", filter)
	}

	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	decoded, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}

	predictor, columns := 1, 1
	if parms, ok := dict["/DecodeParms"].(DictionaryObject); ok {
		predictor = parms.Int("/Predictor", 1)
		columns = parms.Int("/Columns", 1)
	}
	if predictor >= 10 {
		return applyPNGPredictor(decoded, columns)
	}
	return decoded, nil
}

// applyPNGPredictor reverses PNG row filters (None/Sub/Up/Average/Paeth) with
// a one-byte sample depth, which is what xref streams use.
func applyPNGPredictor(data []byte, columns int) ([]byte, error) {
	if columns <= 0 {
		return nil, errors.New("predictor columns must be positive")
	}
	rowSize := columns + 1
	rows := len(data) / rowSize
	out := make([]byte, rows*columns)
	prev := make([]byte, columns)

	for i := 0; i < rows; i++ {
		filter := data[i*rowSize]
		row := data[i*rowSize+1 : (i+1)*rowSize]
		cur := out[i*columns : (i+1)*columns]
		switch filter {
		case 0:
			copy(cur, row)
		case 1:
			var left byte
			for x := range cur {
				left += row[x]
				cur[x] = left
			}
		case 2:
			for x := range cur {
				cur[x] = row[x] + prev[x]
			}
		case 3:
			var left byte
			for x := range cur {
				cur[x] = row[x] + byte((int(left)+int(prev[x]))/2)
				left = cur[x]
			}
		case 4:
			var left, upperLeft byte
			for x := range cur {
				cur[x] = row[x] + byte(paeth(int(left), int(prev[x]), int(upperLeft)))
				upperLeft = prev[x]
				left = cur[x]
			}
		default:
			copy(cur, row)
		}
		copy(prev, cur)
	}
	return out, nil
}

func paeth(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func readBinaryField(r *bytes.Reader, width int, def int64) int64 {
	if width == 0 {
		return def
	}
	var v int64
	for i := 0; i < width; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return v
		}
		v = v<<8 | int64(b)
	}
	return v
}

// consumeStreamEOL eats the single EOL that separates the "stream" keyword
// from binary data. skipWhitespace would swallow leading stream bytes.
func consumeStreamEOL(r interface {
	ReadByte() (byte, error)
	UnreadByte() error
	Peek(int) ([]byte, error)
}) {
	b, err := r.ReadByte()
	if err != nil {
		return
	}
	switch b {
	case '\r':
		if next, err := r.Peek(1); err == nil && len(next) > 0 && next[0] == '\n' {
			r.ReadByte()
		}
	case '\n':
	default:
		r.UnreadByte()
	}
}
