package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrEncrypted is returned for documents carrying an /Encrypt dictionary.
	// The engine composes and re-serializes pages and does not implement any
	// security handler, so encrypted input is rejected up front.
	ErrEncrypted = errors.New("pdf: encrypted documents are not supported")
)

// Reader provides random access to the objects of a parsed, in-memory PDF.
// The underlying buffer is never mutated; every lookup builds its own lexer,
// so a Reader may be shared by concurrent readers. The object cache is the
// only mutable state and is guarded by a mutex.
type Reader struct {
	data []byte
	xref *XRefTable

	mu     sync.Mutex
	cache  map[IndirectObject]Object
	objstm map[int]map[int]Object

	pages []DictionaryObject
}

// NewReader parses the cross-reference structure and materializes the page
// list. It fails on anything that does not look like a well-formed document.
func NewReader(data []byte) (*Reader, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, errors.New("pdf: missing %PDF header")
	}
	xref, err := ParseXRef(data)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	if _, ok := xref.Trailer["/Encrypt"]; ok {
		return nil, ErrEncrypted
	}
	r := &Reader{
		data:   data,
		xref:   xref,
		cache:  make(map[IndirectObject]Object),
		objstm: make(map[int]map[int]Object),
	}
	if err := r.collectPages(); err != nil {
		return nil, fmt.Errorf("pdf: page tree: %w", err)
	}
	return r, nil
}

// PageCount reports the number of pages found in the page tree.
func (r *Reader) PageCount() int { return len(r.pages) }

// Page returns the materialized dictionary for the zero-based page index.
// Inheritable attributes (/Resources, /MediaBox, /CropBox, /Rotate) from
// ancestor nodes are already folded in.
func (r *Reader) Page(index int) (DictionaryObject, error) {
	if index < 0 || index >= len(r.pages) {
		return nil, fmt.Errorf("pdf: page index %d out of range [0,%d)", index, len(r.pages))
	}
	return r.pages[index], nil
}

// Trailer exposes the merged trailer dictionary.
func (r *Reader) Trailer() DictionaryObject { return r.xref.Trailer }

// GetObject resolves an indirect reference, loading and caching the object.
func (r *Reader) GetObject(ref IndirectObject) (Object, error) {
	r.mu.Lock()
	if obj, ok := r.cache[ref]; ok {
		r.mu.Unlock()
		return obj, nil
	}
	r.mu.Unlock()

	obj, err := r.loadObject(ref)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[ref] = obj
	r.mu.Unlock()
	return obj, nil
}

// Resolve dereferences obj if it is an indirect reference; unresolvable
// references collapse to null, matching viewer behavior.
func (r *Reader) Resolve(obj Object) Object {
	if ref, ok := obj.(IndirectObject); ok {
		res, err := r.GetObject(ref)
		if err != nil {
			return NullObject{}
		}
		return res
	}
	return obj
}

func (r *Reader) loadObject(ref IndirectObject) (Object, error) {
	entry, ok := r.xref.Entries[ref.ObjectNumber]
	if !ok {
		return nil, fmt.Errorf("pdf: object %d not in xref", ref.ObjectNumber)
	}
	if entry.Free {
		return NullObject{}, nil
	}
	if entry.Compressed {
		return r.loadFromObjectStream(entry.StreamObj, entry.StreamIdx)
	}
	if entry.Offset < 0 || entry.Offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("pdf: object %d offset %d out of bounds", ref.ObjectNumber, entry.Offset)
	}

	lx := NewLexer(bytes.NewReader(r.data[entry.Offset:]))
	// "N G obj" header
	for i := 0; i < 3; i++ {
		if _, err := lx.ReadObject(); err != nil {
			return nil, fmt.Errorf("pdf: object %d header: %w", ref.ObjectNumber, err)
		}
	}
	obj, err := lx.ReadObject()
	if err != nil {
		return nil, fmt.Errorf("pdf: object %d: %w", ref.ObjectNumber, err)
	}

	if dict, ok := obj.(DictionaryObject); ok {
		lx.skipWhitespace()
		if peek, err := lx.r.Peek(6); err == nil && string(peek) == "stream" {
			return r.readStream(dict, lx)
		}
	}
	return obj, nil
}

// readStream captures stream data exactly as stored; decoding is deferred to
// callers that actually need plaintext.
func (r *Reader) readStream(dict DictionaryObject, lx *Lexer) (Object, error) {
	lengthObj := r.Resolve(dict["/Length"])
	length, ok := lengthObj.(NumberObject)
	if !ok {
		return nil, errors.New("pdf: stream /Length missing or invalid")
	}
	lx.r.Discard(6) // "stream"
	consumeStreamEOL(lx.r)

	data := make([]byte, int64(length))
	if _, err := io.ReadFull(lx.r, data); err != nil {
		return nil, fmt.Errorf("pdf: stream data: %w", err)
	}
	return StreamObject{Dictionary: dict, Data: data}, nil
}

// DecodedStream returns the stream's plaintext data (FlateDecode and PNG
// predictors supported); unfiltered streams are returned as-is.
func (r *Reader) DecodedStream(s StreamObject) ([]byte, error) {
	return decodeStreamData(s.Dictionary, s.Data)
}

func (r *Reader) loadFromObjectStream(streamNum, index int) (Object, error) {
	r.mu.Lock()
	objs, ok := r.objstm[streamNum]
	r.mu.Unlock()
	if !ok {
		var err error
		objs, err = r.parseObjectStream(streamNum)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.objstm[streamNum] = objs
		r.mu.Unlock()
	}
	if obj, ok := objs[index]; ok {
		return obj, nil
	}
	return nil, fmt.Errorf("pdf: index %d not in object stream %d", index, streamNum)
}

func (r *Reader) parseObjectStream(streamNum int) (map[int]Object, error) {
	stmObj, err := r.GetObject(IndirectObject{ObjectNumber: streamNum})
	if err != nil {
		return nil, err
	}
	stm, ok := stmObj.(StreamObject)
	if !ok {
		return nil, fmt.Errorf("pdf: object %d is not an object stream", streamNum)
	}
	n := stm.Dictionary.Int("/N", -1)
	first := stm.Dictionary.Int("/First", -1)
	if n < 0 || first < 0 {
		return nil, errors.New("pdf: object stream missing /N or /First")
	}
	data, err := decodeStreamData(stm.Dictionary, stm.Data)
	if err != nil {
		return nil, fmt.Errorf("pdf: object stream %d: %w", streamNum, err)
	}
	if first > len(data) {
		return nil, errors.New("pdf: object stream /First exceeds data length")
	}

	headerLexer := NewLexer(bytes.NewReader(data[:first]))
	offsets := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if _, err := headerLexer.ReadObject(); err != nil { // object number
			return nil, fmt.Errorf("pdf: object stream header: %w", err)
		}
		off, err := headerLexer.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("pdf: object stream header: %w", err)
		}
		num, ok := off.(NumberObject)
		if !ok {
			return nil, errors.New("pdf: non-numeric object stream offset")
		}
		offsets = append(offsets, int(num))
	}

	objs := make(map[int]Object, n)
	body := data[first:]
	for i, off := range offsets {
		if off < 0 || off > len(body) {
			return nil, fmt.Errorf("pdf: object stream offset %d out of range", off)
		}
		lx := NewLexer(bytes.NewReader(body[off:]))
		obj, err := lx.ReadObject()
		if err != nil {
			return nil, fmt.Errorf("pdf: object stream entry %d: %w", i, err)
		}
		objs[i] = obj
	}
	return objs, nil
}

// inheritable page-tree attributes, folded onto leaves during the walk.
var inheritableKeys = []string{"/Resources", "/MediaBox", "/CropBox", "/Rotate"}

func (r *Reader) collectPages() error {
	catalog, ok := r.Resolve(r.xref.Trailer["/Root"]).(DictionaryObject)
	if !ok {
		return errors.New("catalog is not a dictionary")
	}
	root, ok := r.Resolve(catalog["/Pages"]).(DictionaryObject)
	if !ok {
		return errors.New("page tree root is not a dictionary")
	}
	return r.walkPageTree(root, make(DictionaryObject), 0)
}

func (r *Reader) walkPageTree(node DictionaryObject, inherited DictionaryObject, depth int) error {
	if depth > 64 {
		return errors.New("page tree too deep")
	}

	merged := make(DictionaryObject, len(inherited))
	for k, v := range inherited {
		merged[k] = v
	}
	for _, k := range inheritableKeys {
		if v, ok := node[k]; ok {
			merged[k] = v
		}
	}

	switch node.Name("/Type") {
	case "/Page":
		page := make(DictionaryObject, len(node)+len(merged))
		for k, v := range node {
			page[k] = v
		}
		for _, k := range inheritableKeys {
			if _, direct := node[k]; !direct {
				if v, ok := merged[k]; ok {
					page[k] = v
				}
			}
		}
		r.pages = append(r.pages, page)
		return nil
	case "/Pages", "":
		kids, ok := r.Resolve(node["/Kids"]).(ArrayObject)
		if !ok {
			return errors.New("pages node missing /Kids")
		}
		for _, kidRef := range kids {
			kid, ok := r.Resolve(kidRef).(DictionaryObject)
			if !ok {
				return errors.New("page tree kid is not a dictionary")
			}
			if err := r.walkPageTree(kid, merged, depth+1); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unexpected page tree node type %q", node.Name("/Type"))
	}
}
