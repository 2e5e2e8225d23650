// Package registry owns uploaded source documents: their raw bytes, parsed
// structure, and per-page raster cache. Sources are immutable once ingested
// and are referenced (never owned) by page sequence entries.
package registry

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/observability"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
)

var (
	// ErrInvalidFormat is returned when the bytes do not parse as a PDF.
	ErrInvalidFormat = errors.New("registry: invalid document format")
	// ErrSizeExceeded is returned when an ingest would push the cumulative
	// registered byte total over the tier limit.
	ErrSizeExceeded = errors.New("registry: size limit exceeded")
	// ErrDuplicate is returned when a source with the same identity key is
	// already registered.
	ErrDuplicate = errors.New("registry: duplicate source")
	// ErrNotFound is returned for lookups of unknown source keys.
	ErrNotFound = errors.New("registry: source not found")
	// ErrIndexOutOfRange is returned for page indexes outside [0, pageCount).
	ErrIndexOutOfRange = errors.New("registry: page index out of range")
)

// SourceKey identifies one uploaded source within a session. Re-uploading a
// file with identical name and modification time yields the same key.
type SourceKey string

// MakeSourceKey derives the identity key from the upload's name and
// last-modified time.
func MakeSourceKey(name string, lastModified time.Time) SourceKey {
	return SourceKey(fmt.Sprintf("%s|%d", name, lastModified.UnixMilli()))
}

// SourceDocument is one ingested upload. The raw buffer and parsed reader are
// immutable after ingestion and may be read concurrently without locking; the
// raster cache has its own lock.
type SourceDocument struct {
	Key          SourceKey
	Name         string
	LastModified time.Time

	raw    []byte
	reader *pdf.Reader

	rasterMu sync.Mutex
	rasters  map[rasterKey]image.Image
}

type rasterKey struct {
	page  int
	scale float64
}

// Raw returns the source's raw bytes. Callers must not mutate them.
func (s *SourceDocument) Raw() []byte { return s.raw }

// Size returns the raw buffer length in bytes.
func (s *SourceDocument) Size() int64 { return int64(len(s.raw)) }

// PageCount reports the parsed page count; fixed for the source's lifetime.
func (s *SourceDocument) PageCount() int { return s.reader.PageCount() }

// Reader exposes the parsed document for read-only access.
func (s *SourceDocument) Reader() *pdf.Reader { return s.reader }

// CachedRaster returns a previously stored bitmap for (page, scale).
func (s *SourceDocument) CachedRaster(page int, scale float64) (image.Image, bool) {
	s.rasterMu.Lock()
	defer s.rasterMu.Unlock()
	img, ok := s.rasters[rasterKey{page, scale}]
	return img, ok
}

// StoreRaster caches a rendered bitmap. Storing against a source that has
// since been removed from the registry is harmless; the cache dies with it.
func (s *SourceDocument) StoreRaster(page int, scale float64, img image.Image) {
	s.rasterMu.Lock()
	defer s.rasterMu.Unlock()
	if s.rasters == nil {
		s.rasters = make(map[rasterKey]image.Image)
	}
	s.rasters[rasterKey{page, scale}] = img
}

// PageHandle locates one page of one source for the compositor, avoiding a
// re-parse. It stays valid as long as the source is registered.
type PageHandle struct {
	Source    *SourceDocument
	PageIndex int
}

// Page returns the page's materialized dictionary.
func (h PageHandle) Page() (pdf.DictionaryObject, error) {
	return h.Source.reader.Page(h.PageIndex)
}

// Registry holds all sources of a merge session, keyed by identity.
type Registry struct {
	mu      sync.Mutex
	sources map[SourceKey]*SourceDocument
	total   int64

	log observability.Logger
}

// New returns an empty registry. A nil logger falls back to NopLogger.
func New(log observability.Logger) *Registry {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Registry{sources: make(map[SourceKey]*SourceDocument), log: log}
}

// Ingest parses and registers an upload. The cumulative size of all
// registered sources plus this one must not exceed byteLimit.
func (r *Registry) Ingest(ctx context.Context, name string, lastModified time.Time, raw []byte, byteLimit int64) (*SourceDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := MakeSourceKey(name, lastModified)

	r.mu.Lock()
	_, exists := r.sources[key]
	total := r.total
	r.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	if total+int64(len(raw)) > byteLimit {
		return nil, fmt.Errorf("%w: %s would bring total to %d bytes (limit %d)",
			ErrSizeExceeded, name, total+int64(len(raw)), byteLimit)
	}

	reader, err := pdf.NewReader(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, name, err)
	}

	src := &SourceDocument{
		Key:          key,
		Name:         name,
		LastModified: lastModified,
		raw:          raw,
		reader:       reader,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, key)
	}
	if r.total+int64(len(raw)) > byteLimit {
		return nil, fmt.Errorf("%w: %s would bring total to %d bytes (limit %d)",
			ErrSizeExceeded, name, r.total+int64(len(raw)), byteLimit)
	}
	r.sources[key] = src
	r.total += int64(len(raw))

	r.log.Info("source ingested",
		observability.String("source", string(key)),
		observability.Int("pages", src.PageCount()),
		observability.Int64("bytes", src.Size()))
	return src, nil
}

// Remove unregisters a source. The caller is responsible for cascading the
// removal through the page sequence.
func (r *Registry) Remove(key SourceKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(r.sources, key)
	r.total -= src.Size()
	r.log.Info("source removed", observability.String("source", string(key)))
	return nil
}

// Get returns the source for key.
func (r *Registry) Get(key SourceKey) (*SourceDocument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return src, nil
}

// PageCount reports the page count of a registered source.
func (r *Registry) PageCount(key SourceKey) (int, error) {
	src, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	return src.PageCount(), nil
}

// PageHandle returns an opaque handle to one page for the compositor.
func (r *Registry) PageHandle(key SourceKey, pageIndex int) (PageHandle, error) {
	src, err := r.Get(key)
	if err != nil {
		return PageHandle{}, err
	}
	if pageIndex < 0 || pageIndex >= src.PageCount() {
		return PageHandle{}, fmt.Errorf("%w: %s page %d of %d",
			ErrIndexOutOfRange, key, pageIndex, src.PageCount())
	}
	return PageHandle{Source: src, PageIndex: pageIndex}, nil
}

// TotalBytes reports the cumulative size of all registered sources.
func (r *Registry) TotalBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Keys returns the registered source keys in unspecified order.
func (r *Registry) Keys() []SourceKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]SourceKey, 0, len(r.sources))
	for k := range r.sources {
		keys = append(keys, k)
	}
	return keys
}
