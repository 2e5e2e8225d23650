package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/writer"
)

func buildPDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := &writer.Document{Objects: make(map[int]pdf.Object)}
	catalog := doc.Add(pdf.NullObject{})
	pagesRef := doc.Add(pdf.NullObject{})
	kids := pdf.ArrayObject{}
	for i := 0; i < pages; i++ {
		cref := doc.Add(pdf.StreamObject{Dictionary: pdf.DictionaryObject{}, Data: []byte(fmt.Sprintf("BT (p%d) Tj ET", i))})
		kids = append(kids, doc.Add(pdf.DictionaryObject{
			"/Type":     pdf.NameObject("/Page"),
			"/Parent":   pagesRef,
			"/MediaBox": pdf.ArrayObject{pdf.NumberObject(0), pdf.NumberObject(0), pdf.NumberObject(612), pdf.NumberObject(792)},
			"/Contents": cref,
		}))
	}
	doc.Objects[pagesRef.ObjectNumber] = pdf.DictionaryObject{
		"/Type": pdf.NameObject("/Pages"), "/Kids": kids, "/Count": pdf.NumberObject(pages),
	}
	doc.Objects[catalog.ObjectNumber] = pdf.DictionaryObject{
		"/Type": pdf.NameObject("/Catalog"), "/Pages": pagesRef,
	}
	doc.Root = catalog.ObjectNumber
	var buf bytes.Buffer
	if err := writer.NewWriter().Write(context.Background(), doc, &buf, writer.Config{}); err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	return buf.Bytes()
}

var mod = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestIngestAndLookup(t *testing.T) {
	r := New(nil)
	raw := buildPDF(t, 3)
	src, err := r.Ingest(context.Background(), "a.pdf", mod, raw, 1<<20)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if src.Key != MakeSourceKey("a.pdf", mod) {
		t.Fatalf("key: %s", src.Key)
	}
	if n, err := r.PageCount(src.Key); err != nil || n != 3 {
		t.Fatalf("PageCount: %d, %v", n, err)
	}
	if r.TotalBytes() != int64(len(raw)) {
		t.Fatalf("TotalBytes: %d", r.TotalBytes())
	}

	h, err := r.PageHandle(src.Key, 2)
	if err != nil {
		t.Fatalf("PageHandle: %v", err)
	}
	if page, err := h.Page(); err != nil || page.Name("/Type") != "/Page" {
		t.Fatalf("handle page: %v, %v", page, err)
	}
	if _, err := r.PageHandle(src.Key, 3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if _, err := r.PageHandle("nope", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestInvalidFormat(t *testing.T) {
	r := New(nil)
	if _, err := r.Ingest(context.Background(), "junk.pdf", mod, []byte("not a pdf"), 1<<20); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}

func TestIngestDuplicate(t *testing.T) {
	r := New(nil)
	raw := buildPDF(t, 1)
	if _, err := r.Ingest(context.Background(), "a.pdf", mod, raw, 1<<20); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := r.Ingest(context.Background(), "a.pdf", mod, raw, 1<<20); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Same name with a different timestamp is a different source.
	if _, err := r.Ingest(context.Background(), "a.pdf", mod.Add(time.Second), raw, 1<<20); err != nil {
		t.Fatalf("re-upload with new timestamp: %v", err)
	}
}

func TestSizeLimitBoundary(t *testing.T) {
	r := New(nil)
	raw := buildPDF(t, 1)
	limit := int64(len(raw))
	// Exactly at the limit succeeds.
	if _, err := r.Ingest(context.Background(), "a.pdf", mod, raw, limit); err != nil {
		t.Fatalf("ingest at limit: %v", err)
	}
	// One more byte anywhere fails.
	if _, err := r.Ingest(context.Background(), "b.pdf", mod, []byte("x"), limit); !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}

	r2 := New(nil)
	if _, err := r2.Ingest(context.Background(), "a.pdf", mod, raw, limit-1); !errors.Is(err, ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded one byte under, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	r := New(nil)
	raw := buildPDF(t, 2)
	src, err := r.Ingest(context.Background(), "a.pdf", mod, raw, 1<<20)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := r.Remove(src.Key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if r.TotalBytes() != 0 {
		t.Fatalf("TotalBytes after remove: %d", r.TotalBytes())
	}
	if err := r.Remove(src.Key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Removal frees capacity for a new upload.
	if _, err := r.Ingest(context.Background(), "a.pdf", mod, raw, int64(len(raw))); err != nil {
		t.Fatalf("re-ingest after remove: %v", err)
	}
}
