// Package compositor assembles the merged output document: it walks the
// selected page sequence, deep-copies each page's object graph out of its
// source, applies rotation and watermark transforms, and serializes the
// result. A merge is all-or-nothing; any page failure aborts with no output.
package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/observability"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/registry"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/sequence"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/transform"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/writer"
)

// ErrNothingToMerge is returned when the selected sequence is empty.
var ErrNothingToMerge = errors.New("compositor: nothing to merge")

// DanglingReferenceError reports a page ref whose source is no longer
// registered. Unreachable while the cascade-delete invariant holds; its
// occurrence signals a programming error, not a user condition.
type DanglingReferenceError struct {
	PageRefID string
	SourceKey registry.SourceKey
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("compositor: page %s references missing source %s", e.PageRefID, e.SourceKey)
}

// PageCopyError reports the page that aborted the merge.
type PageCopyError struct {
	PageRefID string
	Err       error
}

func (e *PageCopyError) Error() string {
	return fmt.Sprintf("compositor: copy page %s: %v", e.PageRefID, e.Err)
}

func (e *PageCopyError) Unwrap() error { return e.Err }

// Config carries the per-merge transform settings and output metadata.
type Config struct {
	Watermark transform.WatermarkConfig
	Producer  string
	Title     string
}

// ProgressFunc receives the monotonically increasing completion ratio after
// each copied page. Advisory; errors in the callback are not possible and the
// merge never blocks on it.
type ProgressFunc func(ratio float64)

// Compositor serializes merges. Stateless between calls.
type Compositor struct {
	log observability.Logger
	w   writer.Writer
}

// New returns a compositor. A nil logger falls back to NopLogger.
func New(log observability.Logger) *Compositor {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Compositor{log: log, w: writer.NewWriter()}
}

// Merge copies every page yielded by pages into a new document in order,
// applies each ref's rotation and the configured watermark, and returns the
// serialized bytes. Page order in the output is exactly the yield order.
func (c *Compositor) Merge(ctx context.Context, pages iter.Seq[*sequence.PageRef], reg *registry.Registry, cfg Config, progress ProgressFunc) ([]byte, error) {
	if err := cfg.Watermark.Validate(); err != nil {
		return nil, err
	}

	var refs []*sequence.PageRef
	for ref := range pages {
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, ErrNothingToMerge
	}

	doc := &writer.Document{Objects: make(map[int]pdf.Object)}
	catalogRef := doc.Add(pdf.NullObject{})
	pagesRef := doc.Add(pdf.NullObject{})

	cp := &copier{doc: doc, remaps: make(map[*pdf.Reader]map[pdf.IndirectObject]pdf.IndirectObject)}

	kids := make(pdf.ArrayObject, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageRef, err := c.copyPage(cp, ref, reg, pagesRef, cfg)
		if err != nil {
			return nil, err
		}
		kids = append(kids, pageRef)
		if progress != nil {
			progress(float64(i+1) / float64(len(refs)))
		}
	}

	doc.Objects[pagesRef.ObjectNumber] = pdf.DictionaryObject{
		"/Type":  pdf.NameObject("/Pages"),
		"/Kids":  kids,
		"/Count": pdf.NumberObject(len(kids)),
	}
	doc.Objects[catalogRef.ObjectNumber] = pdf.DictionaryObject{
		"/Type":  pdf.NameObject("/Catalog"),
		"/Pages": pagesRef,
	}
	doc.Root = catalogRef.ObjectNumber

	if cfg.Producer != "" || cfg.Title != "" {
		info := pdf.DictionaryObject{}
		if cfg.Producer != "" {
			info["/Producer"] = pdf.StringObject(cfg.Producer)
		}
		if cfg.Title != "" {
			info["/Title"] = pdf.StringObject(cfg.Title)
		}
		doc.Info = doc.Add(info).ObjectNumber
	}

	var buf bytes.Buffer
	if err := c.w.Write(ctx, doc, &buf, writer.Config{}); err != nil {
		return nil, fmt.Errorf("compositor: serialize: %w", err)
	}
	c.log.Info("merge serialized",
		observability.Int("pages", len(refs)),
		observability.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

// copyPage pulls one page out of its source into the output document and
// applies the transforms.
func (c *Compositor) copyPage(cp *copier, ref *sequence.PageRef, reg *registry.Registry, parent pdf.IndirectObject, cfg Config) (pdf.IndirectObject, error) {
	handle, err := reg.PageHandle(ref.SourceKey, ref.PageIndex)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return pdf.IndirectObject{}, &DanglingReferenceError{PageRefID: ref.ID, SourceKey: ref.SourceKey}
		}
		return pdf.IndirectObject{}, &PageCopyError{PageRefID: ref.ID, Err: err}
	}
	src, err := handle.Page()
	if err != nil {
		return pdf.IndirectObject{}, &PageCopyError{PageRefID: ref.ID, Err: err}
	}

	reader := handle.Source.Reader()
	page := make(pdf.DictionaryObject, len(src)+2)
	for k, v := range src {
		if k == "/Parent" {
			continue
		}
		copied, err := cp.copyValue(reader, v)
		if err != nil {
			return pdf.IndirectObject{}, &PageCopyError{PageRefID: ref.ID, Err: err}
		}
		page[k] = copied
	}
	page["/Parent"] = parent
	if _, ok := page["/Type"]; !ok {
		page["/Type"] = pdf.NameObject("/Page")
	}

	base := 0
	if n, ok := cp.resolveOut(page["/Rotate"]).(pdf.NumberObject); ok {
		base = int(n)
	}
	effective, err := transform.ComposeRotation(base, ref.Rotation)
	if err != nil {
		return pdf.IndirectObject{}, &PageCopyError{PageRefID: ref.ID, Err: err}
	}
	if effective == 0 {
		delete(page, "/Rotate")
	} else {
		page["/Rotate"] = pdf.NumberObject(effective)
	}

	if cfg.Watermark.Enabled {
		if err := c.stampWatermark(cp, page, cfg.Watermark); err != nil {
			return pdf.IndirectObject{}, &PageCopyError{PageRefID: ref.ID, Err: err}
		}
	}

	return cp.doc.Add(page), nil
}

// stampWatermark appends a self-contained content stream and registers the
// alpha graphics state and Helvetica font under collision-free resource
// names.
func (c *Compositor) stampWatermark(cp *copier, page pdf.DictionaryObject, cfg transform.WatermarkConfig) error {
	width, height := pageDims(cp, page)

	resources, _ := cp.resolveOut(page["/Resources"]).(pdf.DictionaryObject)
	res := make(pdf.DictionaryObject, len(resources)+2)
	for k, v := range resources {
		res[k] = v
	}
	gsName := c.injectResource(cp, res, "/ExtGState", "WMgs", pdf.DictionaryObject{
		"/Type": pdf.NameObject("/ExtGState"),
		"/ca":   pdf.NumberObject(cfg.Opacity),
		"/CA":   pdf.NumberObject(cfg.Opacity),
	})
	fontName := c.injectResource(cp, res, "/Font", "WMf", pdf.DictionaryObject{
		"/Type":     pdf.NameObject("/Font"),
		"/Subtype":  pdf.NameObject("/Type1"),
		"/BaseFont": pdf.NameObject("/Helvetica"),
	})
	page["/Resources"] = res

	ops, err := transform.WatermarkOps(cfg, width, height, gsName, fontName)
	if err != nil {
		return err
	}
	stampRef := cp.doc.Add(pdf.StreamObject{Dictionary: pdf.DictionaryObject{}, Data: ops})

	contents := pdf.ArrayObject{}
	switch v := page["/Contents"].(type) {
	case nil:
	case pdf.ArrayObject:
		contents = append(contents, v...)
	case pdf.IndirectObject:
		if arr, ok := cp.resolveOut(v).(pdf.ArrayObject); ok {
			contents = append(contents, arr...)
		} else {
			contents = append(contents, v)
		}
	default:
		contents = append(contents, v)
	}
	page["/Contents"] = append(contents, stampRef)
	return nil
}

// injectResource adds entry to the named resource category under a name that
// does not collide with the page's existing resources, returning the chosen
// name without its slash.
func (c *Compositor) injectResource(cp *copier, res pdf.DictionaryObject, category, base string, entry pdf.DictionaryObject) string {
	cat, _ := cp.resolveOut(res[category]).(pdf.DictionaryObject)
	merged := make(pdf.DictionaryObject, len(cat)+1)
	for k, v := range cat {
		merged[k] = v
	}
	name := base
	for i := 1; ; i++ {
		if _, taken := merged["/"+name]; !taken {
			break
		}
		name = fmt.Sprintf("%s%d", base, i)
	}
	merged["/"+name] = cp.doc.Add(entry)
	res[category] = merged
	return name
}

// pageDims reads the page's MediaBox, defaulting to US Letter when absent or
// malformed.
func pageDims(cp *copier, page pdf.DictionaryObject) (float64, float64) {
	box, ok := cp.resolveOut(page["/MediaBox"]).(pdf.ArrayObject)
	if !ok || len(box) != 4 {
		return 612, 792
	}
	coords := make([]float64, 4)
	for i, o := range box {
		n, ok := cp.resolveOut(o).(pdf.NumberObject)
		if !ok {
			return 612, 792
		}
		coords[i] = float64(n)
	}
	return coords[2] - coords[0], coords[3] - coords[1]
}

// copier deep-copies object graphs between documents, remapping indirect
// references. Remaps are kept per source reader so objects shared by several
// pages of one source are copied once.
type copier struct {
	doc    *writer.Document
	remaps map[*pdf.Reader]map[pdf.IndirectObject]pdf.IndirectObject
}

func (c *copier) copyValue(r *pdf.Reader, obj pdf.Object) (pdf.Object, error) {
	switch v := obj.(type) {
	case pdf.IndirectObject:
		return c.copyRef(r, v)
	case pdf.ArrayObject:
		out := make(pdf.ArrayObject, len(v))
		for i, item := range v {
			copied, err := c.copyValue(r, item)
			if err != nil {
				return nil, err
			}
			out[i] = copied
		}
		return out, nil
	case pdf.DictionaryObject:
		out := make(pdf.DictionaryObject, len(v))
		for k, item := range v {
			copied, err := c.copyValue(r, item)
			if err != nil {
				return nil, err
			}
			out[k] = copied
		}
		return out, nil
	case pdf.StreamObject:
		dict, err := c.copyValue(r, v.Dictionary)
		if err != nil {
			return nil, err
		}
		data := make([]byte, len(v.Data))
		copy(data, v.Data)
		return pdf.StreamObject{Dictionary: dict.(pdf.DictionaryObject), Data: data}, nil
	default:
		return obj, nil
	}
}

// copyRef allocates the output slot before recursing so reference cycles
// (e.g. /Parent chains inside annotations) terminate.
func (c *copier) copyRef(r *pdf.Reader, ref pdf.IndirectObject) (pdf.IndirectObject, error) {
	remap, ok := c.remaps[r]
	if !ok {
		remap = make(map[pdf.IndirectObject]pdf.IndirectObject)
		c.remaps[r] = remap
	}
	if out, ok := remap[ref]; ok {
		return out, nil
	}

	out := c.doc.Add(pdf.NullObject{})
	remap[ref] = out

	target, err := r.GetObject(ref)
	if err != nil {
		return pdf.IndirectObject{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	copied, err := c.copyValue(r, target)
	if err != nil {
		return pdf.IndirectObject{}, err
	}
	c.doc.Objects[out.ObjectNumber] = copied
	return out, nil
}

// resolveOut follows a reference into the output document's object set.
func (c *copier) resolveOut(obj pdf.Object) pdf.Object {
	if ref, ok := obj.(pdf.IndirectObject); ok {
		return c.doc.Objects[ref.ObjectNumber]
	}
	return obj
}
