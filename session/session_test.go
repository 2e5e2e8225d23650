package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/compositor"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/entitlement"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/observability"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/ocr"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/raster"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/registry"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/sequence"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/transform"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/writer"
)

var mod = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func buildPDF(t *testing.T, labels ...string) []byte {
	t.Helper()
	doc := &writer.Document{Objects: make(map[int]pdf.Object)}
	catalog := doc.Add(pdf.NullObject{})
	pagesRef := doc.Add(pdf.NullObject{})
	kids := pdf.ArrayObject{}
	for _, label := range labels {
		cref := doc.Add(pdf.StreamObject{
			Dictionary: pdf.DictionaryObject{},
			Data:       []byte(fmt.Sprintf("BT (%s) Tj ET", label)),
		})
		kids = append(kids, doc.Add(pdf.DictionaryObject{
			"/Type":     pdf.NameObject("/Page"),
			"/Parent":   pagesRef,
			"/MediaBox": pdf.ArrayObject{pdf.NumberObject(0), pdf.NumberObject(0), pdf.NumberObject(612), pdf.NumberObject(792)},
			"/Contents": cref,
		}))
	}
	doc.Objects[pagesRef.ObjectNumber] = pdf.DictionaryObject{
		"/Type": pdf.NameObject("/Pages"), "/Kids": kids, "/Count": pdf.NumberObject(len(labels)),
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

// fakeRenderer returns the same non-uniform bitmap for every page, so any two
// pages compare as duplicates.
func fakeRenderer() raster.Renderer {
	return raster.RenderFunc(func(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error) {
		img := image.NewGray(image.Rect(0, 0, 32, 32))
		for i := range img.Pix {
			img.Pix[i] = byte(i * 7)
		}
		return img, nil
	})
}

type fakeOCR struct{}

func (fakeOCR) Name() string { return "fake" }
func (fakeOCR) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	return ocr.Result{InputID: in.ID, PlainText: fmt.Sprintf("t%d", in.PageIndex)}, nil
}

func newSession(t *testing.T, tier entitlement.Tier, cfg Config, opts Options) *Session {
	t.Helper()
	s, err := New(tier, cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func pageText(t *testing.T, out []byte, index int) string {
	t.Helper()
	r, err := pdf.NewReader(out)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	page, err := r.Page(index)
	if err != nil {
		t.Fatalf("Page(%d): %v", index, err)
	}
	stm, ok := r.Resolve(page["/Contents"]).(pdf.StreamObject)
	if !ok {
		t.Fatalf("contents: %T", r.Resolve(page["/Contents"]))
	}
	return string(stm.Data)
}

func TestEndToEndFreeTier(t *testing.T) {
	sink := observability.NewMemorySink()
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{Events: sink})
	ctx := context.Background()

	refsA, err := s.Ingest(ctx, "a.pdf", mod, buildPDF(t, "A0", "A1", "A2"))
	if err != nil {
		t.Fatalf("ingest a: %v", err)
	}
	refsB, err := s.Ingest(ctx, "b.pdf", mod, buildPDF(t, "B0", "B1"))
	if err != nil {
		t.Fatalf("ingest b: %v", err)
	}
	if len(refsA) != 3 || len(refsB) != 2 || len(s.Pages()) != 5 {
		t.Fatalf("refs: %d + %d, total %d", len(refsA), len(refsB), len(s.Pages()))
	}

	if err := s.Move(refsB[0].ID, 0); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := s.DeletePage(refsA[1].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Free tier does not license watermarking.
	wmCfg := Config{Watermark: transform.WatermarkConfig{
		Enabled: true, Text: "DRAFT", Position: transform.PositionCenter, FontSize: 48, Opacity: 0.3,
	}}
	var nle *entitlement.NotLicensedError
	if err := s.SetConfig(wmCfg); !errors.As(err, &nle) {
		t.Fatalf("expected NotLicensedError, got %v", err)
	}
	if nle.Feature != entitlement.FeatureAdvancedWatermark {
		t.Fatalf("gated feature: %s", nle.Feature)
	}

	out, err := s.Merge(ctx)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if s.State() != StateDone || s.Progress() != 1 {
		t.Fatalf("state %s progress %v", s.State(), s.Progress())
	}
	if !bytes.Equal(out, s.Output()) {
		t.Fatalf("Output mismatch")
	}

	r, err := pdf.NewReader(out)
	if err != nil {
		t.Fatalf("parse output: %v", err)
	}
	if r.PageCount() != 4 {
		t.Fatalf("output pages: %d", r.PageCount())
	}
	for i, want := range []string{"B0", "A0", "A2", "B1"} {
		if got := pageText(t, out, i); !strings.Contains(got, want) {
			t.Fatalf("page %d: %q missing %q", i, got, want)
		}
	}
	// No watermark resources on the free-tier output.
	page, _ := r.Page(0)
	if res, ok := r.Resolve(page["/Resources"]).(pdf.DictionaryObject); ok {
		if _, has := res["/ExtGState"]; has {
			t.Fatalf("unexpected watermark state on free tier")
		}
	}

	counts := sink.Counts()
	if counts[observability.EventVisit] != 1 || counts[observability.EventMergeStarted] != 1 || counts[observability.EventDownload] != 1 {
		t.Fatalf("counters: %v", counts)
	}
	if counts[observability.EventMergeFailed] != 0 {
		t.Fatalf("unexpected failure counter: %v", counts)
	}
}

func TestSessionBusyRejectsEdits(t *testing.T) {
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	ctx := context.Background()
	refs, err := s.Ingest(ctx, "a.pdf", mod, buildPDF(t, "A0"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	s.mu.Lock()
	s.state = StateMerging
	s.mu.Unlock()

	if err := s.Move(refs[0].ID, 0); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("move: %v", err)
	}
	if err := s.DeletePage(refs[0].ID); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("delete: %v", err)
	}
	if err := s.SetSelected(refs[0].ID, false); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("select: %v", err)
	}
	if err := s.RotatePage(refs[0].ID, 90); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := s.Ingest(ctx, "b.pdf", mod, buildPDF(t, "B0")); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := s.RemoveSource(refs[0].SourceKey); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("remove source: %v", err)
	}
	if err := s.SetConfig(Config{}); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("set config: %v", err)
	}
	if _, err := s.Merge(ctx); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second merge: %v", err)
	}

	s.mu.Lock()
	s.state = StateCollecting
	s.mu.Unlock()
	if err := s.Move(refs[0].ID, 0); err != nil {
		t.Fatalf("move after merge finished: %v", err)
	}
}

func TestSessionFinishedIsTerminal(t *testing.T) {
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	ctx := context.Background()
	refs, _ := s.Ingest(ctx, "a.pdf", mod, buildPDF(t, "A0"))
	if _, err := s.Merge(ctx); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.Move(refs[0].ID, 0); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("move after done: %v", err)
	}
	if _, err := s.Merge(ctx); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("re-merge after done: %v", err)
	}
}

func TestMergeFailureMarksSession(t *testing.T) {
	sink := observability.NewMemorySink()
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{Events: sink})
	if _, err := s.Merge(context.Background()); !errors.Is(err, compositor.ErrNothingToMerge) {
		t.Fatalf("expected ErrNothingToMerge, got %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("state: %s", s.State())
	}
	if sink.Counts()[observability.EventMergeFailed] != 1 {
		t.Fatalf("counters: %v", sink.Counts())
	}
}

func TestIngestSizeLimit(t *testing.T) {
	raw := buildPDF(t, "A0")
	tier := entitlement.Tier{Name: "tiny", ByteLimit: int64(len(raw))}
	s := newSession(t, tier, Config{}, Options{})
	ctx := context.Background()
	if _, err := s.Ingest(ctx, "a.pdf", mod, raw); err != nil {
		t.Fatalf("ingest at limit: %v", err)
	}
	if _, err := s.Ingest(ctx, "b.pdf", mod, buildPDF(t, "B0")); !errors.Is(err, registry.ErrSizeExceeded) {
		t.Fatalf("expected ErrSizeExceeded, got %v", err)
	}
}

func TestRemoveSourceCascades(t *testing.T) {
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	ctx := context.Background()
	refsA, _ := s.Ingest(ctx, "a.pdf", mod, buildPDF(t, "A0", "A1"))
	s.Ingest(ctx, "b.pdf", mod, buildPDF(t, "B0"))

	removed, err := s.RemoveSource(refsA[0].SourceKey)
	if err != nil {
		t.Fatalf("remove source: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed: %v", removed)
	}
	for _, ref := range s.Pages() {
		if ref.SourceKey == refsA[0].SourceKey {
			t.Fatalf("dangling ref %s", ref.ID)
		}
	}
	if len(s.Sources()) != 1 {
		t.Fatalf("sources: %v", s.Sources())
	}
}

func TestRotatePageAccumulates(t *testing.T) {
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	refs, _ := s.Ingest(context.Background(), "a.pdf", mod, buildPDF(t, "A0"))
	id := refs[0].ID
	for _, delta := range []int{270, 90, 90} {
		if err := s.RotatePage(id, delta); err != nil {
			t.Fatalf("rotate %d: %v", delta, err)
		}
	}
	if refs[0].Rotation != 90 {
		t.Fatalf("rotation: %d", refs[0].Rotation)
	}
	if err := s.RotatePage(id, 45); !errors.Is(err, transform.ErrInvalidRotation) {
		t.Fatalf("invalid delta: %v", err)
	}
}

func TestBulkOpsGated(t *testing.T) {
	free := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	refs, _ := free.Ingest(context.Background(), "a.pdf", mod, buildPDF(t, "A0", "A1"))
	var nle *entitlement.NotLicensedError
	if err := free.DeletePages([]string{refs[0].ID}); !errors.As(err, &nle) || nle.Feature != entitlement.FeatureBulkOps {
		t.Fatalf("DeletePages gate: %v", err)
	}
	if err := free.SetSelectedAll(false); !errors.As(err, &nle) {
		t.Fatalf("SetSelectedAll gate: %v", err)
	}

	pro := newSession(t, entitlement.ProTier(), Config{}, Options{})
	prefs, _ := pro.Ingest(context.Background(), "a.pdf", mod, buildPDF(t, "A0", "A1", "A2"))
	if err := pro.DeletePages([]string{prefs[0].ID, prefs[2].ID}); err != nil {
		t.Fatalf("DeletePages: %v", err)
	}
	if got := len(pro.Pages()); got != 1 {
		t.Fatalf("pages after bulk delete: %d", got)
	}
	// Unknown ids abort before anything is removed.
	if err := pro.DeletePages([]string{prefs[1].ID, "nope"}); !errors.Is(err, sequence.ErrNotFound) {
		t.Fatalf("bulk delete with unknown id: %v", err)
	}
	if got := len(pro.Pages()); got != 1 {
		t.Fatalf("bulk delete was not atomic: %d pages", got)
	}
	if err := pro.SetSelectedAll(false); err != nil {
		t.Fatalf("SetSelectedAll: %v", err)
	}
	for _, ref := range pro.Pages() {
		if ref.Selected {
			t.Fatalf("still selected: %s", ref.ID)
		}
	}
}

func TestDetectDuplicatesGatedAndAnnotates(t *testing.T) {
	free := newSession(t, entitlement.FreeTier(), Config{}, Options{Renderer: fakeRenderer()})
	var nle *entitlement.NotLicensedError
	if err := free.DetectDuplicates(context.Background()); !errors.As(err, &nle) || nle.Feature != entitlement.FeatureAIDuplicateDetection {
		t.Fatalf("gate: %v", err)
	}

	cfg := Config{Duplicates: DuplicateConfig{Enabled: true, Threshold: 0.9}}
	pro := newSession(t, entitlement.ProTier(), cfg, Options{Renderer: fakeRenderer()})
	refs, err := pro.Ingest(context.Background(), "a.pdf", mod, buildPDF(t, "A0", "A1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := pro.DetectDuplicates(context.Background()); err != nil {
		t.Fatalf("detect: %v", err)
	}
	if refs[0].DuplicateOf != "" {
		t.Fatalf("first page: %q", refs[0].DuplicateOf)
	}
	if refs[1].DuplicateOf != refs[0].ID {
		t.Fatalf("second page: %q", refs[1].DuplicateOf)
	}
}

func TestDetectDuplicatesNeedsRenderer(t *testing.T) {
	s := newSession(t, entitlement.ProTier(), Config{Duplicates: DuplicateConfig{Enabled: true, Threshold: 0.9}}, Options{})
	if err := s.DetectDuplicates(context.Background()); !errors.Is(err, ErrNoRenderer) {
		t.Fatalf("expected ErrNoRenderer, got %v", err)
	}
}

func TestExtractText(t *testing.T) {
	free := newSession(t, entitlement.FreeTier(), Config{}, Options{Renderer: fakeRenderer()})
	var nle *entitlement.NotLicensedError
	if _, err := free.ExtractText(context.Background()); !errors.As(err, &nle) || nle.Feature != entitlement.FeatureOCR {
		t.Fatalf("gate: %v", err)
	}

	cfg := Config{OCR: OCRConfig{Enabled: true, Languages: []string{"eng"}}}
	pro := newSession(t, entitlement.ProTier(), cfg, Options{Renderer: fakeRenderer(), OCREngine: fakeOCR{}})
	ctx := context.Background()
	if _, err := pro.ExtractText(ctx); !errors.Is(err, ErrNoOutput) {
		t.Fatalf("before merge: %v", err)
	}
	if _, err := pro.Ingest(ctx, "a.pdf", mod, buildPDF(t, "A0", "A1")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := pro.Merge(ctx); err != nil {
		t.Fatalf("merge: %v", err)
	}
	text, err := pro.ExtractText(ctx)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "t0\n\nt1" {
		t.Fatalf("text: %q", text)
	}
}

func TestRasterizeCaches(t *testing.T) {
	calls := 0
	renderer := raster.RenderFunc(func(ctx context.Context, doc []byte, pageIndex int, scale float64) (image.Image, error) {
		calls++
		return image.NewGray(image.Rect(0, 0, 8, 8)), nil
	})
	s := newSession(t, entitlement.FreeTier(), Config{}, Options{Renderer: renderer})
	refs, _ := s.Ingest(context.Background(), "a.pdf", mod, buildPDF(t, "A0"))

	if _, err := s.Rasterize(context.Background(), refs[0].ID, 1); err != nil {
		t.Fatalf("first render: %v", err)
	}
	if _, err := s.Rasterize(context.Background(), refs[0].ID, 1); err != nil {
		t.Fatalf("second render: %v", err)
	}
	if calls != 1 {
		t.Fatalf("renderer calls: %d", calls)
	}
	// A different scale is a different cache entry.
	if _, err := s.Rasterize(context.Background(), refs[0].ID, 2); err != nil {
		t.Fatalf("scaled render: %v", err)
	}
	if calls != 2 {
		t.Fatalf("renderer calls after scale change: %d", calls)
	}
}

func TestSessionIDsUnique(t *testing.T) {
	a := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	b := newSession(t, entitlement.FreeTier(), Config{}, Options{})
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("ids: %q %q", a.ID(), b.ID())
	}
}
