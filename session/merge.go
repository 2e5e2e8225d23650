package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/compositor"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/entitlement"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/observability"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/ocr"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/pdf"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/similarity"
)

// ErrNoRenderer is returned by operations that need a raster backend when the
// session was opened without one.
var ErrNoRenderer = errors.New("session: no renderer configured")

// Merge runs the compositor over the selected sequence. The session moves to
// Merging for the duration; edits arriving meanwhile fail with SessionBusy.
// On success the output bytes are retained and returned; any failure is
// terminal for the session.
func (s *Session) Merge(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	switch s.state {
	case StateMerging:
		s.mu.Unlock()
		return nil, ErrSessionBusy
	case StateDone, StateFailed:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionFinished, s.state)
	}
	s.state = StateMerging
	s.progress = 0
	cfg := s.cfg
	s.mu.Unlock()

	s.events.Count(observability.EventMergeStarted)
	s.log.Info("merge started", observability.String("session", s.id))

	producer := cfg.Producer
	if producer == "" {
		producer = "doc-alchemy-forge"
	}
	comp := compositor.New(s.log)
	out, err := comp.Merge(ctx, s.seq.OrderedSelected(), s.reg, compositor.Config{
		Watermark: cfg.Watermark,
		Producer:  producer,
		Title:     cfg.Title,
	}, func(ratio float64) {
		s.mu.Lock()
		s.progress = ratio
		s.mu.Unlock()
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateFailed
		s.events.Count(observability.EventMergeFailed)
		s.log.Error("merge failed", observability.Error("err", err))
		return nil, err
	}
	s.state = StateDone
	s.output = out
	s.events.Count(observability.EventDownload)
	s.log.Info("merge done", observability.Int("bytes", len(out)))
	return out, nil
}

// Rasterize renders one page of one source for thumbnail display, caching by
// (page, scale) on the source. The page may be deleted while rendering; the
// result is still returned and simply discarded with the source.
func (s *Session) Rasterize(ctx context.Context, pageRefID string, scale float64) (image.Image, error) {
	if s.renderer == nil {
		return nil, ErrNoRenderer
	}
	s.mu.Lock()
	ref, err := s.seq.Ref(pageRefID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key, pageIndex := ref.SourceKey, ref.PageIndex
	s.mu.Unlock()

	src, err := s.reg.Get(key)
	if err != nil {
		return nil, err
	}
	if img, ok := src.CachedRaster(pageIndex, scale); ok {
		return img, nil
	}
	img, err := s.renderer.Render(ctx, src.Raw(), pageIndex, scale)
	if err != nil {
		return nil, err
	}
	src.StoreRaster(pageIndex, scale, img)
	return img, nil
}

// DetectDuplicates renders every selected page and annotates DuplicateOf on
// the sequence. Gated behind AI_DUPLICATE_DETECTION. Pages deleted while
// their raster was in flight are skipped on resume; pages whose render fails
// are excluded from comparison and keep their previous annotation.
func (s *Session) DetectDuplicates(ctx context.Context) error {
	if !s.tier.Allows(entitlement.FeatureAIDuplicateDetection) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureAIDuplicateDetection}
	}
	if s.renderer == nil {
		return ErrNoRenderer
	}

	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	cfg := s.cfg.Duplicates
	var ids []string
	for ref := range s.seq.OrderedSelected() {
		ids = append(ids, ref.ID)
	}
	s.mu.Unlock()

	if !cfg.Enabled {
		return nil
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 0.25
	}

	rasters := make(map[string]image.Image, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := s.Rasterize(ctx, id, scale)
		if err != nil {
			// Render failures exclude the page; detection stays advisory.
			s.log.Warn("raster failed for duplicate detection",
				observability.String("page", id), observability.Error("err", err))
			continue
		}
		rasters[id] = img
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	var pages []similarity.PageRaster
	for ref := range s.seq.OrderedSelected() {
		pages = append(pages, similarity.PageRaster{Ref: ref, Image: rasters[ref.ID]})
	}
	similarity.DetectDuplicates(pages, cfg.Threshold)
	return nil
}

// ExtractText runs OCR over the merged output, page by page, and returns the
// concatenated text. Gated behind the OCR feature. Failures never touch the
// merged bytes; the caller just gets no text.
func (s *Session) ExtractText(ctx context.Context) (string, error) {
	if !s.tier.Allows(entitlement.FeatureOCR) {
		return "", &entitlement.NotLicensedError{Feature: entitlement.FeatureOCR}
	}
	if s.renderer == nil {
		return "", ErrNoRenderer
	}

	s.mu.Lock()
	out := s.output
	langs := append([]string(nil), s.cfg.OCR.Languages...)
	s.mu.Unlock()
	if len(out) == 0 {
		return "", ErrNoOutput
	}

	parsed, err := pdf.NewReader(out)
	if err != nil {
		return "", fmt.Errorf("session: parse output for ocr: %w", err)
	}

	// 2x scale gives OCR 144 DPI input, a reasonable floor for recognition.
	const scale = 2.0
	images := make([]image.Image, 0, parsed.PageCount())
	for i := 0; i < parsed.PageCount(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		img, err := s.renderer.Render(ctx, out, i, scale)
		if err != nil {
			return "", fmt.Errorf("session: render output page %d for ocr: %w", i, err)
		}
		images = append(images, img)
	}

	opts := []ocr.InputOption{ocr.WithDPI(72 * scale)}
	if len(langs) > 0 {
		opts = append(opts, ocr.WithLanguages(langs...))
	}
	results, err := ocr.RecognizeImages(ctx, s.ocrEng, images, opts...)
	if err != nil {
		return "", fmt.Errorf("session: ocr: %w", err)
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.PlainText)
	}
	return strings.Join(parts, "\n\n"), nil
}
