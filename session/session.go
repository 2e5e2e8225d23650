// Package session owns one merge workflow: the source registry, the page
// sequence, the transform configuration, and the Collecting → Merging →
// Done|Failed state machine. All entitlement gates are consulted here, at the
// boundary, so inner packages never reason about plans.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/entitlement"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/observability"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/ocr"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/raster"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/registry"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/sequence"
	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/transform"
)

// State is the session lifecycle phase.
type State string

const (
	// StateCollecting is the default: sources are ingested and the sequence
	// is freely edited.
	StateCollecting State = "collecting"
	// StateMerging rejects all edits until the merge finishes.
	StateMerging State = "merging"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

var (
	// ErrSessionBusy is returned for edits attempted while a merge runs.
	ErrSessionBusy = errors.New("session: busy merging")
	// ErrSessionFinished is returned for operations on a Done or Failed
	// session.
	ErrSessionFinished = errors.New("session: already finished")
	// ErrNoOutput is returned by ExtractText before a successful merge.
	ErrNoOutput = errors.New("session: no merged output")
)

// DuplicateConfig controls advisory duplicate detection.
type DuplicateConfig struct {
	Enabled   bool
	Threshold float64 // cosine similarity in [0,1]
	Scale     float64 // render scale for comparison rasters; 0 means 0.25
}

// OCRConfig controls post-merge text extraction.
type OCRConfig struct {
	Enabled   bool
	Languages []string
}

// Config is the session's mutable settings snapshot. Gated fields are
// validated against the tier when set, never again downstream.
type Config struct {
	Watermark  transform.WatermarkConfig
	Duplicates DuplicateConfig
	OCR        OCRConfig
	Producer   string
	Title      string
}

// Options wires the session's collaborators. Zero values fall back to no-op
// implementations, except Renderer which is required for duplicate detection,
// thumbnails, and OCR.
type Options struct {
	Logger    observability.Logger
	Events    observability.EventSink
	Renderer  raster.Renderer
	OCREngine ocr.Engine
}

// Session is one user's merge workflow. Sequence edits are synchronous and
// serialized by the session mutex; suspendable work (ingest, raster, merge,
// OCR) runs outside it and re-validates on resume.
type Session struct {
	id   string
	tier entitlement.Tier

	log      observability.Logger
	events   observability.EventSink
	renderer raster.Renderer
	ocrEng   ocr.Engine

	mu       sync.Mutex
	state    State
	cfg      Config
	reg      *registry.Registry
	seq      *sequence.Model
	progress float64
	output   []byte
}

// New opens a session under the given tier. Gated settings already enabled in
// cfg are validated immediately.
func New(tier entitlement.Tier, cfg Config, opts Options) (*Session, error) {
	log := opts.Logger
	if log == nil {
		log = observability.NopLogger{}
	}
	events := opts.Events
	if events == nil {
		events = observability.NopSink()
	}
	ocrEng := opts.OCREngine
	if ocrEng == nil {
		ocrEng = ocr.DefaultEngine()
	}

	s := &Session{
		id:       uuid.NewString(),
		tier:     tier,
		log:      log.With(observability.String("tier", tier.Name)),
		events:   events,
		renderer: opts.Renderer,
		ocrEng:   ocrEng,
		state:    StateCollecting,
		reg:      registry.New(log),
		seq:      sequence.New(),
	}
	if err := s.checkGates(cfg); err != nil {
		return nil, err
	}
	s.cfg = cfg
	s.events.Count(observability.EventVisit)
	return s, nil
}

func (s *Session) checkGates(cfg Config) error {
	if cfg.Watermark.Enabled && !s.tier.Allows(entitlement.FeatureAdvancedWatermark) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureAdvancedWatermark}
	}
	if cfg.Duplicates.Enabled && !s.tier.Allows(entitlement.FeatureAIDuplicateDetection) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureAIDuplicateDetection}
	}
	if cfg.OCR.Enabled && !s.tier.Allows(entitlement.FeatureOCR) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureOCR}
	}
	return nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the latest merge completion ratio in [0,1].
func (s *Session) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Output returns the merged bytes after a successful merge, nil otherwise.
func (s *Session) Output() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// Config returns the current settings snapshot.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetConfig replaces the settings. Enabling a gated feature the tier does not
// license fails with NotLicensedError and leaves the config unchanged.
func (s *Session) SetConfig(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	if err := s.checkGates(cfg); err != nil {
		return err
	}
	s.cfg = cfg
	return nil
}

// editableLocked enforces the single mutual-exclusion rule: no edits while
// merging, none after the session finished.
func (s *Session) editableLocked() error {
	switch s.state {
	case StateCollecting:
		return nil
	case StateMerging:
		return ErrSessionBusy
	default:
		return fmt.Errorf("%w: %s", ErrSessionFinished, s.state)
	}
}

// Ingest registers an upload against the tier's byte limit and appends its
// pages to the sequence. Parsing happens outside the session lock; if a merge
// started meanwhile, the registration is rolled back.
func (s *Session) Ingest(ctx context.Context, name string, lastModified time.Time, raw []byte) ([]*sequence.PageRef, error) {
	s.mu.Lock()
	if err := s.editableLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	src, err := s.reg.Ingest(ctx, name, lastModified, raw, s.tier.ByteLimit)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		s.reg.Remove(src.Key)
		return nil, err
	}
	refs := s.seq.AppendPagesFromSource(src.Key, src.PageCount())
	return refs, nil
}

// RemoveSource unregisters a source and cascades the removal through the
// sequence so no ref is left dangling. Returns the removed page-ref ids.
func (s *Session) RemoveSource(key registry.SourceKey) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return nil, err
	}
	if err := s.reg.Remove(key); err != nil {
		return nil, err
	}
	return s.seq.CascadeRemoveBySource(key), nil
}

// Move reorders one page. Synchronous and atomic.
func (s *Session) Move(pageRefID string, toIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	return s.seq.Move(pageRefID, toIndex)
}

// DeletePage removes one page from the sequence.
func (s *Session) DeletePage(pageRefID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	return s.seq.DeletePage(pageRefID)
}

// SetSelected includes or excludes one page from the output.
func (s *Session) SetSelected(pageRefID string, selected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	return s.seq.SetSelected(pageRefID, selected)
}

// RotatePage adds a quarter-turn delta to a page's accumulated rotation.
func (s *Session) RotatePage(pageRefID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	ref, err := s.seq.Ref(pageRefID)
	if err != nil {
		return err
	}
	rot, err := transform.ComposeRotation(ref.Rotation, delta)
	if err != nil {
		return err
	}
	ref.Rotation = rot
	return nil
}

// DeletePages removes several pages at once. Gated behind BULK_OPS. Pages are
// removed in order; the first unknown id aborts with nothing further removed.
func (s *Session) DeletePages(pageRefIDs []string) error {
	if !s.tier.Allows(entitlement.FeatureBulkOps) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureBulkOps}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	for _, id := range pageRefIDs {
		if _, err := s.seq.Ref(id); err != nil {
			return err
		}
	}
	for _, id := range pageRefIDs {
		s.seq.DeletePage(id)
	}
	return nil
}

// SetSelectedAll marks every page selected or deselected. Gated behind
// BULK_OPS.
func (s *Session) SetSelectedAll(selected bool) error {
	if !s.tier.Allows(entitlement.FeatureBulkOps) {
		return &entitlement.NotLicensedError{Feature: entitlement.FeatureBulkOps}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.editableLocked(); err != nil {
		return err
	}
	for _, ref := range s.seq.All() {
		ref.Selected = selected
	}
	return nil
}

// Pages returns the full sequence snapshot in order.
func (s *Session) Pages() []*sequence.PageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.All()
}

// SourceInfo describes one registered source for host UI display.
type SourceInfo struct {
	Key       registry.SourceKey
	Name      string
	PageCount int
	Bytes     int64
}

// Sources lists the registered sources.
func (s *Session) Sources() []SourceInfo {
	var out []SourceInfo
	for _, key := range s.reg.Keys() {
		src, err := s.reg.Get(key)
		if err != nil {
			continue
		}
		out = append(out, SourceInfo{
			Key:       src.Key,
			Name:      src.Name,
			PageCount: src.PageCount(),
			Bytes:     src.Size(),
		})
	}
	return out
}
