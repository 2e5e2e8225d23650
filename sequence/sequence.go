// Package sequence holds the ordered, mutable list of page references the
// user is composing. The order of the sequence is the order of the merged
// output. The model is not internally locked: the session serializes all
// mutation behind its busy flag, and mutations are synchronous.
package sequence

import (
	"errors"
	"fmt"
	"iter"

	"github.com/Swarnadeep17/doc-alchemy-forge-sub000/registry"
)

var (
	// ErrNotFound is returned for unknown page-ref ids.
	ErrNotFound = errors.New("sequence: page ref not found")
	// ErrIndexOutOfRange is returned for move targets outside [0, length].
	ErrIndexOutOfRange = errors.New("sequence: index out of range")
)

// PageRef is one entry of the working sequence: one page of one source.
type PageRef struct {
	// ID combines the source key and the page index; unique per session.
	ID        string
	SourceKey registry.SourceKey
	PageIndex int

	// Selected pages are composited; deselected pages stay in the sequence
	// but are skipped by OrderedSelected.
	Selected bool

	// Rotation is the accumulated delta in degrees, always one of
	// 0, 90, 180, 270.
	Rotation int

	// DuplicateOf is the id of the first earlier page this one visually
	// duplicates, set only by the similarity engine. Empty means none.
	// Advisory: it never changes Selected on its own.
	DuplicateOf string
}

// RefID builds the synthetic page-ref id.
func RefID(key registry.SourceKey, pageIndex int) string {
	return fmt.Sprintf("%s#%d", key, pageIndex)
}

// Model is the authoritative page order.
type Model struct {
	refs []*PageRef
}

func New() *Model { return &Model{} }

// Len reports the total number of entries, selected or not.
func (m *Model) Len() int { return len(m.refs) }

// AppendPagesFromSource appends one ref per page of the source, in ascending
// page order, each selected with zero rotation. Called once per ingestion.
func (m *Model) AppendPagesFromSource(key registry.SourceKey, pageCount int) []*PageRef {
	added := make([]*PageRef, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		ref := &PageRef{
			ID:        RefID(key, i),
			SourceKey: key,
			PageIndex: i,
			Selected:  true,
		}
		m.refs = append(m.refs, ref)
		added = append(added, ref)
	}
	return added
}

// Ref returns the entry with the given id.
func (m *Model) Ref(id string) (*PageRef, error) {
	for _, ref := range m.refs {
		if ref.ID == id {
			return ref, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (m *Model) indexOf(id string) int {
	for i, ref := range m.refs {
		if ref.ID == id {
			return i
		}
	}
	return -1
}

// Move removes the entry from its current position and reinserts it at
// toIndex. toIndex is validated against the current length before removal and
// clamped to the shortened slice on reinsert. The sole reordering primitive.
func (m *Model) Move(id string, toIndex int) error {
	if toIndex < 0 || toIndex > len(m.refs) {
		return fmt.Errorf("%w: %d not in [0,%d]", ErrIndexOutOfRange, toIndex, len(m.refs))
	}
	from := m.indexOf(id)
	if from == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if from == toIndex {
		return nil
	}
	ref := m.refs[from]
	m.refs = append(m.refs[:from], m.refs[from+1:]...)
	if toIndex > len(m.refs) {
		toIndex = len(m.refs)
	}
	m.refs = append(m.refs[:toIndex], append([]*PageRef{ref}, m.refs[toIndex:]...)...)
	return nil
}

// DeletePage removes exactly one entry. Sibling pages from the same source
// are untouched.
func (m *Model) DeletePage(id string) error {
	i := m.indexOf(id)
	if i == -1 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.refs = append(m.refs[:i], m.refs[i+1:]...)
	return nil
}

// CascadeRemoveBySource removes every entry referencing the source, keeping
// relative order of the survivors, and returns the removed ids. Invoked on
// source removal so no ref is ever left dangling.
func (m *Model) CascadeRemoveBySource(key registry.SourceKey) []string {
	var removed []string
	kept := m.refs[:0]
	for _, ref := range m.refs {
		if ref.SourceKey == key {
			removed = append(removed, ref.ID)
			continue
		}
		kept = append(kept, ref)
	}
	for i := len(kept); i < len(m.refs); i++ {
		m.refs[i] = nil
	}
	m.refs = kept
	return removed
}

// SetSelected marks an entry as included in or excluded from the output.
func (m *Model) SetSelected(id string, selected bool) error {
	ref, err := m.Ref(id)
	if err != nil {
		return err
	}
	ref.Selected = selected
	return nil
}

// All returns the full sequence in order, selected or not. The slice is a
// copy; the refs are shared.
func (m *Model) All() []*PageRef {
	out := make([]*PageRef, len(m.refs))
	copy(out, m.refs)
	return out
}

// OrderedSelected yields the selected entries in sequence order. The sequence
// is lazy and restartable; each range loop observes the order current at
// iteration time.
func (m *Model) OrderedSelected() iter.Seq[*PageRef] {
	return func(yield func(*PageRef) bool) {
		for _, ref := range m.refs {
			if !ref.Selected {
				continue
			}
			if !yield(ref) {
				return
			}
		}
	}
}

// SelectedCount reports how many entries OrderedSelected would yield.
func (m *Model) SelectedCount() int {
	n := 0
	for _, ref := range m.refs {
		if ref.Selected {
			n++
		}
	}
	return n
}
