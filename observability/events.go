package observability

import "sync"

// Event is a named counter incremented at engine milestones.
type Event string

const (
	EventVisit        Event = "visit"
	EventDownload     Event = "download"
	EventMergeStarted Event = "merge_started"
	EventMergeFailed  Event = "merge_failed"
)

// EventSink receives fire-and-forget counter increments. Implementations must
// never block; the engine does not check or depend on delivery.
type EventSink interface {
	Count(event Event)
}

type nopSink struct{}

func (nopSink) Count(Event) {}

// NopSink returns a sink that discards all events.
func NopSink() EventSink { return nopSink{} }

// MemorySink counts events in memory so the host application can read the
// counters back. Safe for concurrent use.
type MemorySink struct {
	mu     sync.Mutex
	counts map[Event]int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{counts: make(map[Event]int)}
}

func (s *MemorySink) Count(event Event) {
	s.mu.Lock()
	s.counts[event]++
	s.mu.Unlock()
}

// Counts returns a snapshot of all counters.
func (s *MemorySink) Counts() map[Event]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Event]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
