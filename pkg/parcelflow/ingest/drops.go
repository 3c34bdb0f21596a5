package ingest

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
)

// DroppedEvent describes a rejected record. Drops are informational and
// never retried by the engine.
type DroppedEvent struct {
	Sequence    int64     `json:"sequence"`
	Raw         string    `json:"raw"`
	Reason      Reason    `json:"reason"`
	Error       string    `json:"error,omitempty"`
	RecipientID int64     `json:"recipient_id,omitempty"`
	DroppedAt   time.Time `json:"dropped_at"`
}

// DropSink receives a record of every drop.
type DropSink interface {
	Drop(ctx context.Context, dropped *DroppedEvent) error
}

// DefaultDropSinkSize is the MemoryDropSink capacity when none is given.
const DefaultDropSinkSize = 10000

// MemoryDropSink keeps the most recent drops in a ring buffer.
type MemoryDropSink struct {
	mu     sync.RWMutex
	ring   []*DroppedEvent
	next   int
	full   bool
	total  int64
	counts map[Reason]int
}

// NewMemoryDropSink creates a sink holding up to size drops.
// Non-positive sizes use DefaultDropSinkSize.
func NewMemoryDropSink(size int) *MemoryDropSink {
	if size <= 0 {
		size = DefaultDropSinkSize
	}
	return &MemoryDropSink{
		ring:   make([]*DroppedEvent, size),
		counts: make(map[Reason]int),
	}
}

// Drop implements DropSink. When full, the oldest drop is overwritten.
func (s *MemoryDropSink) Drop(_ context.Context, dropped *DroppedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ring[s.next] = dropped
	s.next = (s.next + 1) % len(s.ring)
	if s.next == 0 {
		s.full = true
	}
	s.total++
	s.counts[dropped.Reason]++
	return nil
}

// List returns up to limit retained drops, oldest first.
// A non-positive limit returns all of them.
func (s *MemoryDropSink) List(limit int) []*DroppedEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.lenLocked()
	if limit <= 0 || limit > n {
		limit = n
	}
	start := 0
	if s.full {
		start = s.next
	}
	out := make([]*DroppedEvent, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, s.ring[(start+i)%len(s.ring)])
	}
	return out
}

// Len returns the number of retained drops.
func (s *MemoryDropSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenLocked()
}

func (s *MemoryDropSink) lenLocked() int {
	if s.full {
		return len(s.ring)
	}
	return s.next
}

// Total returns the number of drops ever received, including overwritten ones.
func (s *MemoryDropSink) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// CountByReason returns drop counts grouped by reason, including overwritten drops.
func (s *MemoryDropSink) CountByReason() map[Reason]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Reason]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return counts
}

// JSONLineDropSink writes each drop as one JSON line, e.g. to a reject file.
type JSONLineDropSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLineDropSink writes to w.
func NewJSONLineDropSink(w io.Writer) *JSONLineDropSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLineDropSink{enc: enc}
}

// Drop implements DropSink.
func (s *JSONLineDropSink) Drop(_ context.Context, dropped *DroppedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pferrors.Backend("drop sink", "write", s.enc.Encode(dropped))
}
