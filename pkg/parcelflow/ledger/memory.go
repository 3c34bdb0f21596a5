package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// MemoryLedger is an in-memory Ledger indexed by key.
type MemoryLedger struct {
	mu      sync.RWMutex
	keyFunc KeyFunc
	entries map[string]Entry
	seq     int64
	closed  bool
}

// NewMemoryLedger creates an empty ledger using the mode's key function.
func NewMemoryLedger(mode Mode) *MemoryLedger {
	return NewMemoryLedgerWithKey(KeyFuncFor(mode))
}

// NewMemoryLedgerWithKey creates an empty ledger using a custom key function.
func NewMemoryLedgerWithKey(keyFunc KeyFunc) *MemoryLedger {
	return &MemoryLedger{
		keyFunc: keyFunc,
		entries: make(map[string]Entry),
	}
}

// IsDuplicate implements Ledger.
func (l *MemoryLedger) IsDuplicate(_ context.Context, evt event.Event) (bool, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return false, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return false, ErrLedgerClosed
	}
	_, ok := l.entries[key]
	return ok, nil
}

// Record implements Ledger.
func (l *MemoryLedger) Record(_ context.Context, evt event.Event) (Entry, error) {
	key, err := l.keyFunc(evt)
	if err != nil {
		return Entry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return Entry{}, ErrLedgerClosed
	}
	if _, ok := l.entries[key]; ok {
		return Entry{}, ErrAlreadyRecorded
	}

	entry, err := newEntry(uuid.New().String(), key, l.seq+1, evt)
	if err != nil {
		return Entry{}, err
	}
	l.seq++
	l.entries[key] = entry
	return entry, nil
}

// Get returns the entry recorded under key.
func (l *MemoryLedger) Get(key string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	return e, ok
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return 0, ErrLedgerClosed
	}
	return len(l.entries), nil
}

// Close implements Ledger.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
