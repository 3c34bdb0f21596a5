// Package ledger records accepted events so retried deliveries are suppressed.
//
// Each event maps to an identity key through a KeyFunc. Two events with the
// same key are the same delivery; the second is a duplicate. The ledger only
// grows during a run and lookups are O(1) on every backend.
//
// Two strictness modes are provided:
//
//   - ModeExact (default): the key covers every field of the normalized
//     event. A resend with identical fields is a duplicate; a resend whose
//     timestamp changed is not.
//   - ModePackage: send_package events are keyed on (recipient_id,
//     package_id) only, so a retry is suppressed even if other fields
//     differ. update_preference events keep the exact key.
//
// ModeExact matches the historical behaviour of the ingester. ModePackage
// follows the stated delivery rule that package_id is constant between
// retries and a recipient receives a package at most once.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// Mode selects how strictly events are compared for duplication.
type Mode string

// Supported modes.
const (
	ModeExact   Mode = "exact"
	ModePackage Mode = "package"
)

// ParseMode parses a mode name. The empty string selects ModeExact.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeExact:
		return ModeExact, nil
	case ModePackage:
		return ModePackage, nil
	}
	return "", fmt.Errorf("unknown dedup mode %q (want exact or package)", s)
}

// KeyFunc derives the identity key of an event.
type KeyFunc func(event.Event) (string, error)

// KeyFuncFor returns the key function for a mode.
func KeyFuncFor(mode Mode) KeyFunc {
	if mode == ModePackage {
		return PackageKey
	}
	return ExactKey
}

// ExactKey hashes the normalized form of the event, so every field takes part.
func ExactKey(evt event.Event) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode event: %w", err)
	}
	sum := sha256.Sum256(data)
	return "x:" + hex.EncodeToString(sum[:]), nil
}

// PackageKey keys send_package events on recipient and package identity and
// falls back to ExactKey for everything else.
func PackageKey(evt event.Event) (string, error) {
	if send, ok := evt.(event.SendPackage); ok {
		return fmt.Sprintf("p:%d:%d", send.Recipient, send.PackageID), nil
	}
	return ExactKey(evt)
}

// Entry is one accepted event.
type Entry struct {
	ID         string
	Key        string
	Sequence   int64
	Event      event.Event
	Payload    []byte
	RecordedAt time.Time
}

// Ledger is the deduplication record of accepted events.
// Implementations must be safe for concurrent use.
type Ledger interface {
	// IsDuplicate reports whether an event with the same key was recorded.
	IsDuplicate(ctx context.Context, evt event.Event) (bool, error)

	// Record stores the event. Returns ErrAlreadyRecorded if its key is
	// already present; the ledger never holds two entries with one key.
	Record(ctx context.Context, evt event.Event) (Entry, error)

	// Len returns the number of recorded entries.
	Len(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// Sentinel errors for ledger operations.
var (
	// ErrAlreadyRecorded indicates the event's key is already in the ledger.
	ErrAlreadyRecorded = errors.New("event already recorded")

	// ErrLedgerClosed indicates the ledger has been closed.
	ErrLedgerClosed = errors.New("ledger closed")
)

// newEntry builds an entry for evt under key.
func newEntry(id string, key string, seq int64, evt event.Event) (Entry, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Entry{}, fmt.Errorf("encode event: %w", err)
	}
	return Entry{
		ID:         id,
		Key:        key,
		Sequence:   seq,
		Event:      evt,
		Payload:    payload,
		RecordedAt: time.Now().UTC(),
	}, nil
}
