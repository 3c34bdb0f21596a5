package ingest

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// Emitter receives every accepted event in acceptance order.
type Emitter interface {
	Emit(ctx context.Context, evt event.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, evt event.Event) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// DiscardEmitter drops every event.
type DiscardEmitter struct{}

// Emit does nothing.
func (DiscardEmitter) Emit(context.Context, event.Event) error { return nil }

// JSONLineEmitter writes each event's normalized form as one JSON line.
type JSONLineEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLineEmitter writes to w.
func NewJSONLineEmitter(w io.Writer) *JSONLineEmitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLineEmitter{enc: enc}
}

// Emit implements Emitter.
func (e *JSONLineEmitter) Emit(_ context.Context, evt event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return pferrors.Backend("emitter", "write", e.enc.Encode(evt))
}

// MemoryEmitter collects emitted events.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []event.Event
}

// Emit implements Emitter.
func (e *MemoryEmitter) Emit(_ context.Context, evt event.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

// Events returns a copy of everything emitted so far.
func (e *MemoryEmitter) Events() []event.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]event.Event, len(e.events))
	copy(out, e.events)
	return out
}
