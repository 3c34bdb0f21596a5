package event

import (
	"fmt"
	"sort"
	"sync"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
)

// Schema defines how one action's records are validated.
type Schema struct {
	// Action is the discriminant value this schema handles.
	Action Action

	// Description explains the event's purpose.
	Description string

	// Fields lists every member a record of this action may carry,
	// including "action" itself. Any other member is rejected.
	Fields []string

	// Decode builds the typed event from the record's members.
	Decode func(Fields) (Event, error)
}

// Validate checks the member set and decodes the record.
func (s *Schema) Validate(fields Fields) (Event, error) {
	allowed := make(map[string]struct{}, len(s.Fields))
	for _, name := range s.Fields {
		allowed[name] = struct{}{}
	}

	// Report unexpected members in a stable order
	var unexpected []string
	for name := range fields {
		if _, ok := allowed[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return nil, pferrors.Validation(pferrors.KindSchemaType, unexpected[0],
			"unexpected field for %s", s.Action)
	}

	return s.Decode(fields)
}

// Registry maps actions to their schemas.
type Registry struct {
	mu      sync.RWMutex
	schemas map[Action]*Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[Action]*Schema),
	}
}

// NewDefaultRegistry creates a registry holding the send_package and
// update_preference schemas.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(SendPackageSchema)
	r.MustRegister(UpdatePreferenceSchema)
	return r
}

// Register adds a schema. A schema for the same action is replaced.
func (r *Registry) Register(schema *Schema) error {
	if schema.Action == "" {
		return fmt.Errorf("action is required")
	}
	if schema.Decode == nil {
		return fmt.Errorf("decoder is required for %s", schema.Action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Action] = schema
	return nil
}

// MustRegister adds a schema, panicking on error.
func (r *Registry) MustRegister(schema *Schema) {
	if err := r.Register(schema); err != nil {
		panic(fmt.Sprintf("failed to register event schema: %v", err))
	}
}

// Get returns the schema for an action.
func (r *Registry) Get(action Action) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schema, ok := r.schemas[action]
	return schema, ok
}

// Has returns true if a schema exists for the action.
func (r *Registry) Has(action Action) bool {
	_, ok := r.Get(action)
	return ok
}

// Actions returns all registered actions, sorted.
func (r *Registry) Actions() []Action {
	r.mu.RLock()
	defer r.mu.RUnlock()

	actions := make([]Action, 0, len(r.schemas))
	for a := range r.schemas {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Validate parses a raw record and checks it against the schema selected by
// its action. The action is resolved before anything else.
func (r *Registry) Validate(raw []byte) (Event, error) {
	fields, err := ParseFields(raw)
	if err != nil {
		return nil, err
	}

	v, present, null := fields.value("action")
	if !present || null {
		return nil, pferrors.Validation(pferrors.KindInvalidAction, "action", "action is missing")
	}
	if v[0] != '"' {
		return nil, pferrors.Validation(pferrors.KindInvalidAction, "action", "expected string, got %s", jsonKind(v))
	}
	name, err := fields.String("action")
	if err != nil {
		return nil, pferrors.Validation(pferrors.KindInvalidAction, "action", "%v", err)
	}

	schema, ok := r.Get(Action(name))
	if !ok {
		return nil, pferrors.Validation(pferrors.KindInvalidAction, "action", "unknown action %q", name)
	}

	return schema.Validate(fields)
}

// DefaultRegistry holds the built-in schemas.
var DefaultRegistry = NewDefaultRegistry()

// Validate checks a raw record against the default registry.
func Validate(raw []byte) (Event, error) {
	return DefaultRegistry.Validate(raw)
}
