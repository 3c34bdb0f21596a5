package errors

import (
	"errors"
	"fmt"
)

// Kind names a reason an event was rejected.
type Kind int

const (
	// KindNone is the zero value and never describes a real rejection.
	KindNone Kind = iota

	// KindSchemaType indicates a missing field, a field of the wrong JSON type,
	// an unexpected field, or input that is not a JSON object at all.
	KindSchemaType

	// KindInvalidAction indicates the action discriminant is absent or unknown.
	KindInvalidAction

	// KindInvalidPackageType indicates package_type is not marketing or personal.
	KindInvalidPackageType

	// KindMissingPreferenceField indicates an update carrying neither preference field.
	KindMissingPreferenceField

	// KindDuplicate indicates the event was already accepted.
	KindDuplicate

	// KindPreferenceDenied indicates the recipient declined the package type.
	KindPreferenceDenied

	// KindCapacityExceeded indicates the run's acceptance budget is spent.
	KindCapacityExceeded
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSchemaType:
		return "SchemaTypeError"
	case KindInvalidAction:
		return "InvalidAction"
	case KindInvalidPackageType:
		return "InvalidPackageType"
	case KindMissingPreferenceField:
		return "MissingPreferenceField"
	case KindDuplicate:
		return "Duplicate"
	case KindPreferenceDenied:
		return "PreferenceDenied"
	case KindCapacityExceeded:
		return "CapacityExceeded"
	default:
		return "None"
	}
}

// IsValidation reports whether the kind is produced by schema validation.
func (k Kind) IsValidation() bool {
	switch k {
	case KindSchemaType, KindInvalidAction, KindInvalidPackageType, KindMissingPreferenceField:
		return true
	}
	return false
}

// Sentinel errors for drops decided after validation.
var (
	// ErrDuplicate indicates the event is already in the ledger.
	ErrDuplicate = &DropError{Kind: KindDuplicate}

	// ErrPreferenceDenied indicates the recipient does not accept the package type.
	ErrPreferenceDenied = &DropError{Kind: KindPreferenceDenied}

	// ErrCapacityExceeded indicates no acceptance capacity remains.
	ErrCapacityExceeded = &DropError{Kind: KindCapacityExceeded}
)

// ValidationError describes why a raw record failed schema validation.
type ValidationError struct {
	Kind    Kind
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s on %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches another ValidationError of the same kind, so callers can write
// errors.Is(err, &ValidationError{Kind: KindInvalidAction}).
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Field == "" || t.Field == e.Field)
}

// Validation creates a ValidationError.
func Validation(kind Kind, field, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:    kind,
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// DropError describes a drop decided by the engine rather than the validator.
type DropError struct {
	Kind        Kind
	RecipientID int64
}

// Error implements the error interface.
func (e *DropError) Error() string {
	if e.RecipientID != 0 {
		return fmt.Sprintf("%s for recipient %d", e.Kind, e.RecipientID)
	}
	return e.Kind.String()
}

// Is matches any DropError of the same kind.
func (e *DropError) Is(target error) bool {
	t, ok := target.(*DropError)
	return ok && t.Kind == e.Kind
}

// Drop creates a DropError for a recipient.
func Drop(kind Kind, recipientID int64) *DropError {
	return &DropError{Kind: kind, RecipientID: recipientID}
}

// BackendError wraps a failure in a store backend (SQLite, Redis, an emitter sink).
// These are environmental and never a property of the event itself.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend wraps err as a BackendError. Returns nil if err is nil.
func Backend(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from err, or KindNone.
func KindOf(err error) Kind {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Kind
	}
	var dropErr *DropError
	if errors.As(err, &dropErr) {
		return dropErr.Kind
	}
	return KindNone
}
