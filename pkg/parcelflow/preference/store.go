// Package preference stores per-recipient delivery permissions.
//
// Recipients follow an opt-out model: a recipient is created lazily on first
// reference with every package type allowed, and only explicit updates
// narrow (or widen again) what it accepts. Nothing ever resets a recipient
// back to defaults and recipients are never deleted.
package preference

import (
	"context"
	"errors"

	"github.com/randalmurphal/parcelflow/pkg/parcelflow/event"
)

// Recipient is the addressable party holding delivery preferences.
type Recipient struct {
	ID               int64 `json:"id"`
	PersonalPackage  bool  `json:"personal_package"`
	MarketingPackage bool  `json:"marketing_package"`
}

// DefaultRecipient returns a recipient that accepts every package type.
func DefaultRecipient(id int64) Recipient {
	return Recipient{
		ID:               id,
		PersonalPackage:  true,
		MarketingPackage: true,
	}
}

// Allows reports whether the recipient accepts packages of type t.
// Unknown types are never allowed.
func (r Recipient) Allows(t event.PackageType) bool {
	switch t {
	case event.PackageMarketing:
		return r.MarketingPackage
	case event.PackagePersonal:
		return r.PersonalPackage
	default:
		return false
	}
}

// apply overwrites only the supplied fields.
func (r Recipient) apply(personal, marketing *bool) Recipient {
	if personal != nil {
		r.PersonalPackage = *personal
	}
	if marketing != nil {
		r.MarketingPackage = *marketing
	}
	return r
}

// Store maps recipient identity to its current permissions.
// Implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the recipient, inserting a default allow-all
	// recipient if it does not exist yet.
	GetOrCreate(ctx context.Context, id int64) (Recipient, error)

	// ApplyUpdate mutates only the non-nil fields, creating the recipient
	// with defaults first if needed, and returns the updated recipient.
	ApplyUpdate(ctx context.Context, id int64, personal, marketing *bool) (Recipient, error)

	// Get returns the recipient without creating it.
	Get(ctx context.Context, id int64) (Recipient, bool, error)

	// Len returns the number of materialized recipients.
	Len(ctx context.Context) (int, error)

	// Close releases any resources.
	Close() error
}

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("preference store closed")
