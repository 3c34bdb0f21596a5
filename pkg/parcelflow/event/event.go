package event

import (
	"encoding/json"
)

// Action is the event discriminant.
type Action string

// Supported actions.
const (
	ActionSendPackage      Action = "send_package"
	ActionUpdatePreference Action = "update_preference"
)

// Actions lists every supported action.
var Actions = []Action{ActionSendPackage, ActionUpdatePreference}

// PackageType classifies a package for preference gating.
type PackageType string

// Supported package types.
const (
	PackageMarketing PackageType = "marketing"
	PackagePersonal  PackageType = "personal"
)

// Valid reports whether t is a known package type.
func (t PackageType) Valid() bool {
	return t == PackageMarketing || t == PackagePersonal
}

// Event is a validated delivery event. The set of implementations is closed:
// SendPackage and UpdatePreference.
type Event interface {
	// Action returns the discriminant.
	Action() Action

	// RecipientID returns the addressed recipient.
	RecipientID() int64

	// Timestamp returns the opaque timestamp string as received.
	Timestamp() string

	isEvent()
}

// SendPackage delivers a package to a recipient.
type SendPackage struct {
	At          string
	Recipient   int64
	SenderID    int64
	PackageID   int64
	PackageType PackageType
}

// Action implements Event.
func (SendPackage) Action() Action { return ActionSendPackage }

// RecipientID implements Event.
func (e SendPackage) RecipientID() int64 { return e.Recipient }

// Timestamp implements Event.
func (e SendPackage) Timestamp() string { return e.At }

func (SendPackage) isEvent() {}

// sendPackageJSON fixes the normalized field order.
type sendPackageJSON struct {
	Action      Action      `json:"action"`
	Timestamp   string      `json:"timestamp"`
	RecipientID int64       `json:"recipient_id"`
	SenderID    int64       `json:"sender_id"`
	PackageID   int64       `json:"package_id"`
	PackageType PackageType `json:"package_type"`
}

// MarshalJSON renders the normalized form.
func (e SendPackage) MarshalJSON() ([]byte, error) {
	return json.Marshal(sendPackageJSON{
		Action:      ActionSendPackage,
		Timestamp:   e.At,
		RecipientID: e.Recipient,
		SenderID:    e.SenderID,
		PackageID:   e.PackageID,
		PackageType: e.PackageType,
	})
}

// UpdatePreference changes one or both of a recipient's package permissions.
// At least one of PersonalPackage and MarketingPackage is non-nil once validated.
type UpdatePreference struct {
	At               string
	Recipient        int64
	PersonalPackage  *bool
	MarketingPackage *bool
}

// Action implements Event.
func (UpdatePreference) Action() Action { return ActionUpdatePreference }

// RecipientID implements Event.
func (e UpdatePreference) RecipientID() int64 { return e.Recipient }

// Timestamp implements Event.
func (e UpdatePreference) Timestamp() string { return e.At }

func (UpdatePreference) isEvent() {}

type updatePreferenceJSON struct {
	Action           Action `json:"action"`
	Timestamp        string `json:"timestamp"`
	RecipientID      int64  `json:"recipient_id"`
	PersonalPackage  *bool  `json:"personal_package"`
	MarketingPackage *bool  `json:"marketing_package"`
}

// MarshalJSON renders the normalized form. Unsupplied fields become null.
func (e UpdatePreference) MarshalJSON() ([]byte, error) {
	return json.Marshal(updatePreferenceJSON{
		Action:           ActionUpdatePreference,
		Timestamp:        e.At,
		RecipientID:      e.Recipient,
		PersonalPackage:  e.PersonalPackage,
		MarketingPackage: e.MarketingPackage,
	})
}

// Bool returns a pointer to b, for building UpdatePreference values.
func Bool(b bool) *bool {
	return &b
}
