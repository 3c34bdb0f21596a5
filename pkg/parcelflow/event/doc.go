// Package event defines the delivery events parcelflow ingests and the
// validator that turns raw records into them.
//
// # Event Shapes
//
// Event is a closed tagged union with two variants:
//
//   - SendPackage: a sender delivers package_id of a package_type to a recipient
//   - UpdatePreference: a recipient opts in or out of personal and/or marketing packages
//
// Both carry an opaque timestamp string and an integer recipient_id. Optional
// preference fields are *bool; nil means "not supplied".
//
// # Validation
//
// Registry maps each action to a Schema that names the allowed fields and a
// decoder building the typed variant:
//
//	evt, err := event.Validate([]byte(`{"action":"send_package", ...}`))
//	if err != nil {
//	    // err is a *errors.ValidationError carrying the rejection kind
//	}
//
//	switch e := evt.(type) {
//	case event.SendPackage:
//	    ...
//	case event.UpdatePreference:
//	    ...
//	}
//
// Validation is type-exact: integer fields reject floats (even 21.0),
// strings, and booleans; timestamps must be strings; preference flags must be
// booleans. Fields not declared by the variant's schema are rejected.
// Validation is pure and never touches any store.
//
// # Normalized Form
//
// Both variants marshal to a fixed field order with unsupplied preference
// fields rendered as null. This is the form emitted for accepted events and
// the form the ledger derives identity from.
package event
