package event

import (
	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
)

// SendPackageSchema validates send_package records.
var SendPackageSchema = &Schema{
	Action:      ActionSendPackage,
	Description: "A sender delivers a package to a recipient",
	Fields:      []string{"action", "timestamp", "sender_id", "recipient_id", "package_id", "package_type"},
	Decode:      decodeSendPackage,
}

// UpdatePreferenceSchema validates update_preference records.
var UpdatePreferenceSchema = &Schema{
	Action:      ActionUpdatePreference,
	Description: "A recipient changes which package types it accepts",
	Fields:      []string{"action", "timestamp", "recipient_id", "personal_package", "marketing_package"},
	Decode:      decodeUpdatePreference,
}

func decodeSendPackage(f Fields) (Event, error) {
	var (
		e   SendPackage
		err error
	)

	if e.At, err = f.String("timestamp"); err != nil {
		return nil, err
	}
	if e.SenderID, err = f.Int("sender_id"); err != nil {
		return nil, err
	}
	if e.Recipient, err = f.Int("recipient_id"); err != nil {
		return nil, err
	}
	if e.PackageID, err = f.Int("package_id"); err != nil {
		return nil, err
	}

	pt, err := f.String("package_type")
	if err != nil {
		return nil, err
	}
	e.PackageType = PackageType(pt)
	if !e.PackageType.Valid() {
		return nil, pferrors.Validation(pferrors.KindInvalidPackageType, "package_type",
			"%q is not one of marketing, personal", pt)
	}

	return e, nil
}

func decodeUpdatePreference(f Fields) (Event, error) {
	var (
		e   UpdatePreference
		err error
	)

	if e.At, err = f.String("timestamp"); err != nil {
		return nil, err
	}
	if e.Recipient, err = f.Int("recipient_id"); err != nil {
		return nil, err
	}
	if e.PersonalPackage, err = f.OptionalBool("personal_package"); err != nil {
		return nil, err
	}
	if e.MarketingPackage, err = f.OptionalBool("marketing_package"); err != nil {
		return nil, err
	}

	if e.PersonalPackage == nil && e.MarketingPackage == nil {
		return nil, pferrors.Validation(pferrors.KindMissingPreferenceField, "",
			"at least one of personal_package, marketing_package is required")
	}

	return e, nil
}
