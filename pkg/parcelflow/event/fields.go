package event

import (
	"bytes"
	"encoding/json"
	"strconv"

	pferrors "github.com/randalmurphal/parcelflow/pkg/parcelflow/errors"
)

// Fields holds the raw top-level members of a record, keyed by name.
// Values are left undecoded so each accessor can check the exact JSON type.
type Fields map[string]json.RawMessage

// ParseFields splits a raw record into its top-level members.
// Anything other than a JSON object fails with SchemaTypeError.
func ParseFields(raw []byte) (Fields, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, pferrors.Validation(pferrors.KindSchemaType, "", "record is not a JSON object")
	}

	var fields Fields
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, pferrors.Validation(pferrors.KindSchemaType, "", "invalid JSON: %v", err)
	}
	return fields, nil
}

// value returns the trimmed raw value, whether the key was present, and
// whether it was an explicit null.
func (f Fields) value(name string) (json.RawMessage, bool, bool) {
	v, ok := f[name]
	if !ok {
		return nil, false, false
	}
	v = bytes.TrimSpace(v)
	return v, true, bytes.Equal(v, []byte("null"))
}

// Int decodes a required integer field. Only a JSON number literal without a
// fraction or exponent that fits in int64 is accepted.
func (f Fields) Int(name string) (int64, error) {
	v, present, null := f.value(name)
	if !present || null {
		return 0, pferrors.Validation(pferrors.KindSchemaType, name, "required integer field is missing")
	}
	if v[0] != '-' && (v[0] < '0' || v[0] > '9') {
		return 0, pferrors.Validation(pferrors.KindSchemaType, name, "expected integer, got %s", jsonKind(v))
	}
	if bytes.ContainsAny(v, ".eE") {
		return 0, pferrors.Validation(pferrors.KindSchemaType, name, "expected integer, got non-integer number %s", v)
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		return 0, pferrors.Validation(pferrors.KindSchemaType, name, "integer out of range: %s", v)
	}
	return n, nil
}

// String decodes a required string field.
func (f Fields) String(name string) (string, error) {
	v, present, null := f.value(name)
	if !present || null {
		return "", pferrors.Validation(pferrors.KindSchemaType, name, "required string field is missing")
	}
	if v[0] != '"' {
		return "", pferrors.Validation(pferrors.KindSchemaType, name, "expected string, got %s", jsonKind(v))
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", pferrors.Validation(pferrors.KindSchemaType, name, "invalid string: %v", err)
	}
	return s, nil
}

// OptionalBool decodes a boolean field that may be absent or null (nil result).
func (f Fields) OptionalBool(name string) (*bool, error) {
	v, present, null := f.value(name)
	if !present || null {
		return nil, nil
	}
	switch string(v) {
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	return nil, pferrors.Validation(pferrors.KindSchemaType, name, "expected boolean, got %s", jsonKind(v))
}

// jsonKind names the JSON type of a raw value for error messages.
func jsonKind(v json.RawMessage) string {
	switch v[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
