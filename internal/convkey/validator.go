// ABOUTME: Well-formedness checks for user and listing identifiers
// ABOUTME: Supports Mongo ObjectIDs, UUIDs, and opaque tokens depending on the backing store

package convkey

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDFormat names an identifier scheme.
type IDFormat string

const (
	IDFormatObjectID IDFormat = "objectid"
	IDFormatUUID     IDFormat = "uuid"
	IDFormatOpaque   IDFormat = "opaque"
)

// maxOpaqueLength bounds opaque IDs so a key stays indexable.
const maxOpaqueLength = 128

var opaquePattern = regexp.MustCompile(`^[A-Za-z0-9_.@-]+$`)

// Validator reports whether an identifier is well-formed for one IDFormat.
type Validator struct {
	format IDFormat
}

// NewValidator returns a validator for format. An empty format means opaque.
func NewValidator(format IDFormat) (*Validator, error) {
	switch format {
	case "":
		format = IDFormatOpaque
	case IDFormatObjectID, IDFormatUUID, IDFormatOpaque:
	default:
		return nil, fmt.Errorf("unknown id format %q", format)
	}
	return &Validator{format: format}, nil
}

// Format returns the scheme this validator enforces.
func (v *Validator) Format() IDFormat {
	return v.format
}

// Valid reports whether id is well-formed.
func (v *Validator) Valid(id string) bool {
	if id == "" {
		return false
	}
	switch v.format {
	case IDFormatObjectID:
		return primitive.IsValidObjectID(id)
	case IDFormatUUID:
		_, err := uuid.Parse(id)
		return err == nil
	default:
		// The pattern excludes Separator so keys stay unambiguous.
		return len(id) <= maxOpaqueLength && opaquePattern.MatchString(id)
	}
}
