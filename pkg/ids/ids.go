// Package ids issues and validates the 24-character hex identifiers used for
// every persisted aggregate.
package ids

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Length is the canonical identifier length in hex characters.
const Length = 24

// New returns a fresh identifier.
func New() string {
	return primitive.NewObjectID().Hex()
}

// Valid reports whether value is a well-formed identifier.
func Valid(value string) bool {
	if len(value) != Length {
		return false
	}
	_, err := primitive.ObjectIDFromHex(value)
	return err == nil
}

// Normalize lowercases and trims value and reports whether it is well-formed.
func Normalize(value string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	return normalized, Valid(normalized)
}
