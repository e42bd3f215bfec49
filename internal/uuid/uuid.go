// Package uuid provides identifier generation for records, temporary local
// items and collection views.
package uuid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TemporaryPrefix marks ids minted on the client for items the store has not
// confirmed yet.
const TemporaryPrefix = "local-"

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewTemporary generates a client-side id for an unconfirmed item.
func NewTemporary() string {
	return TemporaryPrefix + uuid.New().String()
}

// IsTemporary reports whether id was minted by NewTemporary.
func IsTemporary(id string) bool {
	rest, ok := strings.CutPrefix(id, TemporaryPrefix)
	return ok && IsValid(rest)
}

// NewScoped generates an id of the form "<scope>-<uuid>", used for view ids.
func NewScoped(scope string) string {
	if scope == "" {
		return New()
	}
	return scope + "-" + uuid.New().String()
}

// Parse parses a UUID v4 string.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID: %w", err)
	}
	if id.Version() != 4 {
		return uuid.Nil, fmt.Errorf("expected UUID v4, got v%d", id.Version())
	}
	if id.Variant() != uuid.RFC4122 {
		return uuid.Nil, fmt.Errorf("unexpected UUID variant %s", id.Variant())
	}
	return id, nil
}

// IsValid checks if a string is a canonical, dashed UUID v4.
func IsValid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := Parse(s)
	return err == nil
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
