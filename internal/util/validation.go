package util

import (
	"slices"

	"github.com/google/uuid"
)

// IsValidUUID accepts only the lowercase hyphenated form the daemon issues
// for scan ids. Braced, URN and uppercase spellings are rejected so a lookup
// key always matches the stored text.
func IsValidUUID(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.String() == s
}

// IsValidEnum reports whether value is one of validValues. An empty value
// is accepted so optional settings fall back to their defaults.
func IsValidEnum[T ~string](value T, validValues []T) bool {
	return value == "" || slices.Contains(validValues, value)
}
