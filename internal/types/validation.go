package types

import (
	"regexp"
)

// Validation constraint constants.
const (
	MaxSlugLength        = 64
	MaxInstructionLength = 4000
)

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidSlug reports whether s can be used as a public site path segment.
func IsValidSlug(s string) bool {
	return len(s) > 0 && len(s) <= MaxSlugLength && slugPattern.MatchString(s)
}

// ValidateSlug returns a validation AppError when s is not a usable slug.
func ValidateSlug(s string) error {
	if !IsValidSlug(s) {
		return NewAppError(ErrCodeValidationInvalidSlug,
			"Slug can only contain letters, numbers, hyphens, and underscores", nil)
	}
	return nil
}
