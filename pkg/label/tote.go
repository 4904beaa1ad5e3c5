package label

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxToteIDLen bounds tote ids in bytes.
const MaxToteIDLen = 128

// ValidateToteID trims id and rejects values that cannot be used as a path
// segment or raw file name.
func ValidateToteID(id string) (string, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "":
		return "", fmt.Errorf("%w: tote id is required", ErrValidation)
	case len(id) > MaxToteIDLen:
		return "", fmt.Errorf("%w: tote id longer than %d bytes", ErrValidation, MaxToteIDLen)
	case id == "." || id == "..":
		return "", fmt.Errorf("%w: tote id %q is a relative path element", ErrValidation, id)
	case strings.ContainsAny(id, "/@"):
		return "", fmt.Errorf("%w: tote id %q contains '/' or '@'", ErrValidation, id)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return "", fmt.Errorf("%w: tote id contains control characters", ErrValidation)
	}
	return id, nil
}
