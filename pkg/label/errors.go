package label

import "errors"

// Error kinds surfaced by the builder. Callers match them with errors.Is.
var (
	// ErrValidation marks bad caller input (empty tote id, empty upload).
	ErrValidation = errors.New("invalid label request")
	// ErrDecode marks source bytes that are not a decodable image.
	ErrDecode = errors.New("image decode failed")
	// ErrInternal marks processing or storage failures.
	ErrInternal = errors.New("label build failed")
)
