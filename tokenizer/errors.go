package tokenizer

import "errors"

// The error kinds below form the library's stable error surface.
// Every failure returned by this package wraps exactly one of them,
// so callers dispatch with errors.Is.
var (
	// ErrUnsupportedModel is returned when the tokenizer model kind
	// in the metadata is not one of the supported families.
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrInvalidMetadata is returned when the metadata record fails
	// validation: missing required fields, size bounds exceeded,
	// dangling cross-references, or malformed merge pairs.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrTokenizationFailed is returned when an encode or decode hits
	// a hard limit: input too large, output too large, or an
	// engine-level iteration cap.
	ErrTokenizationFailed = errors.New("tokenization failed")

	// ErrInvalidToken is returned when a token ID passed to decode is
	// outside the vocabulary.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidUTF8 is returned when decode reconstructs a byte
	// sequence that is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("invalid utf-8")
)
