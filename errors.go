package engram

import (
	"errors"
	"fmt"

	"engram/embed"
	"engram/storage"
)

// ErrNotFound reports a reference to a fact or conversation that does not
// exist.
var ErrNotFound = storage.ErrNotFound

// ErrProviderUnavailable reports that the embedding provider could not be
// reached. Writes that need an embedding are refused rather than stored
// without one.
var ErrProviderUnavailable = embed.ErrProviderUnavailable

// ErrMalformedExtraction reports that the reasoning model returned output
// the fact extractor could not parse. The affected messages stay
// unprocessed so a later pass can retry them.
var ErrMalformedExtraction = errors.New("malformed extraction output")

// ValidationError rejects caller input before it reaches storage.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
