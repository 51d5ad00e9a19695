package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrMalformedOffer indicates the session description in the
	// triggering message is missing required fields. Fatal to session
	// creation; no socket is opened.
	ErrMalformedOffer = errors.New("malformed session description")

	// ErrInvalidDigit indicates SendDTMF was called with a character
	// outside 0-9, '*', '#'. Rejected before any I/O.
	ErrInvalidDigit = errors.New("invalid dtmf digit")

	// ErrDisposed indicates an operation on a disposed session.
	ErrDisposed = errors.New("session disposed")

	// ErrDuplicateCallID indicates a session already exists for the
	// Call-ID.
	ErrDuplicateCallID = errors.New("session already exists for call-id")
)

// OfferError wraps ErrMalformedOffer with the missing field.
type OfferError struct {
	Field string
	Cause error
}

// Error returns the error message.
func (e *OfferError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed offer (%s): %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("malformed offer: missing %s", e.Field)
}

// Unwrap returns ErrMalformedOffer so errors.Is matches.
func (e *OfferError) Unwrap() error {
	return ErrMalformedOffer
}
