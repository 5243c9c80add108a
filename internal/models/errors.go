package models

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the dispatch core. Callers compare with
// errors.Is; wrapped variants carry context.
var (
	ErrNoDriversAvailable = errors.New("no drivers available")
	ErrOfferExpired       = errors.New("offer expired")
	ErrDriverUnavailable  = errors.New("driver unavailable")
	ErrStaleOffer         = errors.New("offer is stale")
	ErrTripNotFound       = errors.New("trip not found")
	ErrDriverNotFound     = errors.New("driver not found")
	ErrOfferNotFound      = errors.New("offer not found")
)

// InvalidInputError rejects a malformed request before any state change.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func InvalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

// IsInvalidInput reports whether err is (or wraps) an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}

// IllegalTransitionError rejects a trip-state change outside the
// transition table. The trip is left unchanged.
type IllegalTransitionError struct {
	From  TripStatus
	Event string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %q from status %q", e.Event, e.From)
}

func IsIllegalTransition(err error) bool {
	var te *IllegalTransitionError
	return errors.As(err, &te)
}
