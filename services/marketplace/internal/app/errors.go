package app

import (
	"errors"
	"fmt"

	"campusmarket/pkg/market"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")

	ErrListingNotFound      = fmt.Errorf("listing %w", ErrNotFound)
	ErrBidNotFound          = fmt.Errorf("bid %w", ErrNotFound)
	ErrConversationNotFound = fmt.Errorf("conversation %w", ErrNotFound)

	// ErrOwnListing is returned when a seller bids on their own listing.
	ErrOwnListing = fmt.Errorf("%w: cannot bid on your own listing", ErrInvalidInput)
	// ErrSelfConversation is returned when a user tries to message themselves.
	ErrSelfConversation = fmt.Errorf("%w: cannot start a conversation with yourself", ErrInvalidInput)

	// ErrBidNotPending is the workflow error for bids in a terminal status.
	ErrBidNotPending = market.ErrBidNotPending
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...)
}
