package nostr

import "errors"

var (
	// ErrRelayFailure is returned when no relay could serve a request
	ErrRelayFailure = errors.New("relay failure")
	// ErrTimeout is returned when a request lost its race against the deadline
	ErrTimeout = errors.New("timeout")
	// ErrNotFound is returned when relays answered but had no matching event
	ErrNotFound = errors.New("not found")
	// ErrDecodeFailure is returned for malformed event content
	ErrDecodeFailure = errors.New("decode failure")
)
