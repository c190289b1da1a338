package billing

import "errors"

var (
	// ErrVerification means the delivery could not be authenticated. Nothing
	// about it may be applied.
	ErrVerification = errors.New("webhook verification failed")

	// ErrUnmappable means an authentic event has no meaning for
	// entitlements (unknown type or product). It is logged and dropped.
	ErrUnmappable = errors.New("webhook event cannot be mapped")
)
