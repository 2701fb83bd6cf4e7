package webhook

import "errors"

var (
	// ErrQueueRequired is returned when a queue is not provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrMissingSignature is returned when a signed vendor sends no signature.
	ErrMissingSignature = errors.New("missing signature")

	// ErrSignatureMismatch is returned when the signature does not match the body.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrInvalidDelivery is returned when a body fails schema validation.
	ErrInvalidDelivery = errors.New("invalid delivery")

	// ErrInvalidMaxBody is returned for a non-positive body limit.
	ErrInvalidMaxBody = errors.New("max body size must be positive")
)
