package ingestion

import "errors"

var (
	// ErrVendorFactoryRequired is returned when a vendor factory is not provided.
	ErrVendorFactoryRequired = errors.New("vendor factory required")

	// ErrQueueRequired is returned when a queue is not provided.
	ErrQueueRequired = errors.New("queue required")

	// ErrArtifactRepositoryRequired is returned when an artifact repository is not provided.
	ErrArtifactRepositoryRequired = errors.New("artifact repository required")

	// ErrProgressRepositoryRequired is returned when a progress repository is not provided.
	ErrProgressRepositoryRequired = errors.New("progress repository required")

	// ErrCursorRepositoryRequired is returned when a cursor repository is not provided.
	ErrCursorRepositoryRequired = errors.New("cursor repository required")

	// ErrIndexTriggerRequired is returned when an index trigger is not provided.
	ErrIndexTriggerRequired = errors.New("index trigger required")

	// ErrMalformedDelivery is returned when a webhook body is not a JSON event list.
	ErrMalformedDelivery = errors.New("malformed webhook delivery")
)
