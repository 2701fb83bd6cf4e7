package prune

import "errors"

var (
	// ErrInvalidRatio is returned when the maximum deletion ratio is outside (0, 1].
	ErrInvalidRatio = errors.New("max deletion ratio must be in (0, 1]")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrVendorFactoryRequired is returned when a vendor factory is not provided.
	ErrVendorFactoryRequired = errors.New("vendor factory required")

	// ErrDeleterRequired is returned when a deleter is not provided.
	ErrDeleterRequired = errors.New("deleter required")
)
