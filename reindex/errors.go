package reindex

import "errors"

var (
	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrIndexerRequired is returned when an indexer is not provided.
	ErrIndexerRequired = errors.New("indexer required")

	// ErrArtifactRepositoryRequired is returned when an artifact repository is not provided.
	ErrArtifactRepositoryRequired = errors.New("artifact repository required")
)
