package index

import "errors"

var (
	// ErrNoTransformer is returned for artifacts of a source with no transformer.
	ErrNoTransformer = errors.New("no transformer for source")

	// ErrTransform is returned when an artifact cannot be rendered.
	ErrTransform = errors.New("transform failed")

	// ErrEmbeddingMismatch is returned when the embedder returns a different
	// number of vectors than texts.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)
