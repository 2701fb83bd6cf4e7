package ai

import "context"

// Embedder turns document chunks and search queries into vectors.
// Implementations are shared by concurrent index jobs and must be safe for
// concurrent use.
type Embedder interface {
	// EmbedText embeds one search query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds document chunks. The result has one vector per
	// input, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider owns the embedding client for the lifetime of a platform.
type Provider interface {
	Embedder() Embedder

	// Close releases the client.
	Close() error
}
