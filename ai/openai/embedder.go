package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/tributary/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmbeddingCount is returned when the service answers a batch with the
// wrong number of vectors.
var ErrEmbeddingCount = errors.New("embedding count mismatch")

// Embedder implements ai.Embedder on an OpenAI-compatible embeddings API.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		logger:   slog.Default().With("component", "embedder", "model", config.EmbeddingModel, "host", config.EmbeddingHost),
	}, nil
}

// NewEmbedder creates an embedder for the configured model.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText embeds a search query. Query and document embeddings go
// through different endpoints on models that distinguish them.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("error embedding query", "length", len(text), "err", err)
		return nil, err
	}
	return vector, nil
}

// EmbedTexts embeds document chunks in batches of the configured size.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	e.logger.Debug("embedding chunks", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("error embedding chunks", "count", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %d texts, %d vectors", ErrEmbeddingCount, len(texts), len(vectors))
	}
	return vectors, nil
}
