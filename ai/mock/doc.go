// Package mock provides test doubles for the ai interfaces.
//
// MockEmbedder returns deterministic unit vectors derived from a hash of
// the text, so identical texts always score a cosine similarity of 1.
// Behavior can be replaced through the EmbedTextFunc and EmbedTextsFunc
// fields, and CallCount/TextCount support assertions.
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
//	    return nil, errors.New("service unavailable")
//	}
package mock
