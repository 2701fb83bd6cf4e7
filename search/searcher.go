package search

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/poiesic/tributary/ai"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/index"
	"github.com/poiesic/tributary/storage"
)

const (
	// DefaultMinSimilarity drops chunks scoring below it.
	DefaultMinSimilarity = 0.3

	// verbatimBoost is added to documents containing every query word.
	verbatimBoost = 0.3

	// chunkFanout is how many chunks are requested per wanted hit, since
	// several chunks of one document collapse into a single hit.
	chunkFanout = 4
)

// Hit is one ranked document.
type Hit struct {
	Document *core.Document
	// Chunk is the best matching chunk of the document.
	Chunk *core.Chunk
	// Similarity is the cosine similarity of Chunk.
	Similarity float32
	// Score is Similarity plus any verbatim boost.
	Score float32
}

// Searcher provides semantic search over indexed documents.
type Searcher struct {
	documents     storage.DocumentRepository
	embedder      ai.Embedder
	minSimilarity float32
	logger        *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithMinSimilarity sets the similarity floor for chunks.
// Default is DefaultMinSimilarity.
func WithMinSimilarity(min float32) Option {
	return func(s *Searcher) error {
		s.minSimilarity = min
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(documents storage.DocumentRepository, provider ai.Provider, opts ...Option) (*Searcher, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	s := &Searcher{
		documents:     documents,
		embedder:      provider.Embedder(),
		minSimilarity: DefaultMinSimilarity,
		logger:        slog.Default(),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "searcher")
	return s, nil
}

// Search returns up to maxHits documents of the tenant ranked by relevance.
// When sources is non-empty only documents of those sources are returned.
func (s *Searcher) Search(ctx context.Context, tenantID, query string, maxHits int, sources ...core.Source) ([]*Hit, error) {
	return s.SearchWithMonitor(ctx, tenantID, query, maxHits, nil, sources...)
}

// SearchWithMonitor is Search with callbacks at each stage.
func (s *Searcher) SearchWithMonitor(ctx context.Context, tenantID, query string, maxHits int, monitor SearchMonitor, sources ...core.Source) ([]*Hit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits <= 0 {
		return []*Hit{}, nil
	}
	monitor.Start(tenantID, query)

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	matches, err := s.documents.FindSimilar(ctx, tenantID, index.NormalizeVector(embedding), s.minSimilarity, maxHits*chunkFanout)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "tenant_id", tenantID, "err", err)
		return nil, err
	}
	monitor.AfterSemanticSearch(matches)

	// Matches arrive best first, so the first chunk seen per document wins.
	best := make(map[string]*Hit)
	for _, m := range matches {
		if len(sources) > 0 && !slices.Contains(sources, m.Document.Source) {
			continue
		}
		if _, seen := best[m.Document.EntityID]; seen {
			continue
		}
		best[m.Document.EntityID] = &Hit{
			Document:   m.Document,
			Chunk:      m.Chunk,
			Similarity: m.Score,
			Score:      m.Score,
		}
	}

	hits := make([]*Hit, 0, len(best))
	for _, h := range best {
		if containsAllQueryWords(h.Document.Title+"\n"+h.Document.Content, query) {
			h.Score += verbatimBoost
			monitor.VerbatimHit(h.Document)
		}
		hits = append(hits, h)
	}

	slices.SortFunc(hits, func(a, b *Hit) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return strings.Compare(a.Document.EntityID, b.Document.EntityID)
	})
	if len(hits) > maxHits {
		hits = hits[:maxHits]
	}
	monitor.Finish(hits)
	return hits, nil
}
