package badger

import (
	"context"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
	}
}

// Close releases resources. DocumentRepository has no resources to release.
func (r *DocumentRepository) Close() error {
	return nil
}

// UpsertDocuments writes documents in a single transaction.
func (r *DocumentRepository) UpsertDocuments(ctx context.Context, docs ...*core.Document) error {
	if len(docs) == 0 {
		return nil
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		for _, d := range docs {
			if d.EntityID == "" {
				return core.ErrEmptyEntityID
			}
			if err := core.ValidateTenantID(d.TenantID); err != nil {
				return err
			}
			value, err := storage.MarshalDocument(d)
			if err != nil {
				return err
			}
			if err := tx.Set(makeDocumentKey(d.TenantID, d.EntityID), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDocument retrieves a single document.
func (r *DocumentRepository) GetDocument(ctx context.Context, tenantID, entityID string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		value, err := getValue(tx, makeDocumentKey(tenantID, entityID))
		if err != nil {
			return err
		}
		if value == nil {
			return storage.ErrNotFound
		}
		result, err = storage.UnmarshalDocument(value)
		return err
	}, false)
	return result, err
}

// ListDocumentIDs returns the entity ids of one source's documents, sorted.
func (r *DocumentRepository) ListDocumentIDs(ctx context.Context, tenantID string, source core.Source) ([]string, error) {
	var ids []string
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return iteratePrefix(tx, makeDocumentSourcePrefix(tenantID, source), true, func(key, _ []byte) error {
			ids = append(ids, entityIDFromKey(key))
			return nil
		})
	}, false)
	return ids, err
}

// DeleteDocument removes a document, reporting whether it existed.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, tenantID, entityID string) (bool, error) {
	var existed bool
	err := r.backend.Update(func(tx *badger.Txn) error {
		key := makeDocumentKey(tenantID, entityID)
		value, err := getValue(tx, key)
		if err != nil {
			return err
		}
		existed = value != nil
		if !existed {
			return nil
		}
		return tx.Delete(key)
	})
	return existed, err
}

// FindSimilar scans the tenant's chunks and ranks them by similarity.
func (r *DocumentRepository) FindSimilar(ctx context.Context, tenantID string, vector []float32, minSimilarity float32, limit int) ([]*core.SearchResult, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}
	var results []*core.SearchResult

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return iteratePrefix(tx, makeDocumentTenantPrefix(tenantID), false, func(_, value []byte) error {
			doc, err := storage.UnmarshalDocument(value)
			if err != nil {
				return err
			}
			for i := range doc.Chunks {
				chunk := &doc.Chunks[i]
				// Skip chunks without embeddings
				if len(chunk.Vector) == 0 {
					continue
				}
				// Cosine similarity (dot product for normalized vectors)
				similarity := dotProduct(vector, chunk.Vector)
				if similarity >= minSimilarity {
					results = append(results, &core.SearchResult{
						Document: doc,
						Chunk:    chunk,
						Score:    similarity,
					})
				}
			}
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
