// Package reindex rebuilds the documents of already stored artifacts,
// typically after the embedding model or the chunking changed.
//
// Entities are read from the artifact store in batches and passed to the
// indexer directly, so no vendor API is touched. Failed batches are
// retried with exponential backoff and progress is reported to a writer.
package reindex
