// Package index builds searchable documents from stored artifacts.
//
// An index job names a set of entity ids. The Indexer loads their
// artifacts, renders each through the transformer registered for its
// source, splits the text into overlapping chunks, embeds the chunks and
// upserts the documents. Jobs reach the indexer through QueueTrigger, or
// directly when the Indexer itself is used as the trigger.
package index
