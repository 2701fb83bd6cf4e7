// Package ingestion turns vendor data into stored artifacts.
//
// Four job types live here:
//   - RootOrchestrator discovers every record of a connection and enqueues
//     throttled batch jobs for one backfill
//   - BatchIngester fetches and stores one batch and triggers indexing
//   - WebhookProcessor applies one webhook delivery (dedup, classify, dispatch)
//   - IncrementalSyncer enqueues batches for records changed since the last pass
//
// All of them are written for at-least-once delivery: artifacts are
// overwritten by entity id and progress counters are atomic increments.
package ingestion
