// Package webhook receives vendor webhook deliveries over HTTP.
//
// A delivery is accepted only after its size, signature and shape check
// out. Accepted deliveries are enqueued as webhook jobs unchanged and the
// caller gets 202 with the job id; processing happens asynchronously in
// ingestion.WebhookProcessor.
package webhook
