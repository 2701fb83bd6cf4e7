package core

import (
	"encoding/json"
	"time"
)

// RootJobConfig starts a full resynchronization of one tenant's vendor
// connection. BackfillID is generated when empty.
type RootJobConfig struct {
	TenantID             string `json:"tenant_id"`
	Vendor               Vendor `json:"vendor"`
	BackfillID           string `json:"backfill_id,omitempty"`
	SuppressNotification bool   `json:"suppress_notification,omitempty"`
}

// BatchJobConfig is one bounded unit of deferred ingestion work.
// A nil StartTimestamp means the batch may run immediately.
type BatchJobConfig struct {
	TenantID             string     `json:"tenant_id"`
	Vendor               Vendor     `json:"vendor"`
	Source               Source     `json:"source"`
	Partition            string     `json:"partition,omitempty"`
	RecordIDs            []string   `json:"record_ids"`
	StartTimestamp       *time.Time `json:"start_timestamp,omitempty"`
	BackfillID           string     `json:"backfill_id,omitempty"`
	SuppressNotification bool       `json:"suppress_notification,omitempty"`
}

// WebhookJobConfig carries one raw webhook delivery.
type WebhookJobConfig struct {
	TenantID   string          `json:"tenant_id"`
	Vendor     Vendor          `json:"vendor"`
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
}

// IndexJobConfig asks the indexer to (re)build documents for entities.
type IndexJobConfig struct {
	TenantID             string   `json:"tenant_id"`
	Source               Source   `json:"source"`
	EntityIDs            []string `json:"entity_ids"`
	BackfillID           string   `json:"backfill_id,omitempty"`
	SuppressNotification bool     `json:"suppress_notification,omitempty"`
}

// IncrementalJobConfig syncs records changed since the last pass.
type IncrementalJobConfig struct {
	TenantID string `json:"tenant_id"`
	Vendor   Vendor `json:"vendor"`
}

// PruneJobConfig runs one staleness pass over a tenant's vendor connection.
type PruneJobConfig struct {
	TenantID string `json:"tenant_id"`
	Vendor   Vendor `json:"vendor"`
}

// BackfillRun identifies one full-resync execution.
type BackfillRun struct {
	BackfillID           string
	TenantID             string
	SuppressNotification bool
}

// Key returns the progress key of the run.
func (r BackfillRun) Key() ProgressKey {
	return ProgressKey{BackfillID: r.BackfillID, TenantID: r.TenantID}
}

// Counter names one backfill progress counter.
type Counter string

const (
	CounterTotalIngestJobs     Counter = "total_ingest_jobs"
	CounterAttemptedIngestJobs Counter = "attempted_ingest_jobs"
	CounterDoneIngestJobs      Counter = "done_ingest_jobs"
	CounterTotalIndexJobs      Counter = "total_index_jobs"
	CounterDoneIndexJobs       Counter = "done_index_jobs"
)

// Counters lists every progress counter.
var Counters = []Counter{
	CounterTotalIngestJobs,
	CounterAttemptedIngestJobs,
	CounterDoneIngestJobs,
	CounterTotalIndexJobs,
	CounterDoneIndexJobs,
}

// ProgressKey scopes progress counters to one backfill of one tenant.
type ProgressKey struct {
	BackfillID string
	TenantID   string
}

// BackfillProgress is a snapshot of all counters for one backfill.
type BackfillProgress struct {
	Key    ProgressKey
	Values map[Counter]int64
}

// Get returns a counter value, zero when unset.
func (p *BackfillProgress) Get(c Counter) int64 {
	if p == nil || p.Values == nil {
		return 0
	}
	return p.Values[c]
}

// Complete reports whether every ingest job has been attempted and every
// index job it produced has finished.
func (p *BackfillProgress) Complete() bool {
	total := p.Get(CounterTotalIngestJobs)
	if total == 0 {
		return false
	}
	if p.Get(CounterAttemptedIngestJobs) < total {
		return false
	}
	return p.Get(CounterDoneIndexJobs) >= p.Get(CounterTotalIndexJobs)
}

// Percent returns attempted ingest jobs as a percentage of the total.
func (p *BackfillProgress) Percent() float64 {
	total := p.Get(CounterTotalIngestJobs)
	if total == 0 {
		return 0
	}
	return float64(p.Get(CounterAttemptedIngestJobs)) * 100 / float64(total)
}

// SyncCursor records how far a tenant's vendor connection has been synced.
type SyncCursor struct {
	TenantID           string               `json:"tenant_id"`
	Vendor             Vendor               `json:"vendor"`
	LastSyncedAt       map[Source]time.Time `json:"last_synced_at,omitempty"`
	SelectedProjectIDs []string             `json:"selected_project_ids,omitempty"`
	SyncedProjectIDs   []string             `json:"synced_project_ids,omitempty"`
}

// NewSyncCursor returns an empty cursor.
func NewSyncCursor(tenantID string, vendor Vendor) *SyncCursor {
	return &SyncCursor{
		TenantID:     tenantID,
		Vendor:       vendor,
		LastSyncedAt: make(map[Source]time.Time),
	}
}

// LastSynced returns the last sync time of a source.
func (c *SyncCursor) LastSynced(source Source) (time.Time, bool) {
	if c == nil || c.LastSyncedAt == nil {
		return time.Time{}, false
	}
	ts, ok := c.LastSyncedAt[source]
	return ts, ok
}

// MarkSynced advances the last sync time of a source.
func (c *SyncCursor) MarkSynced(source Source, ts time.Time) {
	if c.LastSyncedAt == nil {
		c.LastSyncedAt = make(map[Source]time.Time)
	}
	c.LastSyncedAt[source] = ts.UTC()
}

// NeedsResync reports whether any source was never synced or was last
// synced more than interval before now.
func (c *SyncCursor) NeedsResync(sources []Source, interval time.Duration, now time.Time) bool {
	for _, source := range sources {
		ts, ok := c.LastSynced(source)
		if !ok || now.Sub(ts) > interval {
			return true
		}
	}
	return false
}

// IncrementalSince returns the lower bound for an incremental pass over a
// source, with overlap subtracted so boundary records are not missed.
func (c *SyncCursor) IncrementalSince(source Source, overlap time.Duration) (time.Time, bool) {
	ts, ok := c.LastSynced(source)
	if !ok {
		return time.Time{}, false
	}
	return ts.Add(-overlap), true
}
