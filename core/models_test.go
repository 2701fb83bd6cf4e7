package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "same content produces same ID", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestChunkID_DependsOnOrdinal(t *testing.T) {
	if ChunkID("attio_company_1", 0) == ChunkID("attio_company_1", 1) {
		t.Errorf("ChunkID() produced the same id for different ordinals")
	}
	if ChunkID("attio_company_1", 3) != ChunkID("attio_company_1", 3) {
		t.Errorf("ChunkID() is not deterministic")
	}
}

func TestEntityID(t *testing.T) {
	tests := []struct {
		name      string
		source    Source
		partition string
		recordID  string
		want      string
	}{
		{name: "unpartitioned", source: SourceAttioCompany, recordID: "abc", want: "attio_company_abc"},
		{name: "partitioned", source: SourcePostHogInsight, partition: "42", recordID: "7", want: "posthog_insight_42_7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EntityID(tt.source, tt.partition, tt.recordID); got != tt.want {
				t.Errorf("EntityID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPartitionOf(t *testing.T) {
	tests := []struct {
		name     string
		source   Source
		entityID string
		want     string
		wantOK   bool
	}{
		{name: "posthog insight", source: SourcePostHogInsight, entityID: "posthog_insight_42_7", want: "42", wantOK: true},
		{name: "record id with underscore", source: SourcePostHogDashboard, entityID: "posthog_dashboard_9_a_b", want: "9", wantOK: true},
		{name: "wrong source", source: SourcePostHogDashboard, entityID: "posthog_insight_42_7"},
		{name: "unpartitioned source", source: SourceAttioDeal, entityID: "attio_deal_x"},
		{name: "missing record", source: SourcePostHogInsight, entityID: "posthog_insight_42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PartitionOf(tt.source, tt.entityID)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("PartitionOf() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestSource_Vendor(t *testing.T) {
	for _, s := range SourcesFor(VendorAttio) {
		if s.Vendor() != VendorAttio {
			t.Errorf("%s.Vendor() = %q, want attio", s, s.Vendor())
		}
	}
	for _, s := range SourcesFor(VendorPostHog) {
		if s.Vendor() != VendorPostHog {
			t.Errorf("%s.Vendor() = %q, want posthog", s, s.Vendor())
		}
	}
	if Source("jira_issue").Vendor() != "" {
		t.Errorf("unknown source resolved to a vendor")
	}
}

func TestNewArtifact(t *testing.T) {
	updated := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := &Record{ID: "7", Partition: "42", UpdatedAt: updated, Payload: json.RawMessage(`{"name":"x"}`)}

	a := NewArtifact("t1", SourcePostHogInsight, rec, nil, "job-1")
	if a.EntityID != "posthog_insight_42_7" {
		t.Errorf("EntityID = %q", a.EntityID)
	}
	if !a.SourceUpdatedAt.Equal(updated) {
		t.Errorf("SourceUpdatedAt = %v, want %v", a.SourceUpdatedAt, updated)
	}
	if a.IngestJobID != "job-1" || a.TenantID != "t1" {
		t.Errorf("unexpected artifact %+v", a)
	}

	rec.UpdatedAt = time.Time{}
	a = NewArtifact("t1", SourcePostHogInsight, rec, nil, "job-1")
	if a.SourceUpdatedAt.IsZero() {
		t.Errorf("missing update time was not stamped")
	}
}

func TestBackfillProgress_Complete(t *testing.T) {
	tests := []struct {
		name   string
		values map[Counter]int64
		want   bool
	}{
		{name: "no total", values: map[Counter]int64{}, want: false},
		{name: "not all attempted", values: map[Counter]int64{CounterTotalIngestJobs: 3, CounterAttemptedIngestJobs: 2}, want: false},
		{name: "index pending", values: map[Counter]int64{CounterTotalIngestJobs: 3, CounterAttemptedIngestJobs: 3, CounterTotalIndexJobs: 4, CounterDoneIndexJobs: 3}, want: false},
		{name: "complete", values: map[Counter]int64{CounterTotalIngestJobs: 3, CounterAttemptedIngestJobs: 3, CounterTotalIndexJobs: 4, CounterDoneIndexJobs: 4}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &BackfillProgress{Values: tt.values}
			if got := p.Complete(); got != tt.want {
				t.Errorf("Complete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncCursor_NeedsResync(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	sources := SourcesFor(VendorAttio)

	c := NewSyncCursor("t1", VendorAttio)
	if !c.NeedsResync(sources, 24*time.Hour, now) {
		t.Fatalf("never-synced cursor should need a resync")
	}
	for _, s := range sources {
		c.MarkSynced(s, now.Add(-time.Hour))
	}
	if c.NeedsResync(sources, 24*time.Hour, now) {
		t.Errorf("fresh cursor should not need a resync")
	}
	c.MarkSynced(SourceAttioDeal, now.Add(-25*time.Hour))
	if !c.NeedsResync(sources, 24*time.Hour, now) {
		t.Errorf("one stale source should trigger a resync")
	}
}

func TestSyncCursor_IncrementalSince(t *testing.T) {
	c := NewSyncCursor("t1", VendorAttio)
	if _, ok := c.IncrementalSince(SourceAttioDeal, time.Minute); ok {
		t.Fatalf("expected no lower bound for a never-synced source")
	}
	ts := time.Date(2025, 1, 1, 0, 10, 0, 0, time.UTC)
	c.MarkSynced(SourceAttioDeal, ts)
	since, ok := c.IncrementalSince(SourceAttioDeal, 5*time.Minute)
	if !ok || !since.Equal(ts.Add(-5*time.Minute)) {
		t.Errorf("IncrementalSince() = %v, %v", since, ok)
	}
}
