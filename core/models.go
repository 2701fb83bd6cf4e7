package core

import (
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a compact identifier derived from content hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Vendor identifies a third-party SaaS system records are ingested from.
type Vendor string

const (
	VendorAttio   Vendor = "attio"
	VendorPostHog Vendor = "posthog"
)

// Source identifies one category of vendor records. Every artifact and
// document carries exactly one Source.
type Source string

const (
	SourceAttioCompany     Source = "attio_company"
	SourceAttioPerson      Source = "attio_person"
	SourceAttioDeal        Source = "attio_deal"
	SourcePostHogDashboard Source = "posthog_dashboard"
	SourcePostHogInsight   Source = "posthog_insight"
)

var vendorSources = map[Vendor][]Source{
	VendorAttio:   {SourceAttioCompany, SourceAttioPerson, SourceAttioDeal},
	VendorPostHog: {SourcePostHogDashboard, SourcePostHogInsight},
}

// SourcesFor returns the sources a vendor produces, in a stable order.
func SourcesFor(v Vendor) []Source {
	return append([]Source(nil), vendorSources[v]...)
}

// AllSources returns every known source, grouped by vendor.
func AllSources() []Source {
	var all []Source
	for _, v := range []Vendor{VendorAttio, VendorPostHog} {
		all = append(all, vendorSources[v]...)
	}
	return all
}

// Vendor returns the vendor that produces records of this source.
func (s Source) Vendor() Vendor {
	for v, sources := range vendorSources {
		for _, candidate := range sources {
			if candidate == s {
				return v
			}
		}
	}
	return ""
}

// Partitioned reports whether entity ids of this source embed a partition.
func (s Source) Partitioned() bool {
	return s.Vendor() == VendorPostHog
}

// EntityID builds the deterministic key for one vendor record. Processing the
// same record twice always yields the same key, so repeated writes overwrite.
//
// Format: "<source>_<record>" or "<source>_<partition>_<record>".
func EntityID(source Source, partition, recordID string) string {
	if partition == "" {
		return string(source) + "_" + recordID
	}
	return string(source) + "_" + partition + "_" + recordID
}

// PartitionOf extracts the partition component of an entity id produced by
// EntityID. It returns false when the id does not belong to source or the
// source is not partitioned.
func PartitionOf(source Source, entityID string) (string, bool) {
	rest, ok := strings.CutPrefix(entityID, string(source)+"_")
	if !ok || !source.Partitioned() {
		return "", false
	}
	partition, _, ok := strings.Cut(rest, "_")
	if !ok || partition == "" {
		return "", false
	}
	return partition, true
}

// Record is one vendor record as returned by a vendor client.
type Record struct {
	ID        string
	Partition string
	UpdatedAt time.Time
	Payload   json.RawMessage
}

// Artifact is the canonical stored snapshot of one vendor record at fetch time.
type Artifact struct {
	EntityID        string                       `json:"entity_id"`
	TenantID        string                       `json:"tenant_id"`
	Source          Source                       `json:"source"`
	Partition       string                       `json:"partition,omitempty"`
	RecordID        string                       `json:"record_id"`
	Content         json.RawMessage              `json:"content"`
	SubResources    map[string][]json.RawMessage `json:"sub_resources,omitempty"`
	SourceUpdatedAt time.Time                    `json:"source_updated_at"`
	IngestJobID     string                       `json:"ingest_job_id"`
	StoredAt        time.Time                    `json:"stored_at"`
}

// NewArtifact wraps a fetched vendor record. A record without an update
// timestamp is stamped with the current time.
func NewArtifact(tenantID string, source Source, record *Record, subResources map[string][]json.RawMessage, ingestJobID string) *Artifact {
	updated := record.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	return &Artifact{
		EntityID:        EntityID(source, record.Partition, record.ID),
		TenantID:        tenantID,
		Source:          source,
		Partition:       record.Partition,
		RecordID:        record.ID,
		Content:         record.Payload,
		SubResources:    subResources,
		SourceUpdatedAt: updated.UTC(),
		IngestJobID:     ingestJobID,
	}
}

// Document is the searchable rendition of one artifact.
type Document struct {
	EntityID        string            `json:"entity_id"`
	TenantID        string            `json:"tenant_id"`
	Source          Source            `json:"source"`
	Partition       string            `json:"partition,omitempty"`
	Title           string            `json:"title"`
	Content         string            `json:"content"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Chunks          []Chunk           `json:"chunks,omitempty"`
	SourceUpdatedAt time.Time         `json:"source_updated_at"`
	IndexedAt       time.Time         `json:"indexed_at"`
}

// Chunk is one embedded slice of a document.
type Chunk struct {
	ID      ID        `json:"id"`
	Ordinal int       `json:"ordinal"`
	Text    string    `json:"text"`
	Vector  []float32 `json:"vector,omitempty"`
}

// ChunkID derives a stable chunk id from its document and position.
func ChunkID(entityID string, ordinal int) ID {
	return IDFromContent(entityID + "#" + strconv.Itoa(ordinal))
}

// SearchResult is one ranked chunk match together with its document.
type SearchResult struct {
	Document *Document
	Chunk    *Chunk
	Score    float32
}

// WebhookEvent is one vendor-reported change inside a webhook delivery.
// It exists only while the delivery is processed.
type WebhookEvent struct {
	EventType      string
	ResourceTypeID string
	RecordID       string
	// Partition is the project a partitioned vendor's record lives in.
	Partition string
	Actor     json.RawMessage
}

// Connection binds a tenant to a vendor it has connected.
type Connection struct {
	TenantID string `toml:"tenant_id" json:"tenant_id"`
	Vendor   Vendor `toml:"vendor" json:"vendor"`
}
