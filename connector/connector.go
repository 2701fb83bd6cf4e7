package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/tributary/core"
)

// Category describes one record type a vendor exposes.
type Category struct {
	Source core.Source
	// Slug is the vendor's name for the record type, used in API paths
	// and webhook payloads.
	Slug string
	// SubResources lists associated sub-record kinds fetched with each
	// record, e.g. notes and tasks on a deal.
	SubResources []string
}

// HasSubResources reports whether records of this category carry sub-records.
func (c Category) HasSubResources() bool {
	return len(c.SubResources) > 0
}

// Client is the vendor API as seen by the ingestion jobs.
// Implementations return *CategoryDisabledError when a category does not
// exist for the tenant and *APIError for other non-2xx responses.
type Client interface {
	Vendor() core.Vendor

	// Categories lists the record types synced from this vendor.
	Categories() []Category

	// ListPartitions lists the vendor's partitions (projects). Vendors
	// without partitions return a single empty partition.
	ListPartitions(ctx context.Context) ([]string, error)

	// ListRecordIDs lists every live record id of a category in a partition.
	ListRecordIDs(ctx context.Context, cat Category, partition string) ([]string, error)

	// ListUpdatedRecordIDs lists record ids changed at or after since.
	ListUpdatedRecordIDs(ctx context.Context, cat Category, partition string, since time.Time) ([]string, error)

	// GetRecord fetches one record.
	GetRecord(ctx context.Context, cat Category, partition, recordID string) (*core.Record, error)

	// GetSubResources fetches the sub-records of one kind attached to a record.
	GetSubResources(ctx context.Context, cat Category, kind, recordID string) ([]json.RawMessage, error)

	// ResolveCategorySlug maps a possibly opaque resource type id to a slug.
	ResolveCategorySlug(ctx context.Context, resourceTypeID string) (string, error)
}

// CategoryForSlug finds the category with the given slug.
func CategoryForSlug(c Client, slug string) (Category, bool) {
	for _, cat := range c.Categories() {
		if cat.Slug == slug {
			return cat, true
		}
	}
	return Category{}, false
}

// CategoryForSource finds the category producing the given source.
func CategoryForSource(c Client, source core.Source) (Category, bool) {
	for _, cat := range c.Categories() {
		if cat.Source == source {
			return cat, true
		}
	}
	return Category{}, false
}

// SelectPartitions returns the partitions a sync should cover: the
// cursor's selected projects when any are set, else every partition the
// vendor lists.
func SelectPartitions(ctx context.Context, c Client, cursor *core.SyncCursor) ([]string, error) {
	if cursor != nil && len(cursor.SelectedProjectIDs) > 0 {
		return append([]string(nil), cursor.SelectedProjectIDs...), nil
	}
	return c.ListPartitions(ctx)
}

// Factory builds a vendor client for one tenant.
type Factory interface {
	Client(ctx context.Context, tenantID string, v core.Vendor) (Client, error)
}

// Constructor builds a client for a tenant.
type Constructor func(tenantID string) (Client, error)

// Registry is a Factory keyed by vendor. Clients are built once per
// (tenant, vendor) and reused.
type Registry struct {
	mu           sync.Mutex
	constructors map[core.Vendor]Constructor
	clients      map[string]Client
}

var _ Factory = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[core.Vendor]Constructor),
		clients:      make(map[string]Client),
	}
}

// Register binds a constructor to a vendor.
func (r *Registry) Register(v core.Vendor, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[v] = ctor
}

// Client returns the tenant's client for v.
func (r *Registry) Client(ctx context.Context, tenantID string, v core.Vendor) (Client, error) {
	if err := core.ValidateConnection(tenantID, v); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := tenantID + ":" + string(v)
	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	ctor, ok := r.constructors[v]
	if !ok {
		return nil, fmt.Errorf("%w: no client for %s", core.ErrUnknownVendor, v)
	}
	c, err := ctor(tenantID)
	if err != nil {
		return nil, err
	}
	r.clients[key] = c
	return c, nil
}
