// Package fake provides an in-memory connector.Client for tests and local runs.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
)

type listKey struct {
	source    core.Source
	partition string
}

// Client is a scriptable connector.Client. Records, failures and slug
// mappings are configured up front; calls are counted for assertions.
type Client struct {
	mu         sync.Mutex
	vendor     core.Vendor
	categories []connector.Category
	partitions []string

	records  map[listKey][]*core.Record
	subs     map[string][]json.RawMessage
	disabled map[core.Source]bool
	slugs    map[string]string

	listErrors      map[listKey]error
	partitionsError error
	getErrors       map[string]error
	subErrors       map[string]error
	slugError       error

	getCalls  map[string]int
	listCalls int
}

var _ connector.Client = (*Client)(nil)

// New creates an empty client for v with the given categories.
func New(v core.Vendor, categories []connector.Category, partitions ...string) *Client {
	if len(partitions) == 0 {
		partitions = []string{""}
	}
	return &Client{
		vendor:     v,
		categories: categories,
		partitions: partitions,
		records:    make(map[listKey][]*core.Record),
		subs:       make(map[string][]json.RawMessage),
		disabled:   make(map[core.Source]bool),
		slugs:      make(map[string]string),
		listErrors: make(map[listKey]error),
		getErrors:  make(map[string]error),
		subErrors:  make(map[string]error),
		getCalls:   make(map[string]int),
	}
}

// NewAttio creates a client shaped like the Attio connector.
func NewAttio() *Client {
	return New(core.VendorAttio, []connector.Category{
		{Source: core.SourceAttioCompany, Slug: "companies"},
		{Source: core.SourceAttioPerson, Slug: "people"},
		{Source: core.SourceAttioDeal, Slug: "deals", SubResources: []string{"notes", "tasks"}},
	})
}

// NewPostHog creates a client shaped like the PostHog connector.
func NewPostHog(projects ...string) *Client {
	return New(core.VendorPostHog, []connector.Category{
		{Source: core.SourcePostHogDashboard, Slug: "dashboards"},
		{Source: core.SourcePostHogInsight, Slug: "insights"},
	}, projects...)
}

// AddRecord adds a live record.
func (c *Client) AddRecord(source core.Source, partition, id string, payload string, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := listKey{source, partition}
	c.records[key] = append(c.records[key], &core.Record{
		ID:        id,
		Partition: partition,
		UpdatedAt: updatedAt,
		Payload:   json.RawMessage(payload),
	})
}

// AddRecords adds n records with ids prefix-0..prefix-(n-1).
func (c *Client) AddRecords(source core.Source, partition, prefix string, n int) {
	for i := range n {
		id := fmt.Sprintf("%s-%d", prefix, i)
		c.AddRecord(source, partition, id, fmt.Sprintf(`{"id":%q}`, id), time.Time{})
	}
}

// RemoveRecord deletes a live record.
func (c *Client) RemoveRecord(source core.Source, partition, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := listKey{source, partition}
	recs := c.records[key]
	for i, r := range recs {
		if r.ID == id {
			c.records[key] = append(recs[:i:i], recs[i+1:]...)
			return
		}
	}
}

// SetSubResources attaches sub-records of one kind to a record.
func (c *Client) SetSubResources(kind, recordID string, items ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw := make([]json.RawMessage, len(items))
	for i, item := range items {
		raw[i] = json.RawMessage(item)
	}
	c.subs[kind+"|"+recordID] = raw
}

// DisableCategory makes listings of source fail as disabled.
func (c *Client) DisableCategory(source core.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[source] = true
}

// FailList makes listing source in partition fail with err.
func (c *Client) FailList(source core.Source, partition string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErrors[listKey{source, partition}] = err
}

// FailPartitions makes ListPartitions fail with err.
func (c *Client) FailPartitions(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitionsError = err
}

// FailGet makes fetching recordID fail with err.
func (c *Client) FailGet(recordID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getErrors[recordID] = err
}

// FailSubResources makes sub-resource fetches for recordID fail with err.
func (c *Client) FailSubResources(recordID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subErrors[recordID] = err
}

// MapSlug resolves an opaque type id to slug.
func (c *Client) MapSlug(opaqueID, slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slugs[opaqueID] = slug
}

// FailSlugs makes resolution of unmapped ids fail with err.
func (c *Client) FailSlugs(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slugError = err
}

// GetCalls reports how often recordID was fetched.
func (c *Client) GetCalls(recordID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getCalls[recordID]
}

// TotalGetCalls reports how many records were fetched.
func (c *Client) TotalGetCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, n := range c.getCalls {
		total += n
	}
	return total
}

// ListCalls reports how many listings were requested.
func (c *Client) ListCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listCalls
}

func (c *Client) Vendor() core.Vendor {
	return c.vendor
}

func (c *Client) Categories() []connector.Category {
	return c.categories
}

func (c *Client) ListPartitions(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.partitionsError != nil {
		return nil, c.partitionsError
	}
	return append([]string(nil), c.partitions...), nil
}

func (c *Client) ListRecordIDs(ctx context.Context, cat connector.Category, partition string) ([]string, error) {
	return c.listIDs(cat, partition, time.Time{})
}

func (c *Client) ListUpdatedRecordIDs(ctx context.Context, cat connector.Category, partition string, since time.Time) ([]string, error) {
	return c.listIDs(cat, partition, since)
}

func (c *Client) listIDs(cat connector.Category, partition string, since time.Time) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	if c.disabled[cat.Source] {
		return nil, &connector.CategoryDisabledError{Category: cat.Slug}
	}
	key := listKey{cat.Source, partition}
	if err := c.listErrors[key]; err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(c.records[key]))
	for _, r := range c.records[key] {
		if !since.IsZero() && r.UpdatedAt.Before(since) {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (c *Client) GetRecord(ctx context.Context, cat connector.Category, partition, id string) (*core.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls[id]++
	if err := c.getErrors[id]; err != nil {
		return nil, err
	}
	for _, r := range c.records[listKey{cat.Source, partition}] {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, &connector.APIError{Status: 404, Code: "not_found", Message: "record " + id}
}

func (c *Client) GetSubResources(ctx context.Context, cat connector.Category, kind, id string) ([]json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.subErrors[id]; err != nil {
		return nil, err
	}
	return c.subs[kind+"|"+id], nil
}

func (c *Client) ResolveCategorySlug(ctx context.Context, resourceTypeID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cat := range c.categories {
		if cat.Slug == resourceTypeID {
			return resourceTypeID, nil
		}
	}
	if slug, ok := c.slugs[resourceTypeID]; ok {
		return slug, nil
	}
	if c.slugError != nil {
		return "", c.slugError
	}
	return "", fmt.Errorf("%w: %s", connector.ErrUnknownCategory, resourceTypeID)
}

// Factory serves fixed clients regardless of tenant.
type Factory map[core.Vendor]connector.Client

var _ connector.Factory = Factory(nil)

func (f Factory) Client(ctx context.Context, tenantID string, v core.Vendor) (connector.Client, error) {
	c, ok := f[v]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownVendor, v)
	}
	return c, nil
}
