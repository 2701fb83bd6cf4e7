// Package posthog is the PostHog analytics connector. Projects are
// partitions; dashboards and insights are synced per project.
package posthog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
)

const (
	DefaultBaseURL = "https://us.posthog.com"

	SlugDashboards = "dashboards"
	SlugInsights   = "insights"

	pageSize = 100
)

var categories = []connector.Category{
	{Source: core.SourcePostHogDashboard, Slug: SlugDashboards},
	{Source: core.SourcePostHogInsight, Slug: SlugInsights},
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements connector.Client against the PostHog REST API.
type Client struct {
	http   *connector.HTTPClient
	logger *slog.Logger
}

var _ connector.Client = (*Client)(nil)

// New creates a client.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "posthog")
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	hc, err := connector.NewHTTPClient(connector.HTTPOptions{
		BaseURL:    baseURL,
		Token:      opts.Token,
		HTTPClient: opts.HTTPClient,
		UserAgent:  "tributary",
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, logger: logger}, nil
}

func (c *Client) Vendor() core.Vendor {
	return core.VendorPostHog
}

func (c *Client) Categories() []connector.Category {
	return categories
}

// listItem is the subset of list results the connector reads. PostHog
// ids are integers.
type listItem struct {
	ID             json.Number `json:"id"`
	Deleted        bool        `json:"deleted"`
	CreatedAt      string      `json:"created_at"`
	LastModifiedAt string      `json:"last_modified_at"`
}

func (i listItem) modifiedAt() (time.Time, bool) {
	for _, raw := range []string{i.LastModifiedAt, i.CreatedAt} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

type listPage struct {
	Next    string     `json:"next"`
	Results []listItem `json:"results"`
}

// list follows "next" links until the listing is exhausted.
func (c *Client) list(ctx context.Context, path string) ([]listItem, error) {
	var items []listItem
	query := url.Values{"limit": {strconv.Itoa(pageSize)}}
	for next := path; next != ""; {
		var page listPage
		if err := c.http.Get(ctx, next, query, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Results...)
		next, query = page.Next, nil
	}
	return items, nil
}

// ListPartitions lists the organization's project ids.
func (c *Client) ListPartitions(ctx context.Context) ([]string, error) {
	items, err := c.list(ctx, "/api/projects/")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID.String())
	}
	return ids, nil
}

func (c *Client) ListRecordIDs(ctx context.Context, cat connector.Category, partition string) ([]string, error) {
	return c.listIDs(ctx, cat, partition, time.Time{})
}

// ListUpdatedRecordIDs filters the listing by modification time. Items
// without a parseable timestamp are included.
func (c *Client) ListUpdatedRecordIDs(ctx context.Context, cat connector.Category, partition string, since time.Time) ([]string, error) {
	return c.listIDs(ctx, cat, partition, since)
}

func (c *Client) listIDs(ctx context.Context, cat connector.Category, partition string, since time.Time) ([]string, error) {
	path := fmt.Sprintf("/api/projects/%s/%s/", url.PathEscape(partition), cat.Slug)
	items, err := c.list(ctx, path)
	if err != nil {
		if apiErr, ok := connector.AsAPIError(err); ok && apiErr.NotFound() {
			return nil, &connector.CategoryDisabledError{Category: cat.Slug, Err: err}
		}
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Deleted {
			continue
		}
		if !since.IsZero() {
			if ts, ok := item.modifiedAt(); ok && ts.Before(since) {
				continue
			}
		}
		ids = append(ids, item.ID.String())
	}
	return ids, nil
}

func (c *Client) GetRecord(ctx context.Context, cat connector.Category, partition, id string) (*core.Record, error) {
	var payload json.RawMessage
	path := fmt.Sprintf("/api/projects/%s/%s/%s/", url.PathEscape(partition), cat.Slug, url.PathEscape(id))
	if err := c.http.Get(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	record := &core.Record{ID: id, Partition: partition, Payload: payload}
	var item listItem
	if err := json.Unmarshal(payload, &item); err == nil && item.LastModifiedAt != "" {
		if ts, err := time.Parse(time.RFC3339, item.LastModifiedAt); err == nil {
			record.UpdatedAt = ts
		}
	}
	return record, nil
}

// GetSubResources returns nothing: PostHog categories have no sub-records.
func (c *Client) GetSubResources(ctx context.Context, cat connector.Category, kind, id string) ([]json.RawMessage, error) {
	return nil, nil
}

// ResolveCategorySlug accepts only known slugs.
func (c *Client) ResolveCategorySlug(ctx context.Context, resourceTypeID string) (string, error) {
	if _, ok := connector.CategoryForSlug(c, resourceTypeID); ok {
		return resourceTypeID, nil
	}
	return "", fmt.Errorf("%w: %s", connector.ErrUnknownCategory, resourceTypeID)
}
