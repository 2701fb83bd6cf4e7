// Package attio is the Attio CRM connector: companies, people and deals,
// with notes and tasks attached to deals.
package attio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
)

const (
	DefaultBaseURL = "https://api.attio.com"

	SlugCompanies = "companies"
	SlugPeople    = "people"
	SlugDeals     = "deals"

	SubResourceNotes = "notes"
	SubResourceTasks = "tasks"

	pageSize = 500
)

var categories = []connector.Category{
	{Source: core.SourceAttioCompany, Slug: SlugCompanies},
	{Source: core.SourceAttioPerson, Slug: SlugPeople},
	{Source: core.SourceAttioDeal, Slug: SlugDeals, SubResources: []string{SubResourceNotes, SubResourceTasks}},
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client implements connector.Client against the Attio REST API.
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
	logger = logger.With("component", "attio")
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
	return core.VendorAttio
}

func (c *Client) Categories() []connector.Category {
	return categories
}

// ListPartitions returns the single implicit workspace partition.
func (c *Client) ListPartitions(ctx context.Context) ([]string, error) {
	return []string{""}, nil
}

type recordID struct {
	WorkspaceID string `json:"workspace_id"`
	ObjectID    string `json:"object_id"`
	RecordID    string `json:"record_id"`
}

type recordPage struct {
	Data []struct {
		ID recordID `json:"id"`
	} `json:"data"`
}

func (c *Client) ListRecordIDs(ctx context.Context, cat connector.Category, partition string) ([]string, error) {
	return c.queryRecordIDs(ctx, cat, nil)
}

func (c *Client) ListUpdatedRecordIDs(ctx context.Context, cat connector.Category, partition string, since time.Time) ([]string, error) {
	filter := map[string]any{
		"updated_at": map[string]any{"$gte": since.UTC().Format(time.RFC3339)},
	}
	return c.queryRecordIDs(ctx, cat, filter)
}

func (c *Client) queryRecordIDs(ctx context.Context, cat connector.Category, filter map[string]any) ([]string, error) {
	var ids []string
	for offset := 0; ; offset += pageSize {
		body := map[string]any{"limit": pageSize, "offset": offset}
		if filter != nil {
			body["filter"] = filter
		}
		var page recordPage
		path := fmt.Sprintf("/v2/objects/%s/records/query", url.PathEscape(cat.Slug))
		if err := c.http.Post(ctx, path, body, &page); err != nil {
			return nil, c.classify(cat, err)
		}
		for _, rec := range page.Data {
			ids = append(ids, rec.ID.RecordID)
		}
		if len(page.Data) < pageSize {
			return ids, nil
		}
	}
}

// classify turns a missing object into a CategoryDisabledError.
func (c *Client) classify(cat connector.Category, err error) error {
	if apiErr, ok := connector.AsAPIError(err); ok && apiErr.NotFound() {
		return &connector.CategoryDisabledError{Category: cat.Slug, Err: err}
	}
	return err
}

type recordEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type recordTimestamps struct {
	ID        recordID `json:"id"`
	UpdatedAt string   `json:"updated_at"`
}

func (c *Client) GetRecord(ctx context.Context, cat connector.Category, partition, id string) (*core.Record, error) {
	var env recordEnvelope
	path := fmt.Sprintf("/v2/objects/%s/records/%s", url.PathEscape(cat.Slug), url.PathEscape(id))
	if err := c.http.Get(ctx, path, nil, &env); err != nil {
		return nil, err
	}
	record := &core.Record{ID: id, Payload: env.Data}
	var ts recordTimestamps
	if err := json.Unmarshal(env.Data, &ts); err == nil && ts.UpdatedAt != "" {
		if parsed, err := time.Parse(time.RFC3339, ts.UpdatedAt); err == nil {
			record.UpdatedAt = parsed
		}
	}
	return record, nil
}

type listEnvelope struct {
	Data []json.RawMessage `json:"data"`
}

func (c *Client) GetSubResources(ctx context.Context, cat connector.Category, kind, id string) ([]json.RawMessage, error) {
	query := url.Values{}
	switch kind {
	case SubResourceNotes:
		query.Set("parent_object", cat.Slug)
		query.Set("parent_record_id", id)
	case SubResourceTasks:
		query.Set("linked_object", cat.Slug)
		query.Set("linked_record_id", id)
	default:
		return nil, fmt.Errorf("%w: sub-resource %s", connector.ErrUnknownCategory, kind)
	}
	var env listEnvelope
	if err := c.http.Get(ctx, "/v2/"+kind, query, &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

type objectEnvelope struct {
	Data struct {
		APISlug string `json:"api_slug"`
	} `json:"data"`
}

// ResolveCategorySlug maps an object id to its api slug. Known slugs are
// returned unchanged without a request.
func (c *Client) ResolveCategorySlug(ctx context.Context, resourceTypeID string) (string, error) {
	if _, ok := connector.CategoryForSlug(c, resourceTypeID); ok {
		return resourceTypeID, nil
	}
	var env objectEnvelope
	if err := c.http.Get(ctx, "/v2/objects/"+url.PathEscape(resourceTypeID), nil, &env); err != nil {
		return "", err
	}
	slug := strings.TrimSpace(env.Data.APISlug)
	if slug == "" {
		return "", fmt.Errorf("%w: object %s has no slug", connector.ErrUnknownCategory, resourceTypeID)
	}
	return slug, nil
}
