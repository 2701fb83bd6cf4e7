package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/tributary/connector"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/storage"
)

const (
	kindRecord = "record"

	actionCreated = "created"
	actionUpdated = "updated"
	actionDeleted = "deleted"
)

// outOfScopeKinds are recognized event kinds that are not processed.
var outOfScopeKinds = map[string]bool{
	"note":             true,
	"task":             true,
	"comment":          true,
	"list-entry":       true,
	"list":             true,
	"object-attribute": true,
	"workspace-member": true,
	"call-recording":   true,
}

type deliveryEvent struct {
	EventType string `json:"event_type"`
	ID        struct {
		ObjectID  string      `json:"object_id"`
		RecordID  string      `json:"record_id"`
		ProjectID json.Number `json:"project_id"`
	} `json:"id"`
	Actor json.RawMessage `json:"actor"`
}

type delivery struct {
	Events []deliveryEvent `json:"events"`
}

// ParseDelivery decodes the events of a webhook delivery body.
func ParseDelivery(body []byte) ([]core.WebhookEvent, error) {
	var d delivery
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDelivery, err)
	}
	events := make([]core.WebhookEvent, len(d.Events))
	for i, e := range d.Events {
		events[i] = core.WebhookEvent{
			EventType:      e.EventType,
			ResourceTypeID: e.ID.ObjectID,
			RecordID:       e.ID.RecordID,
			Partition:      e.ID.ProjectID.String(),
			Actor:          e.Actor,
		}
	}
	return events, nil
}

// SplitEventType splits "kind.action". ok is false unless there are
// exactly two non-empty parts.
func SplitEventType(eventType string) (kind, action string, ok bool) {
	parts := strings.Split(eventType, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type dedupKey struct {
	resourceTypeID string
	partition      string
	recordID       string
}

// Dedup collapses record events for the same (resource type, partition,
// record) within one delivery. A delete always wins; otherwise the later event
// replaces the earlier one in place. Events that are not record events or
// lack either key field pass through untouched.
func Dedup(events []core.WebhookEvent) []core.WebhookEvent {
	out := make([]core.WebhookEvent, 0, len(events))
	seen := make(map[dedupKey]int, len(events))
	for _, ev := range events {
		kind, _, ok := SplitEventType(ev.EventType)
		if !ok || kind != kindRecord || ev.ResourceTypeID == "" || ev.RecordID == "" {
			out = append(out, ev)
			continue
		}
		key := dedupKey{ev.ResourceTypeID, ev.Partition, ev.RecordID}
		i, dup := seen[key]
		if !dup {
			seen[key] = len(out)
			out = append(out, ev)
			continue
		}
		if _, action, _ := SplitEventType(out[i].EventType); action == actionDeleted {
			continue
		}
		out[i] = ev
	}
	return out
}

// DeliveryResult counts what happened to the events of one delivery.
type DeliveryResult struct {
	Received int
	Unique   int
	Upserted int
	Deleted  int
	Dropped  int
	Failed   int
}

// WebhookProcessor applies webhook deliveries: parse, dedup, classify,
// then upsert or delete each record event.
type WebhookProcessor struct {
	vendors   connector.Factory
	artifacts storage.ArtifactRepository
	deleter   *Deleter
	index     *indexDispatcher
	settings
}

var _ jobs.Handler = (*WebhookProcessor)(nil)

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(vendors connector.Factory, artifacts storage.ArtifactRepository, deleter *Deleter, trigger IndexTrigger, opts ...Option) (*WebhookProcessor, error) {
	switch {
	case vendors == nil:
		return nil, ErrVendorFactoryRequired
	case artifacts == nil:
		return nil, ErrArtifactRepositoryRequired
	case trigger == nil:
		return nil, ErrIndexTriggerRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	s.logger = s.logger.With("component", "webhook-processor")
	if deleter == nil {
		deleter = NewDeleter(artifacts, nil, s.logger)
	}
	return &WebhookProcessor{
		vendors:   vendors,
		artifacts: artifacts,
		deleter:   deleter,
		index:     &indexDispatcher{trigger: trigger, batchSize: s.indexBatchSize},
		settings:  s,
	}, nil
}

// Handle runs a webhook delivery job.
func (p *WebhookProcessor) Handle(ctx context.Context, job jobs.Job) jobs.Outcome {
	var cfg core.WebhookJobConfig
	if err := job.Decode(&cfg); err != nil {
		return jobs.Permanent(err)
	}
	_, err := p.Apply(ctx, job.ID, cfg)
	return jobs.FromError(err)
}

// Apply processes every event of one delivery. Failures of single events
// are logged and counted, never returned. Only an unusable delivery or an
// unavailable vendor client fails the call.
func (p *WebhookProcessor) Apply(ctx context.Context, jobID string, cfg core.WebhookJobConfig) (*DeliveryResult, error) {
	if err := core.ValidateConnection(cfg.TenantID, cfg.Vendor); err != nil {
		return nil, err
	}
	events, err := ParseDelivery(cfg.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidJobConfig, err)
	}
	client, err := p.vendors.Client(ctx, cfg.TenantID, cfg.Vendor)
	if err != nil {
		return nil, err
	}
	logger := p.logger.With("job_id", jobID, "tenant_id", cfg.TenantID, "vendor", cfg.Vendor)

	unique := Dedup(events)
	result := &DeliveryResult{Received: len(events), Unique: len(unique)}
	resolver := newSlugResolver(client, logger)

	for _, ev := range unique {
		evLogger := logger.With("event_type", ev.EventType, "resource_type_id", ev.ResourceTypeID, "record_id", ev.RecordID)
		outcome, err := p.dispatch(ctx, jobID, cfg.TenantID, client, resolver, ev, evLogger)
		switch {
		case err != nil:
			evLogger.Error("error processing webhook event", "err", err)
			result.Failed++
		case outcome == actionDeleted:
			result.Deleted++
		case outcome == "":
			result.Dropped++
		default:
			result.Upserted++
		}
	}
	logger.Info("processed webhook delivery",
		"received", result.Received, "unique", result.Unique, "upserted", result.Upserted,
		"deleted", result.Deleted, "dropped", result.Dropped, "failed", result.Failed)
	return result, nil
}

// dispatch handles one event. It returns the applied action, or "" when
// the event was dropped.
func (p *WebhookProcessor) dispatch(ctx context.Context, jobID, tenantID string, client connector.Client, resolver *slugResolver, ev core.WebhookEvent, logger *slog.Logger) (string, error) {
	kind, action, ok := SplitEventType(ev.EventType)
	if !ok {
		logger.Warn("malformed event type, dropping")
		return "", nil
	}
	if kind != kindRecord {
		if outOfScopeKinds[kind] {
			logger.Debug("event kind not processed, dropping")
		} else {
			logger.Warn("unknown event kind, dropping")
		}
		return "", nil
	}
	if ev.RecordID == "" || ev.ResourceTypeID == "" {
		logger.Warn("event missing record id or resource type, dropping")
		return "", nil
	}

	switch action {
	case actionDeleted:
		cat, ok := p.category(ctx, resolver, ev, logger)
		if !ok {
			return "", nil
		}
		entityID := core.EntityID(cat.Source, ev.Partition, ev.RecordID)
		existed, err := p.deleter.DeleteEntity(ctx, tenantID, cat.Source, entityID)
		if err != nil {
			return "", err
		}
		logger.Info("deleted record", "entity_id", entityID, "existed", existed)
		return actionDeleted, nil

	case actionCreated, actionUpdated:
		cat, ok := p.category(ctx, resolver, ev, logger)
		if !ok {
			return "", nil
		}
		if err := p.upsert(ctx, jobID, tenantID, client, cat, ev.Partition, ev.RecordID, logger); err != nil {
			return "", err
		}
		return action, nil

	default:
		logger.Warn("unknown record action, dropping")
		return "", nil
	}
}

// category resolves the event's category. Events of a partitioned
// category must name their project; events of other categories must not.
func (p *WebhookProcessor) category(ctx context.Context, resolver *slugResolver, ev core.WebhookEvent, logger *slog.Logger) (connector.Category, bool) {
	cat, ok := resolver.category(ctx, ev.ResourceTypeID)
	if !ok {
		logger.Warn("unrecognized category, dropping")
		return connector.Category{}, false
	}
	if cat.Source.Partitioned() != (ev.Partition != "") {
		logger.Warn("project id does not match category, dropping", "category", cat.Slug, "project_id", ev.Partition)
		return connector.Category{}, false
	}
	return cat, true
}

// upsert fetches the record and force-stores it stamped with the current
// time: the webhook itself is the evidence that the record just changed.
func (p *WebhookProcessor) upsert(ctx context.Context, jobID, tenantID string, client connector.Client, cat connector.Category, partition, recordID string, logger *slog.Logger) error {
	record, err := client.GetRecord(ctx, cat, partition, recordID)
	if err != nil {
		return fmt.Errorf("fetch %s %s: %w", cat.Slug, recordID, err)
	}
	if record.Partition == "" {
		record.Partition = partition
	}
	subs := fetchSubResources(ctx, client, cat, recordID, logger)
	artifact := core.NewArtifact(tenantID, cat.Source, record, subs, jobID)
	artifact.SourceUpdatedAt = p.now().UTC()

	if err := p.artifacts.ForceStoreArtifacts(ctx, artifact); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}
	run := core.BackfillRun{TenantID: tenantID}
	if _, err := p.index.dispatch(ctx, run, cat.Source, []string{artifact.EntityID}); err != nil {
		return err
	}
	logger.Info("upserted record", "entity_id", artifact.EntityID)
	return nil
}

// slugResolver memoizes slug resolution for one delivery. A failed
// resolution falls back to the raw id.
type slugResolver struct {
	client connector.Client
	logger *slog.Logger
	slugs  map[string]string
}

func newSlugResolver(client connector.Client, logger *slog.Logger) *slugResolver {
	return &slugResolver{client: client, logger: logger, slugs: make(map[string]string)}
}

func (r *slugResolver) resolve(ctx context.Context, resourceTypeID string) string {
	if slug, ok := r.slugs[resourceTypeID]; ok {
		return slug
	}
	slug, err := r.client.ResolveCategorySlug(ctx, resourceTypeID)
	if err != nil || slug == "" {
		r.logger.Warn("error resolving category slug, using raw id", "resource_type_id", resourceTypeID, "err", err)
		slug = resourceTypeID
	}
	r.slugs[resourceTypeID] = slug
	return slug
}

func (r *slugResolver) category(ctx context.Context, resourceTypeID string) (connector.Category, bool) {
	return connector.CategoryForSlug(r.client, r.resolve(ctx, resourceTypeID))
}
