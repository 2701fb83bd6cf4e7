// Package config loads the tributary configuration from TOML or YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/poiesic/tributary/ai"
	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/ingestion"
	"github.com/poiesic/tributary/jobs"
	"github.com/poiesic/tributary/planner"
	"github.com/poiesic/tributary/prune"
	"github.com/poiesic/tributary/queue"
	"github.com/poiesic/tributary/webhook"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Queue    QueueConfig    `toml:"queue" yaml:"queue"`
	Progress ProgressConfig `toml:"progress" yaml:"progress"`
	Planner  PlannerConfig  `toml:"planner" yaml:"planner"`
	Prune    PruneConfig    `toml:"prune" yaml:"prune"`
	Schedule ScheduleConfig `toml:"schedule" yaml:"schedule"`
	AI       ai.Config      `toml:"ai" yaml:"ai"`
	Webhook  WebhookConfig  `toml:"webhook" yaml:"webhook"`
	Vendors  VendorsConfig  `toml:"vendors" yaml:"vendors"`
	Tenants  []TenantConfig `toml:"tenants" yaml:"tenants"`
}

// StorageConfig locates the BadgerDB store for artifacts, documents and cursors.
type StorageConfig struct {
	Path     string `toml:"path" yaml:"path"`
	InMemory bool   `toml:"in_memory" yaml:"in_memory"`
}

// QueueConfig configures the job queue and the runner draining it.
type QueueConfig struct {
	// DSN selects the backend: empty or memory:// for in-process,
	// postgres:// for a shared queue.
	DSN               string        `toml:"dsn" yaml:"dsn"`
	Name              string        `toml:"name" yaml:"name"`
	VisibilityTimeout time.Duration `toml:"visibility_timeout" yaml:"visibility_timeout"`
	MaxExtension      time.Duration `toml:"max_extension" yaml:"max_extension"`
	Workers           int           `toml:"workers" yaml:"workers"`
	MaxAttempts       int           `toml:"max_attempts" yaml:"max_attempts"`
	BaseBackoff       time.Duration `toml:"base_backoff" yaml:"base_backoff"`
	MaxBackoff        time.Duration `toml:"max_backoff" yaml:"max_backoff"`
}

// ProgressConfig selects where backfill counters and claims live. An
// empty DSN keeps them in BadgerDB next to the artifacts.
type ProgressConfig struct {
	DSN string `toml:"dsn" yaml:"dsn"`
}

// PlannerConfig holds batch sizing and the release schedule.
type PlannerConfig struct {
	BatchSize          int           `toml:"batch_size" yaml:"batch_size"`
	BurstBatches       int           `toml:"burst_batches" yaml:"burst_batches"`
	BatchDelay         time.Duration `toml:"batch_delay" yaml:"batch_delay"`
	IndexBatchSize     int           `toml:"index_batch_size" yaml:"index_batch_size"`
	DeferBuffer        time.Duration `toml:"defer_buffer" yaml:"defer_buffer"`
	IncrementalOverlap time.Duration `toml:"incremental_overlap" yaml:"incremental_overlap"`
}

// Throttle returns the release schedule.
func (p PlannerConfig) Throttle() planner.Throttle {
	return planner.Throttle{BurstBatches: p.BurstBatches, BatchDelay: p.BatchDelay}
}

type PruneConfig struct {
	MaxDeletionRatio float64 `toml:"max_deletion_ratio" yaml:"max_deletion_ratio"`
	DryRun           bool    `toml:"dry_run" yaml:"dry_run"`
}

// ScheduleConfig drives the periodic scheduler. A zero interval
// disables the corresponding job, except ResyncInterval.
type ScheduleConfig struct {
	Tick                time.Duration `toml:"tick" yaml:"tick"`
	ResyncInterval      time.Duration `toml:"resync_interval" yaml:"resync_interval"`
	IncrementalInterval time.Duration `toml:"incremental_interval" yaml:"incremental_interval"`
	PruneInterval       time.Duration `toml:"prune_interval" yaml:"prune_interval"`
}

// WebhookConfig configures the webhook receiver.
type WebhookConfig struct {
	Listen       string `toml:"listen" yaml:"listen"`
	MaxBodyBytes int64  `toml:"max_body_bytes" yaml:"max_body_bytes"`
	// Secrets maps a vendor name to its signing secret.
	Secrets map[string]string `toml:"secrets" yaml:"secrets"`
}

// VendorConfig holds the API endpoint and default token of a vendor.
type VendorConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url"`
	Token   string `toml:"token" yaml:"token"`
}

type VendorsConfig struct {
	Attio   VendorConfig `toml:"attio" yaml:"attio"`
	PostHog VendorConfig `toml:"posthog" yaml:"posthog"`
}

// For returns the settings of v.
func (v VendorsConfig) For(vendor core.Vendor) VendorConfig {
	switch vendor {
	case core.VendorAttio:
		return v.Attio
	case core.VendorPostHog:
		return v.PostHog
	default:
		return VendorConfig{}
	}
}

// TenantConfig binds a tenant to a vendor. Token overrides the vendor's
// default token for this tenant.
type TenantConfig struct {
	TenantID string      `toml:"tenant_id" yaml:"tenant_id"`
	Vendor   core.Vendor `toml:"vendor" yaml:"vendor"`
	Token    string      `toml:"token,omitempty" yaml:"token,omitempty"`
}

// Connection returns the tenant's connection.
func (t TenantConfig) Connection() core.Connection {
	return core.Connection{TenantID: t.TenantID, Vendor: t.Vendor}
}

// Default returns a configuration for a single-process deployment with
// everything in memory.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{InMemory: true},
		Queue: QueueConfig{
			Name:              "default",
			VisibilityTimeout: queue.DefaultVisibilityTimeout,
			MaxExtension:      queue.DefaultMaxExtension,
			Workers:           4,
			MaxAttempts:       jobs.DefaultMaxAttempts,
			BaseBackoff:       jobs.DefaultBaseBackoff,
			MaxBackoff:        jobs.DefaultMaxBackoff,
		},
		Planner: PlannerConfig{
			BatchSize:          planner.DefaultBatchSize,
			BurstBatches:       planner.DefaultBurstBatches,
			BatchDelay:         planner.DefaultBatchDelay,
			IndexBatchSize:     ingestion.DefaultIndexBatchSize,
			DeferBuffer:        ingestion.DefaultDeferBuffer,
			IncrementalOverlap: ingestion.DefaultIncrementalOverlap,
		},
		Prune: PruneConfig{MaxDeletionRatio: prune.DefaultMaxDeletionRatio},
		Schedule: ScheduleConfig{
			Tick:           jobs.DefaultSchedulerTick,
			ResyncInterval: jobs.DefaultResyncInterval,
			PruneInterval:  jobs.DefaultPruneInterval,
		},
		AI: *ai.DefaultConfig(),
		Webhook: WebhookConfig{
			Listen:       ":8080",
			MaxBodyBytes: webhook.DefaultMaxBodyBytes,
			Secrets:      map[string]string{},
		},
	}
}

// Read decodes a configuration from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ReadYAML decodes a YAML configuration from r on top of the defaults.
// An empty document yields the defaults.
func ReadYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := yaml.NewDecoder(r).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// ReadFromFile reads a configuration from path. Files ending in .yaml or
// .yml are YAML, anything else is TOML.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	read := Read
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		read = ReadYAML
	}
	cfg, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Write encodes cfg as TOML.
func Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Normalize expands ${VAR} references in tokens, secrets and DSNs and
// trims whitespace. A storage path turns off in-memory mode.
func (c *Config) Normalize() {
	c.Queue.DSN = expand(c.Queue.DSN)
	c.Progress.DSN = expand(c.Progress.DSN)
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	if c.Storage.Path != "" {
		c.Storage.InMemory = false
	}
	c.Vendors.Attio.Token = expand(c.Vendors.Attio.Token)
	c.Vendors.PostHog.Token = expand(c.Vendors.PostHog.Token)
	for i := range c.Tenants {
		c.Tenants[i].TenantID = strings.TrimSpace(c.Tenants[i].TenantID)
		c.Tenants[i].Token = expand(c.Tenants[i].Token)
	}
	for vendor, secret := range c.Webhook.Secrets {
		c.Webhook.Secrets[vendor] = expand(secret)
	}
	c.AI.Token = expand(c.AI.Token)
	c.AI.Normalize()
}

func expand(s string) string {
	return strings.TrimSpace(os.ExpandEnv(s))
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.Normalize()

	var errs []error
	if !c.Storage.InMemory && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage: path is required unless in_memory is set"))
	}
	if c.Queue.Workers < 1 {
		errs = append(errs, errors.New("queue: workers must be positive"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue: max_attempts must be positive"))
	}
	if c.Queue.BaseBackoff <= 0 || c.Queue.MaxBackoff < c.Queue.BaseBackoff {
		errs = append(errs, errors.New("queue: backoff must satisfy 0 < base_backoff <= max_backoff"))
	}
	if c.Planner.BatchSize < 1 || c.Planner.IndexBatchSize < 1 {
		errs = append(errs, errors.New("planner: batch sizes must be positive"))
	}
	if err := c.Planner.Throttle().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("planner: %w", err))
	}
	if c.Prune.MaxDeletionRatio <= 0 || c.Prune.MaxDeletionRatio > 1 {
		errs = append(errs, fmt.Errorf("prune: %w", prune.ErrInvalidRatio))
	}
	if c.Schedule.ResyncInterval <= 0 {
		errs = append(errs, errors.New("schedule: resync_interval must be positive"))
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("webhook: %w", webhook.ErrInvalidMaxBody))
	}
	for name := range c.Webhook.Secrets {
		if err := core.ValidateVendor(core.Vendor(name)); err != nil {
			errs = append(errs, fmt.Errorf("webhook secrets: %w", err))
		}
	}
	if err := c.AI.Validate(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[core.Connection]bool, len(c.Tenants))
	for _, t := range c.Tenants {
		conn := t.Connection()
		if err := core.ValidateConnection(conn.TenantID, conn.Vendor); err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", t.TenantID, err))
			continue
		}
		if seen[conn] {
			errs = append(errs, fmt.Errorf("tenant %q: duplicate %s connection", t.TenantID, t.Vendor))
		}
		seen[conn] = true
		if t.Token == "" && c.Vendors.For(t.Vendor).Token == "" {
			errs = append(errs, fmt.Errorf("tenant %q: no %s token configured", t.TenantID, t.Vendor))
		}
	}
	return errors.Join(errs...)
}

// Connections lists the configured tenant connections.
func (c *Config) Connections() []core.Connection {
	conns := make([]core.Connection, len(c.Tenants))
	for i, t := range c.Tenants {
		conns[i] = t.Connection()
	}
	return conns
}

// TokenFor returns the API token for a tenant's connection.
func (c *Config) TokenFor(tenantID string, vendor core.Vendor) string {
	for _, t := range c.Tenants {
		if t.TenantID == tenantID && t.Vendor == vendor && t.Token != "" {
			return t.Token
		}
	}
	return c.Vendors.For(vendor).Token
}
