package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/tributary/core"
	"github.com/poiesic/tributary/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[storage]
path = "/var/lib/tributary"

[queue]
dsn = "postgres://localhost/tributary"
workers = 8
visibility_timeout = "2m"

[planner]
batch_size = 50
burst_batches = 3
batch_delay = "15s"

[prune]
max_deletion_ratio = 0.5

[schedule]
incremental_interval = "15m"

[webhook]
listen = ":9000"
[webhook.secrets]
attio = "${TRIBUTARY_TEST_ATTIO_SECRET}"

[vendors.attio]
token = "${TRIBUTARY_TEST_ATTIO_TOKEN}"

[vendors.posthog]
base_url = "https://eu.posthog.com"

[[tenants]]
tenant_id = "acme"
vendor = "attio"

[[tenants]]
tenant_id = "acme"
vendor = "posthog"
token = "phx_acme"
`

func TestRead(t *testing.T) {
	t.Setenv("TRIBUTARY_TEST_ATTIO_SECRET", "whsec")
	t.Setenv("TRIBUTARY_TEST_ATTIO_TOKEN", "attio-token")

	cfg, err := Read(strings.NewReader(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.False(t, cfg.Storage.InMemory)
	assert.Equal(t, "/var/lib/tributary", cfg.Storage.Path)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Queue.VisibilityTimeout)
	assert.Equal(t, planner.Throttle{BurstBatches: 3, BatchDelay: 15 * time.Second}, cfg.Planner.Throttle())
	assert.Equal(t, 50, cfg.Planner.BatchSize)
	assert.Equal(t, 0.5, cfg.Prune.MaxDeletionRatio)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.IncrementalInterval)
	assert.Equal(t, "whsec", cfg.Webhook.Secrets["attio"])

	// Unset sections keep their defaults
	assert.Equal(t, Default().Schedule.ResyncInterval, cfg.Schedule.ResyncInterval)
	assert.Equal(t, Default().AI.ChunkSize, cfg.AI.ChunkSize)

	assert.Equal(t, []core.Connection{
		{TenantID: "acme", Vendor: core.VendorAttio},
		{TenantID: "acme", Vendor: core.VendorPostHog},
	}, cfg.Connections())
	assert.Equal(t, "attio-token", cfg.TokenFor("acme", core.VendorAttio))
	assert.Equal(t, "phx_acme", cfg.TokenFor("acme", core.VendorPostHog))
	assert.Equal(t, "https://eu.posthog.com", cfg.Vendors.For(core.VendorPostHog).BaseURL)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"no storage path", func(c *Config) { c.Storage.InMemory = false }, "storage"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "workers"},
		{"backoff inverted", func(c *Config) { c.Queue.MaxBackoff = time.Second }, "backoff"},
		{"negative burst", func(c *Config) { c.Planner.BurstBatches = -1 }, "throttle"},
		{"ratio above one", func(c *Config) { c.Prune.MaxDeletionRatio = 1.5 }, "ratio"},
		{"unknown secret vendor", func(c *Config) { c.Webhook.Secrets["hubspot"] = "x" }, "unknown vendor"},
		{"bad chunking", func(c *Config) { c.AI.ChunkOverlap = c.AI.ChunkSize }, "ChunkOverlap"},
		{"tenant without token", func(c *Config) {
			c.Tenants = []TenantConfig{{TenantID: "acme", Vendor: core.VendorAttio}}
		}, "no attio token"},
		{"duplicate tenant", func(c *Config) {
			c.Vendors.Attio.Token = "t"
			c.Tenants = []TenantConfig{
				{TenantID: "acme", Vendor: core.VendorAttio},
				{TenantID: "acme", Vendor: core.VendorAttio},
			}
		}, "duplicate"},
		{"bad tenant id", func(c *Config) {
			c.Vendors.Attio.Token = "t"
			c.Tenants = []TenantConfig{{TenantID: "a:b", Vendor: core.VendorAttio}}
		}, "tenant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Tenants = []TenantConfig{{TenantID: "acme", Vendor: core.VendorAttio, Token: "tok"}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, cfg))

	back, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg.Tenants, back.Tenants)
	assert.Equal(t, cfg.Planner, back.Planner)
}

const sampleYAML = `
storage:
  path: /var/lib/tributary
planner:
  batch_size: 50
  batch_delay: 15s
schedule:
  incremental_interval: 15m
webhook:
  secrets:
    posthog: ${TRIBUTARY_TEST_POSTHOG_SECRET}
vendors:
  posthog:
    token: phx_default
tenants:
  - tenant_id: acme
    vendor: posthog
`

func TestReadYAML(t *testing.T) {
	t.Setenv("TRIBUTARY_TEST_POSTHOG_SECRET", "whsec")

	cfg, err := ReadYAML(strings.NewReader(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/tributary", cfg.Storage.Path)
	assert.False(t, cfg.Storage.InMemory)
	assert.Equal(t, 50, cfg.Planner.BatchSize)
	assert.Equal(t, 15*time.Second, cfg.Planner.BatchDelay)
	assert.Equal(t, planner.DefaultBurstBatches, cfg.Planner.BurstBatches)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.IncrementalInterval)
	assert.Equal(t, "whsec", cfg.Webhook.Secrets["posthog"])
	assert.Equal(t, "phx_default", cfg.TokenFor("acme", core.VendorPostHog))
}

func TestReadYAMLEmpty(t *testing.T) {
	cfg, err := ReadYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestReadFromFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "tributary.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("queue:\n  workers: 9\n"), 0o600))
	tomlPath := filepath.Join(dir, "tributary.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte("[queue]\nworkers = 7\n"), 0o600))

	cfg, err := ReadFromFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.Workers)

	cfg, err = ReadFromFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Queue.Workers)

	_, err = ReadFromFile(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}
