package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	cmd := app.Command(name)
	require.NotNil(t, cmd, "command %s", name)
	return cmd
}

func findFlag[T cli.Flag](t *testing.T, flags []cli.Flag, name string) T {
	t.Helper()
	for _, flag := range flags {
		if f, ok := flag.(T); ok {
			for _, n := range flag.Names() {
				if n == name {
					return f
				}
			}
		}
	}
	var zero T
	t.Fatalf("flag %s not found", name)
	return zero
}

func runApp(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	defer slog.SetDefault(slog.Default())
	app := newApp()
	var stdout, stderr bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = &stderr
	err := app.Run(append([]string{"tributary", "--log-level", "error"}, args...))
	return stdout.String(), stderr.String(), err
}

func TestCommands(t *testing.T) {
	app := newApp()
	for _, name := range []string{"serve", "backfill", "prune", "status", "search", "reindex", "migrate"} {
		findCommand(t, app, name)
	}
}

func TestGlobalFlags(t *testing.T) {
	app := newApp()

	t.Run("log-level defaults to info", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, app.Flags, "log-level")
		assert.Equal(t, "info", f.Value)
	})

	t.Run("config can come from the environment", func(t *testing.T) {
		f := findFlag[*cli.StringFlag](t, app.Flags, "config")
		assert.Equal(t, []string{"TRIBUTARY_CONFIG"}, f.EnvVars)
		assert.Empty(t, f.Value)
	})
}

func TestConnectionFlagsAreRequired(t *testing.T) {
	app := newApp()
	for _, name := range []string{"backfill", "prune", "status"} {
		cmd := findCommand(t, app, name)
		tenant := findFlag[*cli.StringFlag](t, cmd.Flags, "tenant")
		vendor := findFlag[*cli.StringFlag](t, cmd.Flags, "vendor")
		assert.True(t, tenant.Required, name)
		assert.True(t, vendor.Required, name)
	}

	_, _, err := runApp(t, "backfill", "--vendor", "attio")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant")
}

func TestReindexFlags(t *testing.T) {
	cmd := findCommand(t, newApp(), "reindex")

	batch := findFlag[*cli.IntFlag](t, cmd.Flags, "batch-size")
	assert.Equal(t, 25, batch.Value)

	retries := findFlag[*cli.IntFlag](t, cmd.Flags, "max-retries")
	assert.Equal(t, 3, retries.Value)

	_, _, err := runApp(t, "reindex", "--tenant", "t1", "--batch-size", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-size")
}

func TestInvalidLogLevel(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"tributary", "--log-level", "verbose", "status", "-t", "t1", "-v", "attio"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestStatusOnFreshStore(t *testing.T) {
	stdout, _, err := runApp(t, "status", "--tenant", "t1", "--vendor", "attio")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Cursor for t1/attio")
	assert.Contains(t, stdout, "attio_company")
	assert.Contains(t, stdout, "never synced")
}

func TestReindexEmptyTenant(t *testing.T) {
	_, stderr, err := runApp(t, "reindex", "--tenant", "t1")
	require.NoError(t, err)
	assert.Contains(t, stderr, "0 entities")
}

func TestSearchRequiresQuery(t *testing.T) {
	_, _, err := runApp(t, "search", "--tenant", "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")
}

func TestUnknownSource(t *testing.T) {
	_, _, err := runApp(t, "reindex", "--tenant", "t1", "--source", "jira_issue")
	require.Error(t, err)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tributary.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[storage]
path = "`+filepath.Join(t.TempDir(), "db")+`"
`), 0o600))

	stdout, _, err := runApp(t, "--config", path, "status", "--tenant", "t1", "--vendor", "posthog")
	require.NoError(t, err)
	assert.Contains(t, stdout, "posthog_dashboard")

	_, _, err = runApp(t, "--config", filepath.Join(t.TempDir(), "missing.toml"), "status", "-t", "t1", "-v", "posthog")
	require.Error(t, err)
}

func TestMigrateWithoutDSN(t *testing.T) {
	_, _, err := runApp(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN")
}
