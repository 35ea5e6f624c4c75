package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	// Register transports so validation can resolve their names.
	_ "github.com/leapstack-labs/leapref/pkg/transports/ermrest"
	_ "github.com/leapstack-labs/leapref/pkg/transports/memory"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("service-url", "", "")
	fs.String("catalog-file", "", "")
	fs.String("state", "", "")
	fs.String("transport", "", "")
	fs.Int("page-limit", 0, "")
	fs.Duration("timeout", 0, "")
	fs.Int("port", 0, "")
	fs.StringSlice("allowed-origin", nil, "")
	fs.StringToString("header", nil, "")
	return fs
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	ResetConfig()

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultTransport, cfg.Transport)
	assert.Equal(t, DefaultContext, cfg.Context)
	assert.Equal(t, DefaultPageLimit, cfg.PageLimit)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.True(t, cfg.Server.Watch)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, []string{"public"}, cfg.Postgres.Schemas)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, DefaultStateFile), cfg.StatePath)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leapref.yaml"), []byte(`
service_url: https://example.org/ermrest
catalog: "1"
catalog_file: catalog.yaml
transport: memory
page_limit: 10
http:
  timeout: 5s
  retries: 2
  headers:
    Authorization: Bearer ${LEAPREF_TEST_TOKEN}
server:
  port: 9000
postgres:
  password: ${LEAPREF_TEST_PG}
`), 0o600))
	t.Chdir(sub)
	t.Setenv("LEAPREF_TEST_TOKEN", "abc")
	t.Setenv("LEAPREF_TEST_PG", "secret")
	t.Setenv("LEAPREF_PAGE_LIMIT", "15")
	t.Setenv("LEAPREF_HTTP__RETRIES", "4")

	fs := newFlags()
	require.NoError(t, fs.Parse([]string{"--port", "9100", "--state", "local.db", "--allowed-origin", "https://a.org,https://b.org"}))

	ResetConfig()
	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)

	root, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	gotRoot, err := filepath.EvalSymlinks(cfg.ProjectRoot)
	require.NoError(t, err)
	assert.Equal(t, root, gotRoot, "config found by searching upward")

	assert.Equal(t, "memory", cfg.Transport)
	assert.Equal(t, "https://example.org/ermrest", cfg.ServiceURL)
	assert.Equal(t, "1", cfg.Catalog)
	assert.Equal(t, filepath.Join(cfg.ProjectRoot, "catalog.yaml"), cfg.CatalogFile)
	assert.Equal(t, 15, cfg.PageLimit, "env overrides file")
	assert.Equal(t, 4, cfg.HTTP.Retries)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "Bearer abc", cfg.HTTP.Headers["Authorization"])
	assert.Equal(t, "secret", cfg.Postgres.Password)
	assert.Equal(t, 9100, cfg.Server.Port, "flags override file")
	assert.Equal(t, []string{"https://a.org", "https://b.org"}, cfg.Server.AllowedOrigins)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "local.db"), cfg.StatePath, "flag paths are relative to the working directory")
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(t.TempDir())
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("context: compact\n"), 0o600))

	ResetConfig()
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "compact", cfg.Context)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name      string
		args      []string
		file      string
		errSubstr string
	}{
		{name: "unknown transport", args: []string{"--transport", "carrier-pigeon"}, errSubstr: "unknown transport type"},
		{name: "bad page limit", args: []string{"--page-limit", "0"}, errSubstr: "page_limit must be positive"},
		{name: "missing file", file: "does-not-exist.yaml", errSubstr: "error reading config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newFlags()
			require.NoError(t, fs.Parse(tt.args))
			ResetConfig()
			_, err := LoadConfig(tt.file, fs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestValidate_OutputFormat(t *testing.T) {
	cfg := &Config{Transport: "http", PageLimit: 1, OutputFormat: "yaml"}
	assert.ErrorContains(t, cfg.Validate(), "unknown output format")

	cfg.OutputFormat = "md"
	assert.NoError(t, cfg.Validate())
}

func TestTransportConfig(t *testing.T) {
	cfg := &Config{
		Transport:   "memory",
		ServiceURL:  "https://example.org/ermrest",
		Catalog:     "1",
		CatalogFile: "/tmp/catalog.yaml",
		Fixtures:    "/tmp/rows.json",
		HTTP:        HTTPConfig{Retries: 2, Options: map[string]string{"rights_summary": "false"}},
	}
	tc := cfg.TransportConfig()
	assert.Equal(t, "memory", tc.Type)
	assert.Equal(t, 2, tc.Retries)
	assert.Equal(t, "/tmp/rows.json", tc.Fixtures)
	assert.Equal(t, map[string]string{"rights_summary": "false", "catalog_file": "/tmp/catalog.yaml"}, tc.Options)
	assert.Len(t, cfg.HTTP.Options, 1, "source options are not modified")
}

func TestGetLogger(t *testing.T) {
	ctx := t.Context()
	assert.NotNil(t, GetLogger(ctx))

	logger := NewLogger(io.Discard, true)
	assert.Same(t, logger, GetLogger(WithLogger(ctx, logger)))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LEAPREF_TEST_VALUE", "v")
	assert.Equal(t, "a-v-b", expandEnvVars("a-${LEAPREF_TEST_VALUE}-b"))
	assert.Equal(t, "${LEAPREF_TEST_UNSET}", expandEnvVars("${LEAPREF_TEST_UNSET}"))
}
