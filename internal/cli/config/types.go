// Package config loads leapref CLI configuration.
//
// Values are layered, lowest first: built-in defaults, leapref.yaml,
// LEAPREF_* environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/leapref/pkg/catalog/pgintrospect"
	"github.com/leapstack-labs/leapref/pkg/core"
)

// Config holds all CLI configuration options.
type Config struct {
	ServiceURL    string         `koanf:"service_url"`
	Catalog       string         `koanf:"catalog"`
	CatalogFile   string         `koanf:"catalog_file"`
	Fixtures      string         `koanf:"fixtures"`
	StatePath     string         `koanf:"state_path"`
	Transport     string         `koanf:"transport"`
	Context       string         `koanf:"context"`
	PageLimit     int            `koanf:"page_limit"`
	MaxPathLength int            `koanf:"max_path_length"`
	OutputFormat  string         `koanf:"output"`
	Verbose       bool           `koanf:"verbose"`
	HTTP          HTTPConfig     `koanf:"http"`
	Server        ServerConfig   `koanf:"server"`
	Postgres      PostgresConfig `koanf:"postgres"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Timeout time.Duration     `koanf:"timeout"`
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`
	// Options carries transport capability switches such as
	// quantified_value_lists and rights_summary.
	Options map[string]string `koanf:"options"`
}

// ServerConfig configures `leapref serve`.
type ServerConfig struct {
	Port           int      `koanf:"port"`
	Watch          bool     `koanf:"watch"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// PostgresConfig configures catalog introspection.
type PostgresConfig struct {
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	Database string            `koanf:"database"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Schemas  []string          `koanf:"schemas"`
	Options  map[string]string `koanf:"options"`
}

// Default configuration values.
const (
	DefaultConfigFile = "leapref.yaml"
	DefaultStateFile  = ".leapref/state.db"
	DefaultTransport  = "http"
	DefaultContext    = "*"
	DefaultPageLimit  = 25
	DefaultServerPort = 8780
	DefaultOutput     = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// TransportConfig converts the configuration into the transport registry's
// input.
func (c *Config) TransportConfig() core.TransportConfig {
	options := make(map[string]string, len(c.HTTP.Options)+1)
	for k, v := range c.HTTP.Options {
		options[k] = v
	}
	if c.CatalogFile != "" {
		options["catalog_file"] = c.CatalogFile
	}
	return core.TransportConfig{
		Type:     c.Transport,
		URL:      c.ServiceURL,
		Catalog:  c.Catalog,
		Timeout:  c.HTTP.Timeout,
		Retries:  c.HTTP.Retries,
		Headers:  c.HTTP.Headers,
		Options:  options,
		Fixtures: c.Fixtures,
	}
}

// IntrospectConfig converts the postgres section into connection settings.
func (c *Config) IntrospectConfig() pgintrospect.Config {
	return pgintrospect.Config{
		Host:     c.Postgres.Host,
		Port:     c.Postgres.Port,
		Database: c.Postgres.Database,
		Username: c.Postgres.User,
		Password: c.Postgres.Password,
		Options:  c.Postgres.Options,
	}
}
