package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/transport"
	"github.com/spf13/pflag"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: LEAPREF_HTTP__TIMEOUT sets http.timeout.
const EnvPrefix = "LEAPREF_"

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// flagKeys maps flags whose names differ from their config keys.
var flagKeys = map[string]string{
	"state":          "state_path",
	"timeout":        "http.timeout",
	"retries":        "http.retries",
	"header":         "http.headers",
	"port":           "server.port",
	"watch":          "server.watch",
	"allowed-origin": "server.allowed_origins",
	"pg-host":        "postgres.host",
	"pg-port":        "postgres.port",
	"pg-database":    "postgres.database",
	"pg-user":        "postgres.user",
	"pg-password":    "postgres.password",
	"schema":         "postgres.schemas",
}

// pathFlags are resolved against the working directory when given on the
// command line, and against the project root otherwise.
var pathFlags = map[string]string{
	"catalog-file": "catalog_file",
	"fixtures":     "fixtures",
	"state":        "state_path",
}

func configNames() []string {
	return []string{"leapref.yaml", "leapref.yml"}
}

// configExistsIn returns the config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range configNames() {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward searches upward from startDir for a config file.
func findConfigUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if found := configExistsIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// Defaults returns the built-in configuration values.
func Defaults() map[string]any {
	return map[string]any{
		"transport":              DefaultTransport,
		"context":                DefaultContext,
		"state_path":             DefaultStateFile,
		"page_limit":             DefaultPageLimit,
		"output":                 DefaultOutput,
		"verbose":                false,
		"server.port":            DefaultServerPort,
		"server.watch":           true,
		"server.allowed_origins": []string{"*"},
		"postgres.port":          5432,
		"postgres.schemas":       []string{"public"},
	}
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file: explicit path, else the nearest leapref.yaml above CWD
	configFileUsed = cfgFile
	if configFileUsed == "" {
		configFileUsed = findConfigUpward(cwd)
	}
	projectRoot := cwd
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
		if abs, err := filepath.Abs(configFileUsed); err == nil {
			projectRoot = filepath.Dir(abs)
		}
	}

	// 3. Environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	flagPaths := make(map[string]string)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			if key, ok := pathFlags[f.Name]; ok {
				if abs, err := filepath.Abs(f.Value.String()); err == nil {
					flagPaths[key] = abs
				}
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// 6. Resolve paths
	cfg.ProjectRoot = projectRoot
	resolve := func(key string, p *string) {
		if abs, ok := flagPaths[key]; ok {
			*p = abs
			return
		}
		*p = resolvePathRelativeTo(*p, projectRoot)
	}
	resolve("catalog_file", &cfg.CatalogFile)
	resolve("fixtures", &cfg.Fixtures)
	resolve("state_path", &cfg.StatePath)

	cfg.Postgres.Password = expandEnvVars(cfg.Postgres.Password)
	cfg.Postgres.User = expandEnvVars(cfg.Postgres.User)
	cfg.Postgres.Host = expandEnvVars(cfg.Postgres.Host)
	for name, v := range cfg.HTTP.Headers {
		cfg.HTTP.Headers[name] = expandEnvVars(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	currentConfig = &cfg
	return &cfg, nil
}

// Validate checks option values that every command depends on.
func (c *Config) Validate() error {
	if !transport.IsRegistered(c.Transport) {
		return &transport.UnknownTransportError{Type: c.Transport, Available: transport.List()}
	}
	if c.PageLimit < 1 {
		return &core.InvalidInputError{Message: fmt.Sprintf("page_limit must be positive, got %d", c.PageLimit)}
	}
	if c.MaxPathLength < 0 {
		return &core.InvalidInputError{Message: fmt.Sprintf("max_path_length must not be negative, got %d", c.MaxPathLength)}
	}
	if output.Mode(c.OutputFormat) == output.ModeAuto && c.OutputFormat != "" && c.OutputFormat != string(output.ModeAuto) {
		return &core.InvalidInputError{Message: fmt.Sprintf("unknown output format %q (want one of %s)", c.OutputFormat, strings.Join(output.Modes, ", "))}
	}
	return nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the most recently loaded configuration.
func GetCurrentConfig() *Config {
	return currentConfig
}

// WithLogger stores a logger in ctx.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}

// NewLogger builds the CLI logger: warnings only, or debug with verbose.
func NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if val := os.Getenv(match[2 : len(match)-1]); val != "" {
			return val
		}
		return match
	})
}
