package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/leapstack-labs/leapref/internal/cli/config"
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/render"
	"github.com/leapstack-labs/leapref/internal/state"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/reference"
	"github.com/leapstack-labs/leapref/pkg/transport"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the current configuration, or defaults when none was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		Transport: config.DefaultTransport,
		Context:   config.DefaultContext,
		StatePath: config.DefaultStateFile,
		PageLimit: config.DefaultPageLimit,
	}
}

// LoadCatalog reads the configured catalog document.
func (c *CommandContext) LoadCatalog() (*core.Catalog, core.Capabilities, error) {
	if c.Cfg.CatalogFile == "" {
		return nil, core.Capabilities{}, fmt.Errorf("no catalog file configured\nHint: set catalog_file in leapref.yaml or pass --catalog-file")
	}
	return catalog.LoadCatalog(c.Cfg.CatalogFile)
}

// NewResolver builds a resolver over the configured catalog. With online
// set it also opens the configured transport; the returned cleanup closes it.
func (c *CommandContext) NewResolver(online bool) (*reference.Resolver, func(), error) {
	cat, _, err := c.LoadCatalog()
	if err != nil {
		return nil, nil, err
	}
	var tr core.Transport
	cleanup := func() {}
	if online {
		if tr, err = transport.New(c.Cfg.TransportConfig(), c.Logger); err != nil {
			return nil, nil, err
		}
		cleanup = func() { _ = tr.Close() }
	}
	resolver, err := reference.NewResolver(reference.Config{
		Catalog:       cat,
		Transport:     tr,
		Renderer:      render.New(c.Logger),
		Logger:        c.Logger,
		MaxPathLength: c.Cfg.MaxPathLength,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return resolver, cleanup, nil
}

// Reference resolves uri and moves it into the configured context.
func (c *CommandContext) Reference(resolver *reference.Resolver, uri string) (*reference.Reference, error) {
	ref, err := resolver.Resolve(uri)
	if err != nil {
		return nil, err
	}
	ctx, err := core.ParseContext(c.Cfg.Context)
	if err != nil {
		return nil, err
	}
	if ctx == core.ContextDefault {
		return ref, nil
	}
	return ref.Contextualize(ctx)
}

// OpenStore opens the state database, creating its directory when needed.
func (c *CommandContext) OpenStore() (*state.SQLiteStore, error) {
	if dir := filepath.Dir(c.Cfg.StatePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}
	store := state.NewSQLiteStore(c.Logger)
	if err := store.Open(c.Cfg.StatePath); err != nil {
		return nil, err
	}
	return store, nil
}
