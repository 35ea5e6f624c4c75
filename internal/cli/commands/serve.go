package commands

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/leapref/internal/render"
	"github.com/leapstack-labs/leapref/internal/server"
	"github.com/leapstack-labs/leapref/internal/state"
	"github.com/leapstack-labs/leapref/pkg/transport"
	"github.com/spf13/cobra"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	NoState bool
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reference API over HTTP",
		Long: `Start an HTTP server exposing compile, read and facet operations over
the configured catalog and transport.

Endpoints:
- GET  /healthz
- GET  /compile?uri=&context=
- GET  /read?uri=&context=&limit=
- POST /facets/encode, GET /facets/decode?blob=, POST /facets/apply?uri=
- GET/PUT/DELETE /queries/{name}, GET /queries/

The catalog file is reloaded when it changes unless --watch=false.`,
		Example: `  # Serve on the configured port
  leapref serve

  # Serve on a custom port without saved queries
  leapref serve --port 9000 --no-state`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().Int("port", 0, "Port to serve on (default: 8780)")
	cmd.Flags().Bool("watch", true, "Reload the catalog file when it changes")
	cmd.Flags().StringSlice("allowed-origin", nil, "CORS origin allowed to call the API (repeatable)")
	cmd.Flags().BoolVar(&opts.NoState, "no-state", false, "Disable the saved query store")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg
	if cfg.CatalogFile == "" {
		return fmt.Errorf("no catalog file configured\nHint: set catalog_file in leapref.yaml or pass --catalog-file")
	}

	tr, err := transport.New(cfg.TransportConfig(), cmdCtx.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = tr.Close() }()

	var store state.Store
	if !opts.NoState {
		s, err := cmdCtx.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = s.Close() }()
		store = s
	}

	srv, err := server.NewServer(server.Config{
		CatalogFile:    cfg.CatalogFile,
		Transport:      tr,
		Renderer:       render.New(cmdCtx.Logger),
		Store:          store,
		Port:           cfg.Server.Port,
		Watch:          cfg.Server.Watch,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PageLimit:      cfg.PageLimit,
		MaxPathLength:  cfg.MaxPathLength,
		Logger:         cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	cmdCtx.Renderer.Printf("Serving %s on http://localhost:%d\n", cfg.CatalogFile, cfg.Server.Port)
	cmdCtx.Renderer.Println("Press Ctrl+C to stop")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return srv.Serve(ctx)
}
