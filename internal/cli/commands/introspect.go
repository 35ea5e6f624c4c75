package commands

import (
	"fmt"
	"os"

	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/catalog/pgintrospect"
	"github.com/spf13/cobra"
)

// IntrospectOptions holds options for the introspect command.
type IntrospectOptions struct {
	Write      bool
	NoSnapshot bool
}

// NewIntrospectCommand creates the introspect command.
func NewIntrospectCommand() *cobra.Command {
	opts := &IntrospectOptions{}

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Build a catalog document from a PostgreSQL database",
		Long: `Read tables, keys and foreign keys of the configured schemas from a
PostgreSQL database and print the catalog document as YAML.

Each run is recorded as a catalog snapshot in the state database; runs that
find no change are not recorded twice.`,
		Example: `  # Print the catalog of two schemas
  leapref introspect --pg-database ermrest --schema isa --schema vocab

  # Replace the configured catalog file
  leapref introspect --write`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			in, err := pgintrospect.Open(cmd.Context(), cmdCtx.Cfg.IntrospectConfig(), cmdCtx.Logger)
			if err != nil {
				return err
			}
			defer func() { _ = in.Close() }()
			return runIntrospect(cmd, cmdCtx, in, opts)
		},
	}

	cmd.Flags().String("pg-host", "", "PostgreSQL host")
	cmd.Flags().Int("pg-port", 0, "PostgreSQL port")
	cmd.Flags().String("pg-database", "", "PostgreSQL database")
	cmd.Flags().String("pg-user", "", "PostgreSQL user")
	cmd.Flags().String("pg-password", "", "PostgreSQL password")
	cmd.Flags().StringSlice("schema", nil, "Schema to introspect (repeatable)")
	cmd.Flags().BoolVarP(&opts.Write, "write", "w", false, "Write to the configured catalog file instead of stdout")
	cmd.Flags().BoolVar(&opts.NoSnapshot, "no-snapshot", false, "Do not record a catalog snapshot")

	return cmd
}

func runIntrospect(cmd *cobra.Command, cmdCtx *CommandContext, in *pgintrospect.Introspector, opts *IntrospectOptions) error {
	cfg := cmdCtx.Cfg
	catalogID := cfg.Catalog
	if catalogID == "" {
		catalogID = cfg.Postgres.Database
	}
	doc, err := in.Introspect(cmd.Context(), catalogID, cfg.Postgres.Schemas)
	if err != nil {
		return err
	}
	// Validate before anything is written.
	if _, err := doc.Build(); err != nil {
		return fmt.Errorf("introspected catalog is inconsistent: %w", err)
	}
	data, err := doc.Marshal()
	if err != nil {
		return err
	}

	if !opts.NoSnapshot {
		if err := recordSnapshot(cmd, cmdCtx, doc); err != nil {
			return err
		}
	}

	if !opts.Write {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if cfg.CatalogFile == "" {
		return fmt.Errorf("no catalog file configured\nHint: set catalog_file in leapref.yaml or pass --catalog-file")
	}
	if err := os.WriteFile(cfg.CatalogFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}
	cmdCtx.Renderer.Printf("Wrote %d tables to %s\n", len(doc.Tables), cfg.CatalogFile)
	return nil
}

func recordSnapshot(cmd *cobra.Command, cmdCtx *CommandContext, doc *catalog.Document) error {
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	snap, err := store.SaveSnapshot(cmd.Context(), doc)
	if err != nil {
		return err
	}
	cmdCtx.Logger.Info("recorded catalog snapshot",
		"catalog", snap.CatalogID,
		"snapshot", snap.ID,
		"digest", snap.Digest)
	return nil
}
