package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/spf13/cobra"
)

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the catalog and its snapshots",
	}

	cmd.AddCommand(newCatalogShowCommand())
	cmd.AddCommand(newCatalogSnapshotsCommand())
	cmd.AddCommand(newCatalogRestoreCommand())
	cmd.AddCommand(newCatalogPruneCommand())

	return cmd
}

// tableSummary is the JSON shape of one table in catalog show.
type tableSummary struct {
	Table        string            `json:"table"`
	Columns      int               `json:"columns"`
	Keys         []string          `json:"keys"`
	ForeignKeys  []string          `json:"foreign_keys,omitempty"`
	Alternatives map[string]string `json:"alternatives,omitempty"`
}

func newCatalogShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [schema:table]",
		Short: "List the catalog's tables, or describe one table",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			cat, _, err := cmdCtx.LoadCatalog()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				t, err := cat.LookupTable(args[0])
				if err != nil {
					return err
				}
				return renderTable(cmdCtx.Renderer, t)
			}
			return renderCatalog(cmdCtx.Renderer, cat)
		},
	}
}

func summarize(t *core.Table) tableSummary {
	s := tableSummary{Table: t.QualifiedName(), Columns: len(t.Columns)}
	for _, k := range t.Keys {
		s.Keys = append(s.Keys, strings.Join(k.Columns, ","))
	}
	for _, fk := range t.ForeignKeys {
		s.ForeignKeys = append(s.ForeignKeys, fmt.Sprintf("%s -> %s:%s", strings.Join(fk.Columns, ","), fk.ToSchema, fk.ToTable))
	}
	if len(t.Alternatives) > 0 {
		s.Alternatives = make(map[string]string, len(t.Alternatives))
		for c, name := range t.Alternatives {
			s.Alternatives[c.String()] = name
		}
	}
	return s
}

func renderCatalog(r *output.Renderer, cat *core.Catalog) error {
	tables := make([]tableSummary, 0, len(cat.Tables()))
	for _, t := range cat.Tables() {
		tables = append(tables, summarize(t))
	}
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"catalog": cat.ID, "tables": tables})
	}

	r.Header(1, "Catalog "+cat.ID)
	rows := make([][]any, len(tables))
	for i, s := range tables {
		alts := make([]string, 0, len(s.Alternatives))
		for c, name := range s.Alternatives {
			alts = append(alts, c+"="+name)
		}
		sort.Strings(alts)
		rows[i] = []any{s.Table, s.Columns, strings.Join(s.Keys, " "), len(s.ForeignKeys), strings.Join(alts, " ")}
	}
	r.Table([]string{"table", "columns", "keys", "foreign keys", "alternatives"}, rows)
	return nil
}

func renderTable(r *output.Renderer, t *core.Table) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(map[string]any{"summary": summarize(t), "columns": t.Columns})
	}

	r.Header(1, t.QualifiedName())
	if t.Comment != "" {
		r.Println(t.Comment)
		r.Println("")
	}
	rows := make([][]any, len(t.Columns))
	for i, c := range t.Columns {
		var flags []string
		if t.IsSimpleKey(c.Name) {
			flags = append(flags, "key")
		}
		if c.Nullable {
			flags = append(flags, "nullable")
		}
		if c.Unsortable {
			flags = append(flags, "unsortable")
		}
		rows[i] = []any{c.Name, c.Type, strings.Join(flags, ","), c.Comment}
	}
	r.Table([]string{"column", "type", "flags", "comment"}, rows)

	s := summarize(t)
	r.Println("")
	r.KeyValue("Keys", strings.Join(s.Keys, " "))
	for _, fk := range s.ForeignKeys {
		r.KeyValue("Foreign key", fk)
	}
	if len(t.RowOrder) > 0 {
		r.KeyValue("Row order", fmt.Sprint(t.RowOrder))
	}
	if t.RowName != "" {
		r.KeyValue("Row name", t.RowName)
	}
	return nil
}

func newCatalogSnapshotsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots",
		Short: "List recorded catalog snapshots, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			if err := requireCatalogID(cmdCtx); err != nil {
				return err
			}
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			snaps, err := store.ListSnapshots(cmd.Context(), cmdCtx.Cfg.Catalog)
			if err != nil {
				return err
			}
			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(snaps)
			}
			rows := make([][]any, len(snaps))
			for i, s := range snaps {
				rows[i] = []any{s.ID, s.CatalogID, s.Digest, s.CreatedAt.Format("2006-01-02 15:04:05")}
			}
			r.Table([]string{"id", "catalog", "digest", "created"}, rows)
			return nil
		},
	}
}

func newCatalogRestoreCommand() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Print the latest snapshot of the configured catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			if err := requireCatalogID(cmdCtx); err != nil {
				return err
			}
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			doc, snap, err := store.LatestSnapshot(cmd.Context(), cmdCtx.Cfg.Catalog)
			if err != nil {
				return err
			}
			data, err := doc.Marshal()
			if err != nil {
				return err
			}
			if !write {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if cmdCtx.Cfg.CatalogFile == "" {
				return fmt.Errorf("no catalog file configured\nHint: set catalog_file in leapref.yaml or pass --catalog-file")
			}
			if err := os.WriteFile(cmdCtx.Cfg.CatalogFile, data, 0o600); err != nil {
				return fmt.Errorf("failed to write catalog file: %w", err)
			}
			cmdCtx.Renderer.Printf("Restored snapshot %s to %s\n", snap.ID, cmdCtx.Cfg.CatalogFile)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "Write to the configured catalog file instead of stdout")
	return cmd
}

func newCatalogPruneCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest snapshots of the configured catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx := NewCommandContext(cmd)
			if err := requireCatalogID(cmdCtx); err != nil {
				return err
			}
			store, err := cmdCtx.OpenStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.PruneSnapshots(cmd.Context(), cmdCtx.Cfg.Catalog, keep)
			if err != nil {
				return err
			}
			cmdCtx.Renderer.Printf("Deleted %d snapshots\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 5, "Number of snapshots to keep")
	return cmd
}

func requireCatalogID(cmdCtx *CommandContext) error {
	if cmdCtx.Cfg.Catalog == "" {
		return fmt.Errorf("no catalog configured\nHint: set catalog in leapref.yaml or pass --catalog")
	}
	return nil
}
