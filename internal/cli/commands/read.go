package commands

import (
	"sort"

	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/server"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/spf13/cobra"
)

// ReadOptions holds options for the read command.
type ReadOptions struct {
	Limit int
}

// NewReadCommand creates the read command.
func NewReadCommand() *cobra.Command {
	opts := &ReadOptions{}

	cmd := &cobra.Command{
		Use:   "read <uri>",
		Short: "Fetch one page of a reference",
		Long: `Fetch one page of rows through the configured transport.

The URIs of the neighbouring pages are printed after the rows; pass one
back to read to continue paging.`,
		Example: `  leapref read 'isa:dataset/@sort(title)' --limit 10
  leapref read 'isa:dataset/@sort(title)@after(Zebrafish)' -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args[0], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "Page size (default: page_limit)")

	return cmd
}

func runRead(cmd *cobra.Command, uri string, opts *ReadOptions) error {
	cmdCtx := NewCommandContext(cmd)
	resolver, cleanup, err := cmdCtx.NewResolver(true)
	if err != nil {
		return err
	}
	defer cleanup()

	ref, err := cmdCtx.Reference(resolver, uri)
	if err != nil {
		return err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = cmdCtx.Cfg.PageLimit
	}
	page, err := ref.Read(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := server.ReadResponse{URI: ref.URI(), Rows: make([]server.RowResponse, len(page.Rows))}
	for i, t := range page.Rows {
		out.Rows[i] = server.RowResponse{
			Name:      ref.RowName(t),
			Data:      t.Data,
			Linked:    t.Linked,
			CanUpdate: t.CanUpdate,
			CanDelete: t.CanDelete,
		}
	}
	if next, ok := ref.Next(page); ok {
		out.Next = next.URI()
	}
	if prev, ok := ref.Previous(page); ok {
		out.Previous = prev.URI()
	}
	cmdCtx.Logger.Debug("read page",
		"uri", out.URI,
		"rows", len(out.Rows),
		"has_next", page.HasNext,
		"has_previous", page.HasPrevious)
	return renderRead(cmdCtx.Renderer, ref.Table(), out)
}

func renderRead(r *output.Renderer, table *core.Table, out server.ReadResponse) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}

	headers := []string{"row"}
	for _, c := range table.Columns {
		headers = append(headers, c.Name)
	}
	linked := linkedColumns(out.Rows)
	headers = append(headers, linked...)

	rows := make([][]any, len(out.Rows))
	for i, row := range out.Rows {
		cells := []any{row.Name}
		for _, c := range table.Columns {
			cells = append(cells, row.Data[c.Name])
		}
		for _, name := range linked {
			cells = append(cells, row.Linked[name])
		}
		rows[i] = cells
	}
	r.Table(headers, rows)

	if out.Previous != "" {
		r.KeyValue("Previous", out.Previous)
	}
	if out.Next != "" {
		r.KeyValue("Next", out.Next)
	}
	return nil
}

// linkedColumns returns the pseudo-column names present on any row, sorted.
func linkedColumns(rows []server.RowResponse) []string {
	seen := make(map[string]bool)
	var names []string
	for _, row := range rows {
		for name := range row.Linked {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}
