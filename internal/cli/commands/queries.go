package commands

import (
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/state"
	"github.com/spf13/cobra"
)

// NewQueriesCommand creates the queries command.
func NewQueriesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Manage saved references",
		Long: `Save reference URIs under a name in the state database and read them
back. Saved queries are shared with the HTTP API.`,
	}

	cmd.AddCommand(newQueriesListCommand())
	cmd.AddCommand(newQueriesSaveCommand())
	cmd.AddCommand(newQueriesShowCommand())
	cmd.AddCommand(newQueriesDeleteCommand())

	return cmd
}

func withStore(cmd *cobra.Command, fn func(*CommandContext, state.Store) error) error {
	cmdCtx := NewCommandContext(cmd)
	store, err := cmdCtx.OpenStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(cmdCtx, store)
}

func newQueriesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved queries of the configured catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(cmdCtx *CommandContext, store state.Store) error {
				queries, err := store.ListQueries(cmd.Context(), cmdCtx.Cfg.Catalog)
				if err != nil {
					return err
				}
				r := cmdCtx.Renderer
				if r.EffectiveMode() == output.ModeJSON {
					return r.JSON(queries)
				}
				rows := make([][]any, len(queries))
				for i, q := range queries {
					rows[i] = []any{q.Name, q.CatalogID, q.Context, q.URI, q.Description}
				}
				r.Table([]string{"name", "catalog", "context", "uri", "description"}, rows)
				return nil
			})
		},
	}
}

func newQueriesSaveCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "save <name> <uri>",
		Short: "Save a reference under a name",
		Long: `Save a reference under a name. The URI is checked against the catalog
first, and the configured context is stored with it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(cmdCtx *CommandContext, store state.Store) error {
				resolver, cleanup, err := cmdCtx.NewResolver(false)
				if err != nil {
					return err
				}
				defer cleanup()
				ref, err := cmdCtx.Reference(resolver, args[1])
				if err != nil {
					return err
				}
				q := state.SavedQuery{
					Name:        args[0],
					CatalogID:   resolver.Catalog().ID,
					URI:         args[1],
					Context:     ref.Context().String(),
					Description: description,
				}
				if err := store.SaveQuery(cmd.Context(), q); err != nil {
					return err
				}
				cmdCtx.Renderer.Printf("Saved %s\n", q.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the query")
	return cmd
}

func newQueriesShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a saved query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(cmdCtx *CommandContext, store state.Store) error {
				q, err := store.GetQuery(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				r := cmdCtx.Renderer
				if r.EffectiveMode() == output.ModeJSON {
					return r.JSON(q)
				}
				r.KeyValue("Name", q.Name)
				r.KeyValue("Catalog", q.CatalogID)
				r.KeyValue("Context", q.Context)
				r.KeyValue("URI", q.URI)
				if q.Description != "" {
					r.KeyValue("Description", q.Description)
				}
				return nil
			})
		},
	}
}

func newQueriesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(cmdCtx *CommandContext, store state.Store) error {
				if err := store.DeleteQuery(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmdCtx.Renderer.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
