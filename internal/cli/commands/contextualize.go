package commands

import (
	"fmt"

	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/pkg/contextualize"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/spf13/cobra"
)

// contextualizeOutput is the JSON shape of the contextualize command.
type contextualizeOutput struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Context  string   `json:"context"`
	URI      string   `json:"uri"`
	Rewrites []string `json:"rewrites"`
}

// NewContextualizeCommand creates the contextualize command.
func NewContextualizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "contextualize <uri> <context>",
		Short: "Move a reference onto the table presenting it in a context",
		Long: `Rewrite a reference for a presentation context. When the catalog
declares an alternate table for the context, the reference moves onto it
and keeps addressing the same rows; otherwise it is returned unchanged.`,
		Example: `  leapref contextualize 'isa:dataset/id=1' compact
  leapref contextualize 'isa:dataset_compact/id=1' detailed -o json`,
		Args: cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) != 1 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}
			names := make([]string, 0, len(core.Contexts()))
			for _, c := range core.Contexts() {
				names = append(names, c.String())
			}
			return names, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			cat, _, err := cmdCtx.LoadCatalog()
			if err != nil {
				return err
			}
			loc, err := location.Parse(args[0])
			if err != nil {
				return err
			}
			to, err := core.ParseContext(args[1])
			if err != nil {
				return err
			}
			schema, name := loc.Table()
			from, err := cat.Table(schema, name)
			if err != nil {
				return err
			}
			res, err := contextualize.Contextualize(cat, loc, to)
			if err != nil {
				return err
			}

			out := contextualizeOutput{
				From:    from.QualifiedName(),
				To:      res.Table.QualifiedName(),
				Context: to.String(),
				URI:     res.Location.String(),
			}
			for _, rw := range res.Rewrites {
				out.Rewrites = append(out.Rewrites, rw.String())
			}
			return renderContextualize(cmdCtx.Renderer, out)
		},
	}
}

func renderContextualize(r *output.Renderer, out contextualizeOutput) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	r.KeyValue("Table", fmt.Sprintf("%s -> %s", out.From, out.To))
	r.KeyValue("Context", out.Context)
	r.KeyValue("Rewrites", fmt.Sprint(out.Rewrites))
	r.KeyValue("URI", out.URI)
	return nil
}
