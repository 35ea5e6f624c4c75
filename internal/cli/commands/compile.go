package commands

import (
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/server"
	"github.com/spf13/cobra"
)

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <uri>",
		Short: "Compile a reference into a service request",
		Long: `Compile a reference URI into the request path the data service executes.

The reference is resolved against the configured catalog and moved into
--context first. No request is sent.`,
		Example: `  leapref compile 'isa:dataset/status=released'
  leapref compile 'isa:dataset/@sort(title)' --context compact -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx := NewCommandContext(cmd)
			resolver, cleanup, err := cmdCtx.NewResolver(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ref, err := cmdCtx.Reference(resolver, args[0])
			if err != nil {
				return err
			}
			res, err := ref.Compile()
			if err != nil {
				return err
			}
			out := server.CompileResponse{
				URI:     ref.URI(),
				Table:   ref.Table().QualifiedName(),
				Context: ref.Context().String(),
				Mode:    res.Mode,
				URL:     res.URL(cmdCtx.Cfg.PageLimit),
				Sort:    res.Sort,
				Outputs: res.Outputs,
			}
			return renderCompile(cmdCtx.Renderer, out)
		},
	}
}

func renderCompile(r *output.Renderer, out server.CompileResponse) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	r.Header(1, "Compiled reference")
	r.KeyValue("Table", out.Table)
	r.KeyValue("Context", out.Context)
	r.KeyValue("Mode", out.Mode.String())
	r.KeyValue("URI", out.URI)
	r.KeyValue("Request", out.URL)
	r.Println("")

	sort := make([][]any, len(out.Sort))
	for i, s := range out.Sort {
		dir := "asc"
		if s.Descending {
			dir = "desc"
		}
		sort[i] = []any{s.Column, dir, s.Source + ":" + s.SourceColumn, s.Output}
	}
	r.Header(2, "Sort")
	r.Table([]string{"column", "direction", "source", "output"}, sort)

	if len(out.Outputs) > 0 {
		outputs := make([][]any, len(out.Outputs))
		for i, o := range out.Outputs {
			outputs[i] = []any{o.Column, o.Name, o.Alias, o.Aggregate}
		}
		r.Println("")
		r.Header(2, "Outputs")
		r.Table([]string{"column", "output", "alias", "aggregate"}, outputs)
	}
	return nil
}
