package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/server"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/spf13/cobra"
)

// NewFacetsCommand creates the facets command.
func NewFacetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facets",
		Short: "Encode, decode and apply facet blobs",
		Long: `Work with facet sets, the {"and": [...]} filter documents carried in
reference URIs as compressed blobs.`,
	}

	cmd.AddCommand(newFacetsEncodeCommand())
	cmd.AddCommand(newFacetsDecodeCommand())
	cmd.AddCommand(newFacetsApplyCommand())

	return cmd
}

func newFacetsEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "encode [file]",
		Short:   "Compress a facet set into a blob",
		Long:    `Read a facet set as JSON from a file, or from stdin when no file or "-" is given, and print its blob.`,
		Example: `  echo '{"and":[{"source":"status","choices":["released"]}]}' | leapref facets encode`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readSet(cmd, args)
			if err != nil {
				return err
			}
			blob, err := facet.Encode(set)
			if err != nil {
				return err
			}
			r := NewCommandContext(cmd).Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(map[string]string{"blob": blob})
			}
			r.Println(blob)
			return nil
		},
	}
}

func newFacetsDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <blob>",
		Short: "Expand a blob into its facet set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := facet.Decode(args[0])
			if err != nil {
				return err
			}
			return NewCommandContext(cmd).Renderer.JSON(set)
		},
	}
}

func newFacetsApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <uri> [file]",
		Short: "Add a facet set to a reference",
		Long: `Validate a facet set against the reference's table, merge it into the
reference's facets and print the resulting URI. Facets that cannot be
applied are reported and left out; entity choices are verified through
the configured transport.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readSet(cmd, args[1:])
			if err != nil {
				return err
			}
			cmdCtx := NewCommandContext(cmd)
			resolver, cleanup, err := cmdCtx.NewResolver(true)
			if err != nil {
				return err
			}
			defer cleanup()

			ref, err := cmdCtx.Reference(resolver, args[0])
			if err != nil {
				return err
			}
			out, issues, err := ref.AddFacets(cmd.Context(), set.Definitions()...)
			if err != nil {
				return err
			}
			resp := server.ApplyResponse{URI: out.URI(), Issues: issues}

			r := cmdCtx.Renderer
			if r.EffectiveMode() == output.ModeJSON {
				return r.JSON(resp)
			}
			r.KeyValue("URI", resp.URI)
			for _, u := range issues.UnsupportedFilters {
				r.Warning(fmt.Sprintf("facet %s discarded: %s", u.Definition.Identity(), u.Reason))
			}
			for _, d := range issues.DiscardedFacets {
				r.Warning(fmt.Sprintf("facet %s discarded: no matching rows", d.Identity()))
			}
			for _, p := range issues.PartiallyDiscardedFacets {
				r.Warning(fmt.Sprintf("facet %s lost %d choices", p.Definition.Identity(), len(p.Missing)))
			}
			return nil
		},
	}
}

// readSet reads a facet set from the named file, or stdin for none or "-".
func readSet(cmd *cobra.Command, args []string) (facet.Set, error) {
	var in io.Reader = cmd.InOrStdin()
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return facet.Set{}, fmt.Errorf("failed to open facet file: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return facet.Set{}, fmt.Errorf("failed to read facets: %w", err)
	}
	var set facet.Set
	if err := json.Unmarshal(data, &set); err != nil {
		return facet.Set{}, &core.InvalidInputError{Message: "invalid facet JSON", Cause: err}
	}
	return set, nil
}
