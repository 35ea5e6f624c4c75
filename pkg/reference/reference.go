package reference

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/contextualize"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/paging"
	"github.com/leapstack-labs/leapref/pkg/validate"
)

// Reference is a filtered, sorted and positioned view of a table in a
// context. Every method that changes it returns a new value.
type Reference struct {
	resolver *Resolver
	table    *core.Table
	context  core.Context
	loc      location.Location
	columns  []compile.Column
	rights   bool
}

func (ref *Reference) clone() *Reference {
	out := *ref
	out.loc = ref.loc.Clone()
	out.columns = slices.Clone(ref.columns)
	return &out
}

// Table returns the current table.
func (ref *Reference) Table() *core.Table { return ref.table }

// Context returns the presentation context.
func (ref *Reference) Context() core.Context { return ref.context }

// Location returns a copy of the parsed location.
func (ref *Reference) Location() location.Location { return ref.loc.Clone() }

// URI renders the reference location.
func (ref *Reference) URI() string { return ref.loc.String() }

// Facets returns the facets of the current table.
func (ref *Reference) Facets() facet.Set { return ref.loc.Facets() }

// Sort returns the requested sort, before key completion.
func (ref *Reference) Sort() []core.SortColumn { return slices.Clone(ref.loc.Sort) }

// Columns returns the active pseudo-columns.
func (ref *Reference) Columns() []compile.Column { return slices.Clone(ref.columns) }

// WithColumns returns a reference projecting the given pseudo-columns.
func (ref *Reference) WithColumns(cols ...compile.Column) *Reference {
	out := ref.clone()
	out.columns = slices.Clone(cols)
	return out
}

// WithRightsSummary returns a reference that requests table rights
// summaries when the service supports them.
func (ref *Reference) WithRightsSummary(on bool) *Reference {
	out := ref.clone()
	out.rights = on
	return out
}

// WithSort returns a reference with a new sort and no cursor. The sort is
// checked by compiling the result.
func (ref *Reference) WithSort(sort []core.SortColumn) (*Reference, error) {
	out := ref.clone()
	out.loc = ref.loc.WithSort(sort)
	if _, err := out.Compile(); err != nil {
		return nil, err
	}
	return out, nil
}

// WithCursor returns a reference positioned at cur.
func (ref *Reference) WithCursor(cur paging.Cursor) *Reference {
	out := ref.clone()
	switch {
	case cur.Before != nil:
		out.loc = ref.loc.WithBefore(cur.Before)
	case cur.After != nil:
		out.loc = ref.loc.WithAfter(cur.After)
	default:
		out.loc = ref.loc.WithoutCursor()
	}
	return out
}

// Contextualize returns the reference presented in context to, which may
// move it onto an alternate table. Pseudo-columns are dropped when the
// table changes.
func (ref *Reference) Contextualize(to core.Context) (*Reference, error) {
	res, err := contextualize.Contextualize(ref.resolver.catalog, ref.loc, to)
	if err != nil {
		return nil, err
	}
	out := ref.clone()
	out.context = to
	out.loc = res.Location
	if res.Table != ref.table {
		out.table = res.Table
		out.columns = nil
	}
	ref.resolver.logger.Debug("contextualized reference",
		"from", ref.table.QualifiedName(),
		"to", res.Table.QualifiedName(),
		"context", to.String(),
		"rewrites", fmt.Sprint(res.Rewrites))
	return out, nil
}

// AddFacets validates defs, merges them after the current facets and
// verifies entity choices. Rejected and trimmed facets are reported in the
// returned issues. The cursor is dropped.
func (ref *Reference) AddFacets(ctx context.Context, defs ...facet.Definition) (*Reference, validate.Issues, error) {
	res, err := ref.resolver.validator.Validate(ctx, ref.table, ref.context, defs, ref.loc.Facets())
	if err != nil {
		return nil, validate.Issues{}, err
	}
	out := ref.clone()
	out.loc = ref.loc.WithFacets(res.Merged).WithoutCursor()
	return out, res.Issues, nil
}

// RemoveFacet returns a reference without the facet of the given identity.
func (ref *Reference) RemoveFacet(identity string) *Reference {
	out := ref.clone()
	out.loc = ref.loc.WithFacets(ref.loc.Facets().Without(identity)).WithoutCursor()
	return out
}

// Compile returns the compiled request for the reference. Results are
// memoised by the resolver.
func (ref *Reference) Compile() (*compile.Result, error) {
	return ref.resolver.compile(ref)
}

func (ref *Reference) transport() (core.Transport, error) {
	if ref.resolver.transport == nil {
		return nil, &core.InvalidInputError{Message: "reference has no transport"}
	}
	return ref.resolver.transport, nil
}

// Read fetches the page at the reference's cursor. A non-positive limit
// falls back to the location's limit, then DefaultPageLimit.
func (ref *Reference) Read(ctx context.Context, limit int) (*paging.Page, error) {
	tr, err := ref.transport()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = ref.loc.Limit
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	src := paging.SourceFunc(func(cur paging.Cursor) (*compile.Result, error) {
		return ref.WithCursor(cur).Compile()
	})
	cur := paging.Cursor{Before: ref.loc.Before, After: ref.loc.After}
	return paging.FetchPage(ctx, tr, src, cur, limit, paging.Options{Logger: ref.resolver.logger})
}

// Next returns the reference of the page after p.
func (ref *Reference) Next(p *paging.Page) (*Reference, bool) {
	cur, ok := p.Next()
	if !ok {
		return nil, false
	}
	return ref.WithCursor(cur), true
}

// Previous returns the reference of the page before p.
func (ref *Reference) Previous(p *paging.Page) (*Reference, bool) {
	cur, ok := p.Previous()
	if !ok {
		return nil, false
	}
	return ref.WithCursor(cur), true
}

// RowName renders the table's row name template for a tuple. Without a
// template, or when rendering fails or yields nothing, it joins the shortest
// key's values with ":".
func (ref *Reference) RowName(t paging.Tuple) string {
	if tmpl := ref.table.RowName; tmpl != "" && ref.resolver.renderer != nil {
		name, err := ref.resolver.renderer.Render(tmpl, t.Data)
		if err == nil && strings.TrimSpace(name) != "" {
			return name
		}
		if err != nil {
			ref.resolver.logger.Debug("row name template failed",
				"table", ref.table.QualifiedName(),
				"error", err.Error())
		}
	}
	key, ok := ref.table.ShortestKey()
	if !ok {
		return ""
	}
	parts := make([]string, len(key.Columns))
	for i, c := range key.Columns {
		parts[i] = core.FormatValue(t.Data[c])
	}
	return strings.Join(parts, ":")
}
