package facet

import (
	"fmt"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
)

// Resolve binds a definition's source to the catalog, expanding source keys.
// It returns the resolved path and the terminal columns the filter applies
// to: one column, or the search columns for the search-box key.
func Resolve(cat *core.Catalog, table *core.Table, d Definition) (*sourcepath.Resolved, []string, error) {
	switch d.SourceKey {
	case "":
	case SearchBox:
		cols := table.SearchableColumns()
		if len(cols) == 0 {
			return nil, nil, &core.InvalidInputError{Message: fmt.Sprintf("table %s has no search columns", table.QualifiedName())}
		}
		r, err := sourcepath.Resolve(cat, table, sourcepath.Column(cols[0]))
		if err != nil {
			return nil, nil, err
		}
		return r, cols, nil
	default:
		raw, ok := table.SourceDefinitions[d.SourceKey]
		if !ok {
			return nil, nil, &core.InvalidInputError{
				Message: "unknown source key",
				Cause:   &core.NotFoundError{Kind: "source key", Name: d.SourceKey},
			}
		}
		p, err := sourcepath.Parse(raw)
		if err != nil {
			return nil, nil, err
		}
		d = d.WithSource(p)
	}
	if d.Source.IsZero() {
		return nil, nil, &core.InvalidInputError{Message: "facet has no source"}
	}
	r, err := sourcepath.Resolve(cat, table, d.Source)
	if err != nil {
		return nil, nil, err
	}
	return r, []string{r.Column.Name}, nil
}
