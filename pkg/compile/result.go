package compile

import (
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
)

// Mode selects how rows are fetched.
type Mode int

// Mode constants.
const (
	// ModeDirect fetches main-table rows through the entity API.
	ModeDirect Mode = iota
	// ModeProjected fetches grouped rows with joined data through the
	// attribute-group API.
	ModeProjected
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeProjected:
		return "projected"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// MainAlias is the alias of the main table in generated paths.
const MainAlias = "M"

// SortKey is one resolved sort column.
type SortKey struct {
	// Column is the requested name: a table column or a pseudo-column.
	Column     string `json:"column"`
	Descending bool   `json:"descending,omitempty"`
	// Output is the name used in @sort and in result rows.
	Output string `json:"output"`
	// Source is the alias of the table holding the column.
	Source string `json:"source"`
	// SourceColumn is the column on Source.
	SourceColumn string `json:"source_column"`
}

// Output describes a projected pseudo-column in projected mode.
type Output struct {
	Column    string `json:"column"`
	Name      string `json:"name"`
	Alias     string `json:"alias"`
	Aggregate string `json:"aggregate,omitempty"`
	// Entity is set when the output holds whole rows of the terminal table.
	Entity bool `json:"entity,omitempty"`
	// Scalar is set when the output holds a single value rather than an array.
	Scalar bool `json:"scalar,omitempty"`
}

// Result is a compiled reference.
type Result struct {
	Mode  Mode
	Table *core.Table
	// Path is the request path without sort or cursor modifiers.
	Path string
	Sort []SortKey
	// Before and After carry the cursor, nil when absent.
	Before []any
	After  []any
	// Aliases maps each generated alias onto the qualified table it binds.
	Aliases map[string]string
	// Outputs lists projected pseudo-columns in projected mode.
	Outputs []Output
	// Rights maps an alias onto the output holding its table rights summary.
	Rights map[string]string
	// ColumnRights names the output holding the main table's column rights.
	ColumnRights string
}

// API returns the service API the path targets.
func (r *Result) API() string {
	if r.Mode == ModeProjected {
		return location.APIAttributeGroup
	}
	return location.APIEntity
}

// Modifiers renders the sort and cursor modifiers.
func (r *Result) Modifiers() string {
	var b strings.Builder
	if len(r.Sort) > 0 {
		cols := make([]core.SortColumn, len(r.Sort))
		for i, k := range r.Sort {
			cols[i] = core.SortColumn{Column: k.Output, Descending: k.Descending}
		}
		b.WriteString("/@sort(" + location.FormatSort(cols) + ")")
	}
	if r.Before != nil {
		b.WriteString("/@before(" + location.FormatCursor(r.Before) + ")")
	}
	if r.After != nil {
		b.WriteString("/@after(" + location.FormatCursor(r.After) + ")")
	}
	return b.String()
}

// String returns the path with its modifiers.
func (r *Result) String() string {
	return r.Path + r.Modifiers()
}

// URL returns the catalog-relative request URL. A non-positive limit is omitted.
func (r *Result) URL(limit int) string {
	u := r.API() + "/" + r.String()
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}
	return u
}

// CursorValues extracts the sort values of a result row, in sort order.
func (r *Result) CursorValues(row core.Row) []any {
	out := make([]any, len(r.Sort))
	for i, k := range r.Sort {
		out[i] = row[k.Output]
	}
	return out
}

// Output returns the projected output for a pseudo-column.
func (r *Result) Output(column string) (Output, bool) {
	for _, o := range r.Outputs {
		if o.Column == column {
			return o, true
		}
	}
	return Output{}, false
}
