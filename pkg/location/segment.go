package location

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
)

// Segment is one "/"-separated element of a path.
type Segment interface {
	String() string
	isSegment()
}

// TableRef binds the path to a table, optionally under an alias.
type TableRef struct {
	Alias  string
	Schema string
	Table  string
}

// FilterSeg restricts the rows of the current table.
type FilterSeg struct {
	Expr Expr
}

// Join moves the path to another table by matching columns.
type Join struct {
	Alias     string
	Left      bool
	Columns   []string
	Schema    string
	Table     string
	ToColumns []string
}

// FacetsSeg carries a facet set applying to the current table.
type FacetsSeg struct {
	Set facet.Set
}

// Reset moves the path back to an aliased element.
type Reset struct {
	Alias string
}

// Projection lists the group keys and projected values of an
// attribute-group request.
type Projection struct {
	Keys   []Item
	Values []Item
}

// Item is one output of a projection: [alias:=][func(][source:]column[)].
type Item struct {
	Alias  string
	Func   string
	Source string
	Column string
}

func (TableRef) isSegment()   {}
func (FilterSeg) isSegment()  {}
func (Join) isSegment()       {}
func (FacetsSeg) isSegment()  {}
func (Reset) isSegment()      {}
func (Projection) isSegment() {}

func (t TableRef) String() string {
	s := core.Encode(t.Schema) + ":" + core.Encode(t.Table)
	if t.Alias != "" {
		return t.Alias + ":=" + s
	}
	return s
}

// QualifiedName returns "schema:table".
func (t TableRef) QualifiedName() string { return t.Schema + ":" + t.Table }

func (f FilterSeg) String() string { return f.Expr.String() }

func (j Join) String() string {
	var b strings.Builder
	if j.Alias != "" {
		b.WriteString(j.Alias)
		b.WriteString(":=")
	}
	if j.Left {
		b.WriteString("left")
	}
	b.WriteByte('(')
	b.WriteString(encodeList(j.Columns))
	b.WriteString(")=(")
	b.WriteString(core.Encode(j.Schema))
	b.WriteByte(':')
	b.WriteString(core.Encode(j.Table))
	b.WriteByte(':')
	b.WriteString(encodeList(j.ToColumns))
	b.WriteByte(')')
	return b.String()
}

// QualifiedName returns "schema:table" of the join target.
func (j Join) QualifiedName() string { return j.Schema + ":" + j.Table }

func (f FacetsSeg) String() string {
	blob, err := facet.Encode(f.Set)
	if err != nil {
		return "*::facets::"
	}
	return "*::facets::" + blob
}

func (r Reset) String() string { return "$" + r.Alias }

func (p Projection) String() string {
	keys := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		keys[i] = k.String()
	}
	vals := make([]string, len(p.Values))
	for i, v := range p.Values {
		vals[i] = v.String()
	}
	return strings.Join(keys, ",") + ";" + strings.Join(vals, ",")
}

func (it Item) String() string {
	col := it.Column
	if col != "*" {
		col = core.Encode(col)
	}
	if it.Source != "" {
		col = it.Source + ":" + col
	}
	if it.Func != "" {
		col = it.Func + "(" + col + ")"
	}
	if it.Alias != "" {
		return it.Alias + ":=" + col
	}
	return col
}

// Name returns the output column name of the item.
func (it Item) Name() string {
	if it.Alias != "" {
		return it.Alias
	}
	return it.Column
}

func encodeList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = core.Encode(c)
	}
	return strings.Join(out, ",")
}

const ident = `[^:=/;&()!$@,]+`

var (
	tableRefRe = regexp.MustCompile(`^(?:(` + ident + `):=)?(` + ident + `):(` + ident + `)$`)
	joinRe     = regexp.MustCompile(`^(?:(` + ident + `):=)?(left)?\(([^()]*)\)=\(([^()]*)\)$`)
	itemRe     = regexp.MustCompile(`^(?:(` + ident + `):=)?(?:(\w+)\()?(?:(` + ident + `):)?(\*|` + ident + `)\)?$`)
)

func parseTableRef(s string) (TableRef, bool, error) {
	m := tableRefRe.FindStringSubmatch(s)
	if m == nil {
		return TableRef{}, false, nil
	}
	schema, err := core.Decode(m[2])
	if err != nil {
		return TableRef{}, true, err
	}
	table, err := core.Decode(m[3])
	if err != nil {
		return TableRef{}, true, err
	}
	return TableRef{Alias: m[1], Schema: schema, Table: table}, true, nil
}

func parseJoin(s string) (Join, bool, error) {
	m := joinRe.FindStringSubmatch(s)
	if m == nil {
		return Join{}, false, nil
	}
	left, err := decodeList(m[3])
	if err != nil {
		return Join{}, true, err
	}
	parts := strings.Split(m[4], ":")
	if len(parts) != 3 {
		return Join{}, true, &core.InvalidInputError{Message: fmt.Sprintf("join target %q must be schema:table:columns", m[4])}
	}
	schema, err := core.Decode(parts[0])
	if err != nil {
		return Join{}, true, err
	}
	table, err := core.Decode(parts[1])
	if err != nil {
		return Join{}, true, err
	}
	right, err := decodeList(parts[2])
	if err != nil {
		return Join{}, true, err
	}
	if len(left) == 0 || len(left) != len(right) {
		return Join{}, true, &core.InvalidInputError{Message: fmt.Sprintf("join %q has mismatched column lists", s)}
	}
	return Join{Alias: m[1], Left: m[2] != "", Columns: left, Schema: schema, Table: table, ToColumns: right}, true, nil
}

func parseProjection(s string) (Projection, error) {
	keyPart, valPart, _ := strings.Cut(s, ";")
	var p Projection
	for _, raw := range splitNonEmpty(keyPart) {
		it, err := parseItem(raw)
		if err != nil {
			return Projection{}, err
		}
		p.Keys = append(p.Keys, it)
	}
	for _, raw := range splitNonEmpty(valPart) {
		it, err := parseItem(raw)
		if err != nil {
			return Projection{}, err
		}
		p.Values = append(p.Values, it)
	}
	if len(p.Keys) == 0 {
		return Projection{}, &core.InvalidInputError{Message: fmt.Sprintf("projection %q has no group keys", s)}
	}
	return p, nil
}

func parseItem(s string) (Item, error) {
	m := itemRe.FindStringSubmatch(s)
	if m == nil {
		return Item{}, &core.InvalidInputError{Message: fmt.Sprintf("malformed projection item %q", s)}
	}
	col := m[4]
	if col != "*" {
		var err error
		if col, err = core.Decode(col); err != nil {
			return Item{}, err
		}
	}
	return Item{Alias: m[1], Func: m[2], Source: m[3], Column: col}, nil
}

func decodeList(s string) ([]string, error) {
	var out []string
	for _, part := range splitNonEmpty(s) {
		v, err := core.Decode(part)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
