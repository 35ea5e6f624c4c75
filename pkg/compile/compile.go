// Package compile turns a reference location, its facets, sort and cursor
// into a single request path for the data service.
package compile

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
)

// DefaultMaxPathLength is the longest request path the compiler aims for
// when splitting key filters into batches.
const DefaultMaxPathLength = 4000

// Aggregate functions accepted on pseudo-columns.
var Aggregates = []string{"array", "array_d", "cnt", "cnt_d", "min", "max"}

// Column is an active pseudo-column: a value reached from the main table
// through a source path, optionally aggregated.
type Column struct {
	Name      string
	Source    sourcepath.SourcePath
	Aggregate string
}

// Request is the input of Compile.
type Request struct {
	Catalog       *core.Catalog
	Location      location.Location
	Columns       []Column
	Capabilities  core.Capabilities
	RightsSummary bool
	Logger        *slog.Logger
}

type resolvedColumn struct {
	col      Column
	resolved *sourcepath.Resolved
}

type joinStep struct {
	alias  string
	parent string
	step   sourcepath.Step
}

type compiler struct {
	req       Request
	table     *core.Table
	mainAlias string
	logger    *slog.Logger

	columns  []resolvedColumn
	sort     []SortKey
	sortJoin map[int]*sourcepath.Resolved

	counter  int
	prefixes map[string]string
	joins    []joinStep
	aliases  map[string]string
	assoc    []string
}

// Compile compiles a reference. Structural problems are returned as typed
// errors: *core.NotFoundError for unknown tables, *core.InvalidSortCriteriaError
// and *core.InvalidPageCriteriaError for bad sort and cursor input, and
// *core.InvalidInputError for unresolvable columns and facets.
func Compile(req Request) (*Result, error) {
	if req.Catalog == nil {
		return nil, &core.InvalidInputError{Message: "compile request has no catalog"}
	}
	schema, name := req.Location.Table()
	table, err := req.Catalog.Table(schema, name)
	if err != nil {
		return nil, err
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &compiler{
		req:       req,
		table:     table,
		mainAlias: existingAlias(req.Location),
		logger:    logger,
		sortJoin:  make(map[int]*sourcepath.Resolved),
		prefixes:  make(map[string]string),
		aliases:   make(map[string]string),
	}
	if err := c.resolveColumns(); err != nil {
		return nil, err
	}
	if err := c.resolveSort(); err != nil {
		return nil, err
	}

	loc := req.Location
	for _, cursor := range [][]any{loc.Before, loc.After} {
		if cursor != nil && len(cursor) != len(c.sort) {
			return nil, &core.InvalidPageCriteriaError{Expected: len(c.sort), Got: len(cursor)}
		}
	}

	res := &Result{
		Mode:    c.mode(),
		Table:   table,
		Sort:    c.sort,
		Before:  loc.Before,
		After:   loc.After,
		Aliases: c.aliases,
	}

	facetSegs, facetsNeedAlias, err := c.facetSegments()
	if err != nil {
		return nil, err
	}
	needAlias := res.Mode == ModeProjected || facetsNeedAlias
	base := c.baseSegments(needAlias)
	parts := append(base, facetSegs...)

	if res.Mode == ModeProjected {
		c.assignAliases()
		parts = append(parts, c.joinSegments()...)
		proj := c.projection(res)
		parts = append(parts, proj.String())
	}
	res.Path = strings.Join(parts, "/")

	logger.Debug("compiled reference",
		slog.String("table", table.QualifiedName()),
		slog.String("mode", res.Mode.String()),
		slog.String("path", res.String()))
	return res, nil
}

func (c *compiler) resolveColumns() error {
	for _, col := range c.req.Columns {
		r, err := sourcepath.Resolve(c.req.Catalog, c.table, col.Source)
		if err != nil {
			return &core.InvalidInputError{Message: fmt.Sprintf("column %q", col.Name), Cause: err}
		}
		if col.Aggregate != "" && !slices.Contains(Aggregates, col.Aggregate) {
			return &core.InvalidInputError{Message: fmt.Sprintf("column %q: unknown aggregate %q", col.Name, col.Aggregate)}
		}
		c.columns = append(c.columns, resolvedColumn{col: col, resolved: r})
	}
	return nil
}

func (c *compiler) column(name string) (resolvedColumn, bool) {
	for _, rc := range c.columns {
		if rc.col.Name == name {
			return rc, true
		}
	}
	return resolvedColumn{}, false
}

// resolveSort validates the requested sort and appends the shortest key so
// that the order is total.
func (c *compiler) resolveSort() error {
	requested := c.req.Location.Sort
	if len(requested) == 0 {
		requested = c.table.DefaultSort()
	}

	seen := make(map[string]bool)
	for _, s := range requested {
		if seen[s.Column] {
			continue
		}
		seen[s.Column] = true

		if col, err := c.table.Column(s.Column); err == nil {
			if col.Unsortable {
				return &core.InvalidSortCriteriaError{Column: s.Column, Reason: "is not sortable"}
			}
			c.sort = append(c.sort, SortKey{
				Column: s.Column, Descending: s.Descending,
				Source: c.mainAlias, SourceColumn: s.Column,
			})
			continue
		}

		rc, ok := c.column(s.Column)
		if !ok {
			return &core.InvalidSortCriteriaError{Column: s.Column, Reason: "does not exist"}
		}
		r := rc.resolved
		if rc.col.Aggregate != "" || !r.AtMostOne() {
			return &core.InvalidSortCriteriaError{Column: s.Column, Reason: "is not single-valued"}
		}
		if r.Column.Unsortable {
			return &core.InvalidSortCriteriaError{Column: s.Column, Reason: "is not sortable"}
		}
		if len(r.Steps) == 0 {
			c.sort = append(c.sort, SortKey{
				Column: s.Column, Descending: s.Descending,
				Source: c.mainAlias, SourceColumn: r.Column.Name,
			})
			continue
		}
		c.sortJoin[len(c.sort)] = r
		c.sort = append(c.sort, SortKey{
			Column: s.Column, Descending: s.Descending, SourceColumn: r.Column.Name,
		})
	}

	var mainCols []string
	for _, k := range c.sort {
		if k.Source == c.mainAlias {
			mainCols = append(mainCols, k.SourceColumn)
		}
	}
	if !c.table.CoversKey(mainCols) {
		if key, ok := c.table.ShortestKey(); ok {
			for _, col := range key.Columns {
				if slices.Contains(mainCols, col) {
					continue
				}
				c.sort = append(c.sort, SortKey{Column: col, Source: c.mainAlias, SourceColumn: col})
			}
		}
	}

	// Direct mode names outputs after the columns themselves; projected mode
	// renames them once the group keys are known.
	for i := range c.sort {
		c.sort[i].Output = c.sort[i].SourceColumn
	}
	return nil
}

// materialized reports whether a pseudo-column is fetched through joins.
func (rc resolvedColumn) materialized() bool {
	if len(rc.resolved.Steps) == 0 {
		return false
	}
	return rc.resolved.AllOutbound() || rc.col.Aggregate != ""
}

func (c *compiler) mode() Mode {
	for _, rc := range c.columns {
		if rc.materialized() {
			return ModeProjected
		}
	}
	if len(c.sortJoin) > 0 {
		return ModeProjected
	}
	if c.req.RightsSummary && c.req.Capabilities.RightsSummary {
		return ModeProjected
	}
	return ModeDirect
}

// existingAlias returns the alias already naming the current table, or
// MainAlias.
func existingAlias(loc location.Location) string {
	idx := loc.TableIndex()
	if idx < 0 {
		return MainAlias
	}
	switch s := loc.Segments[idx].(type) {
	case location.TableRef:
		if s.Alias != "" {
			return s.Alias
		}
	case location.Join:
		if s.Alias != "" {
			return s.Alias
		}
	}
	return MainAlias
}

// baseSegments renders the location's segments, minus the current facets,
// naming the current table with the main alias when asked to.
func (c *compiler) baseSegments(alias bool) []string {
	loc := c.req.Location.WithFacets(facet.Set{})
	segs := slices.Clone(loc.Segments)
	if idx := loc.TableIndex(); idx >= 0 && alias {
		switch s := segs[idx].(type) {
		case location.TableRef:
			s.Alias = c.mainAlias
			segs[idx] = s
		case location.Join:
			s.Alias = c.mainAlias
			segs[idx] = s
		}
	}
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.String()
	}
	return out
}

// facetSegments renders the current facets as filters. A facet reached
// through hops joins out from the main table and resets back to it.
func (c *compiler) facetSegments() ([]string, bool, error) {
	var out []string
	needAlias := false
	for _, d := range c.req.Location.Facets().Definitions() {
		r, cols, err := facet.Resolve(c.req.Catalog, c.table, d)
		if err != nil {
			return nil, false, &core.InvalidInputError{Message: fmt.Sprintf("facet %s", d.Identity()), Cause: err}
		}
		filter := d.Filter(cols...)
		if filter == "" {
			continue
		}
		if len(r.Steps) == 0 {
			out = append(out, filter)
			continue
		}
		needAlias = true
		for _, st := range r.Steps {
			left, right := st.JoinColumns()
			out = append(out, location.Join{
				Columns:   left,
				Schema:    st.To.Schema,
				Table:     st.To.Name,
				ToColumns: right,
			}.String())
		}
		out = append(out, filter, "$"+c.mainAlias)
	}
	return out, needAlias, nil
}

func (c *compiler) nextAlias(prefix string) string {
	c.counter++
	return prefix + strconv.Itoa(c.counter)
}

// assignAliases walks materialized columns, then join-resolved sort columns,
// giving every distinct hop prefix one alias.
func (c *compiler) assignAliases() {
	c.aliases[c.mainAlias] = c.table.QualifiedName()
	for _, rc := range c.columns {
		if rc.materialized() {
			c.bind(rc.resolved)
		}
	}
	for i := range c.sort {
		if r, ok := c.sortJoin[i]; ok {
			c.sort[i].Source = c.bind(r)
		}
	}
}

// bind materializes the joins of r and returns the alias of its terminal table.
func (c *compiler) bind(r *sourcepath.Resolved) string {
	parent := c.mainAlias
	prefix := ""
	for i := 0; i < len(r.Steps); i++ {
		st := r.Steps[i]
		if r.AssociationAt(i) {
			far := r.Steps[i+1]
			prefix += "/" + st.Hop.String() + "/" + far.Hop.String()
			if alias, ok := c.prefixes[prefix]; ok {
				parent = alias
				i++
				continue
			}
			c.counter++
			k := strconv.Itoa(c.counter)
			assocAlias, farAlias := "A"+k, "F"+k
			c.joins = append(c.joins,
				joinStep{alias: assocAlias, parent: parent, step: st},
				joinStep{alias: farAlias, parent: assocAlias, step: far})
			c.aliases[assocAlias] = st.To.QualifiedName()
			c.aliases[farAlias] = far.To.QualifiedName()
			c.assoc = append(c.assoc, assocAlias)
			c.prefixes[prefix] = farAlias
			parent = farAlias
			i++
			continue
		}

		prefix += "/" + st.Hop.String()
		if alias, ok := c.prefixes[prefix]; ok {
			parent = alias
			continue
		}
		alias := c.nextAlias("F")
		c.joins = append(c.joins, joinStep{alias: alias, parent: parent, step: st})
		c.aliases[alias] = st.To.QualifiedName()
		c.prefixes[prefix] = alias
		parent = alias
	}
	return parent
}

func (c *compiler) joinSegments() []string {
	var out []string
	current := c.mainAlias
	for _, j := range c.joins {
		if j.parent != current {
			out = append(out, "$"+j.parent)
		}
		left, right := j.step.JoinColumns()
		out = append(out, location.Join{
			Alias:     j.alias,
			Left:      true,
			Columns:   left,
			Schema:    j.step.To.Schema,
			Table:     j.step.To.Name,
			ToColumns: right,
		}.String())
		current = j.alias
	}
	if current != c.mainAlias {
		out = append(out, "$"+c.mainAlias)
	}
	return out
}

// projection builds the group keys and projected values, and renames sort
// outputs to the names they carry in grouped rows.
func (c *compiler) projection(res *Result) location.Projection {
	var proj location.Projection
	keyCols := make(map[string]bool)
	if key, ok := c.table.ShortestKey(); ok {
		for _, col := range key.Columns {
			proj.Keys = append(proj.Keys, location.Item{Column: col})
			keyCols[col] = true
		}
	}
	for i := range c.sort {
		k := &c.sort[i]
		if k.Source == c.mainAlias && keyCols[k.SourceColumn] {
			k.Output = k.SourceColumn
			continue
		}
		k.Output = "s" + strconv.Itoa(i)
		proj.Keys = append(proj.Keys, location.Item{Alias: k.Output, Source: k.Source, Column: k.SourceColumn})
	}

	proj.Values = append(proj.Values, location.Item{Alias: c.mainAlias, Func: "array_d", Source: c.mainAlias, Column: "*"})
	used := map[string]bool{c.mainAlias: true}
	for _, rc := range c.columns {
		if !rc.materialized() {
			continue
		}
		alias := c.prefixes[prefixOf(rc.resolved)]
		r := rc.resolved
		out := Output{Column: rc.col.Name, Alias: alias, Aggregate: rc.col.Aggregate}
		var item location.Item
		switch {
		case rc.col.Aggregate != "":
			item = location.Item{Func: rc.col.Aggregate, Source: alias, Column: r.Column.Name}
		case r.EntityMode():
			item = location.Item{Func: "array_d", Source: alias, Column: "*"}
			out.Entity = true
		case r.AtMostOne():
			item = location.Item{Source: alias, Column: r.Column.Name}
			out.Scalar = true
		default:
			item = location.Item{Func: "array_d", Source: alias, Column: r.Column.Name}
		}
		if existing, ok := findValue(proj.Values, item); ok {
			out.Name = existing
			res.Outputs = append(res.Outputs, out)
			continue
		}
		name := alias
		if used[name] {
			name = alias + "_" + strconv.Itoa(len(res.Outputs))
		}
		used[name] = true
		item.Alias = name
		out.Name = name
		proj.Values = append(proj.Values, item)
		res.Outputs = append(res.Outputs, out)
	}

	if c.req.RightsSummary && c.req.Capabilities.RightsSummary {
		res.Rights = make(map[string]string)
		if c.table.HasColumn("RID") {
			proj.Values = append(proj.Values,
				location.Item{Alias: c.mainAlias + "_trs", Func: "trs", Source: c.mainAlias, Column: "RID"},
				location.Item{Alias: c.mainAlias + "_tcrs", Func: "tcrs", Source: c.mainAlias, Column: "RID"})
			res.Rights[c.mainAlias] = c.mainAlias + "_trs"
			res.ColumnRights = c.mainAlias + "_tcrs"
		}
		for _, a := range c.assoc {
			t, err := c.req.Catalog.LookupTable(c.aliases[a])
			if err != nil || !t.HasColumn("RID") {
				continue
			}
			proj.Values = append(proj.Values, location.Item{Alias: a + "_trs", Func: "trs", Source: a, Column: "RID"})
			res.Rights[a] = a + "_trs"
		}
	}
	res.Sort = c.sort
	return proj
}

// findValue returns the name of an already projected value reading the same
// column of the same alias through the same function.
func findValue(values []location.Item, item location.Item) (string, bool) {
	for _, v := range values {
		if v.Source == item.Source && v.Func == item.Func && v.Column == item.Column {
			return v.Alias, true
		}
	}
	return "", false
}

func prefixOf(r *sourcepath.Resolved) string {
	prefix := ""
	for _, st := range r.Steps {
		prefix += "/" + st.Hop.String()
	}
	return prefix
}
