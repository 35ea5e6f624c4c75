// Package contextualize moves a reference location between a base table and
// the alternate tables that present it in other contexts.
package contextualize

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
)

// Rewrite names the strategy used to move a location.
type Rewrite int

// Rewrite constants, cheapest first.
const (
	RewriteNone Rewrite = iota
	RewriteRoot
	RewriteKeyFilter
	RewriteJoinTarget
	RewriteFacets
	RewriteAppendJoin
)

func (r Rewrite) String() string {
	switch r {
	case RewriteNone:
		return "none"
	case RewriteRoot:
		return "root"
	case RewriteKeyFilter:
		return "key-filter"
	case RewriteJoinTarget:
		return "join-target"
	case RewriteFacets:
		return "facets"
	case RewriteAppendJoin:
		return "append-join"
	default:
		return "unknown"
	}
}

// Result is a contextualized location.
type Result struct {
	Location location.Location
	Table    *core.Table
	// Rewrites lists the strategies applied; a move between two alternates
	// passes through the base and applies two.
	Rewrites []Rewrite
}

// Contextualize returns loc moved onto the table that presents its current
// table in context to. The row set is preserved; the paging cursor is
// dropped, and so is the sort when one of its columns does not exist on the
// new table.
func Contextualize(cat *core.Catalog, loc location.Location, to core.Context) (Result, error) {
	schema, name := loc.Table()
	cur, err := cat.Table(schema, name)
	if err != nil {
		return Result{}, err
	}
	target := cat.Alternate(cur, to)
	if target == cur {
		return Result{Location: loc, Table: cur, Rewrites: []Rewrite{RewriteNone}}, nil
	}

	res := Result{Location: loc.WithoutCursor(), Table: cur}
	base := cat.Base(cur)
	if cur != base && target != base {
		if err := res.move(cat, base); err != nil {
			return Result{}, err
		}
	}
	if err := res.move(cat, target); err != nil {
		return Result{}, err
	}

	for _, s := range res.Location.Sort {
		if !target.HasColumn(s.Column) {
			res.Location = res.Location.WithSort(nil)
			break
		}
	}
	return res, nil
}

// link describes the shared key between the current and the target table.
type link struct {
	fk *core.ForeignKey
	// entering is set when moving from the base onto the alternate.
	entering bool
	// mapping maps current columns onto target columns.
	mapping map[string]string
}

func newLink(cat *core.Catalog, from, to *core.Table) (link, error) {
	alt, entering := to, true
	if to.AlternativeOf == "" {
		alt, entering = from, false
	}
	fk, ok := alt.AlternateLink()
	if !ok {
		return link{}, &core.InvalidInputError{Message: fmt.Sprintf("table %s has no link to its base", alt.QualifiedName())}
	}
	base := to
	if entering {
		base = from
	}
	if cat.Base(alt) != base {
		return link{}, &core.InvalidInputError{Message: fmt.Sprintf("%s is not an alternate of %s", alt.QualifiedName(), base.QualifiedName())}
	}
	l := link{fk: fk, entering: entering, mapping: make(map[string]string, len(fk.Columns))}
	for i := range fk.Columns {
		if entering {
			l.mapping[fk.ToColumns[i]] = fk.Columns[i]
		} else {
			l.mapping[fk.Columns[i]] = fk.ToColumns[i]
		}
	}
	return l, nil
}

func (l link) currentColumns() []string {
	if l.entering {
		return l.fk.ToColumns
	}
	return l.fk.Columns
}

func (l link) targetColumns() []string {
	if l.entering {
		return l.fk.Columns
	}
	return l.fk.ToColumns
}

func (r *Result) move(cat *core.Catalog, target *core.Table) error {
	l, err := newLink(cat, r.Table, target)
	if err != nil {
		return err
	}
	loc := r.Location
	segs := slices.Clone(loc.Segments)
	idx := loc.TableIndex()
	filters := loc.Filters()
	facets := loc.Facets()
	rootOnly := idx == 0 && !loc.HasJoins()

	var rewrite Rewrite
	switch {
	case rootOnly && len(segs) == 1:
		rewrite = RewriteRoot
		segs[0] = retarget(segs[0].(location.TableRef), target)

	case rootOnly && facets.IsEmpty() && len(filters) > 0 && keyFiltersOnly(filters, l.mapping):
		rewrite = RewriteKeyFilter
		segs[0] = retarget(segs[0].(location.TableRef), target)
		for i, s := range segs {
			if f, ok := s.(location.FilterSeg); ok {
				segs[i] = location.FilterSeg{Expr: location.RenameColumns(f.Expr, func(c string) string { return l.mapping[c] })}
			}
		}

	case idx == len(segs)-1 && isJoinOnto(segs[idx], l.currentColumns()):
		rewrite = RewriteJoinTarget
		j := segs[idx].(location.Join)
		j.Schema, j.Table = target.Schema, target.Name
		to := make([]string, len(j.ToColumns))
		for i, c := range j.ToColumns {
			to[i] = l.mapping[c]
		}
		j.ToColumns = to
		segs[idx] = j

	case rootOnly && len(filters) == 0 && !facets.IsEmpty():
		moved, err := moveFacets(cat, r.Table, facets, l)
		if err != nil {
			return err
		}
		rewrite = RewriteFacets
		segs[0] = retarget(segs[0].(location.TableRef), target)
		for i, s := range segs {
			if _, ok := s.(location.FacetsSeg); ok {
				segs[i] = location.FacetsSeg{Set: moved}
			}
		}

	default:
		rewrite = RewriteAppendJoin
		segs = append(segs, location.Join{
			Columns:   l.currentColumns(),
			Schema:    target.Schema,
			Table:     target.Name,
			ToColumns: l.targetColumns(),
		})
	}

	r.Location = loc.WithSegments(segs)
	r.Table = target
	r.Rewrites = append(r.Rewrites, rewrite)
	return nil
}

func retarget(ref location.TableRef, t *core.Table) location.TableRef {
	ref.Schema, ref.Table = t.Schema, t.Name
	return ref
}

// keyFiltersOnly reports whether every filter is built from equality
// predicates on mapped columns, without negation.
func keyFiltersOnly(filters []location.Expr, mapping map[string]string) bool {
	var ok func(location.Expr) bool
	ok = func(e location.Expr) bool {
		switch v := e.(type) {
		case location.Pred:
			_, mapped := mapping[v.Column]
			return mapped && v.Op == location.OpEq
		case location.And:
			for _, c := range v {
				if !ok(c) {
					return false
				}
			}
			return true
		case location.Or:
			for _, c := range v {
				if !ok(c) {
					return false
				}
			}
			return true
		}
		return false
	}
	for _, f := range filters {
		if !ok(f) {
			return false
		}
	}
	return true
}

func isJoinOnto(seg location.Segment, cols []string) bool {
	j, ok := seg.(location.Join)
	if !ok || len(j.ToColumns) != len(cols) {
		return false
	}
	for _, c := range j.ToColumns {
		if !slices.Contains(cols, c) {
			return false
		}
	}
	return true
}

// moveFacets rewrites facet sources rooted at from so they apply to the
// other side of the link: a leading hop across the link is stripped,
// otherwise one is prepended.
func moveFacets(cat *core.Catalog, from *core.Table, set facet.Set, l link) (facet.Set, error) {
	// Entering, the alternate reaches the base outbound over the link and
	// the base reaches the alternate inbound. Leaving is the reverse.
	toTarget := sourcepath.Hop{Direction: sourcepath.Inbound, Constraint: l.fk.Name}
	toCurrent := sourcepath.Hop{Direction: sourcepath.Outbound, Constraint: l.fk.Name}
	if !l.entering {
		toTarget.Direction, toCurrent.Direction = sourcepath.Outbound, sourcepath.Inbound
	}

	var out []facet.Definition
	for _, d := range set.Definitions() {
		switch d.SourceKey {
		case "":
		case facet.SearchBox:
			// A search over several columns has no single-source form and
			// stays bound to the search columns of the presented table.
			r, cols, err := facet.Resolve(cat, from, d)
			if err != nil || len(cols) != 1 {
				out = append(out, d)
				continue
			}
			d = d.WithSource(r.Path)
		default:
			r, _, err := facet.Resolve(cat, from, d)
			if err != nil {
				return facet.Set{}, err
			}
			d = d.WithSource(r.Path)
		}
		p := d.Source
		if len(p.Hops) > 0 && p.Hops[0] == toTarget {
			p = p.TrimFirst()
		} else {
			p = p.Prepend(toCurrent)
		}
		out = append(out, d.WithSource(p))
	}
	return facet.NewSet(out...), nil
}
