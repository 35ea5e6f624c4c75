package sourcepath

import (
	"fmt"

	"github.com/leapstack-labs/leapref/pkg/core"
)

// Step is a hop bound to catalog metadata.
type Step struct {
	Hop  Hop
	FK   *core.ForeignKey
	From *core.Table
	To   *core.Table
}

// AtMostOne reports whether the step yields at most one row per source row.
func (s Step) AtMostOne() bool {
	return s.Hop.Direction == Outbound || s.FK.OneToOne()
}

// JoinColumns returns the columns to join on, on the source side and on the
// target side respectively.
func (s Step) JoinColumns() (left, right []string) {
	if s.Hop.Direction == Outbound {
		return s.FK.Columns, s.FK.ToColumns
	}
	return s.FK.ToColumns, s.FK.Columns
}

// Resolved is a source path bound to catalog metadata.
type Resolved struct {
	Path     SourcePath
	Root     *core.Table
	Steps    []Step
	Terminal *core.Table
	Column   *core.Column
}

// Resolve binds p to the catalog starting at root. Every hop must name an
// existing constraint that touches the current table in the stated
// direction, and the column must exist on the terminal table.
func Resolve(cat *core.Catalog, root *core.Table, p SourcePath) (*Resolved, error) {
	r := &Resolved{Path: p, Root: root}
	cur := root
	for i, h := range p.Hops {
		fk, err := cat.ForeignKey(h.Constraint)
		if err != nil {
			return nil, &core.InvalidInputError{Message: fmt.Sprintf("hop %d", i), Cause: err}
		}
		step := Step{Hop: h, FK: fk, From: cur}
		switch h.Direction {
		case Outbound:
			if fk.From() != cur {
				return nil, &core.InvalidInputError{Message: fmt.Sprintf("hop %d: %s is not an outbound key of %s", i, h.Constraint, cur.QualifiedName())}
			}
			step.To = fk.To()
		case Inbound:
			if fk.To() != cur {
				return nil, &core.InvalidInputError{Message: fmt.Sprintf("hop %d: %s does not reference %s", i, h.Constraint, cur.QualifiedName())}
			}
			step.To = fk.From()
		}
		r.Steps = append(r.Steps, step)
		cur = step.To
	}
	col, err := cur.Column(p.Column)
	if err != nil {
		return nil, &core.InvalidInputError{Message: "terminal column", Cause: err}
	}
	r.Terminal = cur
	r.Column = col
	return r, nil
}

// AllOutbound reports whether the path has hops and every hop is outbound.
func (r *Resolved) AllOutbound() bool {
	if len(r.Steps) == 0 {
		return false
	}
	for _, s := range r.Steps {
		if s.Hop.Direction != Outbound {
			return false
		}
	}
	return true
}

// AtMostOne reports whether the path yields at most one terminal row per
// root row.
func (r *Resolved) AtMostOne() bool {
	for _, s := range r.Steps {
		if !s.AtMostOne() {
			return false
		}
	}
	return true
}

// EntityMode reports whether the terminal column identifies terminal rows.
func (r *Resolved) EntityMode() bool {
	return r.Terminal.IsSimpleKey(r.Column.Name)
}

// AssociationAt reports whether steps i and i+1 pass through a pure binary
// association: inbound into it, then outbound out of it over its other key.
func (r *Resolved) AssociationAt(i int) bool {
	if i+1 >= len(r.Steps) {
		return false
	}
	in, out := r.Steps[i], r.Steps[i+1]
	if in.Hop.Direction != Inbound || out.Hop.Direction != Outbound {
		return false
	}
	if !in.To.IsPureBinaryAssociation() {
		return false
	}
	other, ok := in.To.OtherAssociationKey(in.FK)
	return ok && other == out.FK
}
