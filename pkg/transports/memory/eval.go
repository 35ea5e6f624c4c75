package memory

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
)

// element is one table bound along a path.
type element struct {
	alias string
	table *core.Table
}

// tuple holds one row index per element; -1 marks a left-join miss.
type tuple []int

type binding struct {
	elements []element
	tuples   []tuple
	cur      int
}

func (t *Transport) bind(loc location.Location) (*binding, error) {
	b := &binding{}
	for i, seg := range loc.Segments {
		switch s := seg.(type) {
		case location.TableRef:
			if i != 0 {
				return nil, badRequest("table reference must start the path")
			}
			tbl, err := t.catalog.Table(s.Schema, s.Table)
			if err != nil {
				return nil, notFound(err)
			}
			b.elements = append(b.elements, element{alias: s.Alias, table: tbl})
			for idx := range t.data[tbl.QualifiedName()] {
				b.tuples = append(b.tuples, tuple{idx})
			}
		case location.FilterSeg:
			if err := t.filter(b, s.Expr); err != nil {
				return nil, err
			}
		case location.Join:
			if err := t.join(b, s); err != nil {
				return nil, err
			}
		case location.Reset:
			idx := slices.IndexFunc(b.elements, func(e element) bool { return e.alias == s.Alias })
			if idx < 0 {
				return nil, badRequest(fmt.Sprintf("unknown alias %q", s.Alias))
			}
			b.cur = idx
		case location.FacetsSeg:
			return nil, badRequest("facet blobs must be compiled before they are sent")
		case location.Projection:
		}
	}
	return b, nil
}

func (t *Transport) row(e element, idx int) core.Row {
	if idx < 0 {
		return nil
	}
	return t.data[e.table.QualifiedName()][idx]
}

func (t *Transport) filter(b *binding, expr location.Expr) error {
	e := b.elements[b.cur]
	for _, p := range location.Preds(expr) {
		if !e.table.HasColumn(p.Column) {
			return badRequest(fmt.Sprintf("column %q not found in %s", p.Column, e.table.QualifiedName()))
		}
	}
	kept := b.tuples[:0:0]
	for _, tp := range b.tuples {
		ok, err := eval(expr, t.row(e, tp[b.cur]))
		if err != nil {
			return err
		}
		if ok {
			kept = append(kept, tp)
		}
	}
	b.tuples = kept
	return nil
}

func (t *Transport) join(b *binding, j location.Join) error {
	from := b.elements[b.cur]
	to, err := t.catalog.Table(j.Schema, j.Table)
	if err != nil {
		return notFound(err)
	}
	for _, c := range j.Columns {
		if !from.table.HasColumn(c) {
			return badRequest(fmt.Sprintf("column %q not found in %s", c, from.table.QualifiedName()))
		}
	}
	for _, c := range j.ToColumns {
		if !to.HasColumn(c) {
			return badRequest(fmt.Sprintf("column %q not found in %s", c, to.QualifiedName()))
		}
	}

	target := t.data[to.QualifiedName()]
	var out []tuple
	for _, tp := range b.tuples {
		src := t.row(from, tp[b.cur])
		matched := false
		if src != nil {
			for idx, dst := range target {
				if joinMatch(src, dst, j.Columns, j.ToColumns) {
					out = append(out, append(slices.Clone(tp), idx))
					matched = true
				}
			}
		}
		if !matched && j.Left {
			out = append(out, append(slices.Clone(tp), -1))
		}
	}
	b.elements = append(b.elements, element{alias: j.Alias, table: to})
	b.tuples = out
	b.cur = len(b.elements) - 1
	return nil
}

func joinMatch(src, dst core.Row, left, right []string) bool {
	for i := range left {
		a, b := src[left[i]], dst[right[i]]
		if a == nil || b == nil || compareValues(a, b) != 0 {
			return false
		}
	}
	return true
}

func eval(expr location.Expr, row core.Row) (bool, error) {
	switch e := expr.(type) {
	case location.Pred:
		return evalPred(e, row)
	case location.Not:
		ok, err := eval(e.Expr, row)
		return !ok, err
	case location.And:
		for _, c := range e {
			ok, err := eval(c, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case location.Or:
		for _, c := range e {
			ok, err := eval(c, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return false, badRequest(fmt.Sprintf("unsupported filter %T", expr))
}

func evalPred(p location.Pred, row core.Row) (bool, error) {
	var v any
	if row != nil {
		v = row[p.Column]
	}
	if p.Op == location.OpNull {
		return v == nil, nil
	}
	if v == nil {
		return false, nil
	}
	if p.Quantified {
		for _, want := range p.Values {
			if compareValues(v, want) == 0 {
				return true, nil
			}
		}
		return false, nil
	}
	switch p.Op {
	case location.OpEq:
		return compareValues(v, p.Value) == 0, nil
	case location.OpGt:
		return compareValues(v, p.Value) > 0, nil
	case location.OpGeq:
		return compareValues(v, p.Value) >= 0, nil
	case location.OpLt:
		return compareValues(v, p.Value) < 0, nil
	case location.OpLeq:
		return compareValues(v, p.Value) <= 0, nil
	case location.OpRegexp, location.OpCiregexp:
		pattern := p.Value
		if p.Op == location.OpCiregexp {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, badRequest(fmt.Sprintf("bad pattern %q", p.Value))
		}
		return re.MatchString(core.FormatValue(v)), nil
	case location.OpTs:
		text := strings.ToLower(core.FormatValue(v))
		for _, w := range strings.Fields(strings.ToLower(p.Value)) {
			if !strings.Contains(text, w) {
				return false, nil
			}
		}
		return true, nil
	}
	return false, badRequest(fmt.Sprintf("unsupported operator %s", p.Op))
}

// compareValues orders two values, comparing numerically when both sides
// read as numbers.
func compareValues(a, b any) int {
	fa, aok := number(a)
	fb, bok := number(b)
	if aok && bok {
		return cmp.Compare(fa, fb)
	}
	if ab, ok := a.(bool); ok {
		if bb, err := strconv.ParseBool(core.FormatValue(b)); err == nil {
			return cmp.Compare(boolInt(ab), boolInt(bb))
		}
	}
	return strings.Compare(core.FormatValue(a), core.FormatValue(b))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// compareSorted orders two values under a sort direction. Nulls sort last
// ascending and first descending.
func compareSorted(a, b any, desc bool) int {
	var c int
	switch {
	case a == nil && b == nil:
		c = 0
	case a == nil:
		c = 1
	case b == nil:
		c = -1
	default:
		c = compareValues(a, b)
	}
	if desc {
		return -c
	}
	return c
}

func compareKeys(a, b []any, sort []core.SortColumn) int {
	for i, s := range sort {
		if c := compareSorted(a[i], b[i], s.Descending); c != 0 {
			return c
		}
	}
	return 0
}

func sortValues(row core.Row, sort []core.SortColumn) []any {
	out := make([]any, len(sort))
	for i, s := range sort {
		out[i] = row[s.Column]
	}
	return out
}

// page applies sort, cursor and limit to result rows.
func page(rows []core.Row, loc location.Location) []core.Row {
	if len(loc.Sort) > 0 {
		slices.SortStableFunc(rows, func(a, b core.Row) int {
			return compareKeys(sortValues(a, loc.Sort), sortValues(b, loc.Sort), loc.Sort)
		})
	}
	switch {
	case loc.After != nil && len(loc.Sort) > 0:
		var kept []core.Row
		for _, r := range rows {
			if compareKeys(sortValues(r, loc.Sort), loc.After, loc.Sort) > 0 {
				kept = append(kept, r)
			}
		}
		rows = kept
	case loc.Before != nil && len(loc.Sort) > 0:
		var kept []core.Row
		for _, r := range rows {
			if compareKeys(sortValues(r, loc.Sort), loc.Before, loc.Sort) < 0 {
				kept = append(kept, r)
			}
		}
		rows = kept
		if loc.Limit > 0 && len(rows) > loc.Limit {
			return rows[len(rows)-loc.Limit:]
		}
		return rows
	}
	if loc.Limit > 0 && len(rows) > loc.Limit {
		rows = rows[:loc.Limit]
	}
	return rows
}

// entityRows returns the distinct rows of the current element.
func (t *Transport) entityRows(b *binding) []core.Row {
	e := b.elements[b.cur]
	seen := make(map[int]bool)
	var out []core.Row
	for _, tp := range b.tuples {
		idx := tp[b.cur]
		if idx < 0 || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, t.row(e, idx).Clone())
	}
	return out
}

// groupRows evaluates an attribute-group projection.
func (t *Transport) groupRows(b *binding, proj location.Projection) ([]core.Row, error) {
	resolve := func(it location.Item) (int, error) {
		if it.Source == "" {
			return b.cur, nil
		}
		idx := slices.IndexFunc(b.elements, func(e element) bool { return e.alias == it.Source })
		if idx < 0 {
			return 0, badRequest(fmt.Sprintf("unknown alias %q", it.Source))
		}
		return idx, nil
	}

	type group struct {
		key    core.Row
		tuples []tuple
	}
	var order []string
	groups := make(map[string]*group)
	for _, tp := range b.tuples {
		if tp[b.cur] < 0 {
			continue
		}
		key := core.Row{}
		var sig strings.Builder
		for _, it := range proj.Keys {
			idx, err := resolve(it)
			if err != nil {
				return nil, err
			}
			var v any
			if r := t.row(b.elements[idx], tp[idx]); r != nil {
				v = r[it.Column]
			}
			key[it.Name()] = v
			fmt.Fprintf(&sig, "%T:%s|", v, core.FormatValue(v))
		}
		g, ok := groups[sig.String()]
		if !ok {
			g = &group{key: key}
			groups[sig.String()] = g
			order = append(order, sig.String())
		}
		g.tuples = append(g.tuples, tp)
	}

	out := make([]core.Row, 0, len(order))
	for _, sig := range order {
		g := groups[sig]
		row := g.key.Clone()
		for _, it := range proj.Values {
			idx, err := resolve(it)
			if err != nil {
				return nil, err
			}
			v, err := t.aggregate(b.elements[idx], idx, g.tuples, it)
			if err != nil {
				return nil, err
			}
			row[it.Name()] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *Transport) aggregate(e element, idx int, tuples []tuple, it location.Item) (any, error) {
	seen := make(map[int]bool)
	var rows []core.Row
	for _, tp := range tuples {
		ri := tp[idx]
		if ri < 0 || seen[ri] {
			continue
		}
		seen[ri] = true
		rows = append(rows, t.row(e, ri))
	}

	values := func(distinct bool) []any {
		out := []any{}
		dup := make(map[string]bool)
		for _, r := range rows {
			v := r[it.Column]
			if v == nil {
				continue
			}
			k := core.FormatValue(v)
			if distinct && dup[k] {
				continue
			}
			dup[k] = true
			out = append(out, v)
		}
		return out
	}

	switch it.Func {
	case "":
		if len(rows) == 0 {
			return nil, nil
		}
		if it.Column == "*" {
			return rows[0].Clone(), nil
		}
		return rows[0][it.Column], nil
	case "array", "array_d":
		if it.Column == "*" {
			out := make([]any, len(rows))
			for i, r := range rows {
				out[i] = map[string]any(r.Clone())
			}
			return out, nil
		}
		return values(it.Func == "array_d"), nil
	case "cnt":
		return int64(len(values(false))), nil
	case "cnt_d":
		return int64(len(values(true))), nil
	case "min", "max":
		vals := values(false)
		if len(vals) == 0 {
			return nil, nil
		}
		best := vals[0]
		for _, v := range vals[1:] {
			c := compareValues(v, best)
			if (it.Func == "min" && c < 0) || (it.Func == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	case "trs", "tcrs":
		if len(rows) == 0 {
			return nil, nil
		}
		rights := map[string]any{"update": !t.readOnly, "delete": !t.readOnly}
		if it.Func == "tcrs" {
			cols := map[string]any{}
			for _, c := range e.table.Columns {
				cols[c.Name] = !t.readOnly && !core.IsSystemColumn(c.Name)
			}
			rights["column_update"] = cols
		}
		return rights, nil
	}
	return nil, badRequest(fmt.Sprintf("unsupported function %q", it.Func))
}
