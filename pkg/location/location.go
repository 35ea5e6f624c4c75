// Package location parses and prints reference locations: a catalog-relative
// path of table references, filters, joins, facets and resets, followed by
// optional sort and cursor modifiers.
package location

import (
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
)

// API names.
const (
	APIEntity         = "entity"
	APIAttributeGroup = "attributegroup"
)

// Location is a parsed reference URI.
type Location struct {
	// Service is everything before "/catalog/" in an absolute URI.
	Service   string
	CatalogID string
	API       string
	Segments  []Segment
	Sort      []core.SortColumn
	// Before and After are mutually exclusive cursors. A nil slice means
	// the cursor is absent.
	Before []any
	After  []any
	Limit  int
}

// Parse parses an absolute URI ("<service>/catalog/<id>/<api>/<path>") or a
// bare path ("s:t/...").
func Parse(uri string) (Location, error) {
	var loc Location
	rest, query, _ := strings.Cut(uri, "?")
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return Location{}, &core.InvalidInputError{Message: "malformed query string", Cause: err}
		}
		if l := values.Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				return Location{}, &core.InvalidInputError{Message: fmt.Sprintf("bad limit %q", l)}
			}
			loc.Limit = n
		}
	}

	if i := strings.Index(rest, "/catalog/"); i >= 0 {
		loc.Service = rest[:i]
		tail := rest[i+len("/catalog/"):]
		id, after, ok := strings.Cut(tail, "/")
		if !ok || id == "" {
			return Location{}, &core.InvalidInputError{Message: fmt.Sprintf("uri %q has no catalog path", uri)}
		}
		loc.CatalogID = id
		rest = after
	}

	loc.API = APIEntity
	for _, api := range []string{APIEntity, APIAttributeGroup} {
		if strings.HasPrefix(rest, api+"/") {
			loc.API = api
			rest = strings.TrimPrefix(rest, api+"/")
			break
		}
	}

	if err := loc.parsePath(rest); err != nil {
		return Location{}, err
	}
	return loc, nil
}

// MustParse is Parse that panics on error. Intended for tests and constants.
func MustParse(uri string) Location {
	loc, err := Parse(uri)
	if err != nil {
		panic(err)
	}
	return loc
}

func (l *Location) parsePath(path string) error {
	if path == "" {
		return &core.InvalidInputError{Message: "empty path"}
	}
	parts := strings.Split(path, "/")
	var segs []string
	var modifiers []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		seg, mods, hasMods := strings.Cut(part, "@")
		if seg != "" {
			if len(modifiers) > 0 {
				return &core.InvalidInputError{Message: fmt.Sprintf("path segment %q follows a modifier", seg)}
			}
			segs = append(segs, seg)
		}
		if hasMods {
			modifiers = append(modifiers, strings.Split(mods, "@")...)
		}
	}
	if len(segs) == 0 {
		return &core.InvalidInputError{Message: "path has no table"}
	}

	root, ok, err := parseTableRef(segs[0])
	if err != nil {
		return err
	}
	if !ok {
		return &core.InvalidInputError{Message: fmt.Sprintf("path must start with schema:table, got %q", segs[0])}
	}
	l.Segments = append(l.Segments, root)

	for i, raw := range segs[1:] {
		last := i == len(segs)-2
		seg, err := parseSegment(raw, last && l.API == APIAttributeGroup)
		if err != nil {
			return err
		}
		l.Segments = append(l.Segments, seg)
	}

	for _, m := range modifiers {
		if err := l.parseModifier(m); err != nil {
			return err
		}
	}
	if l.Before != nil && l.After != nil {
		return &core.InvalidInputError{Message: "@before and @after are mutually exclusive"}
	}
	return nil
}

func parseSegment(raw string, projection bool) (Segment, error) {
	switch {
	case projection:
		return parseProjection(raw)
	case strings.HasPrefix(raw, "$"):
		return Reset{Alias: raw[1:]}, nil
	case strings.HasPrefix(raw, "*::facets::"):
		set, err := facet.Decode(strings.TrimPrefix(raw, "*::facets::"))
		if err != nil {
			return nil, err
		}
		return FacetsSeg{Set: set}, nil
	}
	if j, ok, err := parseJoin(raw); ok || err != nil {
		return j, err
	}
	if t, ok, err := parseTableRef(raw); ok || err != nil {
		return t, err
	}
	expr, err := ParseFilter(raw)
	if err != nil {
		return nil, err
	}
	return FilterSeg{Expr: expr}, nil
}

func (l *Location) parseModifier(m string) error {
	name, args, ok := strings.Cut(m, "(")
	if !ok || !strings.HasSuffix(args, ")") {
		return &core.InvalidInputError{Message: fmt.Sprintf("malformed modifier @%s", m)}
	}
	args = strings.TrimSuffix(args, ")")
	switch name {
	case "sort":
		sort, err := parseSort(args)
		if err != nil {
			return err
		}
		l.Sort = sort
	case "before":
		vals, err := parseCursor(args)
		if err != nil {
			return err
		}
		l.Before = vals
	case "after":
		vals, err := parseCursor(args)
		if err != nil {
			return err
		}
		l.After = vals
	default:
		return &core.InvalidInputError{Message: fmt.Sprintf("unknown modifier @%s", name)}
	}
	return nil
}

func parseSort(args string) ([]core.SortColumn, error) {
	var out []core.SortColumn
	for _, raw := range splitNonEmpty(args) {
		desc := strings.HasSuffix(raw, "::desc::")
		name, err := core.Decode(strings.TrimSuffix(raw, "::desc::"))
		if err != nil {
			return nil, err
		}
		if name == "" {
			return nil, &core.InvalidInputError{Message: "empty sort column"}
		}
		out = append(out, core.SortColumn{Column: name, Descending: desc})
	}
	return out, nil
}

func parseCursor(args string) ([]any, error) {
	out := []any{}
	for _, raw := range strings.Split(args, ",") {
		if raw == "::null::" {
			out = append(out, nil)
			continue
		}
		v, err := core.Decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Clone returns a deep copy of the slices held by the location.
func (l Location) Clone() Location {
	out := l
	out.Segments = slices.Clone(l.Segments)
	out.Sort = slices.Clone(l.Sort)
	if l.Before != nil {
		out.Before = slices.Clone(l.Before)
	}
	if l.After != nil {
		out.After = slices.Clone(l.After)
	}
	return out
}

// TableIndex returns the index of the segment that determines the current
// table: the last table reference or join, or the target of a later reset.
func (l Location) TableIndex() int {
	cur := -1
	for i, s := range l.Segments {
		switch seg := s.(type) {
		case TableRef, Join:
			cur = i
		case Reset:
			cur = l.aliasIndex(seg.Alias, i)
		}
	}
	return cur
}

func (l Location) aliasIndex(alias string, before int) int {
	for i := before - 1; i >= 0; i-- {
		switch seg := l.Segments[i].(type) {
		case TableRef:
			if seg.Alias == alias {
				return i
			}
		case Join:
			if seg.Alias == alias {
				return i
			}
		}
	}
	return -1
}

// contextStart returns the index of the last segment that changed the
// current table; segments after it apply to the current table.
func (l Location) contextStart() int {
	for i := len(l.Segments) - 1; i >= 0; i-- {
		switch l.Segments[i].(type) {
		case TableRef, Join, Reset:
			return i
		}
	}
	return -1
}

// Table returns the schema and name of the current table.
func (l Location) Table() (schema, table string) {
	i := l.TableIndex()
	if i < 0 {
		return "", ""
	}
	switch s := l.Segments[i].(type) {
	case TableRef:
		return s.Schema, s.Table
	case Join:
		return s.Schema, s.Table
	}
	return "", ""
}

// HasJoins reports whether the path contains a join.
func (l Location) HasJoins() bool {
	for _, s := range l.Segments {
		if _, ok := s.(Join); ok {
			return true
		}
	}
	return false
}

// Facets returns the facets that apply to the current table.
func (l Location) Facets() facet.Set {
	for _, s := range l.Segments[l.contextStart()+1:] {
		if f, ok := s.(FacetsSeg); ok {
			return f.Set
		}
	}
	return facet.Set{}
}

// Filters returns the filter expressions that apply to the current table.
func (l Location) Filters() []Expr {
	var out []Expr
	for _, s := range l.Segments[l.contextStart()+1:] {
		if f, ok := s.(FilterSeg); ok {
			out = append(out, f.Expr)
		}
	}
	return out
}

// WithFacets returns a copy whose current-table facets are replaced by set.
// An empty set removes the facets segment.
func (l Location) WithFacets(set facet.Set) Location {
	out := l.Clone()
	idx := -1
	for i := out.contextStart() + 1; i < len(out.Segments); i++ {
		if _, ok := out.Segments[i].(FacetsSeg); ok {
			idx = i
			break
		}
	}
	switch {
	case idx >= 0 && set.IsEmpty():
		out.Segments = slices.Delete(out.Segments, idx, idx+1)
	case idx >= 0:
		out.Segments[idx] = FacetsSeg{Set: set}
	case !set.IsEmpty():
		out.Segments = append(out.Segments, FacetsSeg{Set: set})
	}
	return out
}

// WithSegments returns a copy with the given segments.
func (l Location) WithSegments(segs []Segment) Location {
	out := l.Clone()
	out.Segments = slices.Clone(segs)
	return out
}

// WithSort returns a copy with a new sort and no cursor.
func (l Location) WithSort(sort []core.SortColumn) Location {
	out := l.Clone()
	out.Sort = slices.Clone(sort)
	out.Before, out.After = nil, nil
	return out
}

// WithBefore returns a copy paging backward from values.
func (l Location) WithBefore(values []any) Location {
	out := l.Clone()
	out.Before = append([]any{}, values...)
	out.After = nil
	return out
}

// WithAfter returns a copy paging forward from values.
func (l Location) WithAfter(values []any) Location {
	out := l.Clone()
	out.After = append([]any{}, values...)
	out.Before = nil
	return out
}

// WithoutCursor returns a copy with no paging cursor.
func (l Location) WithoutCursor() Location {
	out := l.Clone()
	out.Before, out.After = nil, nil
	return out
}

// Path renders the segments only.
func (l Location) Path() string {
	parts := make([]string, len(l.Segments))
	for i, s := range l.Segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, "/")
}

// Modifiers renders the sort and cursor modifiers, each with a leading "/".
func (l Location) Modifiers() string {
	var b strings.Builder
	if len(l.Sort) > 0 {
		b.WriteString("/@sort(")
		b.WriteString(FormatSort(l.Sort))
		b.WriteString(")")
	}
	if l.Before != nil {
		b.WriteString("/@before(" + FormatCursor(l.Before) + ")")
	}
	if l.After != nil {
		b.WriteString("/@after(" + FormatCursor(l.After) + ")")
	}
	return b.String()
}

// String renders the full location.
func (l Location) String() string {
	var b strings.Builder
	if l.CatalogID != "" {
		b.WriteString(l.Service)
		b.WriteString("/catalog/")
		b.WriteString(l.CatalogID)
		b.WriteString("/")
		api := l.API
		if api == "" {
			api = APIEntity
		}
		b.WriteString(api)
		b.WriteString("/")
	}
	b.WriteString(l.Path())
	b.WriteString(l.Modifiers())
	if l.Limit > 0 {
		b.WriteString("?limit=")
		b.WriteString(strconv.Itoa(l.Limit))
	}
	return b.String()
}

// FormatSort renders a sort list without the @sort wrapper.
func FormatSort(sort []core.SortColumn) string {
	parts := make([]string, len(sort))
	for i, s := range sort {
		parts[i] = core.Encode(s.Column)
		if s.Descending {
			parts[i] += "::desc::"
		}
	}
	return strings.Join(parts, ",")
}

// FormatCursor renders cursor values without the modifier wrapper.
func FormatCursor(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = "::null::"
			continue
		}
		parts[i] = core.EncodeValue(v)
	}
	return strings.Join(parts, ",")
}
