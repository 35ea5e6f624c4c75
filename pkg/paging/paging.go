// Package paging fetches pages of a compiled reference by over-fetching one
// row, and derives the cursors of the neighbouring pages.
package paging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
)

// Direction is the paging direction relative to the current page.
type Direction int

// Direction constants.
const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return "unknown"
	}
}

// Cursor positions a page. Before and After are mutually exclusive; both nil
// is the first page.
type Cursor struct {
	Before []any
	After  []any
}

// IsZero reports whether the cursor selects the first page.
func (c Cursor) IsZero() bool { return c.Before == nil && c.After == nil }

// Source compiles the request for a page at the given cursor.
type Source interface {
	Compile(cur Cursor) (*compile.Result, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(cur Cursor) (*compile.Result, error)

// Compile implements Source.
func (f SourceFunc) Compile(cur Cursor) (*compile.Result, error) { return f(cur) }

// Tuple is one row of a page.
type Tuple struct {
	// Data holds the main table's values.
	Data core.Row
	// Linked holds pseudo-column values keyed by column name.
	Linked map[string]any
	// Rights holds the table rights summary of each alias that has one.
	Rights map[string]map[string]bool
	// Raw is the row as returned by the service.
	Raw       core.Row
	CanUpdate bool
	CanDelete bool
}

// Page is a fetched page.
type Page struct {
	Rows        []Tuple
	HasPrevious bool
	HasNext     bool
	// Result is the compiled request the rows came from.
	Result *compile.Result
}

// Options tunes FetchPage.
type Options struct {
	Logger *slog.Logger
}

// FetchPage requests limit+1 rows at cur and trims the extra row to decide
// whether a neighbouring page exists. A backward page that comes back short,
// or without a previous page, is fetched again as the first page.
func FetchPage(ctx context.Context, tr core.Transport, src Source, cur Cursor, limit int, opts ...Options) (*Page, error) {
	if limit < 1 {
		return nil, &core.InvalidInputError{Message: fmt.Sprintf("page limit must be positive, got %d", limit)}
	}
	if cur.Before != nil && cur.After != nil {
		return nil, &core.InvalidInputError{Message: "before and after cursors are mutually exclusive"}
	}
	logger := slog.New(slog.DiscardHandler)
	if len(opts) > 0 && opts[0].Logger != nil {
		logger = opts[0].Logger
	}

	page, err := fetch(ctx, tr, src, cur, limit)
	if err != nil {
		return nil, err
	}
	if cur.Before != nil && (len(page.Rows) < limit || !page.HasPrevious) {
		logger.Debug("backward page short, reading first page",
			slog.Int("rows", len(page.Rows)),
			slog.Int("limit", limit))
		return fetch(ctx, tr, src, Cursor{}, limit)
	}
	return page, nil
}

func fetch(ctx context.Context, tr core.Transport, src Source, cur Cursor, limit int) (*Page, error) {
	res, err := src.Compile(cur)
	if err != nil {
		return nil, err
	}
	rows, err := tr.Get(ctx, res.URL(limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read page: %w", err)
	}

	page := &Page{Result: res}
	if cur.Before != nil {
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
			page.HasPrevious = true
		}
		page.HasNext = true
	} else {
		if len(rows) > limit {
			rows = rows[:limit]
			page.HasNext = true
		}
		page.HasPrevious = cur.After != nil
	}

	page.Rows = make([]Tuple, len(rows))
	for i, row := range rows {
		page.Rows[i] = NewTuple(res, row)
	}
	return page, nil
}

// NewTuple splits a service row according to the compiled result.
func NewTuple(res *compile.Result, row core.Row) Tuple {
	t := Tuple{Raw: row, CanUpdate: true, CanDelete: true}
	if res.Mode == compile.ModeDirect {
		t.Data = row
		return t
	}

	t.Data = core.Row{}
	if main, ok := row[compile.MainAlias].([]any); ok && len(main) > 0 {
		if m, ok := main[0].(map[string]any); ok {
			t.Data = m
		}
	}
	t.Linked = make(map[string]any, len(res.Outputs))
	for _, o := range res.Outputs {
		t.Linked[o.Column] = row[o.Name]
	}
	for alias, name := range res.Rights {
		rights, ok := row[name].(map[string]any)
		if !ok {
			continue
		}
		if t.Rights == nil {
			t.Rights = make(map[string]map[string]bool, len(res.Rights))
		}
		summary := make(map[string]bool, len(rights))
		for k, v := range rights {
			b, _ := v.(bool)
			summary[k] = b
		}
		t.Rights[alias] = summary
	}
	if main, ok := t.Rights[compile.MainAlias]; ok {
		t.CanUpdate = main["update"]
		t.CanDelete = main["delete"]
	}
	return t
}

// NextCursor returns the cursor values that continue past the page in dir:
// the last row's sort values going forward, the first row's going backward.
// It returns nil for an empty page or an unsorted result.
func NextCursor(p *Page, dir Direction) []any {
	if p == nil || p.Result == nil || len(p.Result.Sort) == 0 || len(p.Rows) == 0 {
		return nil
	}
	row := p.Rows[len(p.Rows)-1]
	if dir == Backward {
		row = p.Rows[0]
	}
	return p.Result.CursorValues(row.Raw)
}

// Next returns the cursor of the following page, if there is one.
func (p *Page) Next() (Cursor, bool) {
	if !p.HasNext {
		return Cursor{}, false
	}
	vals := NextCursor(p, Forward)
	if vals == nil {
		return Cursor{}, false
	}
	return Cursor{After: vals}, true
}

// Previous returns the cursor of the preceding page, if there is one.
func (p *Page) Previous() (Cursor, bool) {
	if !p.HasPrevious {
		return Cursor{}, false
	}
	vals := NextCursor(p, Backward)
	if vals == nil {
		return Cursor{}, false
	}
	return Cursor{Before: vals}, true
}
