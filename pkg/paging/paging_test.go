package paging

import (
	"context"
	"testing"

	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
	"github.com/leapstack-labs/leapref/pkg/transports/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, n int, uri string, cols ...compile.Column) (*memory.Transport, Source) {
	t.Helper()
	cat := testutil.Catalog(t)
	tr := memory.New(cat, testutil.Rows(n), memory.WithLogger(testutil.NewTestLogger(t)))
	base := location.MustParse(uri)
	src := SourceFunc(func(cur Cursor) (*compile.Result, error) {
		loc := base
		switch {
		case cur.Before != nil:
			loc = loc.WithBefore(cur.Before)
		case cur.After != nil:
			loc = loc.WithAfter(cur.After)
		}
		return compile.Compile(compile.Request{
			Catalog:       cat,
			Location:      loc,
			Columns:       cols,
			Capabilities:  tr.Capabilities(),
			RightsSummary: len(cols) > 0,
		})
	})
	return tr, src
}

func pageIDs(p *Page) []int64 {
	out := make([]int64, len(p.Rows))
	for i, r := range p.Rows {
		out[i] = r.Data["id"].(int64)
	}
	return out
}

func span(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestFetchPage_ExactFit(t *testing.T) {
	tr, src := setup(t, 10, "s:main/@sort(id)")

	page, err := FetchPage(context.Background(), tr, src, Cursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, span(1, 10), pageIDs(page))
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrevious)
	assert.Equal(t, []string{"GET entity/s:main/@sort(id)?limit=11"}, tr.Requests())
}

func TestFetchPage_OneExtraRow(t *testing.T) {
	tr, src := setup(t, 11, "s:main/@sort(id)")
	ctx := context.Background()

	first, err := FetchPage(ctx, tr, src, Cursor{}, 10)
	require.NoError(t, err)
	assert.Equal(t, span(1, 10), pageIDs(first))
	assert.True(t, first.HasNext)
	assert.False(t, first.HasPrevious)

	next, ok := first.Next()
	require.True(t, ok)
	assert.Equal(t, []any{int64(10)}, next.After)

	second, err := FetchPage(ctx, tr, src, next, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, pageIDs(second))
	assert.True(t, second.HasPrevious)
	assert.False(t, second.HasNext)
	_, ok = second.Next()
	assert.False(t, ok)

	prev, ok := second.Previous()
	require.True(t, ok)
	assert.Equal(t, []any{int64(11)}, prev.Before)

	tr.ResetRequests()
	back, err := FetchPage(ctx, tr, src, prev, 10)
	require.NoError(t, err)
	assert.Equal(t, span(1, 10), pageIDs(back))
	assert.True(t, back.HasNext)
	assert.False(t, back.HasPrevious)
	assert.Equal(t, []string{
		"GET entity/s:main/@sort(id)/@before(11)?limit=11",
		"GET entity/s:main/@sort(id)?limit=11",
	}, tr.Requests(), "a backward page without a previous page is read again from the start")
}

func TestFetchPage_Backward(t *testing.T) {
	tr, src := setup(t, 25, "s:main/@sort(id)")

	page, err := FetchPage(context.Background(), tr, src, Cursor{Before: []any{int64(21)}}, 10)
	require.NoError(t, err)
	assert.Equal(t, span(11, 20), pageIDs(page))
	assert.True(t, page.HasPrevious)
	assert.True(t, page.HasNext)
}

func TestFetchPage_WalkWithoutRevisits(t *testing.T) {
	for _, uri := range []string{"s:main/@sort(id)", "s:main/@sort(int_col::desc::)", "s:main"} {
		t.Run(uri, func(t *testing.T) {
			tr, src := setup(t, 25, uri)
			ctx := context.Background()

			seen := make(map[int64]bool)
			cur := Cursor{}
			for range 10 {
				page, err := FetchPage(ctx, tr, src, cur, 7)
				require.NoError(t, err)
				for _, id := range pageIDs(page) {
					assert.False(t, seen[id], "row %d visited twice", id)
					seen[id] = true
				}
				next, ok := page.Next()
				if !ok {
					break
				}
				cur = next
			}
			assert.Len(t, seen, 25)
		})
	}
}

func TestFetchPage_ProjectedTuples(t *testing.T) {
	tr, src := setup(t, 3, "s:main/@sort(id)", compile.Column{
		Name:   "other_name",
		Source: sourcepath.New("name", sourcepath.OutboundHop(testutil.Schema, "main_fk_col_fkey")),
	})

	page, err := FetchPage(context.Background(), tr, src, Cursor{}, 2)
	require.NoError(t, err)
	require.Equal(t, compile.ModeProjected, page.Result.Mode)
	require.Len(t, page.Rows, 2)

	first := page.Rows[0]
	assert.Equal(t, int64(1), first.Data["id"])
	assert.Equal(t, "two", first.Linked["other_name"])
	assert.Equal(t, map[string]bool{"update": true, "delete": true}, first.Rights[compile.MainAlias])
	assert.True(t, first.CanUpdate)
	assert.True(t, first.CanDelete)

	next, ok := page.Next()
	require.True(t, ok)
	assert.Equal(t, []any{int64(2)}, next.After)
}

func TestFetchPage_Errors(t *testing.T) {
	tr, src := setup(t, 3, "s:main")
	ctx := context.Background()

	_, err := FetchPage(ctx, tr, src, Cursor{}, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = FetchPage(ctx, tr, src, Cursor{Before: []any{1}, After: []any{2}}, 5)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = FetchPage(ctx, tr, src, Cursor{After: []any{1, 2}}, 5)
	assert.ErrorIs(t, err, core.ErrInvalidPageCriteria)
}

func TestNextCursor_Unsorted(t *testing.T) {
	page := &Page{Rows: []Tuple{{Raw: core.Row{"id": 1}}}, HasNext: true, Result: &compile.Result{}}
	assert.Nil(t, NextCursor(page, Forward))
	_, ok := page.Next()
	assert.False(t, ok)
}
