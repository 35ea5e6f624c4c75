package compile

import (
	"testing"

	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	toOther    = sourcepath.OutboundHop("s", "main_fk_col_fkey")
	toCategory = sourcepath.OutboundHop("s", "other_category_fkey")
	toMainTag  = sourcepath.InboundHop("s", "main_tag_main_fkey")
	toTag      = sourcepath.OutboundHop("s", "main_tag_tag_fkey")
)

func request(t *testing.T, uri string) Request {
	t.Helper()
	return Request{
		Catalog:  testutil.Catalog(t),
		Location: location.MustParse(uri),
		Logger:   testutil.NewTestLogger(t),
	}
}

func TestCompile_DirectWithFacet(t *testing.T) {
	req := request(t, "s:main")
	facets := facet.NewSet(
		facet.Definition{Source: sourcepath.Column("id"), Choices: []any{1}},
		facet.Definition{Source: sourcepath.Column("int_col"), Ranges: []facet.Range{{Min: -2}}},
	)
	req.Location = req.Location.WithFacets(facets)

	res, err := Compile(req)
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, res.Mode)
	assert.Equal(t, "s:main/id=1/int_col::gt::-2", res.Path)

	req.Location = req.Location.WithFacets(facets.With(facet.Definition{
		Source: sourcepath.Column("text_col"),
		Search: []string{"x"},
	}))
	res, err = Compile(req)
	require.NoError(t, err)
	assert.Equal(t, "s:main/id=1/int_col::gt::-2/text_col::ciregexp::x", res.Path)
	assert.Equal(t, "entity/s:main/id=1/int_col::gt::-2/text_col::ciregexp::x/@sort(RID)?limit=10", res.URL(10))
}

func TestCompile_SortCompleteness(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want []string
	}{
		{"default sort is the shortest key", "s:main", []string{"RID"}},
		{"non-key column gets key suffix", "s:main/@sort(text_col::desc::)", []string{"text_col", "RID"}},
		{"not-null key needs no suffix", "s:main/@sort(id)", []string{"id"}},
		{"duplicates collapse", "s:main/@sort(int_col,int_col::desc::)", []string{"int_col", "RID"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Compile(request(t, tt.uri))
			require.NoError(t, err)
			var got []string
			for _, k := range res.Sort {
				got = append(got, k.Output)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_SortPrefersNotNullKey(t *testing.T) {
	coded := &core.Table{
		Schema: "s",
		Name:   "coded",
		Columns: []core.Column{
			{Name: "RID"},
			{Name: "code", Type: "text", Nullable: true},
			{Name: "a", Type: "int4"},
			{Name: "b", Type: "int4"},
		},
		Keys: []core.Key{
			{Name: core.ConstraintName{Schema: "s", Name: "coded_code_key"}, Columns: []string{"code"}},
			{Name: core.ConstraintName{Schema: "s", Name: "coded_pkey"}, Columns: []string{"a", "b"}},
		},
	}
	cat, err := core.NewCatalog("1", coded)
	require.NoError(t, err)

	tests := []struct {
		uri  string
		want string
	}{
		{"s:coded", "s:coded/@sort(a,b)"},
		{"s:coded/@sort(code)", "s:coded/@sort(code,a,b)"},
		{"s:coded/@sort(b::desc::)", "s:coded/@sort(b::desc::,a)"},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			res, err := Compile(Request{Catalog: cat, Location: location.MustParse(tt.uri)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.String())
		})
	}
}

func TestCompile_SortErrors(t *testing.T) {
	for _, uri := range []string{
		"s:main/@sort(json_col)",
		"s:main/@sort(missing)",
	} {
		_, err := Compile(request(t, uri))
		assert.ErrorIs(t, err, core.ErrInvalidSortCriteria, uri)
	}

	req := request(t, "s:main/@sort(children)")
	req.Columns = []Column{{Name: "children", Source: sourcepath.New("value", sourcepath.InboundHop("s", "child_main_fkey"))}}
	_, err := Compile(req)
	assert.ErrorIs(t, err, core.ErrInvalidSortCriteria)
}

func TestCompile_CursorLength(t *testing.T) {
	_, err := Compile(request(t, "s:main/@sort(id)/@after(1,2)"))
	var pageErr *core.InvalidPageCriteriaError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 1, pageErr.Expected)
	assert.Equal(t, 2, pageErr.Got)

	res, err := Compile(request(t, "s:main/@sort(text_col)/@before(row%2002,M-2)"))
	require.NoError(t, err)
	assert.Equal(t, "s:main/@sort(text_col,RID)/@before(row%2002,M-2)", res.String())
}

func TestCompile_UnknownTable(t *testing.T) {
	_, err := Compile(request(t, "s:nope"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCompile_Projected(t *testing.T) {
	req := request(t, "s:main")
	req.Columns = []Column{
		{Name: "other_name", Source: sourcepath.New("name", toOther)},
		{Name: "category", Source: sourcepath.New("label", toOther, toCategory)},
	}

	res, err := Compile(req)
	require.NoError(t, err)

	assert.Equal(t, ModeProjected, res.Mode)
	assert.Equal(t, location.APIAttributeGroup, res.API())
	assert.Equal(t,
		"M:=s:main/F1:=left(fk_col)=(s:other:id)/F2:=left(category_id)=(s:category:id)/$M"+
			"/RID;M:=array_d(M:*),F1:=F1:name,F2:=F2:label",
		res.Path)
	assert.Equal(t, map[string]string{"M": "s:main", "F1": "s:other", "F2": "s:category"}, res.Aliases)

	out, ok := res.Output("category")
	require.True(t, ok)
	assert.Equal(t, "F2", out.Name)
	assert.True(t, out.Scalar)
}

func TestCompile_ColumnsSharingJoin(t *testing.T) {
	req := request(t, "s:main")
	req.Columns = []Column{
		{Name: "other_name", Source: sourcepath.New("name", toOther)},
		{Name: "other_cat", Source: sourcepath.New("category_id", toOther)},
		{Name: "other_name_again", Source: sourcepath.New("name", toOther)},
	}

	res, err := Compile(req)
	require.NoError(t, err)

	assert.Equal(t,
		"M:=s:main/F1:=left(fk_col)=(s:other:id)/$M/RID;M:=array_d(M:*),F1:=F1:name,F1_1:=F1:category_id",
		res.Path)

	names := make(map[string]string)
	for _, o := range res.Outputs {
		assert.Equal(t, "F1", o.Alias)
		assert.True(t, o.Scalar)
		names[o.Column] = o.Name
	}
	assert.Equal(t, map[string]string{
		"other_name":       "F1",
		"other_cat":        "F1_1",
		"other_name_again": "F1",
	}, names)
}

func TestCompile_DeterministicAliasing(t *testing.T) {
	req := request(t, "s:main/@sort(other_name)")
	req.Columns = []Column{
		{Name: "category", Source: sourcepath.New("label", toOther, toCategory)},
		{Name: "other_name", Source: sourcepath.New("name", toOther)},
	}

	first, err := Compile(req)
	require.NoError(t, err)
	for range 5 {
		again, err := Compile(req)
		require.NoError(t, err)
		assert.Equal(t, first.String(), again.String())
	}
	// The shared prefix is bound once.
	assert.Equal(t, "s:other", first.Aliases["F1"])
	assert.Equal(t, "s:category", first.Aliases["F2"])
	assert.Len(t, first.Aliases, 3)
}

func TestCompile_JoinSort(t *testing.T) {
	req := request(t, "s:main/@sort(other_name::desc::)")
	req.Columns = []Column{{Name: "other_name", Source: sourcepath.New("name", toOther)}}

	res, err := Compile(req)
	require.NoError(t, err)

	assert.Equal(t, ModeProjected, res.Mode)
	assert.Equal(t,
		"M:=s:main/F1:=left(fk_col)=(s:other:id)/$M/RID,s0:=F1:name;M:=array_d(M:*),F1:=F1:name"+
			"/@sort(s0::desc::,RID)",
		res.String())
	assert.Equal(t, []any{"one", "M-1"}, res.CursorValues(core.Row{"s0": "one", "RID": "M-1"}))
}

func TestCompile_AssociationAndRights(t *testing.T) {
	req := request(t, "s:main")
	req.Columns = []Column{{Name: "tag_count", Source: sourcepath.New("id", toMainTag, toTag), Aggregate: "cnt"}}
	req.RightsSummary = true
	req.Capabilities = core.Capabilities{RightsSummary: true}

	res, err := Compile(req)
	require.NoError(t, err)

	assert.Equal(t,
		"M:=s:main/A1:=left(id)=(s:main_tag:main_id)/F1:=left(tag_id)=(s:tag:id)/$M"+
			"/RID;M:=array_d(M:*),F1:=cnt(F1:id),M_trs:=trs(M:RID),M_tcrs:=tcrs(M:RID),A1_trs:=trs(A1:RID)",
		res.Path)
	assert.Equal(t, map[string]string{"M": "M_trs", "A1": "A1_trs"}, res.Rights)
	assert.Equal(t, "M_tcrs", res.ColumnRights)

	t.Run("without the capability", func(t *testing.T) {
		req := request(t, "s:main")
		req.RightsSummary = true
		res, err := Compile(req)
		require.NoError(t, err)
		assert.Equal(t, ModeDirect, res.Mode)
		assert.Equal(t, "s:main", res.Path)
	})
}

func TestCompile_UnknownAggregate(t *testing.T) {
	req := request(t, "s:main")
	req.Columns = []Column{{Name: "x", Source: sourcepath.New("name", toOther), Aggregate: "median"}}
	_, err := Compile(req)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestCompile_FacetThroughJoin(t *testing.T) {
	set := facet.NewSet(facet.Definition{Source: sourcepath.New("name", toOther), Choices: []any{"one"}})

	t.Run("adds the main alias", func(t *testing.T) {
		req := request(t, "s:main")
		req.Location = req.Location.WithFacets(set)
		res, err := Compile(req)
		require.NoError(t, err)
		assert.Equal(t, ModeDirect, res.Mode)
		assert.Equal(t, "M:=s:main/(fk_col)=(s:other:id)/name=one/$M", res.Path)
	})

	t.Run("keeps an existing alias", func(t *testing.T) {
		req := request(t, "T:=s:main/(fk_col)=(s:other:id)/$T")
		req.Location = req.Location.WithFacets(set)
		res, err := Compile(req)
		require.NoError(t, err)
		assert.Equal(t, "T:=s:main/(fk_col)=(s:other:id)/$T/(fk_col)=(s:other:id)/name=one/$T", res.Path)
	})

	t.Run("unknown source key", func(t *testing.T) {
		req := request(t, "s:main")
		req.Location = req.Location.WithFacets(facet.NewSet(facet.Definition{SourceKey: "nope", Choices: []any{1}}))
		_, err := Compile(req)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestBatchValues(t *testing.T) {
	values := []any{int64(1), int64(2), int64(3)}

	t.Run("quantified", func(t *testing.T) {
		batches, err := BatchValues("id", values, core.Capabilities{QuantifiedValueLists: true}, 0)
		require.NoError(t, err)
		assert.Equal(t, []Batch{{Filter: "id=any(1,2,3)", Rows: []int{0, 1, 2}}}, batches)
	})

	t.Run("disjunction", func(t *testing.T) {
		batches, err := BatchValues("id", values, core.Capabilities{}, 0)
		require.NoError(t, err)
		assert.Equal(t, []Batch{{Filter: "id=1;id=2;id=3", Rows: []int{0, 1, 2}}}, batches)
	})

	t.Run("split on budget", func(t *testing.T) {
		batches, err := BatchValues("id", values, core.Capabilities{QuantifiedValueLists: true}, len("id=any(1,2)"))
		require.NoError(t, err)
		assert.Equal(t, []Batch{
			{Filter: "id=any(1,2)", Rows: []int{0, 1}},
			{Filter: "id=any(3)", Rows: []int{2}},
		}, batches)
	})

	t.Run("single value over budget", func(t *testing.T) {
		_, err := BatchValues("id", []any{int64(123456)}, core.Capabilities{}, 5)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("null key", func(t *testing.T) {
		_, err := BatchValues("id", []any{nil}, core.Capabilities{}, 0)
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})
}

func TestBatchKeyFilters_Composite(t *testing.T) {
	rows := []core.Row{
		{"main_id": int64(1), "tag_id": int64(2)},
		{"main_id": int64(3), "tag_id": int64(4)},
	}
	batches, err := BatchKeyFilters([]string{"main_id", "tag_id"}, rows, core.Capabilities{QuantifiedValueLists: true}, 0)
	require.NoError(t, err)
	assert.Equal(t, []Batch{{
		Filter: "(main_id=1&tag_id=2);(main_id=3&tag_id=4)",
		Rows:   []int{0, 1},
	}}, batches)
}
