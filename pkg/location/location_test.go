package location

import (
	"testing"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		uri  string
	}{
		{"table only", "s:main"},
		{"filters", "s:main/id=1/int_col::gt::-2"},
		{"negation and groups", "s:main/!text_col::null::/(int_col::geq::1&int_col::leq::5);id=7"},
		{"join with alias", "M:=s:main/id=1/T:=left(fk_col)=(s:other:id)/$M"},
		{"quantified", "s:main/id=any(1,2,3)"},
		{"sort and cursor", "s:main/@sort(text_col::desc::,id)/@after(row%2001,::null::)"},
		{"absolute", "https://example.org/ermrest/catalog/1/entity/s:main/id=1/@sort(id)?limit=25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := Parse(tt.uri)
			require.NoError(t, err)
			assert.Equal(t, tt.uri, loc.String())
		})
	}
}

func TestParse_Components(t *testing.T) {
	loc, err := Parse("https://example.org/ermrest/catalog/7/entity/s:main/id=1/(fk_col)=(s:other:id)/name=x/@sort(name::desc::)/@before(x,2)")
	require.NoError(t, err)

	assert.Equal(t, "https://example.org/ermrest", loc.Service)
	assert.Equal(t, "7", loc.CatalogID)
	assert.Equal(t, APIEntity, loc.API)
	schema, table := loc.Table()
	assert.Equal(t, "s", schema)
	assert.Equal(t, "other", table)
	assert.True(t, loc.HasJoins())
	assert.Equal(t, []core.SortColumn{{Column: "name", Descending: true}}, loc.Sort)
	assert.Equal(t, []any{"x", "2"}, loc.Before)
	assert.Nil(t, loc.After)

	filters := loc.Filters()
	require.Len(t, filters, 1)
	assert.Equal(t, Pred{Column: "name", Op: OpEq, Value: "x"}, filters[0])
}

func TestParse_AttachedModifiers(t *testing.T) {
	loc, err := Parse("s:main/id=1@sort(id)@after(5)")
	require.NoError(t, err)
	assert.Equal(t, []any{"5"}, loc.After)
	assert.Equal(t, "s:main/id=1/@sort(id)/@after(5)", loc.String())
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		"",
		"main",
		"s:main/id",
		"s:main/col::bogus::1",
		"s:main/(id=1",
		"s:main/@sort(id)/id=1",
		"s:main/@before(1)/@after(2)",
		"s:main/@frobnicate(1)",
		"s:main/*::facets::corrupt",
		"s:main/(a,b)=(s:other:id)",
	}
	for _, in := range inputs {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestParse_Projection(t *testing.T) {
	loc, err := Parse("attributegroup/M:=s:main/F1:=left(fk_col)=(s:other:id)/$M/id,s0:=F1:name;M:=array_d(M:*),F1:=array_d(F1:*)")
	require.NoError(t, err)
	assert.Equal(t, APIAttributeGroup, loc.API)

	proj, ok := loc.Segments[len(loc.Segments)-1].(Projection)
	require.True(t, ok)
	assert.Equal(t, []Item{{Column: "id"}, {Alias: "s0", Source: "F1", Column: "name"}}, proj.Keys)
	assert.Equal(t, []Item{
		{Alias: "M", Func: "array_d", Source: "M", Column: "*"},
		{Alias: "F1", Func: "array_d", Source: "F1", Column: "*"},
	}, proj.Values)
	assert.Equal(t, "M:=s:main/F1:=left(fk_col)=(s:other:id)/$M/id,s0:=F1:name;M:=array_d(M:*),F1:=array_d(F1:*)", loc.Path())
}

func TestWithFacets(t *testing.T) {
	loc := MustParse("s:main/id=1")
	set := facet.NewSet(facet.Definition{Source: sourcepath.Column("text_col"), Search: []string{"x"}})

	withFacets := loc.WithFacets(set)
	require.Len(t, withFacets.Segments, 3)
	assert.True(t, withFacets.Facets().Equal(set))
	assert.Len(t, loc.Segments, 2, "receiver must not change")

	back, err := Parse(withFacets.String())
	require.NoError(t, err)
	assert.True(t, back.Facets().Equal(set))

	cleared := withFacets.WithFacets(facet.Set{})
	assert.Equal(t, "s:main/id=1", cleared.String())
}

func TestCursorBuilders(t *testing.T) {
	loc := MustParse("s:main/@sort(id)")
	after := loc.WithAfter([]any{int64(10)})
	assert.Equal(t, "s:main/@sort(id)/@after(10)", after.String())

	before := after.WithBefore([]any{int64(11)})
	assert.Nil(t, before.After)
	assert.Equal(t, "s:main/@sort(id)/@before(11)", before.String())

	assert.Equal(t, "s:main/@sort(text_col)", before.WithSort([]core.SortColumn{{Column: "text_col"}}).String())
}

func TestParseFilter(t *testing.T) {
	expr, err := ParseFilter("a=1;b::geq::2&!c::null::")
	require.NoError(t, err)
	assert.Equal(t, Or{
		Pred{Column: "a", Op: OpEq, Value: "1"},
		And{Pred{Column: "b", Op: OpGeq, Value: "2"}, Not{Expr: Pred{Column: "c", Op: OpNull}}},
	}, expr)
	assert.Equal(t, "a=1;(b::geq::2&!c::null::)", expr.String())

	renamed := RenameColumns(expr, func(c string) string { return "x_" + c })
	assert.Equal(t, "x_a=1;(x_b::geq::2&!x_c::null::)", renamed.String())
	assert.Len(t, Preds(expr), 3)
}
