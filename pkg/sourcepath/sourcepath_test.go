package sourcepath

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcePath_JSON(t *testing.T) {
	tests := []struct {
		name string
		path SourcePath
		json string
	}{
		{
			name: "plain column",
			path: Column("text_col"),
			json: `"text_col"`,
		},
		{
			name: "outbound then column",
			path: New("name", OutboundHop("s", "main_fk_col_fkey")),
			json: `[{"outbound":["s","main_fk_col_fkey"]},"name"]`,
		},
		{
			name: "inbound then outbound",
			path: New("name", InboundHop("s", "main_tag_main_fkey"), OutboundHop("s", "main_tag_tag_fkey")),
			json: `[{"inbound":["s","main_tag_main_fkey"]},{"outbound":["s","main_tag_tag_fkey"]},"name"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.path)
			require.NoError(t, err)
			assert.JSONEq(t, tt.json, string(data))

			parsed, err := Parse([]byte(tt.json))
			require.NoError(t, err)
			assert.True(t, tt.path.Equal(parsed))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		`[]`,
		`42`,
		`[{"sideways":["s","x"]},"c"]`,
		`[{"outbound":["s"]},"c"]`,
		`[{"outbound":["s","x"]}]`,
	}
	for _, in := range inputs {
		_, err := Parse([]byte(in))
		assert.Error(t, err, in)
		assert.True(t, errors.Is(err, core.ErrInvalidFacetOperator), in)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	p := New("label", OutboundHop("s", "main_fk_col_fkey"), OutboundHop("s", "other_category_fkey"))

	token, err := Compress(p)
	require.NoError(t, err)
	assert.NotContains(t, token, "/")
	assert.NotContains(t, token, "=")

	back, err := Decompress(token)
	require.NoError(t, err)
	assert.True(t, p.Equal(back))
	assert.Equal(t, p.Key(), back.Key())
}

func TestDecompress_Corrupt(t *testing.T) {
	_, err := Decompress("!!not-base64!!")
	assert.ErrorIs(t, err, core.ErrInvalidFacetOperator)

	_, err = Decompress("AAAA")
	assert.ErrorIs(t, err, core.ErrInvalidFacetOperator)
}

func TestPrependAndTrim(t *testing.T) {
	p := Column("id")
	h := OutboundHop("s", "main_compact_main_fkey")

	withHop := p.Prepend(h)
	assert.Len(t, withHop.Hops, 1)
	assert.Empty(t, p.Hops, "prepend must not mutate the receiver")
	assert.True(t, withHop.TrimFirst().Equal(p))
}

func TestResolve(t *testing.T) {
	cat := testutil.Catalog(t)
	main := testutil.Table(t, cat, "main")

	t.Run("outbound chain", func(t *testing.T) {
		r, err := Resolve(cat, main, New("label", OutboundHop("s", "main_fk_col_fkey"), OutboundHop("s", "other_category_fkey")))
		require.NoError(t, err)
		assert.Equal(t, "s:category", r.Terminal.QualifiedName())
		assert.True(t, r.AllOutbound())
		assert.True(t, r.AtMostOne())
		assert.False(t, r.EntityMode())
	})

	t.Run("inbound fan-out", func(t *testing.T) {
		r, err := Resolve(cat, main, New("value", InboundHop("s", "child_main_fkey")))
		require.NoError(t, err)
		assert.False(t, r.AllOutbound())
		assert.False(t, r.AtMostOne())
	})

	t.Run("inbound one-to-one", func(t *testing.T) {
		r, err := Resolve(cat, main, New("bio", InboundHop("s", "profile_main_fkey")))
		require.NoError(t, err)
		assert.True(t, r.AtMostOne())
	})

	t.Run("association", func(t *testing.T) {
		r, err := Resolve(cat, main, New("id", InboundHop("s", "main_tag_main_fkey"), OutboundHop("s", "main_tag_tag_fkey")))
		require.NoError(t, err)
		assert.True(t, r.AssociationAt(0))
		assert.True(t, r.EntityMode())
		left, right := r.Steps[0].JoinColumns()
		assert.Equal(t, []string{"id"}, left)
		assert.Equal(t, []string{"main_id"}, right)
	})

	t.Run("wrong direction", func(t *testing.T) {
		_, err := Resolve(cat, main, New("id", InboundHop("s", "main_fk_col_fkey")))
		assert.ErrorIs(t, err, core.ErrInvalidInput)
	})

	t.Run("unknown constraint", func(t *testing.T) {
		_, err := Resolve(cat, main, New("id", OutboundHop("s", "nope")))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := Resolve(cat, main, Column("missing"))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})
}
