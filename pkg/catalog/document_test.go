package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
id: "7"
capabilities:
  quantified_value_lists: true
tables:
  - schema: lib
    name: book
    columns:
      - {name: RID, type: ermrest_rid}
      - {name: id, type: int4}
      - {name: title, type: text, nullable: true}
      - {name: author_id, type: int4, nullable: true}
    keys:
      - {name: book_pkey, columns: [id]}
    foreign_keys:
      - name: book_author_fkey
        columns: [author_id]
        references: {schema: people, table: author, columns: [id]}
    row_order:
      - {column: title, descending: true}
    row_name: "{{ title }}"
    sources:
      author: [{outbound: [lib, book_author_fkey]}, name]
    alternatives:
      compact: lib:book_card
  - schema: lib
    name: book_card
    alternative_of: lib:book
    columns:
      - {name: book, type: int4}
    keys:
      - {name: book_card_pkey, columns: [book]}
    foreign_keys:
      - {name: book_card_book_fkey, columns: [book], references: {table: book, columns: [id]}}
  - schema: people
    name: author
    columns:
      - {name: id, type: int4}
      - {name: name, type: text}
    keys:
      - {name: author_pkey, columns: [id]}
`

func TestParseAndBuild(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.True(t, doc.Capabilities.QuantifiedValueLists)

	cat, err := doc.Build()
	require.NoError(t, err)
	assert.Equal(t, "7", cat.ID)

	book, err := cat.Table("lib", "book")
	require.NoError(t, err)
	assert.Equal(t, []core.SortColumn{{Column: "title", Descending: true}}, book.DefaultSort())
	assert.Equal(t, "{{ title }}", book.RowName)

	title, err := book.Column("title")
	require.NoError(t, err)
	assert.True(t, title.Nullable)
	assert.Equal(t, 3, title.Position)

	fk, ok := book.ForeignKey(core.ConstraintName{Schema: "lib", Name: "book_author_fkey"})
	require.True(t, ok)
	assert.Equal(t, "people:author", fk.To().QualifiedName())

	card, err := cat.Table("lib", "book_card")
	require.NoError(t, err)
	assert.Same(t, card, cat.Alternate(book, core.ContextCompactBrief))
	assert.Same(t, book, cat.Base(card))
	link, ok := card.AlternateLink()
	require.True(t, ok)
	assert.Equal(t, "lib:book", link.To().QualifiedName(), "unqualified reference stays in the table's schema")

	p, err := sourcepath.Parse(book.SourceDefinitions["author"])
	require.NoError(t, err)
	assert.Equal(t, sourcepath.New("name", sourcepath.OutboundHop("lib", "book_author_fkey")), p)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", "tables: [{schema: s, columns: []}]"},
		{"unknown context", `tables: [{schema: s, name: t, alternatives: {sideways: "s:t"}}]`},
		{"dangling foreign key", `
tables:
  - schema: s
    name: t
    columns: [{name: a, type: int4}]
    foreign_keys: [{name: t_fkey, columns: [a], references: {table: nope, columns: [id]}}]
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			_, err = doc.Build()
			assert.ErrorIs(t, err, core.ErrInvalidInput)
		})
	}

	_, err := Parse([]byte("tables: {"))
	assert.Error(t, err)
}

func TestFromCatalog_RoundTrip(t *testing.T) {
	cat := testutil.Catalog(t)
	caps := core.Capabilities{RightsSummary: true}

	data, err := FromCatalog(cat, caps).Marshal()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	back, gotCaps, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, caps, gotCaps)
	require.Len(t, back.Tables(), len(cat.Tables()))

	for _, want := range cat.Tables() {
		got, err := back.Table(want.Schema, want.Name)
		require.NoError(t, err)
		require.Len(t, got.Columns, len(want.Columns))
		for i, c := range want.Columns {
			assert.Equal(t, c.Name, got.Columns[i].Name)
			assert.Equal(t, c.Type, got.Columns[i].Type)
			assert.Equal(t, c.Nullable, got.Columns[i].Nullable)
			assert.Equal(t, c.Unsortable, got.Columns[i].Unsortable)
		}
		assert.Equal(t, want.Keys, got.Keys, want.QualifiedName())
		assert.Equal(t, want.Alternatives, got.Alternatives, want.QualifiedName())
		assert.Equal(t, len(want.ForeignKeys), len(got.ForeignKeys), want.QualifiedName())
	}

	main := testutil.Table(t, back, "main")
	assert.Same(t, testutil.Table(t, back, "main_compact"), back.Alternate(main, core.ContextCompact))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
