package testutil

import (
	"fmt"
	"testing"

	"github.com/leapstack-labs/leapref/pkg/core"
)

// Schema is the schema every fixture table lives in.
const Schema = "s"

func sys() []core.Column {
	return []core.Column{
		{Name: "RID", Type: "ermrest_rid"},
		{Name: "RCT", Type: "ermrest_rct"},
		{Name: "RMT", Type: "ermrest_rmt"},
	}
}

func ridKey(table string) core.Key {
	return core.Key{Name: core.ConstraintName{Schema: Schema, Name: table + "_RIDkey1"}, Columns: []string{"RID"}}
}

func idKey(table string) core.Key {
	return core.Key{Name: core.ConstraintName{Schema: Schema, Name: table + "_pkey"}, Columns: []string{"id"}}
}

func fk(name string, cols []string, toTable string, toCols []string) *core.ForeignKey {
	return &core.ForeignKey{
		Name:      core.ConstraintName{Schema: Schema, Name: name},
		Columns:   cols,
		ToSchema:  Schema,
		ToTable:   toTable,
		ToColumns: toCols,
	}
}

// FixtureTables builds a fresh copy of the fixture schema:
//
//	main ──fk_col──▶ other ──category_id──▶ category
//	main ◀──main_id── child            (fan-out)
//	main ◀──main_id── profile          (one-to-one)
//	main ◀── main_tag ──▶ tag          (pure binary association)
//	main_compact, main_detailed        (alternates of main)
func FixtureTables() []*core.Table {
	main := &core.Table{
		Schema: Schema,
		Name:   "main",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "text_col", Type: "text", Nullable: true},
			core.Column{Name: "int_col", Type: "int4", Nullable: true},
			core.Column{Name: "float_col", Type: "float8", Nullable: true},
			core.Column{Name: "fk_col", Type: "int4", Nullable: true},
			core.Column{Name: "json_col", Type: "jsonb", Nullable: true, Unsortable: true},
		),
		Keys:        []core.Key{ridKey("main"), idKey("main")},
		ForeignKeys: []*core.ForeignKey{fk("main_fk_col_fkey", []string{"fk_col"}, "other", []string{"id"})},
		RowName:     "{{ text_col }}",
		Alternatives: map[core.Context]string{
			core.ContextCompact:  "s:main_compact",
			core.ContextDetailed: "s:main_detailed",
		},
	}
	other := &core.Table{
		Schema: Schema,
		Name:   "other",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "name", Type: "text", Nullable: true},
			core.Column{Name: "category_id", Type: "int4", Nullable: true},
		),
		Keys:        []core.Key{ridKey("other"), idKey("other")},
		ForeignKeys: []*core.ForeignKey{fk("other_category_fkey", []string{"category_id"}, "category", []string{"id"})},
		RowName:     "{{ name }}",
	}
	category := &core.Table{
		Schema: Schema,
		Name:   "category",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "label", Type: "text", Nullable: true},
		),
		Keys: []core.Key{ridKey("category"), idKey("category")},
	}
	child := &core.Table{
		Schema: Schema,
		Name:   "child",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "main_id", Type: "int4"},
			core.Column{Name: "value", Type: "text", Nullable: true},
		),
		Keys:        []core.Key{ridKey("child"), idKey("child")},
		ForeignKeys: []*core.ForeignKey{fk("child_main_fkey", []string{"main_id"}, "main", []string{"id"})},
	}
	profile := &core.Table{
		Schema: Schema,
		Name:   "profile",
		Columns: append(sys(),
			core.Column{Name: "main_id", Type: "int4"},
			core.Column{Name: "bio", Type: "text", Nullable: true},
		),
		Keys: []core.Key{
			ridKey("profile"),
			{Name: core.ConstraintName{Schema: Schema, Name: "profile_pkey"}, Columns: []string{"main_id"}},
		},
		ForeignKeys: []*core.ForeignKey{fk("profile_main_fkey", []string{"main_id"}, "main", []string{"id"})},
	}
	tag := &core.Table{
		Schema: Schema,
		Name:   "tag",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "name", Type: "text", Nullable: true},
		),
		Keys: []core.Key{ridKey("tag"), idKey("tag")},
	}
	mainTag := &core.Table{
		Schema: Schema,
		Name:   "main_tag",
		Columns: append(sys(),
			core.Column{Name: "main_id", Type: "int4"},
			core.Column{Name: "tag_id", Type: "int4"},
		),
		Keys: []core.Key{
			ridKey("main_tag"),
			{Name: core.ConstraintName{Schema: Schema, Name: "main_tag_pkey"}, Columns: []string{"main_id", "tag_id"}},
		},
		ForeignKeys: []*core.ForeignKey{
			fk("main_tag_main_fkey", []string{"main_id"}, "main", []string{"id"}),
			fk("main_tag_tag_fkey", []string{"tag_id"}, "tag", []string{"id"}),
		},
	}
	compact := &core.Table{
		Schema: Schema,
		Name:   "main_compact",
		Columns: append(sys(),
			core.Column{Name: "main_ref", Type: "int4"},
			core.Column{Name: "summary", Type: "text", Nullable: true},
		),
		Keys: []core.Key{
			ridKey("main_compact"),
			{Name: core.ConstraintName{Schema: Schema, Name: "main_compact_pkey"}, Columns: []string{"main_ref"}},
		},
		ForeignKeys:   []*core.ForeignKey{fk("main_compact_main_fkey", []string{"main_ref"}, "main", []string{"id"})},
		AlternativeOf: "s:main",
	}
	detailed := &core.Table{
		Schema: Schema,
		Name:   "main_detailed",
		Columns: append(sys(),
			core.Column{Name: "id", Type: "int4"},
			core.Column{Name: "details", Type: "text", Nullable: true},
		),
		Keys:          []core.Key{ridKey("main_detailed"), idKey("main_detailed")},
		ForeignKeys:   []*core.ForeignKey{fk("main_detailed_main_fkey", []string{"id"}, "main", []string{"id"})},
		AlternativeOf: "s:main",
	}
	return []*core.Table{main, other, category, child, profile, tag, mainTag, compact, detailed}
}

// Catalog returns the fixture catalog, failing the test on error.
func Catalog(t testing.TB) *core.Catalog {
	t.Helper()
	cat, err := core.NewCatalog("1", FixtureTables()...)
	if err != nil {
		t.Fatalf("fixture catalog: %v", err)
	}
	return cat
}

// Table returns a fixture table by name, failing the test on error.
func Table(t testing.TB, cat *core.Catalog, name string) *core.Table {
	t.Helper()
	tbl, err := cat.Table(Schema, name)
	if err != nil {
		t.Fatalf("fixture table: %v", err)
	}
	return tbl
}

// Rows returns n rows for the main table with ids 1..n, plus matching rows
// in the related tables.
func Rows(n int) map[string][]core.Row {
	data := map[string][]core.Row{
		"s:category": {
			{"RID": "C-1", "id": int64(1), "label": "alpha"},
			{"RID": "C-2", "id": int64(2), "label": "beta"},
		},
		"s:other": {
			{"RID": "O-1", "id": int64(1), "name": "one", "category_id": int64(1)},
			{"RID": "O-2", "id": int64(2), "name": "two", "category_id": int64(2)},
			{"RID": "O-3", "id": int64(3), "name": "three", "category_id": nil},
		},
		"s:tag": {
			{"RID": "T-1", "id": int64(1), "name": "red"},
			{"RID": "T-2", "id": int64(2), "name": "blue"},
		},
	}
	for i := 1; i <= n; i++ {
		id := int64(i)
		var fkCol any = int64(i%3 + 1)
		if i%4 == 0 {
			fkCol = nil
		}
		data["s:main"] = append(data["s:main"], core.Row{
			"RID":       fmt.Sprintf("M-%d", i),
			"id":        id,
			"text_col":  fmt.Sprintf("row %02d", i),
			"int_col":   int64(i - 3),
			"float_col": float64(i) / 2,
			"fk_col":    fkCol,
			"json_col":  nil,
		})
		data["s:main_compact"] = append(data["s:main_compact"], core.Row{
			"RID": fmt.Sprintf("MC-%d", i), "main_ref": id, "summary": fmt.Sprintf("summary %d", i),
		})
		data["s:main_detailed"] = append(data["s:main_detailed"], core.Row{
			"RID": fmt.Sprintf("MD-%d", i), "id": id, "details": fmt.Sprintf("details %d", i),
		})
		data["s:child"] = append(data["s:child"],
			core.Row{"RID": fmt.Sprintf("CH-%d-a", i), "id": id * 10, "main_id": id, "value": "a"},
			core.Row{"RID": fmt.Sprintf("CH-%d-b", i), "id": id*10 + 1, "main_id": id, "value": "b"},
		)
		if i%2 == 1 {
			data["s:main_tag"] = append(data["s:main_tag"], core.Row{
				"RID": fmt.Sprintf("MT-%d", i), "main_id": id, "tag_id": int64(1),
			})
		}
	}
	return data
}
