// Package catalog loads and saves catalog metadata as YAML documents and
// converts them to and from the indexed core.Catalog model.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/pkg/core"
	"gopkg.in/yaml.v3"
)

// Document is the on-disk form of a catalog.
type Document struct {
	ID           string            `yaml:"id" json:"id"`
	Capabilities core.Capabilities `yaml:"capabilities,omitempty" json:"capabilities"`
	Tables       []TableDoc        `yaml:"tables" json:"tables"`
}

// TableDoc describes one table.
type TableDoc struct {
	Schema        string            `yaml:"schema" json:"schema"`
	Name          string            `yaml:"name" json:"name"`
	Comment       string            `yaml:"comment,omitempty" json:"comment,omitempty"`
	Columns       []ColumnDoc       `yaml:"columns" json:"columns"`
	Keys          []KeyDoc          `yaml:"keys,omitempty" json:"keys,omitempty"`
	ForeignKeys   []ForeignKeyDoc   `yaml:"foreign_keys,omitempty" json:"foreign_keys,omitempty"`
	RowOrder      []core.SortColumn `yaml:"row_order,omitempty" json:"row_order,omitempty"`
	RowName       string            `yaml:"row_name,omitempty" json:"row_name,omitempty"`
	SearchColumns []string          `yaml:"search_columns,omitempty" json:"search_columns,omitempty"`
	// Sources maps source keys onto facet source paths in their JSON form.
	Sources       map[string]any    `yaml:"sources,omitempty" json:"sources,omitempty"`
	Alternatives  map[string]string `yaml:"alternatives,omitempty" json:"alternatives,omitempty"`
	AlternativeOf string            `yaml:"alternative_of,omitempty" json:"alternative_of,omitempty"`
	Annotations   map[string]any    `yaml:"annotations,omitempty" json:"annotations,omitempty"`
}

// ColumnDoc describes one column.
type ColumnDoc struct {
	Name       string `yaml:"name" json:"name"`
	Type       string `yaml:"type" json:"type"`
	Nullable   bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Unsortable bool   `yaml:"unsortable,omitempty" json:"unsortable,omitempty"`
	Comment    string `yaml:"comment,omitempty" json:"comment,omitempty"`
}

// KeyDoc describes a unique key. An unqualified name lives in the table's schema.
type KeyDoc struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
}

// ForeignKeyDoc describes an outbound foreign key.
type ForeignKeyDoc struct {
	Name       string       `yaml:"name" json:"name"`
	Columns    []string     `yaml:"columns" json:"columns"`
	References ReferenceDoc `yaml:"references" json:"references"`
}

// ReferenceDoc is the referenced side of a foreign key.
type ReferenceDoc struct {
	Schema  string   `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table   string   `yaml:"table" json:"table"`
	Columns []string `yaml:"columns" json:"columns"`
}

// Parse decodes a YAML document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog document: %w", err)
	}
	return &doc, nil
}

// Load reads a YAML document from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadCatalog reads and builds a catalog file.
func LoadCatalog(path string) (*core.Catalog, core.Capabilities, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, core.Capabilities{}, err
	}
	cat, err := doc.Build()
	if err != nil {
		return nil, core.Capabilities{}, fmt.Errorf("%s: %w", path, err)
	}
	return cat, doc.Capabilities, nil
}

// Marshal encodes the document as YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

func constraintName(schema, name string) core.ConstraintName {
	if s, n, ok := strings.Cut(name, ":"); ok {
		return core.ConstraintName{Schema: s, Name: n}
	}
	return core.ConstraintName{Schema: schema, Name: name}
}

// Build converts the document into an indexed catalog.
func (d *Document) Build() (*core.Catalog, error) {
	tables := make([]*core.Table, 0, len(d.Tables))
	for _, td := range d.Tables {
		t, err := td.build()
		if err != nil {
			return nil, fmt.Errorf("table %s:%s: %w", td.Schema, td.Name, err)
		}
		tables = append(tables, t)
	}
	return core.NewCatalog(d.ID, tables...)
}

func (td TableDoc) build() (*core.Table, error) {
	if td.Schema == "" || td.Name == "" {
		return nil, &core.InvalidInputError{Message: "table needs a schema and a name"}
	}
	t := &core.Table{
		Schema:        td.Schema,
		Name:          td.Name,
		Comment:       td.Comment,
		RowOrder:      td.RowOrder,
		RowName:       td.RowName,
		SearchColumns: td.SearchColumns,
		AlternativeOf: td.AlternativeOf,
		Annotations:   td.Annotations,
	}
	for i, cd := range td.Columns {
		t.Columns = append(t.Columns, core.Column{
			Name:       cd.Name,
			Type:       cd.Type,
			Nullable:   cd.Nullable,
			Unsortable: cd.Unsortable,
			Position:   i + 1,
			Comment:    cd.Comment,
		})
	}
	for _, kd := range td.Keys {
		t.Keys = append(t.Keys, core.Key{Name: constraintName(td.Schema, kd.Name), Columns: kd.Columns})
	}
	for _, fd := range td.ForeignKeys {
		schema := fd.References.Schema
		if schema == "" {
			schema = td.Schema
		}
		t.ForeignKeys = append(t.ForeignKeys, &core.ForeignKey{
			Name:      constraintName(td.Schema, fd.Name),
			Columns:   fd.Columns,
			ToSchema:  schema,
			ToTable:   fd.References.Table,
			ToColumns: fd.References.Columns,
		})
	}
	if len(td.Sources) > 0 {
		t.SourceDefinitions = make(map[string]json.RawMessage, len(td.Sources))
		for key, src := range td.Sources {
			raw, err := json.Marshal(src)
			if err != nil {
				return nil, fmt.Errorf("source %q: %w", key, err)
			}
			t.SourceDefinitions[key] = raw
		}
	}
	if len(td.Alternatives) > 0 {
		t.Alternatives = make(map[core.Context]string, len(td.Alternatives))
		for name, alt := range td.Alternatives {
			c, err := core.ParseContext(name)
			if err != nil {
				return nil, err
			}
			t.Alternatives[c] = alt
		}
	}
	return t, nil
}

// FromCatalog converts a catalog back into its document form.
func FromCatalog(cat *core.Catalog, caps core.Capabilities) *Document {
	doc := &Document{ID: cat.ID, Capabilities: caps}
	for _, t := range cat.Tables() {
		td := TableDoc{
			Schema:        t.Schema,
			Name:          t.Name,
			Comment:       t.Comment,
			RowOrder:      t.RowOrder,
			RowName:       t.RowName,
			SearchColumns: t.SearchColumns,
			AlternativeOf: t.AlternativeOf,
			Annotations:   t.Annotations,
		}
		for _, c := range t.Columns {
			td.Columns = append(td.Columns, ColumnDoc{
				Name: c.Name, Type: c.Type, Nullable: c.Nullable, Unsortable: c.Unsortable, Comment: c.Comment,
			})
		}
		for _, k := range t.Keys {
			td.Keys = append(td.Keys, KeyDoc{Name: qualify(t.Schema, k.Name), Columns: k.Columns})
		}
		for _, fk := range t.ForeignKeys {
			td.ForeignKeys = append(td.ForeignKeys, ForeignKeyDoc{
				Name:    qualify(t.Schema, fk.Name),
				Columns: fk.Columns,
				References: ReferenceDoc{
					Schema:  fk.ToSchema,
					Table:   fk.ToTable,
					Columns: fk.ToColumns,
				},
			})
		}
		if len(t.SourceDefinitions) > 0 {
			td.Sources = make(map[string]any, len(t.SourceDefinitions))
			for key, raw := range t.SourceDefinitions {
				var v any
				if err := json.Unmarshal(raw, &v); err == nil {
					td.Sources[key] = v
				}
			}
		}
		if len(t.Alternatives) > 0 {
			td.Alternatives = make(map[string]string, len(t.Alternatives))
			for c, alt := range t.Alternatives {
				td.Alternatives[c.String()] = alt
			}
		}
		doc.Tables = append(doc.Tables, td)
	}
	return doc
}

func qualify(schema string, n core.ConstraintName) string {
	if n.Schema == schema {
		return n.Name
	}
	return n.String()
}
