package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// SystemColumns are maintained by the data service on every table.
var SystemColumns = []string{"RID", "RCT", "RMT", "RCB", "RMB"}

// IsSystemColumn reports whether name is a service-maintained column.
func IsSystemColumn(name string) bool {
	return slices.Contains(SystemColumns, name)
}

// ConstraintName identifies a key or foreign key by schema and name.
type ConstraintName struct {
	Schema string
	Name   string
}

func (n ConstraintName) String() string {
	return n.Schema + ":" + n.Name
}

// SortColumn is one entry of a sort list.
type SortColumn struct {
	Column     string `json:"column" yaml:"column"`
	Descending bool   `json:"descending,omitempty" yaml:"descending,omitempty"`
}

// Column describes a table column.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	Unsortable bool
	Position   int
	Comment    string
}

// Key is a uniqueness constraint.
type Key struct {
	Name    ConstraintName
	Columns []string
}

// Simple reports whether the key has a single column.
func (k Key) Simple() bool { return len(k.Columns) == 1 }

// ForeignKey is an outbound reference from one table's columns to another
// table's key columns.
type ForeignKey struct {
	Name      ConstraintName
	Columns   []string
	ToSchema  string
	ToTable   string
	ToColumns []string

	from     *Table
	to       *Table
	oneToOne bool
}

// From returns the referencing table. Nil until indexed by NewCatalog.
func (fk *ForeignKey) From() *Table { return fk.from }

// To returns the referenced table. Nil until indexed by NewCatalog.
func (fk *ForeignKey) To() *Table { return fk.to }

// OneToOne reports whether the referencing columns also form a key, so the
// inbound direction yields at most one row.
func (fk *ForeignKey) OneToOne() bool { return fk.oneToOne }

// ToColumnFor maps a referencing column onto the referenced column.
func (fk *ForeignKey) ToColumnFor(col string) (string, bool) {
	for i, c := range fk.Columns {
		if c == col {
			return fk.ToColumns[i], true
		}
	}
	return "", false
}

// FromColumnFor maps a referenced column onto the referencing column.
func (fk *ForeignKey) FromColumnFor(col string) (string, bool) {
	for i, c := range fk.ToColumns {
		if c == col {
			return fk.Columns[i], true
		}
	}
	return "", false
}

// Table describes a table and the annotations that drive reference
// compilation.
type Table struct {
	Schema      string
	Name        string
	Comment     string
	Columns     []Column
	Keys        []Key
	ForeignKeys []*ForeignKey

	// RowOrder is the default sort when a reference carries none.
	RowOrder []SortColumn
	// RowName is a display template rendered per row.
	RowName string
	// SearchColumns are the targets of the search-box source key.
	SearchColumns []string
	// SourceDefinitions maps a source key onto a raw facet source.
	SourceDefinitions map[string]json.RawMessage
	// Alternatives maps a context onto the qualified name of an alternate table.
	Alternatives map[Context]string
	// AlternativeOf is the qualified name of the base table when this table
	// is an alternate.
	AlternativeOf string
	Annotations   map[string]any

	inbound []*ForeignKey
}

// QualifiedName returns "schema:table".
func (t *Table) QualifiedName() string {
	return t.Schema + ":" + t.Name
}

// Column looks up a column by name.
func (t *Table) Column(name string) (*Column, error) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], nil
		}
	}
	return nil, &NotFoundError{Kind: "column", Name: t.QualifiedName() + ":" + name}
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, err := t.Column(name)
	return err == nil
}

// IsKey reports whether cols, in any order, exactly match a declared key.
func (t *Table) IsKey(cols []string) bool {
	for _, k := range t.Keys {
		if sameSet(k.Columns, cols) {
			return true
		}
	}
	return false
}

// CoversKey reports whether cols include every column of a not-null key.
func (t *Table) CoversKey(cols []string) bool {
	for _, k := range t.Keys {
		if !t.notNull(k.Columns) {
			continue
		}
		covered := true
		for _, c := range k.Columns {
			if !slices.Contains(cols, c) {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}

// IsSimpleKey reports whether col alone is a key of the table.
func (t *Table) IsSimpleKey(col string) bool {
	return t.IsKey([]string{col})
}

func (t *Table) notNull(cols []string) bool {
	for _, name := range cols {
		c, err := t.Column(name)
		if err != nil || c.Nullable {
			return false
		}
	}
	return true
}

// ShortestKey returns the shortest key whose columns are all not-null,
// falling back to the shortest key overall when none is. Ties keep
// declaration order.
func (t *Table) ShortestKey() (Key, bool) {
	best, bestNotNull := -1, false
	for i, k := range t.Keys {
		notNull := t.notNull(k.Columns)
		if best < 0 {
			best, bestNotNull = i, notNull
			continue
		}
		switch {
		case notNull && !bestNotNull:
			best, bestNotNull = i, true
		case notNull == bestNotNull && len(k.Columns) < len(t.Keys[best].Columns):
			best = i
		}
	}
	if best < 0 {
		return Key{}, false
	}
	return t.Keys[best], true
}

// Inbound returns foreign keys of other tables that reference this table.
func (t *Table) Inbound() []*ForeignKey {
	return t.inbound
}

// ForeignKey returns the outbound foreign key with the given name.
func (t *Table) ForeignKey(name ConstraintName) (*ForeignKey, bool) {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name {
			return fk, true
		}
	}
	return nil, false
}

// IsPureBinaryAssociation reports whether the table only links two other
// tables: exactly two foreign keys whose columns together form a key, and
// no other non-system columns.
func (t *Table) IsPureBinaryAssociation() bool {
	if len(t.ForeignKeys) != 2 {
		return false
	}
	var fkCols []string
	for _, fk := range t.ForeignKeys {
		fkCols = append(fkCols, fk.Columns...)
	}
	if !t.IsKey(fkCols) {
		return false
	}
	for _, c := range t.Columns {
		if IsSystemColumn(c.Name) {
			continue
		}
		if !slices.Contains(fkCols, c.Name) {
			return false
		}
	}
	return true
}

// OtherAssociationKey returns the association's foreign key that is not fk.
func (t *Table) OtherAssociationKey(fk *ForeignKey) (*ForeignKey, bool) {
	if !t.IsPureBinaryAssociation() {
		return nil, false
	}
	for _, other := range t.ForeignKeys {
		if other != fk {
			return other, true
		}
	}
	return nil, false
}

// AlternateLink returns the foreign key joining an alternate table to its
// base over the shared key: the referencing columns form a key of this
// table and the referenced columns a key of the base.
func (t *Table) AlternateLink() (*ForeignKey, bool) {
	if t.AlternativeOf == "" {
		return nil, false
	}
	for _, fk := range t.ForeignKeys {
		if fk.to == nil || fk.to.QualifiedName() != t.AlternativeOf {
			continue
		}
		if t.IsKey(fk.Columns) && fk.to.IsKey(fk.ToColumns) {
			return fk, true
		}
	}
	return nil, false
}

// DefaultSort returns RowOrder, or the shortest key ascending.
func (t *Table) DefaultSort() []SortColumn {
	if len(t.RowOrder) > 0 {
		return slices.Clone(t.RowOrder)
	}
	k, ok := t.ShortestKey()
	if !ok {
		return nil
	}
	out := make([]SortColumn, len(k.Columns))
	for i, c := range k.Columns {
		out[i] = SortColumn{Column: c}
	}
	return out
}

// SearchableColumns returns SearchColumns, or every text column.
func (t *Table) SearchableColumns() []string {
	if len(t.SearchColumns) > 0 {
		return t.SearchColumns
	}
	var out []string
	for _, c := range t.Columns {
		if isTextType(c.Type) && !IsSystemColumn(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

func isTextType(typ string) bool {
	switch strings.ToLower(typ) {
	case "text", "markdown", "longtext", "shorttext", "varchar", "character varying":
		return true
	}
	return false
}

// Capabilities are optional grammar features negotiated with the transport.
type Capabilities struct {
	// QuantifiedValueLists enables col=any(v1,v2,...).
	QuantifiedValueLists bool `json:"quantified_value_lists" yaml:"quantified_value_lists"`
	// RightsSummary enables trs()/tcrs() projections.
	RightsSummary bool `json:"rights_summary" yaml:"rights_summary"`
}

// Catalog is an indexed set of tables.
type Catalog struct {
	ID string

	tables      map[string]*Table
	order       []*Table
	constraints map[ConstraintName]*ForeignKey
}

// NewCatalog indexes the tables, resolving every foreign key and alternate
// table reference.
func NewCatalog(id string, tables ...*Table) (*Catalog, error) {
	c := &Catalog{
		ID:          id,
		tables:      make(map[string]*Table, len(tables)),
		constraints: make(map[ConstraintName]*ForeignKey),
	}
	for _, t := range tables {
		q := t.QualifiedName()
		if _, dup := c.tables[q]; dup {
			return nil, &InvalidInputError{Message: fmt.Sprintf("duplicate table %s", q)}
		}
		t.inbound = nil
		c.tables[q] = t
		c.order = append(c.order, t)
	}
	for _, t := range c.order {
		for _, fk := range t.ForeignKeys {
			if err := c.indexForeignKey(t, fk); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range c.order {
		for ctx, alt := range t.Alternatives {
			if _, ok := c.tables[alt]; !ok {
				return nil, &InvalidInputError{Message: fmt.Sprintf("table %s: alternative for %s references unknown table %s", t.QualifiedName(), ctx, alt)}
			}
		}
		if t.AlternativeOf != "" {
			if _, ok := c.tables[t.AlternativeOf]; !ok {
				return nil, &InvalidInputError{Message: fmt.Sprintf("table %s is an alternative of unknown table %s", t.QualifiedName(), t.AlternativeOf)}
			}
			if _, ok := t.AlternateLink(); !ok {
				return nil, &InvalidInputError{Message: fmt.Sprintf("alternate table %s has no shared-key foreign key to %s", t.QualifiedName(), t.AlternativeOf)}
			}
		}
	}
	return c, nil
}

func (c *Catalog) indexForeignKey(t *Table, fk *ForeignKey) error {
	if len(fk.Columns) == 0 || len(fk.Columns) != len(fk.ToColumns) {
		return &InvalidInputError{Message: fmt.Sprintf("foreign key %s: column count mismatch", fk.Name)}
	}
	if _, dup := c.constraints[fk.Name]; dup {
		return &InvalidInputError{Message: fmt.Sprintf("duplicate constraint %s", fk.Name)}
	}
	to, ok := c.tables[fk.ToSchema+":"+fk.ToTable]
	if !ok {
		return &InvalidInputError{Message: fmt.Sprintf("foreign key %s references unknown table %s:%s", fk.Name, fk.ToSchema, fk.ToTable)}
	}
	for _, col := range fk.Columns {
		if !t.HasColumn(col) {
			return &InvalidInputError{Message: fmt.Sprintf("foreign key %s: unknown column %s", fk.Name, col)}
		}
	}
	for _, col := range fk.ToColumns {
		if !to.HasColumn(col) {
			return &InvalidInputError{Message: fmt.Sprintf("foreign key %s: unknown referenced column %s", fk.Name, col)}
		}
	}
	fk.from = t
	fk.to = to
	fk.oneToOne = t.IsKey(fk.Columns)
	to.inbound = append(to.inbound, fk)
	c.constraints[fk.Name] = fk
	return nil
}

// Table looks up a table by schema and name.
func (c *Catalog) Table(schema, name string) (*Table, error) {
	return c.LookupTable(schema + ":" + name)
}

// LookupTable looks up a table by qualified name.
func (c *Catalog) LookupTable(qualified string) (*Table, error) {
	if t, ok := c.tables[qualified]; ok {
		return t, nil
	}
	return nil, &NotFoundError{Kind: "table", Name: qualified}
}

// Tables returns the tables in declaration order.
func (c *Catalog) Tables() []*Table {
	return slices.Clone(c.order)
}

// ForeignKey looks up a foreign key constraint by name.
func (c *Catalog) ForeignKey(name ConstraintName) (*ForeignKey, error) {
	if fk, ok := c.constraints[name]; ok {
		return fk, nil
	}
	return nil, &NotFoundError{Kind: "constraint", Name: name.String()}
}

// Base returns the base table of an alternate, or t itself.
func (c *Catalog) Base(t *Table) *Table {
	if t.AlternativeOf == "" {
		return t
	}
	if base, ok := c.tables[t.AlternativeOf]; ok {
		return base
	}
	return t
}

// Alternate returns the table that presents t's base in the given context,
// which is the base itself when no alternative applies.
func (c *Catalog) Alternate(t *Table, ctx Context) *Table {
	base := c.Base(t)
	if name, ok := LookupContext(base.Alternatives, ctx); ok {
		if alt, ok := c.tables[name]; ok {
			return alt
		}
	}
	return base
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, x := range a {
		if !slices.Contains(b, x) {
			return false
		}
	}
	return true
}
