// Package pgintrospect builds catalog documents from a live PostgreSQL
// database by reading its system catalogs.
package pgintrospect

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
)

// Config holds connection settings.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
}

// Introspector reads table metadata through a database/sql handle.
type Introspector struct {
	DB     *sql.DB
	logger *slog.Logger
}

// New wraps an open database handle.
func New(db *sql.DB, logger *slog.Logger) *Introspector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Introspector{DB: db, logger: logger}
}

// Open connects with the pgx driver and verifies the connection.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Introspector, error) {
	db, err := sql.Open("pgx", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return New(db, logger), nil
}

// Close closes the database handle.
func (in *Introspector) Close() error {
	if in.DB != nil {
		return in.DB.Close()
	}
	return nil
}

func buildDSN(cfg Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	sslmode := "disable"
	if v, ok := cfg.Options["sslmode"]; ok {
		sslmode = v
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s", host, port, cfg.Database, sslmode)
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	return dsn
}

// textArray renders names as a PostgreSQL text[] literal.
func textArray(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		n = strings.ReplaceAll(n, `\`, `\\`)
		n = strings.ReplaceAll(n, `"`, `\"`)
		quoted[i] = `"` + n + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

const columnsQuery = `
SELECT n.nspname, c.relname, a.attname,
       format_type(a.atttypid, a.atttypmod),
       NOT a.attnotnull,
       coalesce(col_description(c.oid, a.attnum), ''),
       coalesce(obj_description(c.oid, 'pg_class'), '')
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid
WHERE c.relkind IN ('r', 'p', 'v', 'm')
  AND n.nspname = ANY($1::text[])
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY n.nspname, c.relname, a.attnum`

const keysQuery = `
SELECT n.nspname, c.relname, con.conname, a.attname
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
WHERE con.contype IN ('p', 'u')
  AND n.nspname = ANY($1::text[])
ORDER BY n.nspname, c.relname, con.conname, k.ord`

const foreignKeysQuery = `
SELECT n.nspname, c.relname, con.conname, a.attname,
       fn.nspname, fc.relname, fa.attname
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_class fc ON fc.oid = con.confrelid
JOIN pg_namespace fn ON fn.oid = fc.relnamespace
CROSS JOIN LATERAL unnest(con.conkey, con.confkey) WITH ORDINALITY AS k(attnum, fattnum, ord)
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
JOIN pg_attribute fa ON fa.attrelid = fc.oid AND fa.attnum = k.fattnum
WHERE con.contype = 'f'
  AND n.nspname = ANY($1::text[])
  AND fn.nspname = ANY($1::text[])
ORDER BY n.nspname, c.relname, con.conname, k.ord`

// Introspect reads the tables of the given schemas into a catalog document.
// Foreign keys into schemas outside the list are skipped so the document
// always builds.
func (in *Introspector) Introspect(ctx context.Context, catalogID string, schemas []string) (*catalog.Document, error) {
	if in.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	if len(schemas) == 0 {
		return nil, &core.InvalidInputError{Message: "at least one schema is required"}
	}
	arg := textArray(schemas)

	doc := &catalog.Document{ID: catalogID}
	index := make(map[string]int)
	tableFor := func(schema, table string) *catalog.TableDoc {
		i, ok := index[schema+":"+table]
		if !ok {
			return nil
		}
		return &doc.Tables[i]
	}

	if err := in.columns(ctx, arg, doc, index); err != nil {
		return nil, err
	}
	if err := in.keys(ctx, arg, tableFor); err != nil {
		return nil, err
	}
	if err := in.foreignKeys(ctx, arg, tableFor); err != nil {
		return nil, err
	}

	in.logger.Debug("introspected catalog",
		slog.String("catalog", catalogID),
		slog.Any("schemas", schemas),
		slog.Int("tables", len(doc.Tables)))
	return doc, nil
}

func (in *Introspector) columns(ctx context.Context, arg string, doc *catalog.Document, index map[string]int) error {
	rows, err := in.DB.QueryContext(ctx, columnsQuery, arg)
	if err != nil {
		return fmt.Errorf("failed to query columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schema, table, tableComment string
		var col catalog.ColumnDoc
		if err := rows.Scan(&schema, &table, &col.Name, &col.Type, &col.Nullable, &col.Comment, &tableComment); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		key := schema + ":" + table
		i, ok := index[key]
		if !ok {
			i = len(doc.Tables)
			index[key] = i
			doc.Tables = append(doc.Tables, catalog.TableDoc{Schema: schema, Name: table, Comment: tableComment})
		}
		col.Unsortable = unsortable(col.Type)
		doc.Tables[i].Columns = append(doc.Tables[i].Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}
	return nil
}

func (in *Introspector) keys(ctx context.Context, arg string, tableFor func(string, string) *catalog.TableDoc) error {
	rows, err := in.DB.QueryContext(ctx, keysQuery, arg)
	if err != nil {
		return fmt.Errorf("failed to query keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schema, table, name, column string
		if err := rows.Scan(&schema, &table, &name, &column); err != nil {
			return fmt.Errorf("failed to scan key: %w", err)
		}
		td := tableFor(schema, table)
		if td == nil {
			continue
		}
		if n := len(td.Keys); n > 0 && td.Keys[n-1].Name == name {
			td.Keys[n-1].Columns = append(td.Keys[n-1].Columns, column)
			continue
		}
		td.Keys = append(td.Keys, catalog.KeyDoc{Name: name, Columns: []string{column}})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating keys: %w", err)
	}
	return nil
}

func (in *Introspector) foreignKeys(ctx context.Context, arg string, tableFor func(string, string) *catalog.TableDoc) error {
	rows, err := in.DB.QueryContext(ctx, foreignKeysQuery, arg)
	if err != nil {
		return fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var schema, table, name, column, refSchema, refTable, refColumn string
		if err := rows.Scan(&schema, &table, &name, &column, &refSchema, &refTable, &refColumn); err != nil {
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		td := tableFor(schema, table)
		if td == nil || tableFor(refSchema, refTable) == nil {
			continue
		}
		if n := len(td.ForeignKeys); n > 0 && td.ForeignKeys[n-1].Name == name {
			fk := &td.ForeignKeys[n-1]
			fk.Columns = append(fk.Columns, column)
			fk.References.Columns = append(fk.References.Columns, refColumn)
			continue
		}
		td.ForeignKeys = append(td.ForeignKeys, catalog.ForeignKeyDoc{
			Name:    name,
			Columns: []string{column},
			References: catalog.ReferenceDoc{
				Schema:  refSchema,
				Table:   refTable,
				Columns: []string{refColumn},
			},
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating foreign keys: %w", err)
	}
	return nil
}

// unsortable reports types the service refuses to order by.
func unsortable(typ string) bool {
	switch {
	case typ == "json", typ == "jsonb", strings.HasSuffix(typ, "[]"):
		return true
	}
	return false
}
