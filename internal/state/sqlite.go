package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/leapref/pkg/core"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewWithDB wraps an existing connection. The caller migrates it.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens a connection to the SQLite database and migrates it.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.logger.Debug("opened state store", slog.String("path", path))
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Saved queries ---

// SaveQuery inserts or replaces a saved query.
func (s *SQLiteStore) SaveQuery(ctx context.Context, q SavedQuery) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if q.Name == "" || q.URI == "" {
		return &core.InvalidInputError{Message: "saved query needs a name and a uri"}
	}
	if q.Context == "" {
		q.Context = core.ContextDefault.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saved_queries (name, catalog_id, uri, context, description, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			catalog_id = excluded.catalog_id,
			uri = excluded.uri,
			context = excluded.context,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, q.Name, q.CatalogID, q.URI, q.Context, q.Description, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save query %s: %w", q.Name, err)
	}
	return nil
}

// GetQuery retrieves a saved query by name.
func (s *SQLiteStore) GetQuery(ctx context.Context, name string) (*SavedQuery, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	q := &SavedQuery{}
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT name, catalog_id, uri, context, description, updated_at
		FROM saved_queries WHERE name = ?
	`, name).Scan(&q.Name, &q.CatalogID, &q.URI, &q.Context, &q.Description, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Kind: "saved query", Name: name}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query %s: %w", name, err)
	}
	q.UpdatedAt = time.Unix(0, updated).UTC()
	return q, nil
}

// ListQueries returns the saved queries of a catalog ordered by name. An
// empty catalog id lists every query.
func (s *SQLiteStore) ListQueries(ctx context.Context, catalogID string) ([]SavedQuery, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, catalog_id, uri, context, description, updated_at
		FROM saved_queries
		WHERE ? = '' OR catalog_id = ?
		ORDER BY name
	`, catalogID, catalogID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SavedQuery
	for rows.Next() {
		var q SavedQuery
		var updated int64
		if err := rows.Scan(&q.Name, &q.CatalogID, &q.URI, &q.Context, &q.Description, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		q.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queries: %w", err)
	}
	return out, nil
}

// DeleteQuery removes a saved query.
func (s *SQLiteStore) DeleteQuery(ctx context.Context, name string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_queries WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete query %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &core.NotFoundError{Kind: "saved query", Name: name}
	}
	return nil
}
