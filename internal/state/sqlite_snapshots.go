package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/zeebo/xxh3"
)

// SaveSnapshot stores a catalog document. When the latest snapshot of the
// catalog has the same content it is returned instead of a new one.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, doc *catalog.Document) (Snapshot, error) {
	if s.db == nil {
		return Snapshot{}, fmt.Errorf("database not opened")
	}
	if doc == nil || doc.ID == "" {
		return Snapshot{}, &core.InvalidInputError{Message: "snapshot needs a catalog id"}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("encode catalog %s: %w", doc.ID, err)
	}
	digest := strconv.FormatUint(xxh3.Hash(data), 16)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	latest, err := scanSnapshot(tx.QueryRowContext(ctx, `
		SELECT id, catalog_id, digest, created_at FROM catalog_snapshots
		WHERE catalog_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, doc.ID))
	switch {
	case err == nil && latest.Digest == digest:
		s.logger.Debug("catalog unchanged", slog.String("catalog", doc.ID), slog.String("snapshot", latest.ID))
		return latest, nil
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}

	snap := Snapshot{
		ID:        uuid.NewString(),
		CatalogID: doc.ID,
		Digest:    digest,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO catalog_snapshots (id, catalog_id, digest, document, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.CatalogID, snap.Digest, string(data), snap.CreatedAt.UnixNano()); err != nil {
		return Snapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("saved catalog snapshot",
		slog.String("catalog", doc.ID),
		slog.String("snapshot", snap.ID),
		slog.Int("tables", len(doc.Tables)))
	return snap, nil
}

// LatestSnapshot returns the most recent document of a catalog.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, catalogID string) (*catalog.Document, Snapshot, error) {
	if s.db == nil {
		return nil, Snapshot{}, fmt.Errorf("database not opened")
	}

	var snap Snapshot
	var created int64
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, catalog_id, digest, created_at, document FROM catalog_snapshots
		WHERE catalog_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, catalogID).Scan(&snap.ID, &snap.CatalogID, &snap.Digest, &created, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, Snapshot{}, &core.NotFoundError{Kind: "catalog snapshot", Name: catalogID}
	}
	if err != nil {
		return nil, Snapshot{}, fmt.Errorf("get latest snapshot: %w", err)
	}
	snap.CreatedAt = time.Unix(0, created).UTC()

	var doc catalog.Document
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, Snapshot{}, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
	}
	return &doc, snap, nil
}

// ListSnapshots returns a catalog's snapshots, newest first.
func (s *SQLiteStore) ListSnapshots(ctx context.Context, catalogID string) ([]Snapshot, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, catalog_id, digest, created_at FROM catalog_snapshots
		WHERE catalog_id = ?
		ORDER BY seq DESC
	`, catalogID)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

// PruneSnapshots removes all but the newest keep snapshots of a catalog.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, catalogID string, keep int) (int64, error) {
	if s.db == nil {
		return 0, fmt.Errorf("database not opened")
	}
	if keep < 1 {
		return 0, &core.InvalidInputError{Message: "keep at least one snapshot"}
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM catalog_snapshots
		WHERE catalog_id = ? AND seq NOT IN (
			SELECT seq FROM catalog_snapshots
			WHERE catalog_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, catalogID, catalogID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete old snapshots: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var snap Snapshot
	var created int64
	if err := row.Scan(&snap.ID, &snap.CatalogID, &snap.Digest, &created); err != nil {
		return Snapshot{}, err
	}
	snap.CreatedAt = time.Unix(0, created).UTC()
	return snap, nil
}
