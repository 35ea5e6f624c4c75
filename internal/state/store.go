// Package state persists catalog snapshots and saved references in SQLite.
package state

import (
	"context"
	"time"

	"github.com/leapstack-labs/leapref/pkg/catalog"
)

// Snapshot describes one stored catalog document.
type Snapshot struct {
	ID        string `json:"id"`
	CatalogID string `json:"catalog_id"`
	// Digest identifies the document content; saving an unchanged document
	// returns the existing snapshot.
	Digest    string    `json:"digest"`
	CreatedAt time.Time `json:"created_at"`
}

// SavedQuery is a named reference URI.
type SavedQuery struct {
	Name        string    `json:"name"`
	CatalogID   string    `json:"catalog_id"`
	URI         string    `json:"uri"`
	Context     string    `json:"context"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Store is the persistence interface used by the CLI and server.
type Store interface {
	SaveSnapshot(ctx context.Context, doc *catalog.Document) (Snapshot, error)
	LatestSnapshot(ctx context.Context, catalogID string) (*catalog.Document, Snapshot, error)
	ListSnapshots(ctx context.Context, catalogID string) ([]Snapshot, error)
	PruneSnapshots(ctx context.Context, catalogID string, keep int) (int64, error)

	SaveQuery(ctx context.Context, q SavedQuery) error
	GetQuery(ctx context.Context, name string) (*SavedQuery, error)
	ListQueries(ctx context.Context, catalogID string) ([]SavedQuery, error)
	DeleteQuery(ctx context.Context, name string) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
