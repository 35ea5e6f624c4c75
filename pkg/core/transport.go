package core

import (
	"context"
	"time"
)

// Transport issues requests against a catalog of the data service.
// Paths are relative to the catalog root, e.g. "entity/s:t/id=1?limit=11".
type Transport interface {
	// Get fetches rows.
	Get(ctx context.Context, path string) ([]Row, error)

	// Post creates rows and returns them as stored.
	Post(ctx context.Context, path string, rows []Row) ([]Row, error)

	// Put updates rows and returns them as stored.
	Put(ctx context.Context, path string, rows []Row) ([]Row, error)

	// Delete removes the rows matched by path.
	Delete(ctx context.Context, path string) error

	// Capabilities reports the optional grammar the service accepts.
	Capabilities() Capabilities

	// Close releases resources held by the transport.
	Close() error
}

// TransportConfig holds configuration for constructing a transport.
type TransportConfig struct {
	Type     string
	URL      string
	Catalog  string
	Timeout  time.Duration
	Retries  int
	Headers  map[string]string
	Options  map[string]string
	Fixtures string
}

// Renderer renders a display template against a row of values.
type Renderer interface {
	Render(template string, values map[string]any) (string, error)
}
