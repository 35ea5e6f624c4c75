// Package reference is the client-facing view of a table: an immutable
// reference value that can be filtered, sorted, moved between contexts,
// read page by page and written through.
package reference

import (
	"fmt"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
	"github.com/leapstack-labs/leapref/pkg/validate"
	"github.com/zeebo/xxh3"
)

// Defaults for Config.
const (
	DefaultCacheSize = 256
	DefaultPageLimit = 25
	DefaultBatchSize = 100
)

// Config configures a Resolver.
type Config struct {
	Catalog   *core.Catalog
	Transport core.Transport
	Renderer  core.Renderer
	Logger    *slog.Logger
	// CacheSize bounds the number of memoised compilations.
	CacheSize int
	// MaxPathLength bounds generated key filter paths.
	MaxPathLength int
	// BatchSize bounds the rows sent in one write request.
	BatchSize int
}

// Resolver builds references over one catalog and shares a compilation
// cache and a facet validator between them.
type Resolver struct {
	catalog       *core.Catalog
	transport     core.Transport
	renderer      core.Renderer
	logger        *slog.Logger
	cache         *lru.Cache[uint64, *compile.Result]
	validator     *validate.Validator
	maxPathLength int
	batchSize     int
}

// NewResolver creates a resolver. A nil transport limits references to
// compilation.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Catalog == nil {
		return nil, &core.InvalidInputError{Message: "resolver needs a catalog"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.MaxPathLength <= 0 {
		cfg.MaxPathLength = compile.DefaultMaxPathLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cache, err := lru.New[uint64, *compile.Result](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create compile cache: %w", err)
	}
	return &Resolver{
		catalog:   cfg.Catalog,
		transport: cfg.Transport,
		renderer:  cfg.Renderer,
		logger:    cfg.Logger,
		cache:     cache,
		validator: &validate.Validator{
			Catalog:       cfg.Catalog,
			Transport:     cfg.Transport,
			Logger:        cfg.Logger,
			MaxPathLength: cfg.MaxPathLength,
		},
		maxPathLength: cfg.MaxPathLength,
		batchSize:     cfg.BatchSize,
	}, nil
}

// Catalog returns the resolver's catalog.
func (r *Resolver) Catalog() *core.Catalog { return r.catalog }

// Resolve parses uri into a reference in the default context.
func (r *Resolver) Resolve(uri string) (*Reference, error) {
	loc, err := location.Parse(uri)
	if err != nil {
		return nil, err
	}
	if loc.API != location.APIEntity {
		return nil, &core.InvalidInputError{Message: fmt.Sprintf("references address the entity API, got %s", loc.API)}
	}
	if loc.CatalogID != "" && r.catalog.ID != "" && loc.CatalogID != r.catalog.ID {
		return nil, &core.NotFoundError{Kind: "catalog", Name: loc.CatalogID}
	}
	schema, name := loc.Table()
	table, err := r.catalog.Table(schema, name)
	if err != nil {
		return nil, err
	}
	return &Reference{resolver: r, table: table, context: core.ContextDefault, loc: loc}, nil
}

func (r *Resolver) capabilities() core.Capabilities {
	if r.transport == nil {
		return core.Capabilities{QuantifiedValueLists: true, RightsSummary: true}
	}
	return r.transport.Capabilities()
}

// cacheKey hashes everything a compilation depends on.
func (r *Resolver) cacheKey(ref *Reference) uint64 {
	var b strings.Builder
	b.WriteString(r.catalog.ID)
	b.WriteByte(0)
	b.WriteString(ref.table.QualifiedName())
	b.WriteByte(0)
	b.WriteString(ref.context.String())
	b.WriteByte(0)
	b.WriteString(ref.loc.String())
	for _, c := range ref.columns {
		b.WriteByte(0)
		b.WriteString(c.Name + "|" + c.Source.Key() + "|" + c.Aggregate)
	}
	caps := r.capabilities()
	fmt.Fprintf(&b, "\x00%t|%t|%t", ref.rights, caps.QuantifiedValueLists, caps.RightsSummary)
	return xxh3.HashString(b.String())
}

func (r *Resolver) compile(ref *Reference) (*compile.Result, error) {
	key := r.cacheKey(ref)
	if res, ok := r.cache.Get(key); ok {
		return res, nil
	}
	res, err := compile.Compile(compile.Request{
		Catalog:       r.catalog,
		Location:      ref.loc,
		Columns:       ref.columns,
		Capabilities:  r.capabilities(),
		RightsSummary: ref.rights,
		Logger:        r.logger,
	})
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, res)
	r.logger.Debug("compiled reference",
		slog.String("table", ref.table.QualifiedName()),
		slog.String("mode", res.Mode.String()),
		slog.String("path", res.String()))
	return res, nil
}
