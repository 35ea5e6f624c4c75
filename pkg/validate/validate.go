// Package validate checks facet definitions against the catalog, merges
// them into an existing set, and verifies entity choices with the service.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/leapstack-labs/leapref/pkg/location"
	"golang.org/x/sync/errgroup"
)

// Unsupported is a candidate rejected before merging.
type Unsupported struct {
	Definition facet.Definition
	Reason     string
}

// Partial is a facet that kept some of its entity choices.
type Partial struct {
	Definition facet.Definition
	Missing    []any
}

// Issues collects the non-fatal outcomes of a validation.
type Issues struct {
	UnsupportedFilters       []Unsupported
	DiscardedFacets          []facet.Definition
	PartiallyDiscardedFacets []Partial
}

// Empty reports whether nothing was rejected.
func (i Issues) Empty() bool {
	return len(i.UnsupportedFilters) == 0 && len(i.DiscardedFacets) == 0 && len(i.PartiallyDiscardedFacets) == 0
}

// Result is the merged set plus what had to be dropped to build it.
type Result struct {
	Merged facet.Set
	Issues Issues
}

// Validator validates facets for tables of one catalog. Entity lookups go
// through one loader per key column, shared by every Validate call, so
// concurrent validations batch together and repeated choices are answered
// from the loader cache. A Validator must not be copied after first use.
type Validator struct {
	Catalog   *core.Catalog
	Transport core.Transport
	Logger    *slog.Logger
	// MaxPathLength bounds each entity lookup path. Zero means
	// compile.DefaultMaxPathLength.
	MaxPathLength int
	// Wait is how long a loader collects keys before issuing a batch.
	// Zero means DefaultWait.
	Wait time.Duration
	// CacheSize bounds the cached lookups per key column. Zero means
	// DefaultCacheSize.
	CacheSize int

	mu      sync.Mutex
	loaders map[string]*dataloader.Loader
}

// Defaults for Validator.
const (
	DefaultWait      = 5 * time.Millisecond
	DefaultCacheSize = 1024
)

func (v *Validator) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return v.Logger
}

// Validate checks candidates, merges the valid ones after existing, and
// verifies entity choices. Invalid or unresolvable definitions are reported
// in Issues rather than failing the call. The error is reserved for a
// cancelled context.
func (v *Validator) Validate(ctx context.Context, table *core.Table, c core.Context, candidates []facet.Definition, existing facet.Set) (Result, error) {
	var issues Issues
	var valid []facet.Definition
	for _, d := range candidates {
		if reason := v.check(table, c, d); reason != "" {
			v.logger().Debug("unsupported facet",
				slog.String("table", table.QualifiedName()),
				slog.String("facet", d.Identity()),
				slog.String("reason", reason))
			issues.UnsupportedFilters = append(issues.UnsupportedFilters, Unsupported{Definition: d, Reason: reason})
			continue
		}
		valid = append(valid, d)
	}
	merged := existing.With(valid...)

	merged, err := v.verifyEntityChoices(ctx, table, merged, &issues)
	if err != nil {
		return Result{}, err
	}
	return Result{Merged: merged, Issues: issues}, nil
}

// check returns why d cannot be applied to table, or "".
func (v *Validator) check(table *core.Table, c core.Context, d facet.Definition) string {
	r, _, err := facet.Resolve(v.Catalog, table, d)
	if err != nil {
		return err.Error()
	}
	if dom := d.SourceDomain; dom != nil {
		if dom.Schema != r.Terminal.Schema || dom.Table != r.Terminal.Name {
			return fmt.Sprintf("source domain %s:%s does not match %s", dom.Schema, dom.Table, r.Terminal.QualifiedName())
		}
		if dom.Column != "" && dom.Column != r.Column.Name {
			return fmt.Sprintf("source domain column %s does not match %s", dom.Column, r.Column.Name)
		}
	}
	if len(r.Steps) == 0 && d.Entity != nil && *d.Entity {
		if !r.Terminal.IsSimpleKey(r.Column.Name) || r.Column.Nullable {
			return fmt.Sprintf("entity facet on %s must target a not-null simple key", r.Column.Name)
		}
	}
	if !r.AtMostOne() && d.Aggregate == "" && !c.ToleratesMultiValuedFacets() {
		return fmt.Sprintf("multi-valued path to %s needs an aggregate in context %s", r.Column.Name, c)
	}
	if d.Aggregate != "" && !slices.Contains(compile.Aggregates, d.Aggregate) {
		return fmt.Sprintf("unknown aggregate %q", d.Aggregate)
	}
	return ""
}

// entityGroup is the set of facets whose choices are keys of one table.
type entityGroup struct {
	table  *core.Table
	column string
	defs   []int
}

func (v *Validator) verifyEntityChoices(ctx context.Context, table *core.Table, set facet.Set, issues *Issues) (facet.Set, error) {
	defs := set.Definitions()
	groups := make(map[string]*entityGroup)
	var order []string
	for i, d := range defs {
		r, _, err := facet.Resolve(v.Catalog, table, d)
		if err != nil || !d.IsEntity(r.EntityMode()) || !r.EntityMode() || !hasValues(d.Choices) {
			continue
		}
		key := loaderKey(r.Terminal, r.Column.Name)
		g, ok := groups[key]
		if !ok {
			g = &entityGroup{table: r.Terminal, column: r.Column.Name}
			groups[key] = g
			order = append(order, key)
		}
		g.defs = append(g.defs, i)
	}
	if len(order) == 0 || v.Transport == nil {
		return set, nil
	}

	found := make(map[string]map[string]bool, len(order))
	failed := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, key := range order {
		group := groups[key]
		var keys []string
		seen := make(map[string]bool)
		for _, i := range group.defs {
			for _, c := range defs[i].Choices {
				if c == nil {
					continue
				}
				k := core.FormatValue(c)
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
		g.Go(func() error {
			hits, err := v.lookup(gctx, group, keys)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[key] = err
				return nil
			}
			found[key] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return facet.Set{}, err
	}
	if err := ctx.Err(); err != nil {
		return facet.Set{}, err
	}

	drop := make(map[int]bool)
	replace := make(map[int]facet.Definition)
	for _, key := range order {
		group := groups[key]
		if err, ok := failed[key]; ok {
			v.logger().Warn("entity lookup failed",
				slog.String("table", group.table.QualifiedName()),
				slog.String("error", err.Error()))
			for _, i := range group.defs {
				drop[i] = true
				issues.DiscardedFacets = append(issues.DiscardedFacets, defs[i])
			}
			continue
		}
		hits := found[key]
		for _, i := range group.defs {
			d := defs[i]
			var kept, missing []any
			for _, c := range d.Choices {
				if c == nil || hits[core.FormatValue(c)] {
					kept = append(kept, c)
					continue
				}
				missing = append(missing, c)
			}
			switch {
			case len(missing) == 0:
			case len(kept) == 0 && len(d.Ranges) == 0 && len(d.Search) == 0 && !d.NotNull:
				drop[i] = true
				issues.DiscardedFacets = append(issues.DiscardedFacets, d)
			default:
				replace[i] = d.WithChoices(kept)
				issues.PartiallyDiscardedFacets = append(issues.PartiallyDiscardedFacets, Partial{Definition: d, Missing: missing})
			}
		}
	}

	var out []facet.Definition
	for i, d := range defs {
		if drop[i] {
			continue
		}
		if r, ok := replace[i]; ok {
			d = r
		}
		out = append(out, d)
	}
	return facet.NewSet(out...), nil
}

// lookup reports which keys exist in the group's table. Keys that failed
// are evicted so the next validation retries them.
func (v *Validator) lookup(ctx context.Context, group *entityGroup, keys []string) (map[string]bool, error) {
	loader, err := v.loader(group)
	if err != nil {
		return nil, err
	}
	dlKeys := dataloader.NewKeysFromStrings(keys)
	values, errs := loader.LoadMany(ctx, dlKeys)()
	for _, err := range errs {
		if err == nil {
			continue
		}
		for _, k := range dlKeys {
			loader.Clear(ctx, k)
		}
		return nil, err
	}
	hits := make(map[string]bool, len(keys))
	for i, val := range values {
		if val != nil {
			hits[keys[i]] = true
		}
	}
	return hits, nil
}

func loaderKey(table *core.Table, column string) string {
	return table.QualifiedName() + "/" + column
}

// loader returns the shared loader for the group's key column.
func (v *Validator) loader(group *entityGroup) (*dataloader.Loader, error) {
	key := loaderKey(group.table, group.column)
	v.mu.Lock()
	defer v.mu.Unlock()
	if l, ok := v.loaders[key]; ok {
		return l, nil
	}

	size := v.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := newThunkCache(size)
	if err != nil {
		return nil, err
	}
	wait := v.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	l := dataloader.NewBatchedLoader(v.batchFn(group),
		dataloader.WithWait(wait),
		dataloader.WithCache(cache))
	if v.loaders == nil {
		v.loaders = make(map[string]*dataloader.Loader)
	}
	v.loaders[key] = l
	return l, nil
}

// Forget drops cached lookups for every key column of table. Call it after
// rows of table are created or deleted.
func (v *Validator) Forget(table *core.Table) {
	prefix := table.QualifiedName() + "/"
	v.mu.Lock()
	defer v.mu.Unlock()
	for key, l := range v.loaders {
		if strings.HasPrefix(key, prefix) {
			l.ClearAll()
		}
	}
}

// thunkCache is a bounded dataloader.Cache.
type thunkCache struct {
	lru *lru.Cache[string, dataloader.Thunk]
}

func newThunkCache(size int) (thunkCache, error) {
	c, err := lru.New[string, dataloader.Thunk](size)
	if err != nil {
		return thunkCache{}, fmt.Errorf("failed to create lookup cache: %w", err)
	}
	return thunkCache{lru: c}, nil
}

func (c thunkCache) Get(_ context.Context, key dataloader.Key) (dataloader.Thunk, bool) {
	return c.lru.Get(key.String())
}

func (c thunkCache) Set(_ context.Context, key dataloader.Key, value dataloader.Thunk) {
	c.lru.Add(key.String(), value)
}

func (c thunkCache) Delete(_ context.Context, key dataloader.Key) bool {
	return c.lru.Remove(key.String())
}

func (c thunkCache) Clear() {
	c.lru.Purge()
}

func (v *Validator) batchFn(group *entityGroup) dataloader.BatchFunc {
	return func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))
		fail := func(err error) []*dataloader.Result {
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = k.String()
		}
		base := location.TableRef{Schema: group.table.Schema, Table: group.table.Name}.String()
		budget := v.MaxPathLength
		if budget <= 0 {
			budget = compile.DefaultMaxPathLength
		}
		budget -= len(location.APIEntity) + len(base) + 2
		batches, err := compile.BatchValues(group.column, values, v.Transport.Capabilities(), budget)
		if err != nil {
			return fail(err)
		}

		rows := make(map[string]core.Row)
		for _, b := range batches {
			path := location.APIEntity + "/" + base + "/" + b.Filter
			got, err := v.Transport.Get(ctx, path)
			if err != nil {
				return fail(fmt.Errorf("entity lookup %s: %w", path, err))
			}
			for _, row := range got {
				rows[core.FormatValue(row[group.column])] = row
			}
		}
		v.logger().Debug("entity lookup",
			slog.String("table", group.table.QualifiedName()),
			slog.Int("keys", len(keys)),
			slog.Int("found", len(rows)),
			slog.Int("requests", len(batches)))

		for i, k := range keys {
			if row, ok := rows[k.String()]; ok {
				results[i] = &dataloader.Result{Data: row}
				continue
			}
			results[i] = &dataloader.Result{}
		}
		return results
	}
}

func hasValues(vals []any) bool {
	for _, v := range vals {
		if v != nil {
			return true
		}
	}
	return false
}
