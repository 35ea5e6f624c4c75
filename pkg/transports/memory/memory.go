// Package memory provides an in-process transport that evaluates compiled
// entity and attribute-group paths over seeded rows. It backs tests, the
// demo CLI mode and local development of the HTTP API.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/location"
)

// Fault lets tests fail selected requests. A nil return lets the request
// through.
type Fault func(method, path string) error

// Transport evaluates requests against in-memory tables.
type Transport struct {
	mu       sync.RWMutex
	catalog  *core.Catalog
	data     map[string][]core.Row
	caps     core.Capabilities
	logger   *slog.Logger
	fault    Fault
	readOnly bool
	requests []string
	nextRID  int
}

// Option configures a Transport.
type Option func(*Transport)

// WithCapabilities overrides the advertised capabilities.
func WithCapabilities(caps core.Capabilities) Option {
	return func(t *Transport) { t.caps = caps }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithFault installs a fault injector.
func WithFault(f Fault) Option {
	return func(t *Transport) { t.fault = f }
}

// WithReadOnly reports no write rights in rights summaries.
func WithReadOnly() Option {
	return func(t *Transport) { t.readOnly = true }
}

// New returns a transport over a copy of data, keyed by qualified table name.
func New(cat *core.Catalog, data map[string][]core.Row, opts ...Option) *Transport {
	t := &Transport{
		catalog: cat,
		data:    make(map[string][]core.Row, len(data)),
		caps:    core.Capabilities{QuantifiedValueLists: true, RightsSummary: true},
		logger:  slog.New(slog.DiscardHandler),
	}
	for name, rows := range data {
		copied := make([]core.Row, len(rows))
		for i, r := range rows {
			copied[i] = r.Clone()
		}
		t.data[name] = copied
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Requests returns the requests served so far as "METHOD path".
func (t *Transport) Requests() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.requests)
}

// ResetRequests clears the request log.
func (t *Transport) ResetRequests() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = nil
}

// Rows returns a copy of the rows stored for a qualified table name.
func (t *Transport) Rows(table string) []core.Row {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Row, len(t.data[table]))
	for i, r := range t.data[table] {
		out[i] = r.Clone()
	}
	return out
}

// Capabilities implements core.Transport.
func (t *Transport) Capabilities() core.Capabilities { return t.caps }

// Close implements core.Transport.
func (t *Transport) Close() error { return nil }

func (t *Transport) begin(ctx context.Context, method, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.requests = append(t.requests, method+" "+path)
	t.logger.Debug("memory request", slog.String("method", method), slog.String("path", path))
	if t.fault != nil {
		if err := t.fault(method, path); err != nil {
			return &core.TransportError{Method: method, Path: path, Status: http.StatusInternalServerError, Cause: err}
		}
	}
	return nil
}

// Get implements core.Transport.
func (t *Transport) Get(ctx context.Context, path string) ([]core.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin(ctx, http.MethodGet, path); err != nil {
		return nil, err
	}
	rows, err := t.query(path)
	if err != nil {
		return nil, withRequest(err, http.MethodGet, path)
	}
	return rows, nil
}

func (t *Transport) query(path string) ([]core.Row, error) {
	loc, err := location.Parse(path)
	if err != nil {
		return nil, badRequest(err.Error())
	}
	b, err := t.bind(loc)
	if err != nil {
		return nil, err
	}
	var rows []core.Row
	switch loc.API {
	case location.APIAttributeGroup:
		proj, ok := loc.Segments[len(loc.Segments)-1].(location.Projection)
		if !ok {
			return nil, badRequest("attributegroup request has no projection")
		}
		if rows, err = t.groupRows(b, proj); err != nil {
			return nil, err
		}
	default:
		rows = t.entityRows(b)
	}
	return page(rows, loc), nil
}

// Post implements core.Transport. The path names the target table; a
// "defaults" query lists columns the service fills in.
func (t *Transport) Post(ctx context.Context, path string, rows []core.Row) ([]core.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin(ctx, http.MethodPost, path); err != nil {
		return nil, err
	}
	tbl, err := t.target(path)
	if err != nil {
		return nil, withRequest(err, http.MethodPost, path)
	}
	name := tbl.QualifiedName()
	stored := t.data[name]
	var out []core.Row
	for _, in := range rows {
		row := core.Row{}
		for _, c := range tbl.Columns {
			row[c.Name] = in[c.Name]
		}
		if row["RID"] == nil && tbl.HasColumn("RID") {
			t.nextRID++
			row["RID"] = fmt.Sprintf("N-%d", t.nextRID)
		}
		for _, k := range tbl.Keys {
			if conflicts(append(stored, out...), row, k.Columns) {
				return nil, &core.TransportError{
					Method: http.MethodPost, Path: path, Status: http.StatusConflict,
					Body: fmt.Sprintf("duplicate key %s", strings.Join(k.Columns, ",")),
				}
			}
		}
		out = append(out, row)
	}
	t.data[name] = append(stored, out...)
	return cloneRows(out), nil
}

// Put implements core.Transport for attribute-group updates of the form
// "attributegroup/s:t/in:=key,...;in:=col,...". Input rows are matched on
// the key items and their target items are written.
func (t *Transport) Put(ctx context.Context, path string, rows []core.Row) ([]core.Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin(ctx, http.MethodPut, path); err != nil {
		return nil, err
	}
	loc, err := location.Parse(path)
	if err != nil {
		return nil, withRequest(badRequest(err.Error()), http.MethodPut, path)
	}
	if loc.API != location.APIAttributeGroup || len(loc.Segments) != 2 {
		return nil, withRequest(badRequest("update must be attributegroup/schema:table/keys;targets"), http.MethodPut, path)
	}
	ref, _ := loc.Segments[0].(location.TableRef)
	proj, ok := loc.Segments[1].(location.Projection)
	if !ok {
		return nil, withRequest(badRequest("update has no projection"), http.MethodPut, path)
	}
	tbl, err := t.catalog.Table(ref.Schema, ref.Table)
	if err != nil {
		return nil, withRequest(notFound(err), http.MethodPut, path)
	}
	for _, it := range append(slices.Clone(proj.Keys), proj.Values...) {
		if !tbl.HasColumn(it.Column) {
			return nil, withRequest(badRequest(fmt.Sprintf("column %q not found in %s", it.Column, tbl.QualifiedName())), http.MethodPut, path)
		}
	}

	stored := t.data[tbl.QualifiedName()]
	var out []core.Row
	for _, in := range rows {
		for _, row := range stored {
			match := true
			for _, k := range proj.Keys {
				if row[k.Column] == nil || compareValues(row[k.Column], in[k.Name()]) != 0 {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			for _, v := range proj.Values {
				row[v.Column] = in[v.Name()]
			}
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

// Delete implements core.Transport. Rows of the path's current table that
// the path selects are removed.
func (t *Transport) Delete(ctx context.Context, path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.begin(ctx, http.MethodDelete, path); err != nil {
		return err
	}
	loc, err := location.Parse(path)
	if err != nil {
		return withRequest(badRequest(err.Error()), http.MethodDelete, path)
	}
	b, err := t.bind(loc)
	if err != nil {
		return withRequest(err, http.MethodDelete, path)
	}
	name := b.elements[b.cur].table.QualifiedName()
	doomed := make(map[int]bool)
	for _, tp := range b.tuples {
		if idx := tp[b.cur]; idx >= 0 {
			doomed[idx] = true
		}
	}
	var kept []core.Row
	for i, r := range t.data[name] {
		if !doomed[i] {
			kept = append(kept, r)
		}
	}
	t.data[name] = kept
	return nil
}

func (t *Transport) target(path string) (*core.Table, error) {
	loc, err := location.Parse(path)
	if err != nil {
		return nil, badRequest(err.Error())
	}
	if len(loc.Segments) != 1 {
		return nil, badRequest("insert path must name a single table")
	}
	ref, ok := loc.Segments[0].(location.TableRef)
	if !ok {
		return nil, badRequest("insert path must name a table")
	}
	tbl, err := t.catalog.Table(ref.Schema, ref.Table)
	if err != nil {
		return nil, notFound(err)
	}
	return tbl, nil
}

func conflicts(rows []core.Row, row core.Row, cols []string) bool {
	for _, r := range rows {
		same := true
		for _, c := range cols {
			if r[c] == nil || row[c] == nil || compareValues(r[c], row[c]) != 0 {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

func cloneRows(rows []core.Row) []core.Row {
	out := make([]core.Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func badRequest(msg string) error {
	return &core.TransportError{Status: http.StatusBadRequest, Body: msg}
}

func notFound(err error) error {
	return &core.TransportError{Status: http.StatusNotFound, Body: err.Error(), Cause: err}
}

func withRequest(err error, method, path string) error {
	if te, ok := err.(*core.TransportError); ok {
		te.Method, te.Path = method, path
	}
	return err
}
