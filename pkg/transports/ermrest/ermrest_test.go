package ermrest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []string
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, string(body))
}

func newServer(t *testing.T, h func(w http.ResponseWriter, r *http.Request, n int)) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		rec.mu.Lock()
		n := len(rec.requests)
		rec.mu.Unlock()
		h(w, r, n)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newTransport(t *testing.T, url string) *Transport {
	t.Helper()
	tr, err := New(Config{
		ServiceURL: url + "/ermrest",
		Catalog:    "1",
		Retries:    2,
		Backoff:    time.Millisecond,
		Headers:    map[string]string{"Authorization": "Bearer token"},
		Logger:     testutil.NewTestLogger(t),
	})
	require.NoError(t, err)
	return tr
}

func TestGet_DecodesRows(t *testing.T) {
	srv, rec := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = io.WriteString(w, `[{"id": 1, "ratio": 0.5, "name": "a", "M": [{"id": 2}]}]`)
	})
	tr := newTransport(t, srv.URL)

	rows, err := tr.Get(context.Background(), "entity/s:main/id=1?limit=11")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, 0.5, rows[0]["ratio"])
	assert.Equal(t, []any{map[string]any{"id": int64(2)}}, rows[0]["M"])

	require.Len(t, rec.requests, 1)
	req := rec.requests[0]
	assert.Equal(t, "/ermrest/catalog/1/entity/s:main/id=1", req.URL.Path)
	assert.Equal(t, "limit=11", req.URL.RawQuery)
	assert.Equal(t, "Bearer token", req.Header.Get("Authorization"))
	assert.NotEmpty(t, req.Header.Get(RequestIDHeader))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	srv, rec := newServer(t, func(w http.ResponseWriter, _ *http.Request, n int) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	})
	tr := newTransport(t, srv.URL)

	rows, err := tr.Get(context.Background(), "entity/s:main")
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.Len(t, rec.requests, 3)
	id := rec.requests[0].Header.Get(RequestIDHeader)
	for _, r := range rec.requests {
		assert.Equal(t, id, r.Header.Get(RequestIDHeader), "attempts share the request id")
	}
}

func TestGet_GivesUpAfterRetries(t *testing.T) {
	srv, rec := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		http.Error(w, "overloaded", http.StatusBadGateway)
	})
	tr := newTransport(t, srv.URL)

	_, err := tr.Get(context.Background(), "entity/s:main")
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.Status)
	assert.Equal(t, "overloaded", te.Body)
	assert.Len(t, rec.requests, 3)
}

func TestErrorsMapToSentinels(t *testing.T) {
	srv, rec := newServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		if r.URL.Path == "/ermrest/catalog/1/entity/s:missing" {
			http.Error(w, "no such table", http.StatusNotFound)
			return
		}
		http.Error(w, "bad filter", http.StatusBadRequest)
	})
	tr := newTransport(t, srv.URL)
	ctx := context.Background()

	_, err := tr.Get(ctx, "entity/s:missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = tr.Get(ctx, "entity/s:main/x::bogus::1")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Len(t, rec.requests, 2, "client errors are not retried")
}

func TestWrites(t *testing.T) {
	srv, rec := newServer(t, func(w http.ResponseWriter, r *http.Request, _ int) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusServiceUnavailable)
		case http.MethodPut:
			_, _ = io.WriteString(w, `[{"RID": "1-X", "name": "new"}]`)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	tr := newTransport(t, srv.URL)
	ctx := context.Background()

	_, err := tr.Post(ctx, "entity/s:tag?defaults=RID", []core.Row{{"name": "green"}})
	require.Error(t, err)
	require.Len(t, rec.requests, 1, "creates are not retried")
	assert.Equal(t, "application/json", rec.requests[0].Header.Get("Content-Type"))
	assert.JSONEq(t, `[{"name": "green"}]`, rec.bodies[0])

	rows, err := tr.Put(ctx, "attributegroup/s:tag/o_RID:=RID;name", []core.Row{{"o_RID": "1-X", "name": "new"}})
	require.NoError(t, err)
	assert.Equal(t, []core.Row{{"RID": "1-X", "name": "new"}}, rows)

	require.NoError(t, tr.Delete(ctx, "entity/s:tag/RID=1-X"))
	assert.Equal(t, http.MethodDelete, rec.requests[2].Method)
}

func TestCancelledContext(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	tr := newTransport(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Get(ctx, "entity/s:main")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Registered(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, _ *http.Request, _ int) {
		_, _ = io.WriteString(w, `[]`)
	})

	tr, err := transport.New(core.TransportConfig{
		Type:    "http",
		URL:     srv.URL,
		Catalog: "1",
		Options: map[string]string{"quantified_value_lists": "false"},
	}, testutil.NewTestLogger(t))
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, core.Capabilities{RightsSummary: true}, tr.Capabilities())

	_, err = transport.New(core.TransportConfig{Type: "http", Catalog: "1"}, nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = Open(core.TransportConfig{URL: srv.URL, Catalog: "1", Options: map[string]string{"rights_summary": "maybe"}}, nil)
	assert.Error(t, err)
}
