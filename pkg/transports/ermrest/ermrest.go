// Package ermrest implements core.Transport over the data service's HTTP API.
package ermrest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/sethvargo/go-retry"
)

// RequestIDHeader carries the id shared by every attempt of one request.
const RequestIDHeader = "X-Request-Id"

// Defaults for Config.
const (
	DefaultTimeout = 30 * time.Second
	DefaultRetries = 3
	DefaultBackoff = 100 * time.Millisecond
	maxErrorBody   = 512
)

// Config configures a Transport.
type Config struct {
	// ServiceURL is the service root, e.g. "https://host/ermrest".
	ServiceURL string
	Catalog    string
	// Client overrides the HTTP client. Timeout is ignored when set.
	Client  *http.Client
	Timeout time.Duration
	// Retries bounds the extra attempts of idempotent requests.
	Retries int
	// Backoff is the first retry delay; later delays grow exponentially.
	Backoff      time.Duration
	Headers      map[string]string
	Capabilities core.Capabilities
	Logger       *slog.Logger
}

// Transport talks to one catalog of a data service.
type Transport struct {
	base    string
	client  *http.Client
	retries int
	backoff time.Duration
	headers map[string]string
	caps    core.Capabilities
	logger  *slog.Logger
}

// New creates a transport.
func New(cfg Config) (*Transport, error) {
	if cfg.ServiceURL == "" {
		return nil, &core.InvalidInputError{Message: "service URL is required"}
	}
	if cfg.Catalog == "" {
		return nil, &core.InvalidInputError{Message: "catalog id is required"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Transport{
		base:    strings.TrimRight(cfg.ServiceURL, "/") + "/catalog/" + cfg.Catalog + "/",
		client:  client,
		retries: cfg.Retries,
		backoff: cfg.Backoff,
		headers: cfg.Headers,
		caps:    cfg.Capabilities,
		logger:  cfg.Logger,
	}, nil
}

// Get implements core.Transport.
func (t *Transport) Get(ctx context.Context, path string) ([]core.Row, error) {
	return t.do(ctx, http.MethodGet, path, nil)
}

// Post implements core.Transport. Creates are not retried.
func (t *Transport) Post(ctx context.Context, path string, rows []core.Row) ([]core.Row, error) {
	return t.do(ctx, http.MethodPost, path, rows)
}

// Put implements core.Transport.
func (t *Transport) Put(ctx context.Context, path string, rows []core.Row) ([]core.Row, error) {
	return t.do(ctx, http.MethodPut, path, rows)
}

// Delete implements core.Transport.
func (t *Transport) Delete(ctx context.Context, path string) error {
	_, err := t.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Capabilities implements core.Transport.
func (t *Transport) Capabilities() core.Capabilities { return t.caps }

// Close implements core.Transport.
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *Transport) do(ctx context.Context, method, path string, rows []core.Row) ([]core.Row, error) {
	var body []byte
	if rows != nil {
		var err error
		if body, err = json.Marshal(rows); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	id := uuid.NewString()
	retries := uint64(t.retries)
	if method == http.MethodPost {
		retries = 0
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(t.backoff))

	attempt := 0
	out, err := retry.DoValue(ctx, backoff, func(ctx context.Context) ([]core.Row, error) {
		attempt++
		return t.attempt(ctx, method, path, id, body, attempt)
	})
	if err != nil {
		var te *core.TransportError
		if !errors.As(err, &te) {
			err = &core.TransportError{Method: method, Path: path, Cause: err}
		}
		return nil, err
	}
	return out, nil
}

func (t *Transport) attempt(ctx context.Context, method, path, id string, body []byte, attempt int) ([]core.Row, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return nil, &core.TransportError{Method: method, Path: path, Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, id)
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("request_id", id),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if ctx.Err() == nil && isTemporary(err) {
			return nil, retry.RetryableError(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	t.logger.Debug("request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", id),
		slog.Int("attempt", attempt),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		te := &core.TransportError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(raw)),
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retry.RetryableError(te)
		}
		return nil, te
	}
	if method == http.MethodDelete || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return decodeRows(resp.Body)
}

func isTemporary(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}

// decodeRows reads a JSON array of objects. Integral numbers decode as
// int64 and the rest as float64.
func decodeRows(r io.Reader) ([]core.Row, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rows []core.Row
	if err := dec.Decode(&rows); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = normalize(v)
		}
	}
	return rows, nil
}

func normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalize(x[k])
		}
		return x
	}
	return v
}
