package memory

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/transport"
)

func init() {
	transport.Register("memory", Open)
}

// Open builds a memory transport from configuration. Options["catalog_file"]
// names the catalog document; Fixtures names a JSON file of rows keyed by
// qualified table name.
func Open(cfg core.TransportConfig, logger *slog.Logger) (core.Transport, error) {
	path := cfg.Options["catalog_file"]
	if path == "" {
		return nil, fmt.Errorf("memory transport needs a catalog file")
	}
	cat, caps, err := catalog.LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	var data map[string][]core.Row
	if cfg.Fixtures != "" {
		if data, err = LoadFixtures(cfg.Fixtures); err != nil {
			return nil, err
		}
	}
	opts := []Option{WithLogger(logger)}
	if caps != (core.Capabilities{}) {
		opts = append(opts, WithCapabilities(caps))
	}
	if ro, _ := strconv.ParseBool(cfg.Options["read_only"]); ro {
		opts = append(opts, WithReadOnly())
	}
	return New(cat, data, opts...), nil
}

// LoadFixtures reads rows from a JSON file shaped {"schema:table": [{...}]}.
// Integral numbers decode as int64 and the rest as float64.
func LoadFixtures(path string) (map[string][]core.Row, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data map[string][]core.Row
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures %s: %w", path, err)
	}
	for _, rows := range data {
		for _, r := range rows {
			for k, v := range r {
				if n, ok := v.(json.Number); ok {
					r[k] = normalizeNumber(n)
				}
			}
		}
	}
	return data, nil
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
