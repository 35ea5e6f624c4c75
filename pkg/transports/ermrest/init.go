package ermrest

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/transport"
)

func init() {
	transport.Register("http", Open)
}

// Open builds an HTTP transport from configuration. The service is assumed
// to support quantified value lists and rights summaries unless
// Options["quantified_value_lists"] or Options["rights_summary"] say "false".
func Open(cfg core.TransportConfig, logger *slog.Logger) (core.Transport, error) {
	caps := core.Capabilities{QuantifiedValueLists: true, RightsSummary: true}
	for name, flag := range map[string]*bool{
		"quantified_value_lists": &caps.QuantifiedValueLists,
		"rights_summary":         &caps.RightsSummary,
	} {
		raw, ok := cfg.Options[name]
		if !ok {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", name, err)
		}
		*flag = v
	}
	retries := cfg.Retries
	if retries == 0 {
		retries = DefaultRetries
	}
	return New(Config{
		ServiceURL:   cfg.URL,
		Catalog:      cfg.Catalog,
		Timeout:      cfg.Timeout,
		Retries:      retries,
		Headers:      cfg.Headers,
		Capabilities: caps,
		Logger:       logger,
	})
}
