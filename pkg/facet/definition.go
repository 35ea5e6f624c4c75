// Package facet models filter definitions over columns reachable from a
// table, the ordered sets they are combined in, and the compact blob form
// used in reference locations.
package facet

import (
	"fmt"
	"slices"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
)

// SearchBox is the reserved source key that targets a table's search columns.
const SearchBox = "search-box"

// Range is one interval arm. A nil bound is open; a set bound is exclusive
// unless its inclusive flag is set.
type Range struct {
	Min          any  `json:"min,omitempty"`
	Max          any  `json:"max,omitempty"`
	MinInclusive bool `json:"min_inclusive,omitempty"`
	MaxInclusive bool `json:"max_inclusive,omitempty"`
}

// IsOpen reports whether the range has no bounds at all.
func (r Range) IsOpen() bool { return r.Min == nil && r.Max == nil }

func (r Range) key() string {
	return fmt.Sprintf("%s|%s|%t|%t", valueKey(r.Min), valueKey(r.Max), r.MinInclusive, r.MaxInclusive)
}

// Domain names the column a definition is expected to land on.
type Domain struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Column string `json:"column,omitempty"`
}

// Definition is a predicate over the column reached by Source. Its arms
// (choices, ranges, search terms, not-null) are ORed together.
type Definition struct {
	Source       sourcepath.SourcePath
	SourceKey    string
	SourceDomain *Domain
	Choices      []any
	Ranges       []Range
	Search       []string
	NotNull      bool
	Hidden       bool
	Entity       *bool
	Aggregate    string
}

type wireDefinition struct {
	Source       *sourcepath.SourcePath `json:"source,omitempty"`
	SourceKey    string                 `json:"sourcekey,omitempty"`
	SourceDomain *Domain                `json:"source_domain,omitempty"`
	Choices      []any                  `json:"choices,omitempty"`
	Ranges       []Range                `json:"ranges,omitempty"`
	Search       []string               `json:"search,omitempty"`
	NotNull      bool                   `json:"not_null,omitempty"`
	Hidden       bool                   `json:"hidden,omitempty"`
	Entity       *bool                  `json:"entity,omitempty"`
	Aggregate    string                 `json:"aggregate,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d Definition) MarshalJSON() ([]byte, error) {
	w := wireDefinition{
		SourceKey:    d.SourceKey,
		SourceDomain: d.SourceDomain,
		Choices:      d.Choices,
		Ranges:       d.Ranges,
		Search:       d.Search,
		NotNull:      d.NotNull,
		Hidden:       d.Hidden,
		Entity:       d.Entity,
		Aggregate:    d.Aggregate,
	}
	if !d.Source.IsZero() {
		src := d.Source
		w.Source = &src
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var w wireDefinition
	if err := json.Unmarshal(data, &w); err != nil {
		return &core.InvalidFacetOperatorError{Message: "malformed facet definition", Cause: err}
	}
	if w.Source == nil && w.SourceKey == "" {
		return &core.InvalidFacetOperatorError{Message: "facet definition needs a source or sourcekey"}
	}
	*d = Definition{
		SourceKey:    w.SourceKey,
		SourceDomain: w.SourceDomain,
		Choices:      w.Choices,
		Ranges:       w.Ranges,
		Search:       w.Search,
		NotNull:      w.NotNull,
		Hidden:       w.Hidden,
		Entity:       w.Entity,
		Aggregate:    w.Aggregate,
	}
	if w.Source != nil {
		d.Source = *w.Source
	}
	return nil
}

// Identity is the structural key used to match definitions when merging.
func (d Definition) Identity() string {
	if d.SourceKey != "" {
		return "key:" + d.SourceKey
	}
	return "src:" + d.Source.Key()
}

// IsEmpty reports whether the definition has no arms.
func (d Definition) IsEmpty() bool {
	return len(d.Choices) == 0 && len(d.Ranges) == 0 && len(d.Search) == 0 && !d.NotNull
}

// IsEntity reports whether choices identify rows of the terminal table.
// An explicit Entity flag wins over fallback.
func (d Definition) IsEntity(fallback bool) bool {
	if d.Entity != nil {
		return *d.Entity
	}
	return fallback
}

// WithChoices returns a copy whose choices are replaced.
func (d Definition) WithChoices(choices []any) Definition {
	d.Choices = slices.Clone(choices)
	return d
}

// WithSource returns a copy with a new source, dropping any source key.
func (d Definition) WithSource(p sourcepath.SourcePath) Definition {
	d.Source = p
	d.SourceKey = ""
	return d
}

// Merge returns the union of two definitions over the same source.
// Arms of d come first; arms of o that d lacks are appended.
func (d Definition) Merge(o Definition) Definition {
	out := d
	out.Choices = unionValues(d.Choices, o.Choices)
	out.Ranges = unionRanges(d.Ranges, o.Ranges)
	out.Search = unionStrings(d.Search, o.Search)
	out.NotNull = d.NotNull || o.NotNull
	if out.Source.IsZero() {
		out.Source = o.Source
	}
	if out.SourceDomain == nil {
		out.SourceDomain = o.SourceDomain
	}
	if out.Entity == nil {
		out.Entity = o.Entity
	}
	if out.Aggregate == "" {
		out.Aggregate = o.Aggregate
	}
	return out
}

func valueKey(v any) string {
	if v == nil {
		return "\x00null"
	}
	return core.FormatValue(v)
}

func unionValues(a, b []any) []any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [][]any{a, b} {
		for _, v := range list {
			k := valueKey(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

func unionRanges(a, b []Range) []Range {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]Range, 0, len(a)+len(b))
	for _, list := range [][]Range{a, b} {
		for _, r := range list {
			k := r.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, r)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
	}
	return out
}
