package facet

import (
	"errors"
	"slices"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/sourcepath"
)

// Set is an ordered conjunction of definitions with at most one definition
// per source. Sets are values: every operation returns a new set.
type Set struct {
	defs []Definition
}

// NewSet builds a set, merging definitions that share a source.
func NewSet(defs ...Definition) Set {
	return Set{}.With(defs...)
}

// Definitions returns a copy of the definitions in order.
func (s Set) Definitions() []Definition {
	return slices.Clone(s.defs)
}

// Len returns the number of definitions.
func (s Set) Len() int { return len(s.defs) }

// IsEmpty reports whether the set has no definitions.
func (s Set) IsEmpty() bool { return len(s.defs) == 0 }

// Lookup returns the definition with the given identity.
func (s Set) Lookup(identity string) (Definition, bool) {
	for _, d := range s.defs {
		if d.Identity() == identity {
			return d, true
		}
	}
	return Definition{}, false
}

// With returns a set with defs merged in. A definition whose source is
// already present unions its arms into the existing one; others append.
func (s Set) With(defs ...Definition) Set {
	out := Set{defs: slices.Clone(s.defs)}
	for _, d := range defs {
		id := d.Identity()
		idx := slices.IndexFunc(out.defs, func(e Definition) bool { return e.Identity() == id })
		if idx >= 0 {
			out.defs[idx] = out.defs[idx].Merge(d)
			continue
		}
		out.defs = append(out.defs, d.Merge(Definition{}))
	}
	return out
}

// Merge returns s with every definition of o merged in.
func (s Set) Merge(o Set) Set {
	return s.With(o.defs...)
}

// Without returns a set without the definition of the given identity.
func (s Set) Without(identity string) Set {
	out := Set{}
	for _, d := range s.defs {
		if d.Identity() != identity {
			out.defs = append(out.defs, d)
		}
	}
	return out
}

// Map returns a set whose definitions are transformed by fn.
func (s Set) Map(fn func(Definition) Definition) Set {
	out := Set{}
	for _, d := range s.defs {
		out = out.With(fn(d))
	}
	return out
}

// Key returns the canonical JSON form, used for structural equality and hashing.
func (s Set) Key() string {
	if s.IsEmpty() {
		return ""
	}
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

// Equal reports structural equality, order included.
func (s Set) Equal(o Set) bool {
	return s.Key() == o.Key()
}

type wireSet struct {
	And []Definition `json:"and"`
}

// MarshalJSON renders {"and": [...]}.
func (s Set) MarshalJSON() ([]byte, error) {
	defs := s.defs
	if defs == nil {
		defs = []Definition{}
	}
	return json.Marshal(wireSet{And: defs})
}

// UnmarshalJSON parses {"and": [...]}.
func (s *Set) UnmarshalJSON(data []byte) error {
	var w struct {
		And *[]Definition `json:"and"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return &core.InvalidFacetOperatorError{Message: "malformed facet set", Cause: err}
	}
	if w.And == nil {
		return &core.InvalidFacetOperatorError{Message: `facet set must have an "and" list`}
	}
	*s = NewSet(*w.And...)
	return nil
}

// Encode returns the compact blob form of the set.
func Encode(s Set) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", &core.InvalidFacetOperatorError{Message: "cannot encode facets", Cause: err}
	}
	return sourcepath.Deflate(data)
}

// Decode parses a blob produced by Encode.
func Decode(blob string) (Set, error) {
	data, err := sourcepath.Inflate(blob)
	if err != nil {
		return Set{}, err
	}
	var s Set
	if err := json.Unmarshal(data, &s); err != nil {
		if errors.Is(err, core.ErrInvalidFacetOperator) {
			return Set{}, err
		}
		return Set{}, &core.InvalidFacetOperatorError{Message: "malformed facet blob", Cause: err}
	}
	return s, nil
}
