package core

import "fmt"

// Context names the situation a reference is presented in. Annotations such
// as table alternatives are looked up by context, falling back along a fixed
// parent chain until the default context is reached.
type Context int

// Context constants.
const (
	ContextDefault Context = iota // *
	ContextCompact
	ContextCompactBrief
	ContextCompactBriefInline
	ContextCompactSelect
	ContextCompactSelectAssociation
	ContextDetailed
	ContextEntry
	ContextEntryCreate
	ContextEntryEdit
	ContextFilter
	ContextExport
	ContextRowName
)

var contextNames = map[Context]string{
	ContextDefault:                  "*",
	ContextCompact:                  "compact",
	ContextCompactBrief:             "compact/brief",
	ContextCompactBriefInline:       "compact/brief/inline",
	ContextCompactSelect:            "compact/select",
	ContextCompactSelectAssociation: "compact/select/association",
	ContextDetailed:                 "detailed",
	ContextEntry:                    "entry",
	ContextEntryCreate:              "entry/create",
	ContextEntryEdit:                "entry/edit",
	ContextFilter:                   "filter",
	ContextExport:                   "export",
	ContextRowName:                  "row_name",
}

// contextParents is the fallback table. Contexts without an entry fall back
// directly to ContextDefault.
var contextParents = map[Context]Context{
	ContextCompactBrief:             ContextCompact,
	ContextCompactBriefInline:       ContextCompactBrief,
	ContextCompactSelect:            ContextCompact,
	ContextCompactSelectAssociation: ContextCompactSelect,
	ContextEntryCreate:              ContextEntry,
	ContextEntryEdit:                ContextEntry,
}

// String returns the annotation name of the context.
func (c Context) String() string {
	if name, ok := contextNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Context(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler.
func (c Context) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Context) UnmarshalText(b []byte) error {
	parsed, err := ParseContext(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseContext parses a context name such as "compact/brief".
// The empty string is the default context.
func ParseContext(s string) (Context, error) {
	if s == "" {
		return ContextDefault, nil
	}
	for c, name := range contextNames {
		if name == s {
			return c, nil
		}
	}
	return ContextDefault, &InvalidInputError{Message: fmt.Sprintf("unknown context %q", s)}
}

// Contexts returns every known context in declaration order.
func Contexts() []Context {
	out := make([]Context, 0, len(contextNames))
	for c := ContextDefault; c <= ContextRowName; c++ {
		out = append(out, c)
	}
	return out
}

// Parent returns the context this one falls back to.
// ContextDefault has no parent.
func (c Context) Parent() (Context, bool) {
	if c == ContextDefault {
		return ContextDefault, false
	}
	if p, ok := contextParents[c]; ok {
		return p, true
	}
	return ContextDefault, true
}

// Chain returns c followed by each fallback ancestor, ending with ContextDefault.
func (c Context) Chain() []Context {
	chain := []Context{c}
	for cur := c; ; {
		p, ok := cur.Parent()
		if !ok {
			return chain
		}
		chain = append(chain, p)
		cur = p
	}
}

// ToleratesMultiValuedFacets reports whether facets reached through a
// fan-out path may be used without declaring an aggregate.
func (c Context) ToleratesMultiValuedFacets() bool {
	for _, cc := range c.Chain() {
		if cc == ContextCompact || cc == ContextFilter {
			return true
		}
	}
	return false
}

// LookupContext resolves a per-context setting, walking the fallback chain.
func LookupContext[T any](m map[Context]T, c Context) (T, bool) {
	for _, cc := range c.Chain() {
		if v, ok := m[cc]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
