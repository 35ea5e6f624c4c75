// Package sourcepath models the foreign-key path from a table to a column:
// an ordered list of inbound or outbound hops followed by a terminal column.
package sourcepath

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/flate"
	"github.com/leapstack-labs/leapref/pkg/core"
)

// Direction is the direction a hop traverses its foreign key.
type Direction int

// Direction constants.
const (
	// Outbound follows a foreign key from the referencing table to the referenced one.
	Outbound Direction = iota
	// Inbound follows a foreign key from the referenced table back to the referencing one.
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	if d == Outbound {
		return Inbound
	}
	return Outbound
}

// Hop is one traversal of a foreign key constraint.
type Hop struct {
	Direction  Direction
	Constraint core.ConstraintName
}

// OutboundHop returns an outbound hop over the named constraint.
func OutboundHop(schema, name string) Hop {
	return Hop{Direction: Outbound, Constraint: core.ConstraintName{Schema: schema, Name: name}}
}

// InboundHop returns an inbound hop over the named constraint.
func InboundHop(schema, name string) Hop {
	return Hop{Direction: Inbound, Constraint: core.ConstraintName{Schema: schema, Name: name}}
}

func (h Hop) String() string {
	return h.Direction.String() + ":" + h.Constraint.String()
}

// SourcePath is a hop sequence plus the column it lands on.
// The zero-hop form is a plain column of the root table.
type SourcePath struct {
	Hops   []Hop
	Column string
}

// Column returns a zero-hop path.
func Column(name string) SourcePath {
	return SourcePath{Column: name}
}

// New returns a path over hops ending in column.
func New(column string, hops ...Hop) SourcePath {
	return SourcePath{Hops: slices.Clone(hops), Column: column}
}

// IsZero reports whether the path is empty.
func (p SourcePath) IsZero() bool {
	return len(p.Hops) == 0 && p.Column == ""
}

// Prepend returns a copy with h added in front.
func (p SourcePath) Prepend(h Hop) SourcePath {
	hops := make([]Hop, 0, len(p.Hops)+1)
	hops = append(hops, h)
	hops = append(hops, p.Hops...)
	return SourcePath{Hops: hops, Column: p.Column}
}

// TrimFirst returns a copy without its first hop.
func (p SourcePath) TrimFirst() SourcePath {
	if len(p.Hops) == 0 {
		return p
	}
	return SourcePath{Hops: slices.Clone(p.Hops[1:]), Column: p.Column}
}

// Key returns the canonical structural identity of the path.
func (p SourcePath) Key() string {
	var b strings.Builder
	for _, h := range p.Hops {
		b.WriteString(h.String())
		b.WriteByte('/')
	}
	b.WriteString(p.Column)
	return b.String()
}

// Equal reports structural equality.
func (p SourcePath) Equal(o SourcePath) bool {
	return p.Column == o.Column && slices.Equal(p.Hops, o.Hops)
}

func (p SourcePath) String() string {
	return p.Key()
}

// MarshalJSON renders the facet source form: a bare column string, or an
// array of {"inbound"|"outbound": [schema, name]} objects ending in the column.
func (p SourcePath) MarshalJSON() ([]byte, error) {
	if len(p.Hops) == 0 {
		return json.Marshal(p.Column)
	}
	elems := make([]any, 0, len(p.Hops)+1)
	for _, h := range p.Hops {
		elems = append(elems, map[string][2]string{
			h.Direction.String(): {h.Constraint.Schema, h.Constraint.Name},
		})
	}
	elems = append(elems, p.Column)
	return json.Marshal(elems)
}

// UnmarshalJSON parses the facet source form.
func (p *SourcePath) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Parse decodes a facet source from JSON.
func Parse(data []byte) (SourcePath, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var col string
		if err := json.Unmarshal(data, &col); err != nil {
			return SourcePath{}, invalid("column name", err)
		}
		return Column(col), nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return SourcePath{}, invalid("source must be a string or an array", err)
	}
	if len(elems) == 0 {
		return SourcePath{}, invalid("empty source", nil)
	}

	var p SourcePath
	for i, raw := range elems {
		if i == len(elems)-1 {
			if err := json.Unmarshal(raw, &p.Column); err != nil {
				return SourcePath{}, invalid("source must end in a column name", err)
			}
			break
		}
		var obj map[string][]string
		if err := json.Unmarshal(raw, &obj); err != nil {
			return SourcePath{}, invalid(fmt.Sprintf("hop %d", i), err)
		}
		if len(obj) != 1 {
			return SourcePath{}, invalid(fmt.Sprintf("hop %d must have exactly one direction", i), nil)
		}
		for dir, name := range obj {
			if len(name) != 2 {
				return SourcePath{}, invalid(fmt.Sprintf("hop %d constraint must be [schema, name]", i), nil)
			}
			h := Hop{Constraint: core.ConstraintName{Schema: name[0], Name: name[1]}}
			switch dir {
			case "outbound":
				h.Direction = Outbound
			case "inbound":
				h.Direction = Inbound
			default:
				return SourcePath{}, invalid(fmt.Sprintf("hop %d has unknown direction %q", i, dir), nil)
			}
			p.Hops = append(p.Hops, h)
		}
	}
	if p.Column == "" {
		return SourcePath{}, invalid("source must end in a column name", nil)
	}
	return p, nil
}

func invalid(msg string, cause error) error {
	return &core.InvalidFacetOperatorError{Message: msg, Cause: cause}
}

// Compress returns a compact URL-safe token for the path.
func Compress(p SourcePath) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal source path: %w", err)
	}
	return Deflate(data)
}

// Decompress reverses Compress.
func Decompress(token string) (SourcePath, error) {
	data, err := Inflate(token)
	if err != nil {
		return SourcePath{}, err
	}
	return Parse(data)
}

// Deflate compresses data into unpadded base64url text.
func Deflate(data []byte) (string, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("failed to create compressor: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to compress: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Inflate reverses Deflate.
func Inflate(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, invalid("malformed token encoding", err)
	}
	r := flate.NewReader(bytes.NewReader(raw))
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, invalid("malformed token payload", err)
	}
	return data, nil
}
