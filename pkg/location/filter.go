package location

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapref/pkg/core"
)

// Op is a filter operator.
type Op int

// Op constants.
const (
	OpEq Op = iota
	OpGt
	OpGeq
	OpLt
	OpLeq
	OpNull
	OpRegexp
	OpCiregexp
	OpTs
)

var opNames = map[Op]string{
	OpEq:       "=",
	OpGt:       "gt",
	OpGeq:      "geq",
	OpLt:       "lt",
	OpLeq:      "leq",
	OpNull:     "null",
	OpRegexp:   "regexp",
	OpCiregexp: "ciregexp",
	OpTs:       "ts",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func parseOp(s string) (Op, bool) {
	for op, name := range opNames {
		if op != OpEq && name == s {
			return op, true
		}
	}
	return OpEq, false
}

// Expr is a filter expression node.
type Expr interface {
	String() string
	isExpr()
}

// Pred compares a column with a literal. Quantified predicates match any
// of Values.
type Pred struct {
	Column     string
	Op         Op
	Value      string
	Values     []string
	Quantified bool
}

// Not negates its operand.
type Not struct {
	Expr Expr
}

// And is a conjunction.
type And []Expr

// Or is a disjunction.
type Or []Expr

func (Pred) isExpr() {}
func (Not) isExpr()  {}
func (And) isExpr()  {}
func (Or) isExpr()   {}

func (p Pred) String() string {
	col := core.Encode(p.Column)
	switch {
	case p.Quantified:
		vals := make([]string, len(p.Values))
		for i, v := range p.Values {
			vals[i] = core.Encode(v)
		}
		return col + "=any(" + strings.Join(vals, ",") + ")"
	case p.Op == OpEq:
		return col + "=" + core.Encode(p.Value)
	case p.Op == OpNull:
		return col + "::null::"
	default:
		return col + "::" + p.Op.String() + "::" + core.Encode(p.Value)
	}
}

func (n Not) String() string {
	if p, ok := n.Expr.(Pred); ok {
		return "!" + p.String()
	}
	return "!(" + n.Expr.String() + ")"
}

func (a And) String() string {
	parts := make([]string, len(a))
	for i, e := range a {
		if o, ok := e.(Or); ok && len(o) > 1 {
			parts[i] = "(" + e.String() + ")"
			continue
		}
		parts[i] = e.String()
	}
	return strings.Join(parts, "&")
}

func (o Or) String() string {
	parts := make([]string, len(o))
	for i, e := range o {
		if a, ok := e.(And); ok && len(a) > 1 {
			parts[i] = "(" + e.String() + ")"
			continue
		}
		parts[i] = e.String()
	}
	return strings.Join(parts, ";")
}

// Preds returns every predicate in the expression, depth first.
func Preds(e Expr) []Pred {
	var out []Pred
	var walk func(Expr)
	walk = func(e Expr) {
		switch v := e.(type) {
		case Pred:
			out = append(out, v)
		case Not:
			walk(v.Expr)
		case And:
			for _, c := range v {
				walk(c)
			}
		case Or:
			for _, c := range v {
				walk(c)
			}
		}
	}
	walk(e)
	return out
}

// RenameColumns returns a copy of e with predicate columns mapped through fn.
func RenameColumns(e Expr, fn func(string) string) Expr {
	switch v := e.(type) {
	case Pred:
		v.Column = fn(v.Column)
		return v
	case Not:
		return Not{Expr: RenameColumns(v.Expr, fn)}
	case And:
		out := make(And, len(v))
		for i, c := range v {
			out[i] = RenameColumns(c, fn)
		}
		return out
	case Or:
		out := make(Or, len(v))
		for i, c := range v {
			out[i] = RenameColumns(c, fn)
		}
		return out
	}
	return e
}

// ParseFilter parses a filter segment.
func ParseFilter(s string) (Expr, error) {
	p := &filterParser{input: s}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected %q", p.input[p.pos:])
	}
	return e, nil
}

type filterParser struct {
	input string
	pos   int
}

func (p *filterParser) errorf(format string, args ...any) error {
	return &core.InvalidInputError{Message: fmt.Sprintf("filter %q at %d: %s", p.input, p.pos, fmt.Sprintf(format, args...))}
}

func (p *filterParser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *filterParser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := Or{first}
	for p.peek() == ';' {
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *filterParser) parseAnd() (Expr, error) {
	first, err := p.parseUnit()
	if err != nil {
		return nil, err
	}
	terms := And{first}
	for p.peek() == '&' {
		p.pos++
		next, err := p.parseUnit()
		if err != nil {
			return nil, err
		}
		terms = append(terms, next)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return terms, nil
}

func (p *filterParser) parseUnit() (Expr, error) {
	switch p.peek() {
	case '!':
		p.pos++
		inner, err := p.parseUnit()
		if err != nil {
			return nil, err
		}
		return Not{Expr: inner}, nil
	case '(':
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, p.errorf("missing ')'")
		}
		p.pos++
		return inner, nil
	case 0:
		return nil, p.errorf("unexpected end of filter")
	}
	return p.parsePred()
}

func (p *filterParser) parsePred() (Expr, error) {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ';' || c == '&' || c == ')' {
			break
		}
		if c == '(' {
			if !strings.HasSuffix(p.input[start:p.pos], "=any") {
				return nil, p.errorf("unexpected '('")
			}
			end := strings.IndexByte(p.input[p.pos:], ')')
			if end < 0 {
				return nil, p.errorf("unclosed any(")
			}
			p.pos += end + 1
			break
		}
		p.pos++
	}
	return parseAtom(p.input[start:p.pos])
}

func parseAtom(atom string) (Expr, error) {
	if atom == "" {
		return nil, &core.InvalidInputError{Message: "empty predicate"}
	}
	if i := strings.Index(atom, "::"); i >= 0 {
		col, err := core.Decode(atom[:i])
		if err != nil {
			return nil, err
		}
		rest := atom[i+2:]
		j := strings.Index(rest, "::")
		if j < 0 {
			return nil, &core.InvalidInputError{Message: fmt.Sprintf("malformed operator in %q", atom)}
		}
		op, ok := parseOp(rest[:j])
		if !ok {
			return nil, &core.InvalidInputError{Message: fmt.Sprintf("unknown operator %q", rest[:j])}
		}
		val, err := core.Decode(rest[j+2:])
		if err != nil {
			return nil, err
		}
		if op == OpNull && val != "" {
			return nil, &core.InvalidInputError{Message: fmt.Sprintf("::null:: takes no value in %q", atom)}
		}
		return Pred{Column: col, Op: op, Value: val}, nil
	}

	i := strings.IndexByte(atom, '=')
	if i <= 0 {
		return nil, &core.InvalidInputError{Message: fmt.Sprintf("malformed predicate %q", atom)}
	}
	col, err := core.Decode(atom[:i])
	if err != nil {
		return nil, err
	}
	raw := atom[i+1:]
	if strings.HasPrefix(raw, "any(") && strings.HasSuffix(raw, ")") {
		inner := raw[len("any(") : len(raw)-1]
		var vals []string
		if inner != "" {
			for _, part := range strings.Split(inner, ",") {
				v, err := core.Decode(part)
				if err != nil {
					return nil, err
				}
				vals = append(vals, v)
			}
		}
		return Pred{Column: col, Op: OpEq, Values: vals, Quantified: true}, nil
	}
	val, err := core.Decode(raw)
	if err != nil {
		return nil, err
	}
	return Pred{Column: col, Op: OpEq, Value: val}, nil
}
