package render

import (
	"strings"
	"unicode/utf8"
)

// TokenType identifies the type of token.
type TokenType int

// TokenType constants for template token types.
const (
	TokenText TokenType = iota // Literal text
	TokenExpr                  // Expression content (between {{ and }})
	TokenEOF                   // End of input
)

func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "TEXT"
	case TokenExpr:
		return "EXPR"
	case TokenEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// Position is a location within a template.
type Position struct {
	Line   int
	Column int
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Pos   Position
}

type lexer struct {
	input     string
	pos       int
	line      int
	col       int
	startLine int
	startCol  int
}

// Tokenize splits a template into literal text and {{ expression }} tokens.
func Tokenize(input string) ([]Token, error) {
	l := &lexer{input: input, line: 1, col: 1}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	if l.pos >= len(l.input) {
		return Token{Type: TokenEOF, Pos: l.position()}, nil
	}
	if strings.HasPrefix(l.input[l.pos:], "{{") {
		return l.scanExpression()
	}
	return l.scanText(), nil
}

func (l *lexer) scanText() Token {
	l.markStart()
	start := l.pos
	for l.pos < len(l.input) && !strings.HasPrefix(l.input[l.pos:], "{{") {
		l.advance()
	}
	return Token{Type: TokenText, Value: l.input[start:l.pos], Pos: l.startPosition()}
}

func (l *lexer) scanExpression() (Token, error) {
	l.markStart()
	l.pos += 2
	l.col += 2

	start := l.pos
	depth := 0
	var quote rune
	for l.pos < len(l.input) {
		r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
		switch {
		case quote != 0:
			if r == '\\' {
				l.advance()
			} else if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case depth == 0 && strings.HasPrefix(l.input[l.pos:], "}}"):
			expr := strings.TrimSpace(l.input[start:l.pos])
			l.pos += 2
			l.col += 2
			if expr == "" {
				return Token{}, newError(l.startPosition(), "empty expression", nil)
			}
			return Token{Type: TokenExpr, Value: expr, Pos: l.startPosition()}, nil
		case r == '{' || r == '[' || r == '(':
			depth++
		case (r == '}' || r == ']' || r == ')') && depth > 0:
			depth--
		}
		l.advance()
	}
	return Token{}, newError(l.startPosition(), "unclosed expression: missing '}}'", nil)
}

func (l *lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.pos:])
	l.pos += size
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
}

func (l *lexer) markStart() {
	l.startLine = l.line
	l.startCol = l.col
}

func (l *lexer) position() Position {
	return Position{Line: l.line, Column: l.col}
}

func (l *lexer) startPosition() Position {
	return Position{Line: l.startLine, Column: l.startCol}
}
