package render

import (
	"sync"
	"testing"

	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tokens, err := Tokenize("a {{ b }}\n{{ c }}")
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Type: TokenText, Value: "a ", Pos: Position{Line: 1, Column: 1}},
		{Type: TokenExpr, Value: "b", Pos: Position{Line: 1, Column: 3}},
		{Type: TokenText, Value: "\n", Pos: Position{Line: 1, Column: 10}},
		{Type: TokenExpr, Value: "c", Pos: Position{Line: 2, Column: 1}},
		{Type: TokenEOF, Pos: Position{Line: 2, Column: 8}},
	}, tokens)
}

func TestTokenize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		msg   string
	}{
		{"unclosed", "name: {{ name", "unclosed expression"},
		{"empty", "{{  }}", "empty expression"},
		{"unclosed string", `{{ "}} }}`, "unclosed expression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tokenize(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRender(t *testing.T) {
	values := map[string]any{
		"id":       int64(3),
		"name":     "alpha beta",
		"ratio":    0.5,
		"nick":     nil,
		"my col":   "spaced",
		"tags":     []any{"x", "y"},
		"title":    "shadowed",
		"approved": true,
	}
	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain text", "row", "row"},
		{"column", "{{ name }}", "alpha beta"},
		{"integer", "#{{ id }}", "#3"},
		{"float", "{{ ratio }}", "0.5"},
		{"null renders empty", "[{{ nick }}]", "[]"},
		{"row dict", "{{ row['my col'] }}", "spaced"},
		{"title builtin", "{{ title(name) }} ({{ id }})", "Alpha Beta (3)"},
		{"builtins win over columns", "{{ title(row['title']) }}", "Shadowed"},
		{"upper of null", "{{ upper(nick) }}", ""},
		{"default", "{{ default(nick, name) }}", "alpha beta"},
		{"expression", "{{ ', '.join(tags) }}", "x, y"},
		{"conditional", "{{ 'yes' if approved else 'no' }}", "yes"},
		{"braces in string", "{{ '}}' }}", "}}"},
	}

	r := New(testutil.NewTestLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.template, values)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	r := New(nil)

	_, err := r.Render("x {{ missing }}", map[string]any{})
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, Position{Line: 1, Column: 3}, rerr.Pos)
	assert.NotNil(t, rerr.Cause)

	_, err = r.Render("{{ name", map[string]any{"name": "a"})
	assert.Error(t, err)

	_, err = r.Render("{{ name.nope }}", map[string]any{"name": "a"})
	assert.Error(t, err)
}

func TestRender_Concurrent(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := r.Render("{{ id * 2 }}", map[string]any{"id": i})
			if err != nil {
				errs <- err
				return
			}
			if out == "" {
				errs <- assert.AnError
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestIsIdentifier(t *testing.T) {
	assert.True(t, isIdentifier("text_col"))
	assert.True(t, isIdentifier("_x1"))
	assert.False(t, isIdentifier("1x"))
	assert.False(t, isIdentifier("my col"))
	assert.False(t, isIdentifier(""))
}
