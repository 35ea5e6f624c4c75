// Package render evaluates row-name templates. A template is literal text
// with {{ expression }} placeholders; expressions are Starlark evaluated
// against the row's columns.
package render

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Renderer implements core.Renderer. It is safe for concurrent use.
type Renderer struct {
	pool   *threadPool
	logger *slog.Logger

	mu     sync.RWMutex
	parsed map[string][]Token
}

// New creates a renderer.
func New(logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Renderer{
		pool:   newThreadPool(0),
		logger: logger,
		parsed: make(map[string][]Token),
	}
}

// Render evaluates tmpl against values. Columns are visible by name when
// the name is an identifier, and always through the row dict. A None
// result renders as empty text.
func (r *Renderer) Render(tmpl string, values map[string]any) (string, error) {
	tokens, err := r.tokens(tmpl)
	if err != nil {
		return "", err
	}

	globals, err := r.globals(values)
	if err != nil {
		return "", err
	}

	thread := r.pool.get("row_name")
	defer r.pool.put(thread)

	var sb strings.Builder
	for _, tok := range tokens {
		switch tok.Type {
		case TokenText:
			sb.WriteString(tok.Value)
		case TokenExpr:
			v, err := starlark.EvalOptions(&syntax.FileOptions{}, thread, "row_name", tok.Value, globals)
			if err != nil {
				return "", newError(tok.Pos, fmt.Sprintf("failed to evaluate %q", tok.Value), err)
			}
			sb.WriteString(display(v))
		}
	}
	return sb.String(), nil
}

func (r *Renderer) tokens(tmpl string) ([]Token, error) {
	r.mu.RLock()
	tokens, ok := r.parsed[tmpl]
	r.mu.RUnlock()
	if ok {
		return tokens, nil
	}

	tokens, err := Tokenize(tmpl)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.parsed[tmpl] = tokens
	r.mu.Unlock()
	r.logger.Debug("parsed template", slog.String("template", tmpl), slog.Int("tokens", len(tokens)))
	return tokens, nil
}

func (r *Renderer) globals(values map[string]any) (starlark.StringDict, error) {
	row := starlark.NewDict(len(values))
	globals := make(starlark.StringDict, len(values)+len(builtins)+1)
	for name, v := range values {
		sv, err := toStarlark(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if err := row.SetKey(starlark.String(name), sv); err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		if isIdentifier(name) {
			globals[name] = sv
		}
	}
	for name, b := range builtins {
		globals[name] = b
	}
	globals["row"] = row
	globals.Freeze()
	return globals, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c != '_' && !unicode.IsLetter(c) && (i == 0 || !unicode.IsDigit(c)) {
			return false
		}
	}
	return true
}

// threadPool reuses Starlark threads across renders.
type threadPool struct {
	mu      sync.Mutex
	threads []*starlark.Thread
	maxSize int
}

func newThreadPool(maxSize int) *threadPool {
	if maxSize <= 0 {
		maxSize = 10
	}
	return &threadPool{threads: make([]*starlark.Thread, 0, maxSize), maxSize: maxSize}
}

func (p *threadPool) get(name string) *starlark.Thread {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.threads); n > 0 {
		thread := p.threads[n-1]
		p.threads = p.threads[:n-1]
		thread.Name = name
		return thread
	}
	return &starlark.Thread{
		Name:  name,
		Print: func(_ *starlark.Thread, _ string) {},
	}
}

func (p *threadPool) put(thread *starlark.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.threads) < p.maxSize {
		thread.Name = ""
		p.threads = append(p.threads, thread)
	}
}
