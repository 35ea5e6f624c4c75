// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/internal/cli/output"
	"github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/core"
)

// Project describes the files of a temporary CLI project.
type Project struct {
	Dir         string
	CatalogFile string
	Fixtures    string
	StatePath   string
}

// Args returns the global flags that point a command at the project
// through the memory transport.
func (p *Project) Args(extra ...string) []string {
	args := []string{
		"--transport", "memory",
		"--catalog-file", p.CatalogFile,
		"--fixtures", p.Fixtures,
		"--state", p.StatePath,
	}
	return append(args, extra...)
}

// SetupTestProject writes the fixture catalog and rows main table rows
// into a temporary directory.
func SetupTestProject(t *testing.T, rows int) *Project {
	t.Helper()

	tmpDir := t.TempDir()
	p := &Project{
		Dir:         tmpDir,
		CatalogFile: filepath.Join(tmpDir, "catalog.yaml"),
		Fixtures:    filepath.Join(tmpDir, "fixtures.json"),
		StatePath:   filepath.Join(tmpDir, ".leapref", "state.db"),
	}

	doc := catalog.FromCatalog(testutil.Catalog(t), core.Capabilities{RightsSummary: true})
	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("failed to marshal catalog: %v", err)
	}
	if err := os.WriteFile(p.CatalogFile, data, 0o600); err != nil {
		t.Fatalf("failed to write catalog: %v", err)
	}

	fixtures, err := json.Marshal(testutil.Rows(rows))
	if err != nil {
		t.Fatalf("failed to marshal fixtures: %v", err)
	}
	if err := os.WriteFile(p.Fixtures, fixtures, 0o600); err != nil {
		t.Fatalf("failed to write fixtures: %v", err)
	}
	return p
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
func NewTestRenderer(mode output.OutputMode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, isTTY, mode),
		Out:      out,
		ErrOut:   errOut,
	}
}

// NewTestRendererText creates a new test renderer in text mode (simulated TTY).
func NewTestRendererText() *TestRenderer {
	return NewTestRenderer(output.ModeText, true)
}

// NewTestRendererMarkdown creates a new test renderer in markdown mode.
func NewTestRendererMarkdown() *TestRenderer {
	return NewTestRenderer(output.ModeMarkdown, false)
}

// NewTestRendererJSON creates a new test renderer in JSON mode.
func NewTestRendererJSON() *TestRenderer {
	return NewTestRenderer(output.ModeJSON, false)
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// Reset clears both output buffers.
func (tr *TestRenderer) Reset() {
	tr.Out.Reset()
	tr.ErrOut.Reset()
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	lines := strings.Split(md, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
