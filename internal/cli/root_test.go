package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/leapstack-labs/leapref/internal/cli/config"
	"github.com/leapstack-labs/leapref/internal/cli/testutil"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/leapstack-labs/leapref/pkg/facet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command in an empty working directory so no
// leapref.yaml from the repository is picked up.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	config.ResetConfig()
	t.Cleanup(config.ResetConfig)

	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), errOut.String(), err
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &out), s)
	return out
}

func TestRoot_Help(t *testing.T) {
	out, _, err := execute(t, "", "--help")
	require.NoError(t, err)
	for _, name := range []string{"compile", "read", "facets", "contextualize", "introspect", "catalog", "queries", "serve"} {
		assert.Contains(t, out, name)
	}
}

func TestRoot_Version(t *testing.T) {
	out, _, err := execute(t, "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "leapref "+Version+"\n", out)
}

func TestCompile(t *testing.T) {
	p := testutil.SetupTestProject(t, 3)

	out, _, err := execute(t, "", p.Args("compile", "s:main/id=1", "-o", "json")...)
	require.NoError(t, err)
	got := decode(t, out)
	assert.Equal(t, "s:main", got["table"])
	assert.Equal(t, "*", got["context"])
	assert.Equal(t, "direct", got["mode"])
	assert.True(t, strings.HasPrefix(got["url"].(string), "entity/s:main/id=1"), got["url"])

	out, _, err = execute(t, "", p.Args("compile", "s:main/id=1", "--context", "compact", "-o", "json")...)
	require.NoError(t, err)
	got = decode(t, out)
	assert.Equal(t, "s:main_compact", got["table"])
	assert.Equal(t, "compact", got["context"])

	out, _, err = execute(t, "", p.Args("compile", "s:main", "-o", "markdown")...)
	require.NoError(t, err)
	assert.Contains(t, out, "# Compiled reference")
	assert.Contains(t, out, "- **Table:** s:main")
	testutil.AssertValidMarkdown(t, out)
}

func TestCompile_Errors(t *testing.T) {
	p := testutil.SetupTestProject(t, 1)

	_, _, err := execute(t, "", "compile", "s:main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog file configured")

	_, _, err = execute(t, "", p.Args("compile", "s:nope")...)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, _, err = execute(t, "", p.Args("compile", "s:main", "--context", "sideways")...)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, _, err = execute(t, "", p.Args("compile", "s:main", "--transport", "carrier-pigeon")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestRead_Paging(t *testing.T) {
	p := testutil.SetupTestProject(t, 3)

	out, _, err := execute(t, "", p.Args("read", "s:main/@sort(id)", "--limit", "2", "-o", "json")...)
	require.NoError(t, err)
	var page struct {
		Rows []struct {
			Name string         `json:"name"`
			Data map[string]any `json:"data"`
		} `json:"rows"`
		Next     string `json:"next"`
		Previous string `json:"previous"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page), out)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "row 01", page.Rows[0].Name)
	assert.Equal(t, "s:main/@sort(id)/@after(2)", page.Next)
	assert.Empty(t, page.Previous)

	out, _, err = execute(t, "", p.Args("read", page.Next, "-o", "markdown")...)
	require.NoError(t, err)
	assert.Contains(t, out, "row 03")
	assert.Contains(t, out, "(1 rows)")
	assert.Contains(t, out, "**Previous:**")
	assert.NotContains(t, out, "**Next:**")
}

func TestRead_PageLimitFromEnv(t *testing.T) {
	p := testutil.SetupTestProject(t, 3)
	t.Setenv("LEAPREF_PAGE_LIMIT", "1")

	out, _, err := execute(t, "", p.Args("read", "s:main/@sort(id)", "-o", "json")...)
	require.NoError(t, err)
	got := decode(t, out)
	assert.Len(t, got["rows"], 1)
	assert.Equal(t, "s:main/@sort(id)/@after(1)", got["next"])
}

func TestFacets_RoundTrip(t *testing.T) {
	set := `{"and":[{"source":"text_col","choices":["row 01"]}]}`

	blob, _, err := execute(t, set, "facets", "encode")
	require.NoError(t, err)
	blob = strings.TrimSpace(blob)
	require.NotEmpty(t, blob)

	out, _, err := execute(t, "", "facets", "decode", blob)
	require.NoError(t, err)
	var decoded facet.Set
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, 1, decoded.Len())
	assert.Equal(t, []any{"row 01"}, decoded.Definitions()[0].Choices)

	_, _, err = execute(t, "not json", "facets", "encode")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestFacets_Apply(t *testing.T) {
	p := testutil.SetupTestProject(t, 3)
	file := filepath.Join(p.Dir, "facets.json")
	require.NoError(t, os.WriteFile(file,
		[]byte(`{"and":[{"source":"text_col","choices":["row 01"]},{"source":"nope","choices":["x"]}]}`), 0o600))

	out, errOut, err := execute(t, "", p.Args("facets", "apply", "s:main/@sort(id)", file, "-o", "markdown")...)
	require.NoError(t, err)
	assert.Contains(t, out, "*::facets::")
	assert.Contains(t, errOut, "warning: facet")

	uri := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(out), "- **URI:**"))
	out, _, err = execute(t, "", p.Args("read", uri, "-o", "json")...)
	require.NoError(t, err)
	assert.Len(t, decode(t, out)["rows"], 1)
}

func TestContextualize(t *testing.T) {
	p := testutil.SetupTestProject(t, 1)

	out, _, err := execute(t, "", p.Args("contextualize", "s:main", "compact", "-o", "json")...)
	require.NoError(t, err)
	got := decode(t, out)
	assert.Equal(t, "s:main", got["from"])
	assert.Equal(t, "s:main_compact", got["to"])
	assert.Equal(t, "compact", got["context"])

	out, _, err = execute(t, "", p.Args("contextualize", "s:other", "compact", "-o", "json")...)
	require.NoError(t, err)
	got = decode(t, out)
	assert.Equal(t, "s:other", got["to"], "tables without an alternate stay put")

	_, _, err = execute(t, "", p.Args("contextualize", "s:main", "sideways")...)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestCatalogShow(t *testing.T) {
	p := testutil.SetupTestProject(t, 1)

	out, _, err := execute(t, "", p.Args("catalog", "show", "-o", "json")...)
	require.NoError(t, err)
	got := decode(t, out)
	assert.Equal(t, "1", got["catalog"])
	assert.Len(t, got["tables"], 9)

	out, _, err = execute(t, "", p.Args("catalog", "show", "s:main", "-o", "text")...)
	require.NoError(t, err)
	assert.Contains(t, out, "s:main")
	assert.Contains(t, out, "json_col")
	assert.Contains(t, out, "unsortable")
	assert.Contains(t, out, "Row name: {{ text_col }}")

	_, _, err = execute(t, "", p.Args("catalog", "show", "s:nope")...)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCatalogSnapshots_RequireCatalog(t *testing.T) {
	p := testutil.SetupTestProject(t, 1)

	_, _, err := execute(t, "", p.Args("catalog", "snapshots")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog configured")

	out, _, err := execute(t, "", p.Args("catalog", "snapshots", "--catalog", "1", "-o", "markdown")...)
	require.NoError(t, err)
	assert.Contains(t, out, "(0 rows)")
}

func TestQueries(t *testing.T) {
	p := testutil.SetupTestProject(t, 1)

	out, _, err := execute(t, "", p.Args("queries", "save", "first", "s:main/id=1", "-c", "compact", "-d", "one row")...)
	require.NoError(t, err)
	assert.Equal(t, "Saved first\n", out)

	_, _, err = execute(t, "", p.Args("queries", "save", "broken", "s:nope")...)
	assert.ErrorIs(t, err, core.ErrNotFound)

	out, _, err = execute(t, "", p.Args("queries", "list", "-o", "json")...)
	require.NoError(t, err)
	var queries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &queries), out)
	require.Len(t, queries, 1)
	assert.Equal(t, "first", queries[0]["name"])
	assert.Equal(t, "1", queries[0]["catalog_id"])
	assert.Equal(t, "compact", queries[0]["context"])

	out, _, err = execute(t, "", p.Args("queries", "show", "first", "-o", "markdown")...)
	require.NoError(t, err)
	assert.Contains(t, out, "- **URI:** s:main/id=1")
	assert.Contains(t, out, "- **Description:** one row")

	out, _, err = execute(t, "", p.Args("queries", "delete", "first")...)
	require.NoError(t, err)
	assert.Equal(t, "Deleted first\n", out)

	_, _, err = execute(t, "", p.Args("queries", "show", "first")...)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConfigFile(t *testing.T) {
	p := testutil.SetupTestProject(t, 3)
	cfg := "transport: memory\ncatalog_file: catalog.yaml\nfixtures: fixtures.json\npage_limit: 2\noutput: json\n"
	require.NoError(t, os.WriteFile(filepath.Join(p.Dir, "leapref.yaml"), []byte(cfg), 0o600))

	out, _, err := execute(t, "", "--config", filepath.Join(p.Dir, "leapref.yaml"),
		"--state", p.StatePath, "read", "s:main/@sort(id)")
	require.NoError(t, err)
	got := decode(t, out)
	assert.Len(t, got["rows"], 2)
}

func TestCompletion(t *testing.T) {
	out, _, err := execute(t, "", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "leapref")

	_, _, err = execute(t, "", "completion", "tcsh")
	assert.Error(t, err)
}
