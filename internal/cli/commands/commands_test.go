package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/leapref/internal/cli/config"
	"github.com/leapstack-labs/leapref/internal/cli/testutil"
	"github.com/leapstack-labs/leapref/internal/server"
	"github.com/leapstack-labs/leapref/internal/state"
	coretestutil "github.com/leapstack-labs/leapref/internal/testutil"
	"github.com/leapstack-labs/leapref/pkg/catalog"
	"github.com/leapstack-labs/leapref/pkg/catalog/pgintrospect"
	"github.com/leapstack-labs/leapref/pkg/compile"
	"github.com/leapstack-labs/leapref/pkg/core"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectIntrospection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("FROM pg_class c").WillReturnRows(
		sqlmock.NewRows([]string{"nspname", "relname", "attname", "type", "nullable", "comment", "table_comment"}).
			AddRow("s", "child", "id", "integer", false, "", "").
			AddRow("s", "child", "main_id", "integer", true, "", "").
			AddRow("s", "main", "id", "integer", false, "", "").
			AddRow("s", "main", "name", "text", true, "", ""))
	mock.ExpectQuery(`contype IN \('p', 'u'\)`).WillReturnRows(
		sqlmock.NewRows([]string{"nspname", "relname", "conname", "attname"}).
			AddRow("s", "child", "child_pkey", "id").
			AddRow("s", "main", "main_pkey", "id"))
	mock.ExpectQuery(`contype = 'f'`).WillReturnRows(
		sqlmock.NewRows([]string{"nspname", "relname", "conname", "attname", "ref_nspname", "ref_relname", "ref_attname"}).
			AddRow("s", "child", "child_main_id_fkey", "main_id", "s", "main", "id"))
}

func newIntrospectEnv(t *testing.T) (*cobra.Command, *CommandContext, *testutil.TestRenderer, *pgintrospect.Introspector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	tr := testutil.NewTestRendererMarkdown()
	cmd := &cobra.Command{}
	cmd.SetOut(tr.Out)
	cmd.SetContext(context.Background())

	logger := coretestutil.NewTestLogger(t)
	cmdCtx := &CommandContext{
		Cfg: &config.Config{
			CatalogFile: filepath.Join(dir, "catalog.yaml"),
			StatePath:   filepath.Join(dir, "state", "state.db"),
			Postgres:    config.PostgresConfig{Database: "ermrest", Schemas: []string{"s"}},
		},
		Logger:   logger,
		Renderer: tr.Renderer,
	}
	return cmd, cmdCtx, tr, pgintrospect.New(db, logger), mock
}

func TestRunIntrospect_Stdout(t *testing.T) {
	cmd, cmdCtx, tr, in, mock := newIntrospectEnv(t)
	expectIntrospection(mock)

	require.NoError(t, runIntrospect(cmd, cmdCtx, in, &IntrospectOptions{NoSnapshot: true}))
	require.NoError(t, mock.ExpectationsWereMet())

	doc, err := catalog.Parse(tr.Out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "ermrest", doc.ID, "catalog id falls back to the database name")
	require.Len(t, doc.Tables, 2)
	assert.NoFileExists(t, cmdCtx.Cfg.StatePath)
}

func TestRunIntrospect_WriteAndSnapshot(t *testing.T) {
	cmd, cmdCtx, tr, in, mock := newIntrospectEnv(t)
	cmdCtx.Cfg.Catalog = "1"
	expectIntrospection(mock)

	require.NoError(t, runIntrospect(cmd, cmdCtx, in, &IntrospectOptions{Write: true}))
	assert.Equal(t, "Wrote 2 tables to "+cmdCtx.Cfg.CatalogFile+"\n", tr.Output())

	cat, _, err := catalog.LoadCatalog(cmdCtx.Cfg.CatalogFile)
	require.NoError(t, err)
	child, err := cat.Table("s", "child")
	require.NoError(t, err)
	require.Len(t, child.ForeignKeys, 1)

	store, err := cmdCtx.OpenStore()
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	snaps, err := store.ListSnapshots(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestRunIntrospect_Errors(t *testing.T) {
	cmd, cmdCtx, _, in, mock := newIntrospectEnv(t)
	mock.ExpectQuery("FROM pg_class c").WillReturnError(assert.AnError)
	err := runIntrospect(cmd, cmdCtx, in, &IntrospectOptions{})
	assert.ErrorIs(t, err, assert.AnError)

	cmd, cmdCtx, _, in, mock = newIntrospectEnv(t)
	cmdCtx.Cfg.CatalogFile = ""
	expectIntrospection(mock)
	err = runIntrospect(cmd, cmdCtx, in, &IntrospectOptions{Write: true, NoSnapshot: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog file configured")
}

func TestRenderCompile(t *testing.T) {
	out := server.CompileResponse{
		URI:     "s:main/@sort(name)",
		Table:   "s:main",
		Context: "*",
		Mode:    compile.ModeProjected,
		URL:     "attributegroup/M:=s:main/...",
		Sort: []compile.SortKey{
			{Column: "name", Output: "s0", Source: "M", SourceColumn: "name", Descending: true},
			{Column: "RID", Output: "RID", Source: "M", SourceColumn: "RID"},
		},
		Outputs: []compile.Output{{Column: "fk", Name: "F1", Alias: "F1", Aggregate: "array_d"}},
	}

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderCompile(tr.Renderer, out))
	md := tr.Output()
	assert.Contains(t, md, "# Compiled reference")
	assert.Contains(t, md, "- **Request:** attributegroup/M:=s:main/...")
	assert.Contains(t, md, "| name | desc | M:name | s0 |")
	assert.Contains(t, md, "## Outputs")
	testutil.AssertValidMarkdown(t, md)
	testutil.AssertNoANSI(t, md)

	tr = testutil.NewTestRendererText()
	require.NoError(t, renderCompile(tr.Renderer, out))
	assert.Contains(t, tr.Output(), "Compiled reference\n------------------")
	assert.Contains(t, tr.Output(), "Mode: "+compile.ModeProjected.String())

	tr = testutil.NewTestRendererJSON()
	require.NoError(t, renderCompile(tr.Renderer, out))
	assert.Contains(t, tr.Output(), `"table": "s:main"`)
}

func TestRenderRead(t *testing.T) {
	cat := coretestutil.Catalog(t)
	table := coretestutil.Table(t, cat, "main")
	out := server.ReadResponse{
		URI: "s:main",
		Rows: []server.RowResponse{
			{Name: "row 01", Data: core.Row{"id": int64(1), "text_col": "row 01"}, Linked: core.Row{"F1": map[string]any{"name": "one"}}},
			{Name: "row 02", Data: core.Row{"id": int64(2), "text_col": "row 02"}},
		},
		Next: "s:main/@after(2)",
	}

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderRead(tr.Renderer, table, out))
	md := tr.Output()
	assert.Contains(t, md, "| row | RID |")
	assert.Contains(t, md, "| F1 |")
	assert.Contains(t, md, "(2 rows)")
	assert.Contains(t, md, "- **Next:** s:main/@after(2)")
	assert.NotContains(t, md, "Previous")
}

func TestLinkedColumns(t *testing.T) {
	rows := []server.RowResponse{
		{Linked: core.Row{"b": 1, "a": 2}},
		{},
		{Linked: core.Row{"c": 3, "a": 4}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, linkedColumns(rows))
	assert.Empty(t, linkedColumns(nil))
}

func TestReadSet(t *testing.T) {
	body := `{"and":[{"source":"text_col","choices":["a","b"]}]}`

	cmd := &cobra.Command{}
	cmd.SetIn(strings.NewReader(body))
	set, err := readSet(cmd, nil)
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	file := filepath.Join(t.TempDir(), "set.json")
	require.NoError(t, os.WriteFile(file, []byte(body), 0o600))
	set, err = readSet(cmd, []string{file})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, set.Definitions()[0].Choices)

	cmd.SetIn(bytes.NewBufferString("{"))
	_, err = readSet(cmd, []string{"-"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = readSet(cmd, []string{filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)
}

func TestRenderCatalog(t *testing.T) {
	cat := coretestutil.Catalog(t)

	tr := testutil.NewTestRendererMarkdown()
	require.NoError(t, renderCatalog(tr.Renderer, cat))
	assert.Contains(t, tr.Output(), "# Catalog 1")
	assert.Contains(t, tr.Output(), "compact=s:main_compact detailed=s:main_detailed")

	s := summarize(coretestutil.Table(t, cat, "child"))
	assert.Equal(t, "s:child", s.Table)
	assert.Equal(t, []string{"RID", "id"}, s.Keys)
	assert.Equal(t, []string{"main_id -> s:main"}, s.ForeignKeys)
}

func TestOpenStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state.db")
	cmdCtx := &CommandContext{Cfg: &config.Config{StatePath: path}, Logger: coretestutil.NewTestLogger(t)}

	store, err := cmdCtx.OpenStore()
	require.NoError(t, err)
	require.NoError(t, store.SaveQuery(context.Background(), state.SavedQuery{Name: "q", CatalogID: "1", URI: "s:main"}))
	require.NoError(t, store.Close())
	assert.FileExists(t, path)
}
