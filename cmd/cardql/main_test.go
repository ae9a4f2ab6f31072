package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardql/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userSchema = `{
	"type": "object",
	"properties": {"type": {"const": "user@1.0.0"}},
	"required": ["type"]
}`

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCompileCommandJSON(t *testing.T) {
	path := writeSchema(t, userSchema)
	out, _, err := execute(t, "", "compile", path, "--limit", "5", "--sort-by", "data.timestamp", "--sort-dir", "desc")
	require.NoError(t, err)

	var got compileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Contains(t, got.SQL, `WHERE "cards"."type" IN ($1)`)
	assert.Contains(t, got.SQL, "DESC")
	assert.Contains(t, got.SQL, "LIMIT 5")
	assert.Equal(t, []any{"user@1.0.0"}, got.Args)
	assert.False(t, got.HasLinks)
}

func TestCompileCommandAppliesConfiguredDefaultLimit(t *testing.T) {
	path := writeSchema(t, userSchema)
	out, _, err := execute(t, "", "compile", path, "--format", "sql", "--query.default_limit", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "LIMIT 7")
	assert.True(t, strings.HasPrefix(out, "WITH") || strings.HasPrefix(out, "SELECT"))
}

func TestCompileCommandReadsYAMLFromStdin(t *testing.T) {
	doc := "$$links:\n  is member of:\n    type: object\n    properties:\n      slug:\n        const: org-balena\n"
	out, _, err := execute(t, doc, "compile", "-")
	require.NoError(t, err)

	var got compileOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.HasLinks)
	assert.Equal(t, 1, got.Links)
	assert.Contains(t, got.LinkAliases, "is member of")
}

func TestCompileCommandRejectsInvalidSchema(t *testing.T) {
	path := writeSchema(t, `{"type": "decimal"}`)
	_, _, err := execute(t, "", "compile", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/type")
}

func TestCompileCommandRejectsUnknownFormat(t *testing.T) {
	path := writeSchema(t, userSchema)
	_, _, err := execute(t, "", "compile", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCompileCommandEnforcesLinkLimits(t *testing.T) {
	path := writeSchema(t, `{"$$links": {"is member of": {"$$links": {"has member": true}}}}`)
	_, _, err := execute(t, "", "compile", path, "--query.max_link_depth", "1")
	require.Error(t, err)
	assert.ErrorIs(t, err, planner.ErrLimitExceeded)
}

func TestCommandFailsOnInvalidConfig(t *testing.T) {
	path := writeSchema(t, userSchema)
	_, _, err := execute(t, "", "compile", path, "--database.port", "70000")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}

func TestCompileCommandMissingFile(t *testing.T) {
	_, _, err := execute(t, "", "compile", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read schema file")
}

func TestQueryCommandFailsWithoutDatabase(t *testing.T) {
	path := writeSchema(t, userSchema)
	_, _, err := execute(t, "", "query", path,
		"--database.dsn", "postgres://cardql@127.0.0.1:1/cards?sslmode=disable&connect_timeout=1",
		"--database.connection_timeout", "0s",
	)
	require.Error(t, err)
}

func TestQueryFlagsOptions(t *testing.T) {
	f := &queryFlags{
		limit:      10,
		skip:       2,
		sortBy:     "data.timestamp",
		sortDir:    "desc",
		linkLimits: map[string]int{"has member": 3},
		linkSkips:  map[string]int{"has member": 1, "owns": 4},
	}
	assert.Equal(t, planner.Options{
		Limit:   10,
		Skip:    2,
		SortBy:  []string{"data", "timestamp"},
		SortDir: "desc",
		Links: map[string]planner.Options{
			"has member": {Limit: 3, Skip: 1},
			"owns":       {Skip: 4},
		},
	}, f.options())

	assert.Equal(t, planner.Options{SortDir: "asc"}, (&queryFlags{sortDir: "asc"}).options())
}

func TestVersionFlag(t *testing.T) {
	out, _, err := execute(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
