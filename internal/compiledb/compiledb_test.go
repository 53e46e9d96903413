package compiledb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alessio/shellescape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/please-build/bsmgr/internal/bsp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestJSONDatabaseLoadAndSourceKitOptions(t *testing.T) {
	dir := t.TempDir()
	ccPath := filepath.Join(dir, "compile_commands.json")
	writeFile(t, ccPath, `[
		{"directory": "`+dir+`", "file": "a.c", "arguments": ["clang", "-DFOO", "a.c"]}
	]`)
	db, err := NewJSONDatabase(ccPath, false)
	require.NoError(t, err)

	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "a.c"))
	res, found, err := db.SourceKitOptions(context.Background(), bsp.SourceKitOptionsParams{
		TextDocument: docIdent(uri),
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"-DFOO", "a.c"}, res.CompilerArguments)
	assert.Equal(t, dir, res.WorkingDirectory)
}

func TestJSONDatabaseMixedCompilersSurfaceMultipleTargets(t *testing.T) {
	dir := t.TempDir()
	ccPath := filepath.Join(dir, "compile_commands.json")
	writeFile(t, ccPath, `[
		{"directory": "`+dir+`", "file": "a.c", "arguments": ["clang", "a.c"]},
		{"directory": "`+dir+`", "file": "b.cc", "arguments": ["clang++", "b.cc"]}
	]`)
	db, err := NewJSONDatabase(ccPath, false)
	require.NoError(t, err)
	res, err := db.BuildTargets(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Targets, 2)
}

func TestJSONDatabaseSingleCompilerIsDummyTarget(t *testing.T) {
	dir := t.TempDir()
	ccPath := filepath.Join(dir, "compile_commands.json")
	writeFile(t, ccPath, `[{"directory": "`+dir+`", "file": "a.c", "arguments": ["clang", "a.c"]}]`)
	db, err := NewJSONDatabase(ccPath, false)
	require.NoError(t, err)
	res, err := db.BuildTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "compiledb://dummy", res.Targets[0].ID.URI)
}

func TestJSONDatabaseTokenizesCommandString(t *testing.T) {
	dir := t.TempDir()
	ccPath := filepath.Join(dir, "compile_commands.json")
	writeFile(t, ccPath, `[{"directory": "`+dir+`", "file": "a.c", "command": "clang -DFOO=\"bar baz\" a.c"}]`)
	db, err := NewJSONDatabase(ccPath, false)
	require.NoError(t, err)
	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "a.c"))
	res, found, err := db.SourceKitOptions(context.Background(), bsp.SourceKitOptionsParams{TextDocument: docIdent(uri)})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{`-DFOO=bar baz`, "a.c"}, res.CompilerArguments)
}

func TestJSONDatabaseTokenizesShellEscapedArguments(t *testing.T) {
	dir := t.TempDir()
	ccPath := filepath.Join(dir, "compile_commands.json")
	args := []string{"clang", "-DMSG=hello world", "-I" + filepath.Join(dir, "a b"), "a.c"}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellescape.Quote(a)
	}
	command := strings.Join(quoted, " ")
	writeFile(t, ccPath, `[{"directory": "`+dir+`", "file": "a.c", "command": "`+strings.ReplaceAll(command, `"`, `\"`)+`"}]`)
	db, err := NewJSONDatabase(ccPath, false)
	require.NoError(t, err)
	uri := "file://" + filepath.ToSlash(filepath.Join(dir, "a.c"))
	res, found, err := db.SourceKitOptions(context.Background(), bsp.SourceKitOptionsParams{TextDocument: docIdent(uri)})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, args[1:], res.CompilerArguments)
}

func TestFixedFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compile_flags.txt")
	writeFile(t, path, "-DFOO\n\n-Wall\n")
	ff, err := NewFixedFlags(path)
	require.NoError(t, err)
	res, found, err := ff.SourceKitOptions(context.Background(), bsp.SourceKitOptionsParams{
		TextDocument: docIdent("file:///tmp/a.swift"),
		Language:     "swift",
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"swiftc", "-DFOO", "-Wall", "file:///tmp/a.swift"}, res.CompilerArguments)
	assert.Equal(t, dir, res.WorkingDirectory)
}
