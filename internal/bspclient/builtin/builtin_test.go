package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/compiledb"
)

type fakeHandler struct{ changes int }

func (f *fakeHandler) OnBuildTargetDidChange(ctx context.Context, p *bsp.OnBuildTargetDidChangeParams) {
	f.changes++
}
func (f *fakeHandler) OnLogMessage(ctx context.Context, p *bsp.LogMessageParams)         {}
func (f *fakeHandler) OnTaskStart(ctx context.Context, p *bsp.TaskProgressParams)        {}
func (f *fakeHandler) OnTaskProgress(ctx context.Context, p *bsp.TaskProgressParams)     {}
func (f *fakeHandler) OnTaskFinish(ctx context.Context, p *bsp.TaskProgressParams)       {}
func (f *fakeHandler) OnFileOptionsChanged(ctx context.Context, p *bsp.FileOptionsChangedParams) {}

func newCompiledbAdapter(t *testing.T) (*Adapter, *fakeHandler) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "compile_commands.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"directory": "`+dir+`", "file": "a.c", "arguments": ["clang", "-DFOO", "a.c"]}]`), 0644))
	db, err := compiledb.NewJSONDatabase(path, false)
	require.NoError(t, err)
	h := &fakeHandler{}
	return New(db, h), h
}

func TestBuiltinAdapterInitializeAndBuildTargets(t *testing.T) {
	a, _ := newCompiledbAdapter(t)
	ctx := context.Background()

	var initRes bsp.InitializeBuildResult
	require.NoError(t, a.Request(ctx, bsp.MethodInitialize, &bsp.InitializeBuildParams{}, &initRes))
	assert.True(t, initRes.Data.SourceKitOptionsProvider)

	var targetsRes bsp.WorkspaceBuildTargetsResult
	require.NoError(t, a.Request(ctx, bsp.MethodWorkspaceBuildTargets, nil, &targetsRes))
	require.Len(t, targetsRes.Targets, 1)
}

func TestBuiltinAdapterNotifyTargetsChangedForwardsToHandler(t *testing.T) {
	a, h := newCompiledbAdapter(t)
	a.NotifyTargetsChanged(context.Background())
	assert.Equal(t, 1, h.changes)
}

func TestBuiltinAdapterUnknownMethodErrors(t *testing.T) {
	a, _ := newCompiledbAdapter(t)
	err := a.Request(context.Background(), bsp.Method("nonexistent/method"), nil, nil)
	assert.Error(t, err)
}
