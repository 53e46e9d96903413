package external

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEnv map[string]string

func (e mapEnv) Getenv(key string) string { return e[key] }

func writeConfig(t *testing.T, dir, name string, cfg ServerConfig) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestDiscoverPrefersWorkspaceBspDirLexicographically(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, filepath.Join(root, ".bsp"), "zzz.json", ServerConfig{Name: "zzz"})
	writeConfig(t, filepath.Join(root, ".bsp"), "aaa.json", ServerConfig{Name: "aaa"})

	cfg, ok, err := Discover(root, mapEnv{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaa", cfg.Name)
	assert.Equal(t, filepath.Join(root, ".bsp"), cfg.ConfigDir())
}

func TestDiscoverFallsBackToLegacyBuildServerJSON(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "buildServer.json", ServerConfig{Name: "legacy"})

	cfg, ok, err := Discover(root, mapEnv{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "legacy", cfg.Name)
}

func TestDiscoverNoConfigIsNotAnError(t *testing.T) {
	root := t.TempDir()
	_, ok, err := Discover(root, mapEnv{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolveArgv0ResolvesRelativeBinaryAgainstConfigDir(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, filepath.Join(root, ".bsp"), "a.json", ServerConfig{Argv: []string{"server", "--flag"}})
	cfg, ok, err := Discover(root, mapEnv{})
	require.NoError(t, err)
	require.True(t, ok)

	argv, err := ResolveArgv0(cfg, func(string) (string, error) { return "", errors.New("not found") })
	require.NoError(t, err)
	require.Len(t, argv, 2)
	assert.Equal(t, filepath.Join(root, ".bsp", "server"), argv[0])
	assert.Equal(t, "--flag", argv[1])
}

func TestResolveArgv0PrependsPythonForDotPyScripts(t *testing.T) {
	cfg := ServerConfig{Argv: []string{"/abs/server.py"}}
	argv, err := ResolveArgv0(cfg, func(name string) (string, error) {
		if name == "python3" {
			return "/usr/bin/python3", nil
		}
		return "", errors.New("not found")
	})
	require.NoError(t, err)
	require.Equal(t, []string{"/usr/bin/python3", "/abs/server.py"}, argv)
}

func TestResolveArgv0FailsWhenNoPythonFound(t *testing.T) {
	cfg := ServerConfig{Argv: []string{"server.py"}}
	_, err := ResolveArgv0(cfg, func(string) (string, error) { return "", errors.New("not found") })
	require.Error(t, err)
}

func TestResolveArgv0RejectsEmptyArgv(t *testing.T) {
	_, err := ResolveArgv0(ServerConfig{}, func(string) (string, error) { return "", nil })
	require.Error(t, err)
}

func TestWatchConfigDirDebouncesBurstsIntoOneCallback(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".bsp"), 0o755))

	calls := make(chan struct{}, 16)
	done := make(chan struct{})
	defer close(done)

	require.NoError(t, WatchConfigDir(root, func() { calls <- struct{}{} }, done))

	// A burst of writes within the debounce window should coalesce.
	for i := 0; i < 3; i++ {
		writeConfig(t, filepath.Join(root, ".bsp"), "a.json", ServerConfig{Name: "a"})
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was never called after config dir writes")
	}

	select {
	case <-calls:
		t.Fatal("a debounced burst should only fire onChange once")
	case <-time.After(200 * time.Millisecond):
	}
}
