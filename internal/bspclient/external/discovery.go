// Package external implements the out-of-process BSP adapter: resolving a
// buildServer.json-style configuration, spawning the subprocess, wiring a
// JSON-RPC connection over its stdio, and recovering from crashes
// (spec.md §4.3). Subprocess lifecycle is grounded on please's own
// src/process/process.go Executor (SIGTERM-then-SIGKILL, process groups,
// registered process table); JSON-RPC framing mirrors
// tools/build_langserver/langserver_main.go's use of
// github.com/sourcegraph/jsonrpc2, but as a client dialing the subprocess
// instead of a server listening on stdio.
package external

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ServerConfig is the buildServer.json / .bsp/*.json shape (spec.md §6).
type ServerConfig struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	BSPVersion string   `json:"bspVersion"`
	Languages  []string `json:"languages"`
	Argv       []string `json:"argv"`
	// configDir is the directory the config file was found in; argv[0], if
	// relative, resolves against it.
	configDir string
}

// ConfigDir returns the directory the config file lives in.
func (c ServerConfig) ConfigDir() string { return c.configDir }

// Discover resolves a BSP server configuration per spec.md §4.3:
//  1. <workspace>/.bsp/*.json, lexicographic first.
//  2. platform user-scope (XDG_DATA_HOME/bsp or %LOCALAPPDATA%\bsp;
//     Application Support on Darwin).
//  3. platform system-scope (each XDG_DATA_DIRS entry's bsp subdirectory,
//     or %PROGRAMDATA%\bsp).
//  4. legacy <workspace>/buildServer.json.
//
// It returns the first configuration found, or ok=false if none exists
// (spec.md §7: "Configuration missing" is not itself an error).
func Discover(workspaceRoot string, env Environment) (cfg ServerConfig, ok bool, err error) {
	for _, dir := range searchDirs(workspaceRoot, env) {
		files, err := jsonFilesIn(dir)
		if err != nil {
			continue
		}
		sort.Strings(files)
		for _, f := range files {
			if c, err := load(f); err == nil {
				return c, true, nil
			}
		}
	}
	legacy := filepath.Join(workspaceRoot, "buildServer.json")
	if _, statErr := os.Stat(legacy); statErr == nil {
		c, err := load(legacy)
		if err != nil {
			return ServerConfig{}, false, err
		}
		return c, true, nil
	}
	return ServerConfig{}, false, nil
}

// Environment is the narrow getenv surface Discover needs, so tests can
// inject a deterministic environment instead of the process's real one.
type Environment interface {
	Getenv(key string) string
}

// OSEnvironment reads from the real process environment.
type OSEnvironment struct{}

func (OSEnvironment) Getenv(key string) string { return os.Getenv(key) }

func searchDirs(workspaceRoot string, env Environment) []string {
	dirs := []string{filepath.Join(workspaceRoot, ".bsp")}
	if runtime.GOOS == "windows" {
		if v := env.Getenv("LOCALAPPDATA"); v != "" {
			dirs = append(dirs, filepath.Join(v, "bsp"))
		}
		if v := env.Getenv("PROGRAMDATA"); v != "" {
			dirs = append(dirs, filepath.Join(v, "bsp"))
		}
		return dirs
	}
	if runtime.GOOS == "darwin" {
		if v := env.Getenv("XDG_DATA_HOME"); v != "" {
			dirs = append(dirs, filepath.Join(v, "bsp"))
		} else if home := env.Getenv("HOME"); home != "" {
			dirs = append(dirs, filepath.Join(home, "Library", "Application Support", "bsp"))
		}
	} else if v := env.Getenv("XDG_DATA_HOME"); v != "" {
		dirs = append(dirs, filepath.Join(v, "bsp"))
	}
	if v := env.Getenv("XDG_DATA_DIRS"); v != "" {
		for _, d := range filepath.SplitList(v) {
			dirs = append(dirs, filepath.Join(d, "bsp"))
		}
	}
	return dirs
}

func jsonFilesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func load(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, err
	}
	var c ServerConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return ServerConfig{}, err
	}
	c.configDir = filepath.Dir(path)
	return c, nil
}

// ResolveArgv0 resolves argv[0] against the config's directory if it's
// relative, prepends a Python interpreter if it ends in ".py" (resolved via
// lookupPath), and appends ".exe" on Windows if no extension is present
// (spec.md §4.3, §6).
func ResolveArgv0(cfg ServerConfig, lookupPath func(string) (string, error)) ([]string, error) {
	if len(cfg.Argv) == 0 {
		return nil, errNoArgv
	}
	argv := append([]string(nil), cfg.Argv...)
	bin := argv[0]
	if !filepath.IsAbs(bin) {
		bin = filepath.Join(cfg.configDir, bin)
	}
	if filepath.Ext(bin) == ".py" {
		python, err := findPython(lookupPath)
		if err != nil {
			return nil, err
		}
		return append([]string{python}, append([]string{bin}, argv[1:]...)...), nil
	}
	if runtime.GOOS == "windows" && filepath.Ext(bin) == "" {
		bin += ".exe"
	}
	argv[0] = bin
	return argv, nil
}

func findPython(lookupPath func(string) (string, error)) (string, error) {
	for _, name := range []string{"python3", "python"} {
		if p, err := lookupPath(name); err == nil {
			return p, nil
		}
	}
	return "", errNoPython
}

type discoveryError string

func (e discoveryError) Error() string { return string(e) }

const (
	errNoArgv   discoveryError = "buildServer.json has an empty argv"
	errNoPython discoveryError = "no python3/python interpreter found on PATH"
)

// configWatchDebounce coalesces bursts of filesystem events (an editor's
// write-then-rename, a `.bsp/*.json` being dropped alongside several
// sibling files) into a single callback, the same drain-and-discard shape
// as please's src/watch/watch.go debounce loop.
const configWatchDebounce = 50 * time.Millisecond

// WatchConfigDir watches <workspaceRoot>/.bsp (which must already exist;
// if it does not, the watch fails and the error is returned) for config files
// dropped in later, so a server can be discovered without a restart
// (spec.md §4.3's discovery step, extended per SPEC_FULL.md §4.4). onChange
// is invoked, debounced, whenever a file under the directory changes; the
// watcher runs until done is closed.
func WatchConfigDir(workspaceRoot string, onChange func(), done <-chan struct{}) error {
	dir := filepath.Join(workspaceRoot, ".bsp")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		var mu sync.Mutex
		var timer *time.Timer
		fire := func() {
			mu.Lock()
			timer = nil
			mu.Unlock()
			onChange()
		}
		for {
			select {
			case <-done:
				return
			case _, ok := <-watcher.Events:
				if !ok {
					return
				}
				mu.Lock()
				if timer == nil {
					timer = time.AfterFunc(configWatchDebounce, fire)
				} else {
					timer.Reset(configWatchDebounce)
				}
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warning("config dir watch error: %s", err)
			}
		}
	}()
	return nil
}
