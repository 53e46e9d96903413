// Package compiledb implements the two concrete BuiltInBuildSystem
// backends of spec.md §4.5: a JSON compilation database
// (compile_commands.json) and a fixed compile-flags file
// (compile_flags.txt). Both illustrate the builtin.BuildSystem contract
// against real, file-backed compiler invocations rather than a live build
// server.
package compiledb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/logging"
	"github.com/please-build/bsmgr/internal/shellsplit"
)

var log = logging.Get("compiledb")

// record is one entry of compile_commands.json (spec.md §6).
type record struct {
	Directory string   `json:"directory"`
	File      string   `json:"file"`
	Command   string   `json:"command,omitempty"`
	Arguments []string `json:"arguments,omitempty"`
	Output    string   `json:"output,omitempty"`
}

// command is the normalized, already-tokenized form of a record.
type command struct {
	directory string
	file      string
	arguments []string
	output    string
}

// JSONDatabase is the `compile_commands.json`-backed BuiltInBuildSystem
// (spec.md §4.5). It indexes commands by URI and by symlink-resolved URI,
// and presents one pseudo-target per distinct compiler path.
type JSONDatabase struct {
	path    string
	windows bool
	onReload func()

	mu       sync.RWMutex
	byURI    map[string]command
	byRealpath map[string]command
	watcher  *fsnotify.Watcher
}

// NewJSONDatabase loads path (a compile_commands.json) and returns a ready
// JSONDatabase. windows selects Windows command-line tokenization for
// records carrying `command` instead of `arguments` (spec.md §6).
func NewJSONDatabase(path string, windows bool) (*JSONDatabase, error) {
	db := &JSONDatabase{path: path, windows: windows}
	if err := db.reload(); err != nil {
		return nil, err
	}
	return db, nil
}

// SetOnReload registers a callback invoked every time the database is
// reloaded from disk (cmd/bsmgrctl wires it to the built-in adapter's
// NotifyTargetsChanged, which synthesizes OnBuildTargetDidChange(nil),
// spec.md §4.5).
func (db *JSONDatabase) SetOnReload(f func()) { db.onReload = f }

func (db *JSONDatabase) reload() error {
	data, err := os.ReadFile(db.path)
	if err != nil {
		return err
	}
	var records []record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	byURI := make(map[string]command, len(records))
	byRealpath := make(map[string]command, len(records))
	for _, r := range records {
		args, err := db.tokenize(r)
		if err != nil {
			log.Warning("failed to tokenize compile command for %s: %s", r.File, err)
			continue
		}
		c := command{directory: r.Directory, file: r.File, arguments: args, output: r.Output}
		uri := toURI(r.File, r.Directory)
		byURI[uri] = c
		if real, err := filepath.EvalSymlinks(absPath(r.File, r.Directory)); err == nil {
			byRealpath[toURI(real, "")] = c
		}
	}
	db.mu.Lock()
	db.byURI = byURI
	db.byRealpath = byRealpath
	db.mu.Unlock()
	if db.onReload != nil {
		db.onReload()
	}
	return nil
}

func (db *JSONDatabase) tokenize(r record) ([]string, error) {
	if len(r.Arguments) > 0 {
		return r.Arguments, nil
	}
	if db.windows {
		return shellsplit.SplitWindows(r.Command), nil
	}
	return shellsplit.SplitPOSIX(r.Command)
}

func absPath(file, dir string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(dir, file)
}

func toURI(file, dir string) string {
	return "file://" + filepath.ToSlash(absPath(file, dir))
}

func (db *JSONDatabase) lookup(uri string) (command, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if c, ok := db.byURI[uri]; ok {
		return c, true
	}
	c, ok := db.byRealpath[uri]
	return c, ok
}

// BuildTargets presents one pseudo-target per distinct compiler path in
// the database (e.g. a project mixing clang and clang++ surfaces as
// multiple targets), or a single dummy target when there's only one
// (spec.md §4.5).
func (db *JSONDatabase) BuildTargets(ctx context.Context) (bsp.WorkspaceBuildTargetsResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	compilers := map[string]struct{}{}
	for _, c := range db.byURI {
		if len(c.arguments) > 0 {
			compilers[c.arguments[0]] = struct{}{}
		}
	}
	if len(compilers) <= 1 {
		return bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{{
			ID:           bsp.WireBuildTargetIdentifier{URI: "compiledb://dummy"},
			DisplayName:  "compile_commands.json",
			Capabilities: bsp.WireBuildTargetCapabilities{CanCompile: true},
			Dependencies: []bsp.WireBuildTargetIdentifier{},
		}}}, nil
	}
	names := make([]string, 0, len(compilers))
	for c := range compilers {
		names = append(names, c)
	}
	sort.Strings(names)
	targets := make([]bsp.WireBuildTarget, 0, len(names))
	for _, c := range names {
		targets = append(targets, bsp.WireBuildTarget{
			ID:           bsp.WireBuildTargetIdentifier{URI: "compiledb://" + c},
			DisplayName:  c,
			Capabilities: bsp.WireBuildTargetCapabilities{CanCompile: true},
			Dependencies: []bsp.WireBuildTargetIdentifier{},
		})
	}
	return bsp.WorkspaceBuildTargetsResult{Targets: targets}, nil
}

// Sources returns, for each requested pseudo-target, every file whose
// first compiler argument matches that target's compiler path. The
// per-file target URI must agree with BuildTargets()'s own dummy-vs-named
// split: when the whole database has at most one distinct compiler,
// BuildTargets() advertises a single "compiledb://dummy" target, so every
// file here groups under that same URI rather than its compiler's own.
func (db *JSONDatabase) Sources(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) (bsp.BuildTargetSourcesResult, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	want := map[string]bool{}
	for _, t := range targets {
		want[t.URI] = true
	}
	compilers := map[string]struct{}{}
	for _, c := range db.byURI {
		if len(c.arguments) > 0 {
			compilers[c.arguments[0]] = struct{}{}
		}
	}
	dummy := len(compilers) <= 1
	grouped := map[string][]bsp.WireSourceItem{}
	for uri, c := range db.byURI {
		target := "compiledb://dummy"
		if !dummy && len(c.arguments) > 0 {
			target = "compiledb://" + c.arguments[0]
		}
		if !want[target] {
			continue
		}
		grouped[target] = append(grouped[target], bsp.WireSourceItem{URI: uri})
	}
	items := make([]bsp.SourcesItem, 0, len(grouped))
	for target, srcs := range grouped {
		items = append(items, bsp.SourcesItem{Target: bsp.WireBuildTargetIdentifier{URI: target}, Sources: srcs})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Target.URI < items[j].Target.URI })
	return bsp.BuildTargetSourcesResult{Items: items}, nil
}

// SourceKitOptions returns arguments[1:] (dropping the compiler path) plus
// the record's directory as working directory (spec.md §4.5).
func (db *JSONDatabase) SourceKitOptions(ctx context.Context, params bsp.SourceKitOptionsParams) (bsp.SourceKitOptionsResult, bool, error) {
	c, ok := db.lookup(string(params.TextDocument.URI))
	if !ok {
		return bsp.SourceKitOptionsResult{}, false, nil
	}
	var args []string
	if len(c.arguments) > 1 {
		args = c.arguments[1:]
	}
	return bsp.SourceKitOptionsResult{CompilerArguments: args, WorkingDirectory: c.directory}, true, nil
}

// Prepare is a no-op: a compilation database already has everything built.
func (db *JSONDatabase) Prepare(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) error {
	return nil
}

func (db *JSONDatabase) IndexDatabasePath() string   { return "" }
func (db *JSONDatabase) IndexStorePath() string      { return "" }
func (db *JSONDatabase) SupportsPreparation() bool   { return false }
func (db *JSONDatabase) SupportsOutputPaths() bool   { return false }

// WatcherGlobs requests a reload whenever any compile_commands.json
// changes anywhere in the workspace, to cover symlinks to out-of-tree
// build directories (spec.md §4.5).
func (db *JSONDatabase) WatcherGlobs() []string { return []string{"**/compile_commands.json"} }

// Watch starts an fsnotify watch on path's directory and reloads whenever
// it changes, grounded on please's src/watch/watch.go use of fsnotify.
func (db *JSONDatabase) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(db.path)); err != nil {
		w.Close()
		return err
	}
	db.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(db.path) {
					if err := db.reload(); err != nil {
						log.Error("failed to reload %s: %s", db.path, err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error("error watching %s: %s", db.path, err)
			}
		}
	}()
	return nil
}

// Close stops the filesystem watch, if any.
func (db *JSONDatabase) Close() error {
	if db.watcher != nil {
		return db.watcher.Close()
	}
	return nil
}

var _ fmt.Stringer = (*JSONDatabase)(nil)

// String names the database by its backing file, for logs.
func (db *JSONDatabase) String() string { return db.path }
