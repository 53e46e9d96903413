package compiledb

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/model"
)

// FixedFlags is the `compile_flags.txt`-backed BuiltInBuildSystem
// (spec.md §4.5). Each non-empty line is one argument; the same flags
// apply to every file in the workspace.
type FixedFlags struct {
	path     string
	onReload func()

	mu      sync.RWMutex
	flags   []string
	watcher *fsnotify.Watcher
}

// NewFixedFlags loads path (a compile_flags.txt).
func NewFixedFlags(path string) (*FixedFlags, error) {
	f := &FixedFlags{path: path}
	if err := f.reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// SetOnReload registers a reload callback, as JSONDatabase does.
func (f *FixedFlags) SetOnReload(cb func()) { f.onReload = cb }

func (f *FixedFlags) reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()
	var flags []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			flags = append(flags, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.flags = flags
	f.mu.Unlock()
	if f.onReload != nil {
		f.onReload()
	}
	return nil
}

// compilerFor returns "swiftc" for Swift files and "clang" for everything
// else, per spec.md §4.5.
func compilerFor(lang model.Language) string {
	if lang == model.LanguageSwift {
		return "swiftc"
	}
	return "clang"
}

// BuildTargets presents a single dummy target: compile_flags.txt applies
// uniformly, there's no per-file discrimination to surface as targets.
func (f *FixedFlags) BuildTargets(ctx context.Context) (bsp.WorkspaceBuildTargetsResult, error) {
	return bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{{
		ID:           bsp.WireBuildTargetIdentifier{URI: "compileflags://dummy"},
		DisplayName:  "compile_flags.txt",
		Capabilities: bsp.WireBuildTargetCapabilities{CanCompile: true},
		Dependencies: []bsp.WireBuildTargetIdentifier{},
	}}}, nil
}

// Sources is unsupported: compile_flags.txt carries no file manifest, only
// flags, so there's nothing to enumerate here; the manager falls back to
// whatever source discovery the LSP layer otherwise performs.
func (f *FixedFlags) Sources(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) (bsp.BuildTargetSourcesResult, error) {
	return bsp.BuildTargetSourcesResult{}, nil
}

// SourceKitOptions returns [compiler] + flags + [file] with working
// directory set to the directory of the config file (spec.md §4.5).
func (f *FixedFlags) SourceKitOptions(ctx context.Context, params bsp.SourceKitOptionsParams) (bsp.SourceKitOptionsResult, bool, error) {
	f.mu.RLock()
	flags := append([]string(nil), f.flags...)
	f.mu.RUnlock()
	lang := model.Language(params.Language)
	args := append([]string{compilerFor(lang)}, flags...)
	args = append(args, string(params.TextDocument.URI))
	return bsp.SourceKitOptionsResult{
		CompilerArguments: args,
		WorkingDirectory:  filepath.Dir(f.path),
	}, true, nil
}

// Prepare is a no-op.
func (f *FixedFlags) Prepare(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) error {
	return nil
}

func (f *FixedFlags) IndexDatabasePath() string { return "" }
func (f *FixedFlags) IndexStorePath() string    { return "" }
func (f *FixedFlags) SupportsPreparation() bool { return false }
func (f *FixedFlags) SupportsOutputPaths() bool { return false }
func (f *FixedFlags) WatcherGlobs() []string    { return nil }

// Watch reloads whenever the config file itself changes.
func (f *FixedFlags) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return err
	}
	f.watcher = w
	go func() {
		for ev := range w.Events {
			if filepath.Clean(ev.Name) == filepath.Clean(f.path) {
				_ = f.reload()
			}
		}
	}()
	return nil
}

// Close stops the filesystem watch, if any.
func (f *FixedFlags) Close() error {
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}
