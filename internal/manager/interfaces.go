// Package manager implements the BuildSystemManager, the façade and
// orchestrator of spec.md §4.1: it owns the adapter, exposes every
// build-query the LSP server consumes, caches and invalidates and
// debounces, handles BSP notifications, and shuts down cleanly.
package manager

import (
	"context"

	"github.com/please-build/bsmgr/internal/model"
)

// A Toolchain is the result of resolving a target's toolchain URI through
// the toolchain discovery registry (out of scope per spec.md §1; this is
// the narrow interface this core consumes from it).
type Toolchain struct {
	URI  string
	Path string
}

// ToolchainRegistry is consulted to resolve a toolchain URI (from a
// target's payload) to a concrete Toolchain, and to find the preferred
// toolchain for a language when no URI is given (spec.md §4.1 `toolchain`).
type ToolchainRegistry interface {
	Resolve(ctx context.Context, uri string) (Toolchain, bool)
	PreferredToolchain(ctx context.Context, lang model.Language) (Toolchain, bool)
}

// MainFilesProvider answers "what translation units include this header",
// consulted for C-family main-file resolution (spec.md §4.7). It is out of
// scope per spec.md §1 ("the main-file index... consulted via a narrow
// interface").
type MainFilesProvider interface {
	MainFilesContaining(ctx context.Context, uri string) ([]string, error)
}

// Delegate is the narrow slice of the LSP server's ClientConnection that
// the manager pushes events to: build-target changes forwarded verbatim,
// and the two debounced higher-level events (spec.md §1, §4.1, §4.10).
type Delegate interface {
	// OnBuildTargetDidChangeForwarded is called with every
	// buildTarget/didChange notification, forwarded after cache
	// invalidation (spec.md §4.1 invalidation rules: "forward the change
	// event to the delegate").
	OnBuildTargetDidChangeForwarded(ctx context.Context)
	// FilesDependenciesUpdated fires (debounced 500ms) when any of the
	// given files' dependencies may have changed as a result of a
	// filesystem change or a prepare() completing (spec.md §4.10). A
	// build-target change does not trigger it.
	FilesDependenciesUpdated(ctx context.Context, uris []string)
	// FilesBuildSettingsChanged fires (debounced 20ms) when any of the
	// given files' build settings may have changed (spec.md §4.10).
	FilesBuildSettingsChanged(ctx context.Context, uris []string)
}

// SymlinkResolver resolves a URI to its symlink target, used by
// buildSettingsInferredFromMainFile's retry path (spec.md §4.1) and by the
// Darwin realpath standardization of spec.md §4.7. Abstracted so tests can
// avoid a real filesystem.
type SymlinkResolver interface {
	// Resolve returns the fully resolved (symlink-free) form of uri, or
	// ok=false if uri has no symlink component / doesn't exist.
	Resolve(uri string) (resolved string, ok bool)
	// Standardize applies the Darwin realpath standardization (e.g.
	// /private/tmp/x.c -> /tmp/x.c), or ok=false if the platform doesn't
	// have one / uri is already standard.
	Standardize(uri string) (standardized string, ok bool)
}
