// Package builtin implements the in-process BSP adapter (spec.md §4.4): it
// exposes the same send/notify surface as the external adapter but
// dispatches directly to an in-process BuiltInBuildSystem implementation
// (the compilation-database backends in internal/compiledb are the two
// concrete instances; SwiftPM-equivalent package models are out of scope
// per spec.md §1 and are consulted only through this same interface).
package builtin

import (
	"context"
	"fmt"
	"sync"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/logging"
)

var log = logging.Get("builtin")

// BuildSystem is the narrow interface a concrete built-in (JSON compdb,
// fixed compile-flags, or a future SwiftPM-equivalent adapter) implements.
type BuildSystem interface {
	BuildTargets(ctx context.Context) (bsp.WorkspaceBuildTargetsResult, error)
	Sources(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) (bsp.BuildTargetSourcesResult, error)
	SourceKitOptions(ctx context.Context, params bsp.SourceKitOptionsParams) (bsp.SourceKitOptionsResult, bool, error)
	Prepare(ctx context.Context, targets []bsp.WireBuildTargetIdentifier) error
	IndexDatabasePath() string
	IndexStorePath() string
	SupportsPreparation() bool
	SupportsOutputPaths() bool
	WatcherGlobs() []string
}

// Adapter wraps a BuildSystem behind the Connection interface.
type Adapter struct {
	bs BuildSystem

	mu      sync.RWMutex
	handler bspclient.Handler
}

// New returns a builtin Adapter dispatching to bs. changes delivered to
// bs (e.g. a compile_commands.json reload) are forwarded to handler.
// handler may be nil and installed later via SetHandler, for the common
// case where the handler (the manager) can only be constructed once this
// Adapter already exists to hand it.
func New(bs BuildSystem, handler bspclient.Handler) *Adapter {
	return &Adapter{bs: bs, handler: handler}
}

// SetHandler installs (or replaces) the handler notified of target
// changes. See NotifyTargetsChanged.
func (a *Adapter) SetHandler(handler bspclient.Handler) {
	a.mu.Lock()
	a.handler = handler
	a.mu.Unlock()
}

func (a *Adapter) Kind() bspclient.Kind { return bspclient.KindBuiltIn }

func (a *Adapter) Close() error { return nil }

// Notify accepts and discards every notification from the manager: the
// built-in has nothing to act on. Reload events reach the handler through
// NotifyTargetsChanged instead.
func (a *Adapter) Notify(ctx context.Context, method bsp.Method, params interface{}) error {
	return nil
}

// NotifyTargetsChanged lets a BuildSystem push its own
// OnBuildTargetDidChange(nil) (e.g. on compile_commands.json reload,
// spec.md §4.5) without going through the Connection's Notify direction.
func (a *Adapter) NotifyTargetsChanged(ctx context.Context) {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()
	if handler != nil {
		handler.OnBuildTargetDidChange(ctx, &bsp.OnBuildTargetDidChangeParams{Changes: nil})
	}
}

// Request dispatches a BSP request to the in-process BuildSystem,
// synthesizing the InitializeBuildResult on `initialize` (spec.md §4.4).
// Unknown requests return "method not found".
func (a *Adapter) Request(ctx context.Context, method bsp.Method, params, result interface{}) error {
	switch method {
	case bsp.MethodInitialize:
		r, ok := result.(*bsp.InitializeBuildResult)
		if !ok {
			return fmt.Errorf("unexpected result type for initialize")
		}
		*r = bsp.InitializeBuildResult{
			IndexDatabasePath: a.bs.IndexDatabasePath(),
			IndexStorePath:    a.bs.IndexStorePath(),
			Data: bsp.BuildServerCapabilitiesData{
				SupportsPreparation:      a.bs.SupportsPreparation(),
				SourceKitOptionsProvider: true,
				OutputPathsProvider:      a.bs.SupportsOutputPaths(),
				Watchers:                 a.bs.WatcherGlobs(),
			},
		}
		return nil
	case bsp.MethodWorkspaceBuildTargets:
		r, ok := result.(*bsp.WorkspaceBuildTargetsResult)
		if !ok {
			return fmt.Errorf("unexpected result type for workspace/buildTargets")
		}
		res, err := a.bs.BuildTargets(ctx)
		if err != nil {
			return err
		}
		*r = res
		return nil
	case bsp.MethodBuildTargetSources:
		p, ok := params.(*bsp.BuildTargetSourcesParams)
		if !ok {
			return fmt.Errorf("unexpected params type for buildTarget/sources")
		}
		r, ok := result.(*bsp.BuildTargetSourcesResult)
		if !ok {
			return fmt.Errorf("unexpected result type for buildTarget/sources")
		}
		res, err := a.bs.Sources(ctx, p.Targets)
		if err != nil {
			return err
		}
		*r = res
		return nil
	case bsp.MethodSourceKitOptions:
		p, ok := params.(*bsp.SourceKitOptionsParams)
		if !ok {
			return fmt.Errorf("unexpected params type for textDocument/sourceKitOptions")
		}
		r, ok := result.(*bsp.SourceKitOptionsResult)
		if !ok {
			return fmt.Errorf("unexpected result type for textDocument/sourceKitOptions")
		}
		res, found, err := a.bs.SourceKitOptions(ctx, *p)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		*r = res
		return nil
	case bsp.MethodBuildTargetPrepare:
		p, ok := params.(*bsp.BuildTargetPrepareParams)
		if !ok {
			return fmt.Errorf("unexpected params type for buildTarget/prepare")
		}
		return a.bs.Prepare(ctx, p.Targets)
	case bsp.MethodWaitForBuildSystemUpdates:
		return nil
	default:
		log.Warning("builtin adapter: method not found: %s", method)
		return fmt.Errorf("method not found: %s", method)
	}
}
