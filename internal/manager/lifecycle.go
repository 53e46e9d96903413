package manager

import (
	"context"
	"strings"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/model"
)

// WaitForUpToDateBuildGraph implements spec.md §4.1
// `waitForUpToDateBuildGraph()`: issues a wait request to the server, then
// drains the state-change queue and flushes both debouncers. The drain is
// a zero-op request scheduled under the stateChange class: since
// stateChange is a barrier against every other stateChange and stateRead
// (spec.md §4.2), this call cannot return until every change already
// in-flight has completed.
func (m *Manager) WaitForUpToDateBuildGraph(ctx context.Context) error {
	if _, err := m.ensureInitialized(ctx); err != nil {
		return err
	}
	var ignored struct{}
	if err := m.scheduler.Run(ctx, bsp.MethodWaitForBuildSystemUpdates, func(ctx context.Context) error {
		return m.adapter.Request(ctx, bsp.MethodWaitForBuildSystemUpdates, nil, &ignored)
	}); err != nil {
		return err
	}
	if err := m.scheduler.Run(ctx, bsp.MethodBuildTargetDidChange, func(ctx context.Context) error {
		return nil
	}); err != nil {
		return err
	}
	m.depsDebounce.Flush()
	m.settingsDebounce.Flush()
	return nil
}

// Prepare implements spec.md §4.1 `prepare(targets)`: issues a
// buildTarget/prepare request; on completion, computes the union of source
// URIs in those targets and schedules a debounced dependencies-updated
// event.
func (m *Manager) Prepare(ctx context.Context, targets []model.BuildTargetIdentifier) error {
	if len(targets) == 0 {
		return nil
	}
	wireIDs := make([]bsp.WireBuildTargetIdentifier, len(targets))
	for i, t := range targets {
		wireIDs[i] = bsp.WireBuildTargetIdentifier{URI: t.URI}
	}
	var ignored struct{}
	if err := m.scheduler.Run(ctx, bsp.MethodBuildTargetPrepare, func(ctx context.Context) error {
		return m.adapter.Request(ctx, bsp.MethodBuildTargetPrepare, &bsp.BuildTargetPrepareParams{Targets: wireIDs}, &ignored)
	}); err != nil {
		return err
	}

	bySrc, err := m.fetchTargetSources(ctx, targets)
	if err != nil {
		return err
	}
	uris := map[string]struct{}{}
	for _, items := range bySrc {
		for _, item := range items {
			uris[item.URI] = struct{}{}
		}
	}
	if len(uris) > 0 {
		m.depsDebounce.ScheduleCall(uris)
	}
	return nil
}

// FilesDidChange implements spec.md §4.1 `filesDidChange(events)`: forwards
// the events to the server, recomputes the targets touched by any changed
// Swift file, unions in every watched file whose main file was among the
// changed URIs, subtracts the changed URIs themselves, and schedules a
// dependencies-updated debounce for what's left.
//
// Per spec.md §4.1, when background indexing is off a changed
// `*.swiftmodule` is treated as "everything depends on everything" — a
// documented over-approximation, since a module's ABI can affect any
// client without the source-level dependency graph reflecting it.
func (m *Manager) FilesDidChange(ctx context.Context, events []bsp.FileEvent) error {
	if err := m.scheduler.Run(ctx, bsp.MethodDidChangeWatchedFiles, func(ctx context.Context) error {
		return m.adapter.Notify(ctx, bsp.MethodDidChangeWatchedFiles, &bsp.DidChangeWatchedFilesParams{Changes: events})
	}); err != nil {
		return err
	}

	changedURIs := make(map[string]struct{}, len(events))
	swiftChanged := false
	swiftmoduleChanged := false
	for _, e := range events {
		changedURIs[e.URI] = struct{}{}
		switch {
		case strings.HasSuffix(e.URI, ".swift"):
			swiftChanged = true
		case strings.HasSuffix(e.URI, ".swiftmodule"):
			swiftmoduleChanged = true
		}
	}

	affected := map[string]struct{}{}
	switch {
	case swiftmoduleChanged && m.backgroundIndexingOff:
		if bundle, err := m.fetchSourceBundle(ctx); err == nil {
			for uri := range bundle.buildableSourceFiles {
				affected[uri] = struct{}{}
			}
		}
	case swiftChanged:
		for uri := range changedURIs {
			if !strings.HasSuffix(uri, ".swift") {
				continue
			}
			ids, err := m.Targets(ctx, uri)
			if err != nil {
				continue
			}
			bySrc, err := m.fetchTargetSources(ctx, ids)
			if err != nil {
				continue
			}
			for _, items := range bySrc {
				for _, item := range items {
					affected[item.URI] = struct{}{}
				}
			}
		}
	}

	m.mu.Lock()
	for uri, wf := range m.watchedFiles {
		if _, changed := changedURIs[wf.MainFile]; changed {
			affected[uri] = struct{}{}
		}
	}
	m.mu.Unlock()

	for uri := range changedURIs {
		delete(affected, uri)
	}

	if len(affected) > 0 {
		m.depsDebounce.ScheduleCall(affected)
	}
	return nil
}

// Shutdown implements spec.md §4.1 `shutdown()`, deferring to the
// adapter's own state-machine-driven graceful shutdown (spec.md §4.3).
func (m *Manager) Shutdown() error {
	return m.adapter.Close()
}
