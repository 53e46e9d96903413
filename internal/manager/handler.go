package manager

import (
	"context"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/model"
)

// OnBuildTargetDidChange implements bspclient.Handler, and is the
// invalidation entry point of spec.md §4.1: a nil Changes list invalidates
// all four caches wholesale; otherwise only entries touching the affected
// targets are dropped from cachedAdjustedOptions and cachedTargetSources,
// while cachedBuildTargets and cachedSourceFilesAndDirectories are always
// cleared (a change to one target's dependency list can change the shape
// of the whole graph). Either way, the event is forwarded to the delegate
// and a settings-changed event is debounced for every currently watched
// file.
func (m *Manager) OnBuildTargetDidChange(ctx context.Context, params *bsp.OnBuildTargetDidChangeParams) {
	if params == nil || len(params.Changes) == 0 {
		m.adjustedOptions.clear()
		m.targetSources.clear()
	} else {
		affected := make(map[model.BuildTargetIdentifier]struct{}, len(params.Changes))
		for _, c := range params.Changes {
			affected[model.BuildTargetIdentifier{URI: c.Target.URI}] = struct{}{}
		}
		for id := range affected {
			m.adjustedOptions.deleteMatchingTarget(id)
		}
		m.targetSources.deleteMatching(affected)
	}
	m.buildTargets.clear()
	m.sourcesBundle.clear()

	if m.delegate != nil {
		m.delegate.OnBuildTargetDidChangeForwarded(ctx)
	}

	m.mu.Lock()
	watched := make(map[string]struct{}, len(m.watchedFiles))
	for uri := range m.watchedFiles {
		watched[uri] = struct{}{}
	}
	m.mu.Unlock()
	if len(watched) > 0 {
		m.settingsDebounce.ScheduleCall(watched)
	}
}

// OnLogMessage forwards a build server log line to this core's own logger.
func (m *Manager) OnLogMessage(ctx context.Context, params *bsp.LogMessageParams) {
	if params == nil {
		return
	}
	log.Info("build server [%s]: %s", params.Task, params.Message)
}

// OnTaskStart, OnTaskProgress and OnTaskFinish are taskProgress-classified
// notifications (spec.md §4.2); this core has no UI to forward them to, so
// they're logged at debug level for diagnostics.
func (m *Manager) OnTaskStart(ctx context.Context, params *bsp.TaskProgressParams) {
	log.Debug("task start %s: %s", params.TaskID, params.Message)
}

func (m *Manager) OnTaskProgress(ctx context.Context, params *bsp.TaskProgressParams) {
	log.Debug("task progress %s: %.0f/%.0f %s", params.TaskID, params.Progress, params.Total, params.Message)
}

func (m *Manager) OnTaskFinish(ctx context.Context, params *bsp.TaskProgressParams) {
	log.Debug("task finish %s: %s", params.TaskID, params.Message)
}

// OnFileOptionsChanged implements bspclient.Handler's legacy push-model
// case (spec.md §4.9). A bare Manager has no legacy bridge in front of its
// adapter, so this never fires in that configuration; when a
// legacybridge.Bridge is wired in as the adapter, it intercepts
// `build/fileOptionsChanged` itself and calls OnBuildTargetDidChange(nil)
// on this Manager instead, so this method only logs the unexpected case of
// an adapter sending the notification directly.
func (m *Manager) OnFileOptionsChanged(ctx context.Context, params *bsp.FileOptionsChangedParams) {
	log.Warning("fileOptionsChanged received with no legacy bridge configured, ignoring: %s", params.URI)
}
