package manager

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/config"
	"github.com/please-build/bsmgr/internal/model"
)

// fakeAdapter is an in-memory bspclient.Adapter double driven entirely by
// test-supplied callbacks, so these tests never touch a real subprocess.
type fakeAdapter struct {
	mu              sync.Mutex
	targets         bsp.WorkspaceBuildTargetsResult
	sourcesByTarget map[string][]bsp.WireSourceItem
	options         map[string]bsp.SourceKitOptionsResult
	// optionsDelay, if set, is slept through before answering
	// sourceKitOptions, so tests can force the fallback-timeout race in
	// BuildSettings to actually land on its timeout branch.
	optionsDelay     time.Duration
	buildTargetsHits int32
	sourcesHits      int32
	optionsHits      int32
}

func (f *fakeAdapter) Kind() bspclient.Kind { return bspclient.KindBuiltIn }

func (f *fakeAdapter) Request(ctx context.Context, method bsp.Method, params, result interface{}) error {
	switch method {
	case bsp.MethodInitialize:
		*result.(*bsp.InitializeBuildResult) = bsp.InitializeBuildResult{}
		return nil
	case bsp.MethodWorkspaceBuildTargets:
		atomic.AddInt32(&f.buildTargetsHits, 1)
		*result.(*bsp.WorkspaceBuildTargetsResult) = f.targets
		return nil
	case bsp.MethodBuildTargetSources:
		atomic.AddInt32(&f.sourcesHits, 1)
		p := params.(*bsp.BuildTargetSourcesParams)
		items := make([]bsp.SourcesItem, 0, len(p.Targets))
		f.mu.Lock()
		for _, t := range p.Targets {
			items = append(items, bsp.SourcesItem{Target: t, Sources: f.sourcesByTarget[t.URI]})
		}
		f.mu.Unlock()
		*result.(*bsp.BuildTargetSourcesResult) = bsp.BuildTargetSourcesResult{Items: items}
		return nil
	case bsp.MethodSourceKitOptions:
		atomic.AddInt32(&f.optionsHits, 1)
		if f.optionsDelay > 0 {
			time.Sleep(f.optionsDelay)
		}
		p := params.(*bsp.SourceKitOptionsParams)
		f.mu.Lock()
		res := f.options[string(p.TextDocument.URI)]
		f.mu.Unlock()
		*result.(*bsp.SourceKitOptionsResult) = res
		return nil
	case bsp.MethodBuildTargetPrepare, bsp.MethodWaitForBuildSystemUpdates:
		return nil
	}
	return nil
}

func (f *fakeAdapter) Notify(ctx context.Context, method bsp.Method, params interface{}) error {
	return nil
}

func (f *fakeAdapter) Close() error { return nil }

type fakeDelegate struct {
	mu               sync.Mutex
	forwardedChanges int
	depsUpdated      [][]string
	settingsChanged  [][]string
}

func (d *fakeDelegate) OnBuildTargetDidChangeForwarded(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forwardedChanges++
}

func (d *fakeDelegate) FilesDependenciesUpdated(ctx context.Context, uris []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.depsUpdated = append(d.depsUpdated, uris)
}

func (d *fakeDelegate) FilesBuildSettingsChanged(ctx context.Context, uris []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settingsChanged = append(d.settingsChanged, uris)
}

func wt(uri string, deps ...string) bsp.WireBuildTarget {
	depIDs := make([]bsp.WireBuildTargetIdentifier, len(deps))
	for i, d := range deps {
		depIDs[i] = bsp.WireBuildTargetIdentifier{URI: d}
	}
	return bsp.WireBuildTarget{
		ID:           bsp.WireBuildTargetIdentifier{URI: uri},
		LanguageIDs:  []string{"swift"},
		Dependencies: depIDs,
	}
}

func newTestManager(t *testing.T, adapter *fakeAdapter, delegate *fakeDelegate) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Manager.DependenciesDebounce = 10 * time.Millisecond
	cfg.Manager.SettingsDebounce = 5 * time.Millisecond
	cfg.Manager.FallbackTimeout = 20 * time.Millisecond
	return New(Options{
		Adapter:  adapter,
		Delegate: delegate,
		Config:   cfg,
	})
}

func TestTargetsAndCanonicalTarget(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{wt("//a:lib"), wt("//b:lib")}},
		sourcesByTarget: map[string][]bsp.WireSourceItem{
			"//a:lib": {{URI: "file:///src/x.swift", Kind: 1}},
			"//b:lib": {{URI: "file:///src/x.swift", Kind: 1}},
		},
	}
	m := newTestManager(t, adapter, &fakeDelegate{})

	ids, err := m.Targets(context.Background(), "file:///src/x.swift")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	canon, ok := m.CanonicalTarget(context.Background(), "file:///src/x.swift")
	require.True(t, ok)
	assert.Equal(t, "//a:lib", canon.URI)
}

func TestTargetsDirectoryDescendant(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{wt("//a:res")}},
		sourcesByTarget: map[string][]bsp.WireSourceItem{
			"//a:res": {{URI: "file:///src/assets", Kind: 2}},
		},
	}
	m := newTestManager(t, adapter, &fakeDelegate{})

	ids, err := m.Targets(context.Background(), "file:///src/assets/icon.png")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	// "/src/assetsbogus" must not match "/src/assets" as a descendant
	// (component-wise, not textual-prefix).
	ids, err = m.Targets(context.Background(), "file:///src/assetsbogus/icon.png")
	require.NoError(t, err)
	assert.Len(t, ids, 0)
}

func TestTopologicalSortOrdersDeepestFirst(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{
			wt("//app:main", "//lib:core"),
			wt("//lib:core"),
		}},
	}
	m := newTestManager(t, adapter, &fakeDelegate{})

	out, err := m.TopologicalSort(context.Background(), []model.BuildTargetIdentifier{
		{URI: "//app:main"}, {URI: "//lib:core"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "//lib:core", out[0].URI)
	assert.Equal(t, "//app:main", out[1].URI)
}

func TestTargetsDependingOnTransitiveClosure(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{
			wt("//app:main", "//mid:lib"),
			wt("//mid:lib", "//leaf:core"),
			wt("//leaf:core"),
		}},
	}
	m := newTestManager(t, adapter, &fakeDelegate{})

	out, err := m.TargetsDependingOn(context.Background(), []model.BuildTargetIdentifier{{URI: "//leaf:core"}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "//app:main", out[0].URI)
	assert.Equal(t, "//mid:lib", out[1].URI)
}

func TestBuildSettingsAppliesSwiftAdjustmentAndCaches(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{wt("//a:lib")}},
		sourcesByTarget: map[string][]bsp.WireSourceItem{
			"//a:lib": {{URI: "file:///src/x.swift", Kind: 1}},
		},
		options: map[string]bsp.SourceKitOptionsResult{
			"file:///src/x.swift": {CompilerArguments: []string{"swiftc", "-c", "-o", "out.o", "x.swift"}, WorkingDirectory: "/src"},
		},
	}
	m := newTestManager(t, adapter, &fakeDelegate{})
	target := model.BuildTargetIdentifier{URI: "//a:lib"}

	settings, err := m.BuildSettings(context.Background(), "file:///src/x.swift", &target, model.LanguageSwift, false)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.NotContains(t, settings.CompilerArguments, "-c")
	assert.Contains(t, settings.CompilerArguments, "-index-unit-output-path")
	assert.False(t, settings.IsFallback)

	_, err = m.BuildSettings(context.Background(), "file:///src/x.swift", &target, model.LanguageSwift, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&adapter.optionsHits), "second request for the same key should hit the cache")
}

func TestBuildSettingsFallbackAfterTimeoutThenRefresh(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{wt("//a:lib")}},
		options: map[string]bsp.SourceKitOptionsResult{
			"file:///src/x.swift": {CompilerArguments: []string{"swiftc", "x.swift"}},
		},
		// Longer than newTestManager's 20ms FallbackTimeout, so BuildSettings
		// must take the timeout branch instead of the common case.
		optionsDelay: 80 * time.Millisecond,
	}
	delegate := &fakeDelegate{}
	m := newTestManager(t, adapter, delegate)
	target := model.BuildTargetIdentifier{URI: "//a:lib"}

	start := time.Now()
	settings, err := m.BuildSettings(context.Background(), "file:///src/x.swift", &target, model.LanguageSwift, true)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.True(t, settings.IsFallback, "slow computation should have missed the fallback timeout")
	assert.Less(t, time.Since(start), adapter.optionsDelay, "BuildSettings should have returned at the timeout, not waited for the real computation")

	require.Eventually(t, func() bool {
		delegate.mu.Lock()
		defer delegate.mu.Unlock()
		return len(delegate.settingsChanged) > 0
	}, time.Second, 5*time.Millisecond, "the real computation landing later should schedule a settings-changed refresh")

	settings, err = m.BuildSettings(context.Background(), "file:///src/x.swift", &target, model.LanguageSwift, false)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.False(t, settings.IsFallback, "the now-cached real computation should answer directly")
}

func TestOnBuildTargetDidChangeInvalidatesAndForwards(t *testing.T) {
	adapter := &fakeAdapter{
		targets: bsp.WorkspaceBuildTargetsResult{Targets: []bsp.WireBuildTarget{wt("//a:lib")}},
		sourcesByTarget: map[string][]bsp.WireSourceItem{
			"//a:lib": {{URI: "file:///src/x.swift", Kind: 1}},
		},
	}
	delegate := &fakeDelegate{}
	m := newTestManager(t, adapter, delegate)

	_, err := m.fetchBuildTargets(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, atomic.LoadInt32(&adapter.buildTargetsHits))

	m.OnBuildTargetDidChange(context.Background(), &bsp.OnBuildTargetDidChangeParams{Changes: nil})

	_, err = m.fetchBuildTargets(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&adapter.buildTargetsHits), "wholesale invalidation should force a refetch")

	delegate.mu.Lock()
	assert.Equal(t, 1, delegate.forwardedChanges)
	delegate.mu.Unlock()
}

func TestWaitForUpToDateBuildGraphFlushesDebouncers(t *testing.T) {
	adapter := &fakeAdapter{targets: bsp.WorkspaceBuildTargetsResult{}}
	delegate := &fakeDelegate{}
	m := newTestManager(t, adapter, delegate)

	m.depsDebounce.ScheduleCall(map[string]struct{}{"file:///a.swift": {}})
	m.settingsDebounce.ScheduleCall(map[string]struct{}{"file:///a.swift": {}})

	require.NoError(t, m.WaitForUpToDateBuildGraph(context.Background()))

	delegate.mu.Lock()
	defer delegate.mu.Unlock()
	require.Len(t, delegate.depsUpdated, 1)
	require.Len(t, delegate.settingsChanged, 1)
}

func TestPatchForHeaderSubstitutesPathAndPrependsXFlag(t *testing.T) {
	settings := model.FileBuildSettings{
		CompilerArguments: []string{"clang", "-c", "/src/impl.m"},
		Language:          model.LanguageObjC,
	}
	patched := patchForHeader(settings, "file:///src/impl.h", "file:///src/impl.m", model.LanguageObjC)
	assert.Equal(t, "-xobjective-c", patched.CompilerArguments[0])
	assert.Contains(t, patched.CompilerArguments, "file:///src/impl.h")
	assert.NotContains(t, patched.CompilerArguments, "/src/impl.m")
}

func TestIsDescendantComponentWise(t *testing.T) {
	assert.True(t, isDescendant("/a/b/c.swift", "/a/b"))
	assert.False(t, isDescendant("/a/bbogus/c.swift", "/a/b"))
	assert.False(t, isDescendant("/a/b", "/a/b"))
}
