package manager

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/config"
	"github.com/please-build/bsmgr/internal/debounce"
	"github.com/please-build/bsmgr/internal/logging"
	"github.com/please-build/bsmgr/internal/model"
	"github.com/please-build/bsmgr/internal/telemetry"
)

var log = logging.Get("manager")

// Options configures a Manager. Adapter is required. Toolchains, Delegate,
// MainFiles and Symlinks may be nil: with no Toolchains, toolchain lookups
// report no toolchain; with no Delegate, debounced events are dropped; with
// no MainFiles or Symlinks, C-family main-file resolution and Darwin path
// standardization are simply skipped.
type Options struct {
	Adapter    bspclient.Adapter
	Toolchains ToolchainRegistry
	MainFiles  MainFilesProvider
	Symlinks   SymlinkResolver
	Delegate   Delegate
	Config     *config.Configuration
	Telemetry  *telemetry.Telemetry
	// NoBuildSystem marks that this manager genuinely has no build server
	// behind it at all (e.g. a single file opened with no workspace), so
	// synthesized settings are never marked IsFallback (spec.md §3
	// Invariants).
	NoBuildSystem bool
	// BackgroundIndexingOff enables the "*.swiftmodule change invalidates
	// everything" over-approximation of spec.md §4.1's filesDidChange.
	BackgroundIndexingOff bool
}

// Manager is the BuildSystemManager façade of spec.md §4.1: it owns the
// adapter, caches and invalidates, resolves main files and patches
// settings, debounces outbound notifications, and answers every
// build-query the LSP server consumes.
//
// The watched-files table is guarded by a single mutex rather than a
// literal channel-drained actor: the manager's four caches (cache.go)
// serialize their own computations through their own request-coalescing
// (so two concurrent misses for the same key never race), and
// watchedFiles mutations here are all short, non-blocking critical sections — an actual actor goroutine would only
// add an indirection without changing the concurrency semantics (see
// DESIGN.md).
type Manager struct {
	adapter    bspclient.Adapter
	scheduler  *bspclient.Scheduler
	cancel     *bspclient.CancelRegistry
	toolchains ToolchainRegistry
	mainFiles  MainFilesProvider
	symlinks   SymlinkResolver
	delegate   Delegate
	cfg        *config.Configuration
	telemetry  *telemetry.Telemetry
	noBuildSystem bool
	backgroundIndexingOff bool

	mu           sync.Mutex
	watchedFiles map[string]model.WatchedFile

	adjustedOptions *optionsCache
	targetSources   *targetSourcesCache
	buildTargets    *singleCache[map[model.BuildTargetIdentifier]*model.BuildTargetInfo]
	sourcesBundle   *singleCache[sourceBundle]

	depsDebounce     *debounce.Debouncer[map[string]struct{}]
	settingsDebounce *debounce.Debouncer[map[string]struct{}]

	initOnce   sync.Once
	initDone   chan struct{}
	initResult bsp.InitializeBuildResult
	initErr    error
}

// sourceBundle is the value of the single-entry cachedSourceFilesAndDirectories
// cache (spec.md §4.1): every known file and directory source, plus the set
// of files the server actually considers buildable.
type sourceBundle struct {
	files                map[string][]model.BuildTargetIdentifier
	directories          map[string][]model.BuildTargetIdentifier
	buildableSourceFiles map[string]struct{}
}

// New constructs a Manager. The adapter is not initialized until the first
// call that needs it; ensureInitialized lazily drives `build/initialize`.
func New(opts Options) *Manager {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.NoOp()
	}
	m := &Manager{
		adapter:         opts.Adapter,
		scheduler:       bspclient.NewScheduler(),
		cancel:          bspclient.NewCancelRegistry(),
		toolchains:      opts.Toolchains,
		mainFiles:       opts.MainFiles,
		symlinks:        opts.Symlinks,
		delegate:        opts.Delegate,
		cfg:             opts.Config,
		telemetry:       opts.Telemetry,
		noBuildSystem:   opts.NoBuildSystem,
		backgroundIndexingOff: opts.BackgroundIndexingOff,
		watchedFiles:    map[string]model.WatchedFile{},
		adjustedOptions: newOptionsCache(),
		targetSources:   newTargetSourcesCache(),
		buildTargets:    newSingleCache[map[model.BuildTargetIdentifier]*model.BuildTargetInfo](),
		sourcesBundle:   newSingleCache[sourceBundle](),
		initDone:        make(chan struct{}),
	}
	m.depsDebounce = debounce.New(opts.Config.Manager.DependenciesDebounce, unionStringSets, func(s map[string]struct{}) {
		m.telemetry.DebounceFired("dependencies")
		if m.delegate != nil {
			m.delegate.FilesDependenciesUpdated(context.Background(), setToSlice(s))
		}
	})
	m.settingsDebounce = debounce.New(opts.Config.Manager.SettingsDebounce, unionStringSets, func(s map[string]struct{}) {
		m.telemetry.DebounceFired("settings")
		if m.delegate != nil {
			m.delegate.FilesBuildSettingsChanged(context.Background(), setToSlice(s))
		}
	})
	return m
}

func unionStringSets(acc, next map[string]struct{}) map[string]struct{} {
	for k := range next {
		acc[k] = struct{}{}
	}
	return acc
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// ensureInitialized drives `build/initialize` exactly once (spec.md §3
// Invariants: "initializeResult is assigned exactly once; reads always
// await it; no BSP non-initialize message leaves the manager before it
// resolves").
func (m *Manager) ensureInitialized(ctx context.Context) (bsp.InitializeBuildResult, error) {
	m.initOnce.Do(func() {
		params := &bsp.InitializeBuildParams{
			DisplayName: "bsmgr",
			BSPVersion:  "2.0",
		}
		err := m.scheduler.Run(ctx, bsp.MethodInitialize, func(ctx context.Context) error {
			return m.adapter.Request(ctx, bsp.MethodInitialize, params, &m.initResult)
		})
		m.initErr = err
		close(m.initDone)
	})
	select {
	case <-m.initDone:
		return m.initResult, m.initErr
	case <-ctx.Done():
		return bsp.InitializeBuildResult{}, ctx.Err()
	}
}

// toolchain implements spec.md §4.1 `toolchain(uri, target?, language)`:
// consult the target's payload for a toolchain URI; resolve it through the
// registry; on miss, fall back to the language's preferred toolchain.
func (m *Manager) toolchain(ctx context.Context, target *model.BuildTargetIdentifier, language model.Language) (Toolchain, bool) {
	if m.toolchains == nil {
		return Toolchain{}, false
	}
	if target != nil {
		if info, ok := m.targetInfo(ctx, *target); ok && info.Target.Payload.ToolchainURI != "" {
			if tc, found := m.toolchains.Resolve(ctx, info.Target.Payload.ToolchainURI); found {
				return tc, true
			}
		}
	}
	return m.toolchains.PreferredToolchain(ctx, language)
}

// Toolchain is the public entry point for spec.md §4.1 `toolchain`.
func (m *Manager) Toolchain(ctx context.Context, uri string, target *model.BuildTargetIdentifier, language model.Language) (Toolchain, bool) {
	return m.toolchain(ctx, target, language)
}

// DefaultLanguage implements spec.md §4.1 `defaultLanguage(uri, target)`:
// prefer a language explicitly declared by the server for this (uri,
// target) pair; else one of the target's declared languages; else infer
// from the file extension.
func (m *Manager) DefaultLanguage(ctx context.Context, uri string, target *model.BuildTargetIdentifier) (model.Language, bool) {
	if target != nil {
		if bySrc, err := m.fetchTargetSources(ctx, []model.BuildTargetIdentifier{*target}); err == nil {
			for _, item := range bySrc[*target] {
				if item.URI == uri && item.Payload.Language != "" {
					return item.Payload.Language, true
				}
			}
		}
		if info, ok := m.targetInfo(ctx, *target); ok {
			for lang := range info.Target.LanguageIDs {
				return lang, true
			}
		}
	}
	return languageFromExtension(uri)
}

// targetInfo looks up a single target's derived info, fetching the whole
// graph (through its cache) first if it hasn't been populated yet.
func (m *Manager) targetInfo(ctx context.Context, target model.BuildTargetIdentifier) (*model.BuildTargetInfo, bool) {
	infos, err := m.fetchBuildTargets(ctx)
	if err != nil {
		return nil, false
	}
	info, ok := infos[target]
	return info, ok
}

func languageFromExtension(uri string) (model.Language, bool) {
	ext := strings.ToLower(path.Ext(uri))
	switch ext {
	case ".swift":
		return model.LanguageSwift, true
	case ".c":
		return model.LanguageC, true
	case ".cc", ".cpp", ".cxx", ".hpp", ".hh", ".hxx":
		return model.LanguageCPP, true
	case ".m":
		return model.LanguageObjC, true
	case ".mm":
		return model.LanguageObjCPP, true
	case ".h":
		// Ambiguous by extension alone; callers resolve headers through the
		// owning main file's language instead (spec.md §4.7).
		return "", false
	}
	return "", false
}

// ModuleName implements spec.md §4.1 `moduleName(uri, target)`: parse the
// compiler arguments for -module-name (Swift) or -fmodule-name= (ObjC).
func (m *Manager) ModuleName(ctx context.Context, uri string, target model.BuildTargetIdentifier) (string, bool) {
	lang, _ := m.DefaultLanguage(ctx, uri, &target)
	settings, err := m.BuildSettings(ctx, uri, &target, lang, false)
	if err != nil || settings == nil {
		return "", false
	}
	args := settings.CompilerArguments
	if lang == model.LanguageSwift {
		name := ""
		for i, a := range args {
			if a == "-module-name" && i+1 < len(args) {
				name = args[i+1]
			}
		}
		return name, name != ""
	}
	name := ""
	const prefix = "-fmodule-name="
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			name = a[len(prefix):]
		}
	}
	return name, name != ""
}

// fallbackTimeoutContext bounds an operation to cfg's fallback timeout, used by
// buildSettings(fallbackAfterTimeout=true).
func (m *Manager) fallbackTimeoutContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.Manager.FallbackTimeout)
}
