package manager

import (
	"context"

	lsp "github.com/sourcegraph/go-lsp"

	"github.com/please-build/bsmgr/internal/argadjust"
	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/model"
)

// BuildSettings implements spec.md §4.1 `buildSettings`: if a target is
// given, ask the adapter through the adjusted-options cache and apply the
// semantic-functionality adjustment of §4.6; if fallbackAfterTimeout is
// set, race the computation against the configured fallback timeout,
// returning synthesized fallback settings if it doesn't land in time while
// letting the real computation finish in the background and, once it does,
// scheduling a debounced settings-changed event so the real answer
// eventually reaches the client.
func (m *Manager) BuildSettings(ctx context.Context, uri string, target *model.BuildTargetIdentifier, language model.Language, fallbackAfterTimeout bool) (*model.FileBuildSettings, error) {
	if target == nil {
		if t, ok := m.CanonicalTarget(ctx, uri); ok {
			target = &t
		}
	}
	if target == nil {
		fb := m.fallbackSettings(language)
		return &fb, nil
	}
	if !fallbackAfterTimeout {
		settings, err := m.rawBuildSettings(ctx, uri, *target, language)
		if err != nil {
			return nil, err
		}
		return &settings, nil
	}

	done := make(chan struct{})
	var settings model.FileBuildSettings
	var computeErr error
	go func() {
		settings, computeErr = m.rawBuildSettings(context.Background(), uri, *target, language)
		close(done)
	}()

	timeoutCtx, cancel := m.fallbackTimeoutContext(ctx)
	defer cancel()
	select {
	case <-done:
		if computeErr != nil {
			return nil, computeErr
		}
		return &settings, nil
	case <-timeoutCtx.Done():
		fb := m.fallbackSettings(language)
		go func() {
			<-done
			if computeErr == nil {
				m.settingsDebounce.ScheduleCall(map[string]struct{}{uri: {}})
			}
		}()
		return &fb, nil
	}
}

func (m *Manager) rawBuildSettings(ctx context.Context, uri string, target model.BuildTargetIdentifier, language model.Language) (model.FileBuildSettings, error) {
	if _, err := m.ensureInitialized(ctx); err != nil {
		return model.FileBuildSettings{}, err
	}
	key := optionsKey{uri: uri, target: target, language: language}
	missed := false
	settings, err := m.adjustedOptions.getOrCompute(ctx, key, func() (model.FileBuildSettings, error) {
		missed = true
		m.telemetry.CacheMiss("adjustedOptions")
		params := &bsp.SourceKitOptionsParams{
			TextDocument: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri)},
			Target:       bsp.WireBuildTargetIdentifier{URI: target.URI},
			Language:     string(language),
		}
		var res bsp.SourceKitOptionsResult
		err := m.scheduler.Run(ctx, bsp.MethodSourceKitOptions, func(ctx context.Context) error {
			return m.adapter.Request(ctx, bsp.MethodSourceKitOptions, params, &res)
		})
		if err != nil {
			return model.FileBuildSettings{}, err
		}
		return model.FileBuildSettings{
			CompilerArguments: adjustArguments(language, res.CompilerArguments),
			WorkingDirectory:  res.WorkingDirectory,
			Language:          language,
			IsFallback:        false,
		}, nil
	})
	if err == nil && !missed {
		m.telemetry.CacheHit("adjustedOptions")
	}
	return settings, err
}

// adjustArguments applies the semantic-functionality adjustment of
// spec.md §4.6, dispatching on language to the Swift or Clang profile; any
// other language is returned unmodified (there is no adjustment profile for
// it).
func adjustArguments(language model.Language, args []string) []string {
	switch language {
	case model.LanguageSwift:
		return argadjust.Swift(args)
	case model.LanguageC, model.LanguageCPP, model.LanguageObjC, model.LanguageObjCPP:
		return argadjust.Clang(args)
	default:
		return args
	}
}

// fallbackSettings synthesizes the placeholder settings spec.md §4.1 falls
// back to. Per spec.md §3's invariant, when this manager was constructed
// with NoBuildSystem set (there genuinely is no build server backing it,
// e.g. a lone file opened with no workspace), the result is not marked
// fallback, since no non-fallback answer could ever be produced.
func (m *Manager) fallbackSettings(language model.Language) model.FileBuildSettings {
	return model.FileBuildSettings{
		Language:   language,
		IsFallback: !m.noBuildSystem,
	}
}

// BuildSettingsInferredFromMainFile implements spec.md §4.1
// `buildSettingsInferredFromMainFile`: resolves a main file for headers,
// computes its settings, and patches the result to substitute the header
// path for the main-file path. If the first attempt yields fallback
// settings and the query URI has a symlink target, it retries against the
// symlink target.
func (m *Manager) BuildSettingsInferredFromMainFile(ctx context.Context, uri string, target *model.BuildTargetIdentifier, language *model.Language, fallbackAfterTimeout bool) (*model.FileBuildSettings, error) {
	lang := model.Language("")
	if language != nil {
		lang = *language
	} else if l, ok := m.DefaultLanguage(ctx, uri, target); ok {
		lang = l
	}

	mainURI, mainLang, err := m.resolveMainFile(ctx, uri, lang)
	if err != nil {
		return nil, err
	}
	settings, err := m.BuildSettings(ctx, mainURI, target, mainLang, fallbackAfterTimeout)
	if err != nil {
		return nil, err
	}

	if settings != nil && settings.IsFallback && m.symlinks != nil {
		if resolved, ok := m.symlinks.Resolve(uri); ok && resolved != uri {
			if retryMainURI, retryLang, err := m.resolveMainFile(ctx, resolved, lang); err == nil {
				if retrySettings, err := m.BuildSettings(ctx, retryMainURI, target, retryLang, fallbackAfterTimeout); err == nil && retrySettings != nil {
					settings, mainURI, mainLang = retrySettings, retryMainURI, retryLang
				}
			}
		}
	}

	if settings == nil {
		return nil, nil
	}
	patched := patchForHeader(*settings, uri, mainURI, mainLang)
	return &patched, nil
}
