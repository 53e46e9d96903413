package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/please-build/bsmgr/internal/model"
)

// resolveMainFile implements spec.md §4.7: for Swift (or any non-C-family
// language) the main file is always the file itself; for C-family files,
// consult the MainFilesProvider for the set of translation units that
// include uri, applying the Darwin realpath standardization before
// selecting among them (if the URI itself is a candidate, it wins;
// otherwise the lexicographic minimum by path is chosen for determinism).
func (m *Manager) resolveMainFile(ctx context.Context, uri string, language model.Language) (string, model.Language, error) {
	if language == "" {
		if l, ok := languageFromExtension(uri); ok {
			language = l
		}
	}
	if !language.IsCFamily() || m.mainFiles == nil {
		return uri, language, nil
	}

	candidates, err := m.mainFiles.MainFilesContaining(ctx, uri)
	if err != nil {
		return "", "", err
	}
	if len(candidates) == 0 {
		return uri, language, nil
	}

	if m.symlinks != nil {
		if bundle, err := m.fetchSourceBundle(ctx); err == nil {
			candidates = m.standardizeCandidates(candidates, uri, bundle)
		}
	}

	for _, c := range candidates {
		if c == uri {
			return uri, language, nil
		}
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[0], language, nil
}

// standardizeCandidates applies spec.md §4.7's Darwin standardization: if a
// candidate isn't in the buildable source set but its standardized
// equivalent is (e.g. "/private/tmp/x.c" -> "/tmp/x.c"), substitute the
// standardized form. Never applied to the query URI itself.
func (m *Manager) standardizeCandidates(candidates []string, queryURI string, bundle sourceBundle) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		if c == queryURI {
			out[i] = c
			continue
		}
		if _, ok := bundle.buildableSourceFiles[c]; ok {
			out[i] = c
			continue
		}
		if std, ok := m.symlinks.Standardize(c); ok {
			if _, ok := bundle.buildableSourceFiles[std]; ok {
				out[i] = std
				continue
			}
		}
		out[i] = c
	}
	return out
}

// RegisterForChangeNotifications implements spec.md §4.1
// `registerForChangeNotifications`: adds a watchedFiles entry, resolving
// the main file once.
func (m *Manager) RegisterForChangeNotifications(ctx context.Context, uri string, language model.Language) error {
	mainURI, lang, err := m.resolveMainFile(ctx, uri, language)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.watchedFiles[uri] = model.WatchedFile{MainFile: mainURI, Language: lang}
	m.mu.Unlock()
	return nil
}

// UnregisterForChangeNotifications implements spec.md §4.1
// `unregisterForChangeNotifications`: removes the watchedFiles entry.
func (m *Manager) UnregisterForChangeNotifications(uri string) {
	m.mu.Lock()
	delete(m.watchedFiles, uri)
	m.mu.Unlock()
}

// MainFilesChanged implements spec.md §4.1/§4.7 `mainFilesChanged()`:
// re-resolves every watched file's main file without the cache, fanning the
// re-resolutions out across a bounded pool of goroutines (grounded on
// please's `golang.org/x/sync` dependency for bounded concurrent fan-out);
// for any association that changed, replaces the file's watchedFiles entry
// (unregister, then re-register with the new main file) and emits a
// settings-changed event. Nothing is sent to the adapter, so the build
// server is not told to start or stop watching any file. Per-file resolution failures are collected into
// a single aggregate error for logging rather than aborting the sweep.
func (m *Manager) MainFilesChanged(ctx context.Context) {
	m.mu.Lock()
	snapshot := make(map[string]model.WatchedFile, len(m.watchedFiles))
	for k, v := range m.watchedFiles {
		snapshot[k] = v
	}
	m.mu.Unlock()

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		errs    error
		changed = map[string]struct{}{}
	)
	g.SetLimit(8)

	for uri, old := range snapshot {
		uri, old := uri, old
		g.Go(func() error {
			newMain, newLang, err := m.resolveMainFile(ctx, uri, old.Language)
			if err != nil {
				errMu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", uri, err))
				errMu.Unlock()
				return nil
			}
			if newMain == old.MainFile && newLang == old.Language {
				return nil
			}
			m.UnregisterForChangeNotifications(uri)
			m.mu.Lock()
			m.watchedFiles[uri] = model.WatchedFile{MainFile: newMain, Language: newLang}
			m.mu.Unlock()
			errMu.Lock()
			changed[uri] = struct{}{}
			errMu.Unlock()
			return nil
		})
	}
	g.Wait()

	if errs != nil {
		log.Warning("mainFilesChanged: %s", errs)
	}
	for uri := range changed {
		m.settingsDebounce.ScheduleCall(map[string]struct{}{uri: {}})
	}
}
