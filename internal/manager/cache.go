package manager

import (
	"context"
	"strings"
	"sync"

	"github.com/please-build/bsmgr/internal/model"
)

// optionsKey is the cache key for cachedAdjustedOptions (spec.md §4.1): a
// text document plus the target and language it was requested against.
type optionsKey struct {
	uri      string
	target   model.BuildTargetIdentifier
	language model.Language
}

// optionsCache wraps a plain coalescing map (no superset projection is
// needed here, unlike cachedTargetSources: one URI+target+language triple
// has exactly one answer).
type optionsCache struct {
	mu sync.Mutex
	m  map[optionsKey]*optionsEntry
}

type optionsEntry struct {
	val   model.FileBuildSettings
	err   error
	ready chan struct{}
}

func newOptionsCache() *optionsCache {
	return &optionsCache{m: map[optionsKey]*optionsEntry{}}
}

func (c *optionsCache) getOrCompute(ctx context.Context, key optionsKey, compute func() (model.FileBuildSettings, error)) (model.FileBuildSettings, error) {
	c.mu.Lock()
	if e, ok := c.m[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.ready:
			return e.val, e.err
		case <-ctx.Done():
			return model.FileBuildSettings{}, ctx.Err()
		}
	}
	e := &optionsEntry{ready: make(chan struct{})}
	c.m[key] = e
	c.mu.Unlock()

	e.val, e.err = compute()
	close(e.ready)
	return e.val, e.err
}

// deleteMatchingTarget drops every cached entry for the given target, used
// by the fine-grained invalidation path of OnBuildTargetDidChange.
func (c *optionsCache) deleteMatchingTarget(target model.BuildTargetIdentifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.m {
		if k.target == target {
			delete(c.m, k)
		}
	}
}

func (c *optionsCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = map[optionsKey]*optionsEntry{}
}

// singleCache is a one-entry coalescing cache, used for cachedBuildTargets
// and cachedSourceFilesAndDirectories (both spec.md §4.1 "single-entry"
// caches: the whole target map, or the whole files/directories bundle).
type singleCache[V any] struct {
	mu    sync.Mutex
	entry *struct {
		val   V
		err   error
		ready chan struct{}
	}
}

func newSingleCache[V any]() *singleCache[V] {
	return &singleCache[V]{}
}

func (c *singleCache[V]) getOrCompute(ctx context.Context, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	if c.entry != nil {
		e := c.entry
		c.mu.Unlock()
		select {
		case <-e.ready:
			return e.val, e.err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
	e := &struct {
		val   V
		err   error
		ready chan struct{}
	}{ready: make(chan struct{})}
	c.entry = e
	c.mu.Unlock()

	e.val, e.err = compute()
	close(e.ready)
	return e.val, e.err
}

func (c *singleCache[V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry = nil
}

// targetSourcesCache implements cachedTargetSources's superset projection
// (spec.md §4.1): "a pending or completed entry whose target set is a
// superset may serve a subset query by filtering". This needs its own type
// rather than internal/cmap.Cache because the lookup key isn't the request
// key verbatim — any cached entry whose target set covers the request can
// answer it, so the match has to scan existing entries rather than index by
// exact key.
type targetSourcesCache struct {
	mu      sync.Mutex
	entries []*sourcesEntry
}

type sourcesEntry struct {
	targets map[model.BuildTargetIdentifier]struct{}
	val     map[model.BuildTargetIdentifier][]model.SourceItem
	err     error
	ready   chan struct{}
}

func newTargetSourcesCache() *targetSourcesCache {
	return &targetSourcesCache{}
}

// canonicalTargetSetKey renders a target set as a stable string; nothing in
// the package calls it. Entry lookup is by set-containment, not string
// equality.
func canonicalTargetSetKey(targets []model.BuildTargetIdentifier) string {
	sorted := model.SortedIdentifiers(targets)
	parts := make([]string, len(sorted))
	for i, t := range sorted {
		parts[i] = t.URI
	}
	return strings.Join(parts, "\n")
}

func toTargetSet(targets []model.BuildTargetIdentifier) map[model.BuildTargetIdentifier]struct{} {
	s := make(map[model.BuildTargetIdentifier]struct{}, len(targets))
	for _, t := range targets {
		s[t] = struct{}{}
	}
	return s
}

func isSupersetOf(superset, subset map[model.BuildTargetIdentifier]struct{}) bool {
	if len(superset) < len(subset) {
		return false
	}
	for k := range subset {
		if _, ok := superset[k]; !ok {
			return false
		}
	}
	return true
}

// getOrCompute answers a request for `want`'s sources, serving it from any
// cached (possibly still in-flight) entry whose target set is a superset,
// filtered down to `want`; otherwise it computes a fresh entry scoped to
// exactly `want`.
func (c *targetSourcesCache) getOrCompute(ctx context.Context, want []model.BuildTargetIdentifier, compute func([]model.BuildTargetIdentifier) (map[model.BuildTargetIdentifier][]model.SourceItem, error)) (map[model.BuildTargetIdentifier][]model.SourceItem, error) {
	wantSet := toTargetSet(want)

	c.mu.Lock()
	for _, e := range c.entries {
		if isSupersetOf(e.targets, wantSet) {
			c.mu.Unlock()
			select {
			case <-e.ready:
				if e.err != nil {
					return nil, e.err
				}
				return filterSources(e.val, wantSet), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	e := &sourcesEntry{targets: wantSet, ready: make(chan struct{})}
	c.entries = append(c.entries, e)
	c.mu.Unlock()

	e.val, e.err = compute(want)
	close(e.ready)
	if e.err != nil {
		return nil, e.err
	}
	return filterSources(e.val, wantSet), nil
}

func filterSources(all map[model.BuildTargetIdentifier][]model.SourceItem, want map[model.BuildTargetIdentifier]struct{}) map[model.BuildTargetIdentifier][]model.SourceItem {
	out := make(map[model.BuildTargetIdentifier][]model.SourceItem, len(want))
	for id := range want {
		out[id] = all[id]
	}
	return out
}

// deleteMatching drops every entry whose target set intersects pred's
// matching targets (spec.md §4.1 invalidation: "drop entries whose target
// (or target set intersection) is affected").
func (c *targetSourcesCache) deleteMatching(affected map[model.BuildTargetIdentifier]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0]
	for _, e := range c.entries {
		intersects := false
		for id := range affected {
			if _, ok := e.targets[id]; ok {
				intersects = true
				break
			}
		}
		if !intersects {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}

func (c *targetSourcesCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}
