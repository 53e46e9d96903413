package manager

import (
	"context"
	"sort"
	"strings"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/model"
)

// fetchBuildTargets returns the whole target-graph map, through
// cachedBuildTargets (spec.md §4.1's single-entry target cache).
func (m *Manager) fetchBuildTargets(ctx context.Context) (map[model.BuildTargetIdentifier]*model.BuildTargetInfo, error) {
	if _, err := m.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	missed := false
	infos, err := m.buildTargets.getOrCompute(ctx, func() (map[model.BuildTargetIdentifier]*model.BuildTargetInfo, error) {
		missed = true
		m.telemetry.CacheMiss("buildTargets")
		var res bsp.WorkspaceBuildTargetsResult
		err := m.scheduler.Run(ctx, bsp.MethodWorkspaceBuildTargets, func(ctx context.Context) error {
			return m.adapter.Request(ctx, bsp.MethodWorkspaceBuildTargets, nil, &res)
		})
		if err != nil {
			return nil, err
		}
		infos := buildInfosFromWire(res.Targets)
		return infos, nil
	})
	if err == nil && !missed {
		m.telemetry.CacheHit("buildTargets")
	}
	return infos, err
}

func buildInfosFromWire(wts []bsp.WireBuildTarget) map[model.BuildTargetIdentifier]*model.BuildTargetInfo {
	byID := make(map[model.BuildTargetIdentifier]*model.BuildTargetInfo, len(wts))
	for _, wt := range wts {
		bt := &model.BuildTarget{
			ID:            model.BuildTargetIdentifier{URI: wt.ID.URI},
			DisplayName:   wt.DisplayName,
			BaseDirectory: wt.BaseDirectory,
			Tags:          tagSet(wt.Tags),
			Capabilities: model.BuildTargetCapabilities{
				CanCompile: wt.Capabilities.CanCompile,
				CanTest:    wt.Capabilities.CanTest,
				CanRun:     wt.Capabilities.CanRun,
				CanDebug:   wt.Capabilities.CanDebug,
			},
			LanguageIDs:  languageSet(wt.LanguageIDs),
			Dependencies: depIdentifiers(wt.Dependencies),
			Payload:      payloadFromWire(wt.Data),
		}
		byID[bt.ID] = &model.BuildTargetInfo{Target: bt, Dependents: map[model.BuildTargetIdentifier]struct{}{}}
	}
	computeDependentsAndDepths(byID)
	return byID
}

func tagSet(tags []string) map[model.Tag]struct{} {
	out := make(map[model.Tag]struct{}, len(tags))
	for _, t := range tags {
		out[model.Tag(t)] = struct{}{}
	}
	return out
}

func languageSet(ids []string) map[model.Language]struct{} {
	out := make(map[model.Language]struct{}, len(ids))
	for _, id := range ids {
		out[model.Language(id)] = struct{}{}
	}
	return out
}

func depIdentifiers(deps []bsp.WireBuildTargetIdentifier) []model.BuildTargetIdentifier {
	out := make([]model.BuildTargetIdentifier, len(deps))
	for i, d := range deps {
		out[i] = model.BuildTargetIdentifier{URI: d.URI}
	}
	return out
}

func payloadFromWire(data map[string]interface{}) model.BuildTargetPayload {
	var p model.BuildTargetPayload
	if data == nil {
		return p
	}
	if v, ok := data["toolchainUri"].(string); ok {
		p.ToolchainURI = v
	}
	if v, ok := data["isHeader"].(bool); ok {
		p.IsHeader = v
	}
	return p
}

// computeDependentsAndDepths fills in Dependents (the inverse of
// Dependencies) and Depth for every target, per spec.md §3: "Depth is the
// length of the longest path from target to a root... roots have depth 0;
// dependencies of a depth-d target have depth >= d+1."
//
// Depth is computed by repeated relaxation along the dependency edges,
// bounded at len(byID) passes: the dependency relation is an invariant of
// the server to be acyclic, but a cycle (if one slips through) simply stops
// propagating once the pass budget is spent, rather than looping forever —
// the "treat as if the cycle were broken at first re-visit" rule of
// spec.md §3, expressed as a bounded fixpoint instead of an explicit
// visited-set DFS.
func computeDependentsAndDepths(byID map[model.BuildTargetIdentifier]*model.BuildTargetInfo) {
	for id, info := range byID {
		for _, dep := range info.Target.Dependencies {
			if depInfo, ok := byID[dep]; ok {
				depInfo.Dependents[id] = struct{}{}
			}
		}
	}
	n := len(byID)
	for pass := 0; pass < n; pass++ {
		changed := false
		for _, info := range byID {
			for _, dep := range info.Target.Dependencies {
				depInfo, ok := byID[dep]
				if !ok {
					continue
				}
				if depInfo.Depth < info.Depth+1 {
					depInfo.Depth = info.Depth + 1
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
}

// fetchTargetSources returns the sources of exactly `want`, through
// cachedTargetSources's superset projection.
func (m *Manager) fetchTargetSources(ctx context.Context, want []model.BuildTargetIdentifier) (map[model.BuildTargetIdentifier][]model.SourceItem, error) {
	if len(want) == 0 {
		return map[model.BuildTargetIdentifier][]model.SourceItem{}, nil
	}
	return m.targetSources.getOrCompute(ctx, want, func(targets []model.BuildTargetIdentifier) (map[model.BuildTargetIdentifier][]model.SourceItem, error) {
		m.telemetry.CacheMiss("targetSources")
		wireIDs := make([]bsp.WireBuildTargetIdentifier, len(targets))
		for i, id := range targets {
			wireIDs[i] = bsp.WireBuildTargetIdentifier{URI: id.URI}
		}
		var res bsp.BuildTargetSourcesResult
		err := m.scheduler.Run(ctx, bsp.MethodBuildTargetSources, func(ctx context.Context) error {
			return m.adapter.Request(ctx, bsp.MethodBuildTargetSources, &bsp.BuildTargetSourcesParams{Targets: wireIDs}, &res)
		})
		if err != nil {
			return nil, err
		}
		out := make(map[model.BuildTargetIdentifier][]model.SourceItem, len(res.Items))
		for _, item := range res.Items {
			id := model.BuildTargetIdentifier{URI: item.Target.URI}
			items := make([]model.SourceItem, len(item.Sources))
			for i, s := range item.Sources {
				items[i] = sourceItemFromWire(s)
			}
			out[id] = items
		}
		return out, nil
	})
}

func sourceItemFromWire(w bsp.WireSourceItem) model.SourceItem {
	item := model.SourceItem{
		URI:       w.URI,
		Generated: w.Generated,
	}
	if w.Kind == 2 {
		item.Kind = model.KindDirectory
	} else {
		item.Kind = model.KindFile
	}
	if w.Data != nil {
		if v, ok := w.Data["language"].(string); ok {
			item.Payload.Language = model.Language(v)
		}
		if v, ok := w.Data["isHeader"].(bool); ok {
			item.Payload.IsHeader = v
		}
		if v, ok := w.Data["kind"].(string); ok {
			item.Payload.Kind = model.PayloadSourceKind(v)
		}
		if v, ok := w.Data["outputPath"].(string); ok {
			item.Payload.OutputPath = &model.OutputPath{Path: v}
		} else if _, ok := w.Data["outputPathNotSupported"]; ok {
			op := model.NotSupportedOutputPath
			item.Payload.OutputPath = &op
		}
	}
	return item
}

// fetchSourceBundle returns the single-entry files/directories/buildable
// bundle of spec.md §4.1 (`cachedSourceFilesAndDirectories`), derived from
// every current target's sources.
func (m *Manager) fetchSourceBundle(ctx context.Context) (sourceBundle, error) {
	infos, err := m.fetchBuildTargets(ctx)
	if err != nil {
		return sourceBundle{}, err
	}
	return m.sourcesBundle.getOrCompute(ctx, func() (sourceBundle, error) {
		m.telemetry.CacheMiss("sourceFilesAndDirectories")
		ids := make([]model.BuildTargetIdentifier, 0, len(infos))
		for id := range infos {
			ids = append(ids, id)
		}
		bySrc, err := m.fetchTargetSources(ctx, ids)
		if err != nil {
			return sourceBundle{}, err
		}
		bundle := sourceBundle{
			files:                map[string][]model.BuildTargetIdentifier{},
			directories:          map[string][]model.BuildTargetIdentifier{},
			buildableSourceFiles: map[string]struct{}{},
		}
		for id, items := range bySrc {
			info := infos[id]
			for _, item := range items {
				switch item.Kind {
				case model.KindDirectory:
					bundle.directories[item.URI] = append(bundle.directories[item.URI], id)
				default:
					bundle.files[item.URI] = append(bundle.files[item.URI], id)
					if info != nil && model.IsBuildable(info.Target, item.Payload.Kind) {
						bundle.buildableSourceFiles[item.URI] = struct{}{}
					}
				}
			}
		}
		return bundle, nil
	})
}

// isDescendant reports whether uri names a path strictly inside dir,
// comparing path components rather than raw string prefixes (spec.md §4.1:
// "descendant test on path components, not textual prefix" — so
// "/foo/barbaz" is not considered inside "/foo/bar").
func isDescendant(uri, dir string) bool {
	uriParts := splitPathComponents(uri)
	dirParts := splitPathComponents(dir)
	if len(dirParts) >= len(uriParts) {
		return false
	}
	for i, p := range dirParts {
		if uriParts[i] != p {
			return false
		}
	}
	return true
}

func splitPathComponents(p string) []string {
	p = strings.TrimSuffix(p, "/")
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Targets implements spec.md §4.1 `targets(uri)`.
func (m *Manager) Targets(ctx context.Context, uri string) ([]model.BuildTargetIdentifier, error) {
	bundle, err := m.fetchSourceBundle(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[model.BuildTargetIdentifier]struct{}{}
	var out []model.BuildTargetIdentifier
	add := func(id model.BuildTargetIdentifier) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range bundle.files[uri] {
		add(id)
	}
	for dir, ids := range bundle.directories {
		if dir == uri || isDescendant(uri, dir) {
			for _, id := range ids {
				add(id)
			}
		}
	}
	return out, nil
}

// CanonicalTarget implements spec.md §4.1 `canonicalTarget(uri)`:
// deterministic selection by lexicographic minimum URI.
func (m *Manager) CanonicalTarget(ctx context.Context, uri string) (model.BuildTargetIdentifier, bool) {
	ids, err := m.Targets(ctx, uri)
	if err != nil || len(ids) == 0 {
		return model.BuildTargetIdentifier{}, false
	}
	sorted := model.SortedIdentifiers(ids)
	return sorted[0], true
}

// TopologicalSort implements spec.md §4.1 `topologicalSort(targets)`:
// ordered by (-depth, uri-string) so lower-level (deeper) targets precede
// higher-level ones.
func (m *Manager) TopologicalSort(ctx context.Context, targets []model.BuildTargetIdentifier) ([]model.BuildTargetIdentifier, error) {
	infos, err := m.fetchBuildTargets(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]model.BuildTargetIdentifier(nil), targets...)
	sort.Slice(out, func(i, j int) bool {
		di, dj := depthOf(infos, out[i]), depthOf(infos, out[j])
		if di != dj {
			return di > dj
		}
		return out[i].URI < out[j].URI
	})
	return out, nil
}

func depthOf(infos map[model.BuildTargetIdentifier]*model.BuildTargetInfo, id model.BuildTargetIdentifier) int {
	if info, ok := infos[id]; ok {
		return info.Depth
	}
	return 0
}

// TargetsDependingOn implements spec.md §4.1 `targets(dependingOn: set)`:
// the transitive closure over `dependents`, sorted lexicographically. The
// seeds themselves are not included — only targets that (transitively)
// depend on them.
func (m *Manager) TargetsDependingOn(ctx context.Context, seeds []model.BuildTargetIdentifier) ([]model.BuildTargetIdentifier, error) {
	infos, err := m.fetchBuildTargets(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[model.BuildTargetIdentifier]struct{}, len(seeds))
	frontier := make([]model.BuildTargetIdentifier, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			frontier = append(frontier, s)
		}
	}
	var out []model.BuildTargetIdentifier
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		info, ok := infos[next]
		if !ok {
			continue
		}
		for dep := range info.Dependents {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			frontier = append(frontier, dep)
			out = append(out, dep)
		}
	}
	return model.SortedIdentifiers(out), nil
}
