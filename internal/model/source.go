package model

import "sort"

// A SourceKind distinguishes a file source item from a directory one.
type SourceKind int

const (
	KindFile SourceKind = iota
	KindDirectory
)

// A PayloadSourceKind further classifies what kind of file this is to the
// build system. Anything other than SourceKindSource is non-buildable
// (spec.md §3 Invariants; Open Question resolved in DESIGN.md).
type PayloadSourceKind string

const (
	SourceKindSource      PayloadSourceKind = "source"
	SourceKindHeader      PayloadSourceKind = "header"
	SourceKindDoccCatalog PayloadSourceKind = "doccCatalog"
)

// SourceItemPayload carries the optional extras a server may attach to a
// source item.
type SourceItemPayload struct {
	OutputPath *OutputPath
	Language   Language
	IsHeader   bool
	Kind       PayloadSourceKind
}

// A SourceItem is one file or directory contributing to a target's sources
// (spec.md §3).
type SourceItem struct {
	URI       string
	Kind      SourceKind
	Generated bool
	Payload   SourceItemPayload
}

// OutputPath is a sum of {path, notSupported}: the build-system-wide
// sentinel used when the server doesn't advertise the output-paths
// capability (spec.md §3).
type OutputPath struct {
	Path         string
	NotSupported bool
}

// NotSupportedOutputPath is the shared sentinel value.
var NotSupportedOutputPath = OutputPath{NotSupported: true}

// SourceFileInfo is the per-file, per-target-set answer to "what do I know
// about this source file" (spec.md §3).
type SourceFileInfo struct {
	// TargetsToOutputPath maps a target to either a known OutputPath, or nil
	// meaning "the server says this file has no output in this target" —
	// distinct from the server not supporting output paths at all, which is
	// represented as OutputPath{NotSupported: true} inside a non-nil pointer.
	TargetsToOutputPath map[BuildTargetIdentifier]*OutputPath
	IsPartOfRootProject bool
	MayContainTests     bool
	IsBuildable         bool
}

// NewSourceFileInfo returns an empty SourceFileInfo ready for merging into.
func NewSourceFileInfo() SourceFileInfo {
	return SourceFileInfo{TargetsToOutputPath: map[BuildTargetIdentifier]*OutputPath{}}
}

// Merge unions two SourceFileInfo values: it unions the output-path maps
// (breaking ties on conflicting paths by picking the lexicographic minimum
// and the caller is expected to log the conflict), and ORs the three
// booleans (spec.md §3).
func (s SourceFileInfo) Merge(other SourceFileInfo, onConflict func(target BuildTargetIdentifier, a, b OutputPath)) SourceFileInfo {
	out := SourceFileInfo{
		TargetsToOutputPath: make(map[BuildTargetIdentifier]*OutputPath, len(s.TargetsToOutputPath)+len(other.TargetsToOutputPath)),
		IsPartOfRootProject: s.IsPartOfRootProject || other.IsPartOfRootProject,
		MayContainTests:     s.MayContainTests || other.MayContainTests,
		IsBuildable:         s.IsBuildable || other.IsBuildable,
	}
	for k, v := range s.TargetsToOutputPath {
		out.TargetsToOutputPath[k] = v
	}
	for k, v := range other.TargetsToOutputPath {
		if existing, present := out.TargetsToOutputPath[k]; present && existing != nil && v != nil && *existing != *v {
			a, b := *existing, *v
			if b.Path < a.Path {
				if onConflict != nil {
					onConflict(k, a, b)
				}
				out.TargetsToOutputPath[k] = v
				continue
			}
			if onConflict != nil {
				onConflict(k, a, b)
			}
			continue
		}
		out.TargetsToOutputPath[k] = v
	}
	return out
}

// IsBuildable derives the isBuildable flag for a source item given its
// owning target: not notBuildable, and its payload kind is "source" or unset
// (spec.md §3 Invariants).
func IsBuildable(target *BuildTarget, kind PayloadSourceKind) bool {
	if target != nil && target.HasTag(TagNotBuildable) {
		return false
	}
	return kind == "" || kind == SourceKindSource
}

// SortedIdentifiers returns ids sorted lexicographically by URI, the
// deterministic order used throughout this codebase.
func SortedIdentifiers(ids []BuildTargetIdentifier) []BuildTargetIdentifier {
	out := make([]BuildTargetIdentifier, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}
