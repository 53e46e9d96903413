// Package model contains the data types shared by the build-system
// integration core: targets, sources, build settings and the watched-file
// table. Types here are plain values, copied freely, the way please's own
// BuildLabel is a value type rather than a pointer (src/core/build_label.go).
package model

// A Tag is a label attached to a BuildTarget describing a facet of its role.
type Tag string

const (
	TagTest        Tag = "test"
	TagDependency  Tag = "dependency"
	TagNotBuildable Tag = "notBuildable"
)

// A Language is a BSP language identifier, e.g. "swift", "c", "cpp", "objective-c".
type Language string

const (
	LanguageSwift       Language = "swift"
	LanguageC           Language = "c"
	LanguageCPP         Language = "cpp"
	LanguageObjC        Language = "objective-c"
	LanguageObjCPP      Language = "objective-cpp"
)

// IsCFamily returns true for the C-family dialects that need a -x<lang> marker
// when their header is substituted for a main file (spec.md §4.8).
func (l Language) IsCFamily() bool {
	switch l {
	case LanguageC, LanguageCPP, LanguageObjC, LanguageObjCPP:
		return true
	}
	return false
}

// XFlag returns the `-x<lang>` clang argument for this language, or "" if
// this language has no such marker.
func (l Language) XFlag() string {
	switch l {
	case LanguageC:
		return "-xc"
	case LanguageCPP:
		return "-xc++"
	case LanguageObjC:
		return "-xobjective-c"
	case LanguageObjCPP:
		return "-xobjective-c++"
	}
	return ""
}

// A BuildTargetIdentifier is an opaque URI-shaped identifier for a build
// target. Equality is structural; it carries no ownership and is freely
// copied (spec.md §3).
type BuildTargetIdentifier struct {
	URI string
}

// String returns the URI backing this identifier.
func (id BuildTargetIdentifier) String() string {
	return id.URI
}

// Less orders identifiers lexicographically by URI string, the tie-break
// used throughout this package (canonicalTarget, topologicalSort, etc).
func (id BuildTargetIdentifier) Less(other BuildTargetIdentifier) bool {
	return id.URI < other.URI
}

// BuildTargetCapabilities mirrors the BSP capabilities block of a target.
type BuildTargetCapabilities struct {
	CanCompile bool
	CanTest    bool
	CanRun     bool
	CanDebug   bool
}

// BuildTargetPayload carries build-system-specific extras: an optional
// toolchain URI and header-ness flags (spec.md §3).
type BuildTargetPayload struct {
	ToolchainURI string
	IsHeader     bool
	// CompilerArguments and WorkingDirectory are not filled in from the
	// wire and not read by the manager: build settings always come from a
	// textDocument/sourceKitOptions request.
	CompilerArguments []string
	WorkingDirectory  string
}

// A BuildTarget is one node of the build graph (spec.md §3).
type BuildTarget struct {
	ID             BuildTargetIdentifier
	DisplayName    string
	BaseDirectory  string
	Tags           map[Tag]struct{}
	Capabilities   BuildTargetCapabilities
	LanguageIDs    map[Language]struct{}
	Dependencies   []BuildTargetIdentifier // ordered
	Payload        BuildTargetPayload
}

// HasTag reports whether the target carries the given tag.
func (t *BuildTarget) HasTag(tag Tag) bool {
	_, ok := t.Tags[tag]
	return ok
}

// HasLanguage reports whether the target declares the given language.
func (t *BuildTarget) HasLanguage(lang Language) bool {
	_, ok := t.LanguageIDs[lang]
	return ok
}

// BuildTargetInfo is the derived per-target bookkeeping the manager keeps
// alongside the raw BuildTarget: its depth in the dependency DAG and the
// inverse of Dependencies (spec.md §3).
type BuildTargetInfo struct {
	Target     *BuildTarget
	Depth      int
	Dependents map[BuildTargetIdentifier]struct{}
}
