package model

// FileBuildSettings is the compiler invocation needed to parse/index a
// single file (spec.md §3).
type FileBuildSettings struct {
	CompilerArguments []string
	WorkingDirectory  string
	Language          Language
	Data              map[string]interface{}
	// IsFallback means "synthesized because no build server could answer
	// (yet)". It is false for settings the server answered, and for
	// synthesized settings only when there genuinely is no build system at
	// all (spec.md §3 Invariants).
	IsFallback bool
}

// Clone returns a deep-enough copy of the settings for safe patching
// (buildSettingsInferredFromMainFile mutates the argument list).
func (s FileBuildSettings) Clone() FileBuildSettings {
	out := s
	out.CompilerArguments = append([]string(nil), s.CompilerArguments...)
	return out
}

// A WatchedFile records a document's resolved main file and language, the
// entry the manager keeps per spec.md §3 `watchedFiles` table.
type WatchedFile struct {
	MainFile string
	Language Language
}
