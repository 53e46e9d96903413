package manager

import (
	"path"
	"strings"

	"github.com/please-build/bsmgr/internal/model"
)

// patchForHeader implements spec.md §4.8: when the main file differs from
// the query URI, substitute the path in the compiler arguments (the last
// argument whose basename matches the main file's basename and whose full
// path the main file ends with), and, for a C-family language, prepend the
// `-x<lang>` marker so the compiler treats the header as that language
// despite any later `-c` remaining in the argument list.
func patchForHeader(settings model.FileBuildSettings, queryURI, mainURI string, language model.Language) model.FileBuildSettings {
	if mainURI == queryURI {
		return settings
	}
	out := settings.Clone()
	mainBase := path.Base(mainURI)

	replaceAt := -1
	for i, a := range out.CompilerArguments {
		if path.Base(a) == mainBase && strings.HasSuffix(mainURI, a) {
			replaceAt = i
		}
	}
	if replaceAt >= 0 {
		out.CompilerArguments[replaceAt] = queryURI
	}
	if language.IsCFamily() {
		if xflag := language.XFlag(); xflag != "" {
			out.CompilerArguments = append([]string{xflag}, out.CompilerArguments...)
		}
	}
	return out
}
