package argadjust

var clangRemovals = []removal{
	{flag: "-M", attach: attachNone},
	{flag: "-MD", attach: attachNone},
	{flag: "-MMD", attach: attachNone},
	{flag: "-MG", attach: attachNone},
	{flag: "-MM", attach: attachNone},
	{flag: "-MV", attach: attachNone},
	{flag: "-MP", attach: attachNone},
	{flag: "-MJ", attach: attachNone},
	{flag: "-c", attach: attachNone},
	{flag: "-fmodules-validate-once-per-build-session", attach: attachNone},
	{flag: "-MT", attach: attachSpaceOrNoSpace},
	{flag: "-MF", attach: attachSpaceOrNoSpace},
	{flag: "-MQ", attach: attachSpaceOrNoSpace},
	{flag: "-serialize-diagnostics", attach: attachNone},
	{flag: "--serialize-diagnostics", attach: attachNone},
	{flag: "-fbuild-session-file", attach: attachEquals},
}

// Clang applies the Clang profile of spec.md §4.6: strips build-only
// dependency/diagnostic flags and appends the clang indexing extras plus
// -fsyntax-only.
func Clang(args []string) []string {
	stripped, _, _ := adjust(args, clangRemovals)
	stripped = append(stripped, clangIndexingExtras...)
	stripped = append(stripped, "-fsyntax-only")
	return stripped
}
