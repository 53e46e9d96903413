package argadjust

// clangIndexingExtras are appended (each prefixed with -Xcc) to Swift
// arguments, and appended directly to Clang arguments, per spec.md §4.6.
var clangIndexingExtras = []string{
	"-fretain-comments-from-system-headers",
	"-Xclang", "-detailed-preprocessing-record",
	"-Xclang", "-fmodule-format=raw",
	"-Xclang", "-fallow-pch-with-compiler-errors",
	"-Xclang", "-fallow-pcm-with-compiler-errors",
	"-Wno-non-modular-include-in-framework-module",
	"-Wno-incomplete-umbrella",
}

var swiftRemovals = []removal{
	{flag: "-c", attach: attachNone},
	{flag: "-disable-cmo", attach: attachNone},
	{flag: "-emit-dependencies", attach: attachNone},
	prefixRemoval("-emit-module"),
	prefixRemoval("-emit-objc-header"),
	{flag: "-incremental", attach: attachNone},
	{flag: "-no-color-diagnostics", attach: attachNone},
	{flag: "-parseable-output", attach: attachNone},
	{flag: "-save-temps", attach: attachNone},
	{flag: "-serialize-diagnostics", attach: attachNone},
	{flag: "-whole-module-optimization", attach: attachNone},
	{flag: "-num-threads", attach: attachSpace},
	{flag: "-output-file-map", attach: attachSpaceOrEquals},
	{flag: "-o", attach: attachSpace},
	// -Xfrontend sidecar removal: -Xfrontend -experimental-skip-*-function-bodies
	{flag: "-experimental-skip-", attach: attachNoSpace, sidecarOf: "-Xfrontend"},
}

// Swift applies the Swift profile of spec.md §4.6: strips build-only flags,
// re-derives -index-unit-output-path from a stripped -o when one wasn't
// already present, and appends the empty-ABI-descriptor and clang indexing
// extras (each -Xcc-prefixed).
func Swift(args []string) []string {
	stripped, danglingO, hadIndexUnitOutputPath := adjust(args, swiftRemovals)
	if danglingO != "" && !hadIndexUnitOutputPath {
		stripped = append(stripped, "-index-unit-output-path", danglingO)
	}
	stripped = append(stripped, "-Xfrontend", "-empty-abi-descriptor")
	for _, extra := range clangIndexingExtras {
		stripped = append(stripped, "-Xcc", extra)
	}
	return stripped
}
