// Package shellsplit tokenizes compiler-invocation command strings found in
// compile_commands.json's `command` field (spec.md §6). POSIX tokenization
// is delegated to google/shlex, already a dependency of the teacher repo
// (used for worker-argument splitting in src/build/build_step.go and
// src/build/worker.go). Windows tokenization has no analogue anywhere in
// the example pack, so it is implemented directly against the documented
// MSVC backslash-quote rule (spec.md §6) — the one leaf of this repo that
// is necessarily stdlib-only; see DESIGN.md.
package shellsplit

import "github.com/google/shlex"

// SplitPOSIX tokenizes s using POSIX shell quoting rules: whitespace
// separates arguments; "..." allows backslash-escaping of the next
// character; '...' is taken literally; a backslash outside quotes escapes
// the next character.
func SplitPOSIX(s string) ([]string, error) {
	return shlex.Split(s)
}

// SplitWindows tokenizes s using the Windows/MSVC command-line convention:
// an even number of backslashes before a quote emits half as many
// backslashes and the quote acts as a metacharacter (toggling quoting); an
// odd number emits (n-1)/2 backslashes followed by a literal quote. Inside
// the first argument (the command name) backslashes are never escape
// characters.
func SplitWindows(s string) []string {
	var args []string
	var cur []rune
	inQuotes := false
	haveArg := false
	firstArg := true
	runes := []rune(s)
	i := 0
	flush := func() {
		if haveArg {
			args = append(args, string(cur))
		}
		cur = nil
		haveArg = false
	}
	for i < len(runes) {
		r := runes[i]
		switch {
		case r == ' ' || r == '\t':
			if inQuotes {
				cur = append(cur, r)
				haveArg = true
				i++
				continue
			}
			if haveArg {
				flush()
				firstArg = false
			}
			i++
		case r == '\\' && !firstArg:
			nBackslashes := 0
			j := i
			for j < len(runes) && runes[j] == '\\' {
				nBackslashes++
				j++
			}
			if j < len(runes) && runes[j] == '"' {
				cur = append(cur, repeat('\\', nBackslashes/2)...)
				haveArg = true
				if nBackslashes%2 == 1 {
					cur = append(cur, '"')
					i = j + 1
				} else {
					inQuotes = !inQuotes
					i = j + 1
				}
			} else {
				cur = append(cur, repeat('\\', nBackslashes)...)
				haveArg = true
				i = j
			}
		case r == '"':
			// Inside the command name, or outside a backslash run: a bare
			// quote simply toggles quoting.
			inQuotes = !inQuotes
			haveArg = true
			i++
		default:
			cur = append(cur, r)
			haveArg = true
			i++
		}
	}
	flush()
	return args
}

func repeat(r rune, n int) []rune {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return out
}
