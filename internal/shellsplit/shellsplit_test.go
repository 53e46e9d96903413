package shellsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPOSIX(t *testing.T) {
	args, err := SplitPOSIX(`clang -DFOO="bar baz" 'lit eral' /tmp/a.c`)
	assert.NoError(t, err)
	assert.Equal(t, []string{"clang", "-DFOO=bar baz", "lit eral", "/tmp/a.c"}, args)
}

func TestSplitWindowsBasic(t *testing.T) {
	args := SplitWindows(`cl.exe /c foo.c`)
	assert.Equal(t, []string{"cl.exe", "/c", "foo.c"}, args)
}

func TestSplitWindowsQuoted(t *testing.T) {
	args := SplitWindows(`cl.exe "some file.c" /Fo"out dir\out.obj"`)
	assert.Equal(t, []string{"cl.exe", "some file.c", `/Foout dir\out.obj`}, args)
}

func TestSplitWindowsBackslashRules(t *testing.T) {
	// Even number of backslashes before a quote: half as many backslashes, quote is metacharacter.
	args := SplitWindows(`cl.exe \\\\"a b"`)
	assert.Equal(t, []string{"cl.exe", `\\a b`}, args)

	// Odd number of backslashes before a quote: (n-1)/2 backslashes, then a literal quote.
	args2 := SplitWindows(`cl.exe \\\"a`)
	assert.Equal(t, []string{"cl.exe", `\"a`}, args2)
}
