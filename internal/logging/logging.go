// Package logging sets up the op/go-logging backend used across this
// module, mirroring please's own src/cli/logging.go: a single formatted
// stderr backend plus an optional file backend, both switchable at a given
// verbosity.
package logging

import (
	"os"
	"path/filepath"

	logging "gopkg.in/op/go-logging.v1"
)

// Get returns a named logger, the same idiom as please's
// `logging.MustGetLogger("lsp")` calls in tools/build_langserver.
func Get(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}

var (
	stderrLevel = logging.WARNING
	fileLevel   = logging.WARNING
	fileBackend logging.Backend
)

// Init sets the stderr logging verbosity.
func Init(level logging.Level) {
	stderrLevel = level
	apply()
}

// InitFile additionally echoes logging at fileLevel to the file at path.
func InitFile(path string, level logging.Level) error {
	fileLevel = level
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	fileBackend = logging.NewBackendFormatter(logging.NewLogBackend(f, "", 0), formatter(false))
	apply()
	return nil
}

func formatter(coloured bool) logging.Formatter {
	format := "%{time:15:04:05.000} %{level:7s}: %{message}"
	if coloured {
		format = "%{color}" + format + "%{color:reset}"
	}
	return logging.MustStringFormatter(format)
}

func apply() {
	stderr := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), formatter(true))
	leveled := logging.AddModuleLevel(stderr)
	leveled.SetLevel(stderrLevel, "")
	if fileBackend != nil {
		leveledFile := logging.AddModuleLevel(fileBackend)
		leveledFile.SetLevel(fileLevel, "")
		logging.SetBackend(leveled, leveledFile)
	} else {
		logging.SetBackend(leveled)
	}
}
