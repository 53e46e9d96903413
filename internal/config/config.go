// Package config loads the tunables the manager exposes instead of hard
// coding (spec.md §9 Open Questions: debounce windows, crash-damping
// window, fallback-settings timeout). It follows please's own
// src/core/config.go: an INI-style file parsed with gcfg, optional and
// silently absent, overridden by a local file.
package config

import (
	"os"
	"time"

	"github.com/please-build/gcfg"
)

// FileName is the repo-level config file name, analogous to please's
// ".plzconfig" (src/core/config.go).
const FileName = ".bsmgrconfig"

// LocalFileName overrides FileName without being checked in, analogous to
// please's ".plzconfig.local".
const LocalFileName = ".bsmgrconfig.local"

// Configuration holds every tunable named in spec.md.
type Configuration struct {
	Manager struct {
		// DependenciesDebounce is the window used to coalesce
		// "dependencies updated" events (spec.md §4.10).
		DependenciesDebounce time.Duration
		// SettingsDebounce is the window used to coalesce
		// "settings changed" events (spec.md §4.10).
		SettingsDebounce time.Duration
		// FallbackTimeout bounds buildSettings(fallbackAfterTimeout=true)
		// (spec.md §4.1).
		FallbackTimeout time.Duration
	}
	Adapter struct {
		// CrashDampingWindow is the interval within which consecutive
		// crashes trigger additional restart delay (spec.md §4.3).
		CrashDampingWindow time.Duration
		// CrashDampingExtraDelay is the extra delay added once within the
		// damping window (spec.md §4.3).
		CrashDampingExtraDelay time.Duration
		// ShutdownTimeout bounds graceful shutdown (spec.md §4.3).
		ShutdownTimeout time.Duration
	}
}

// Default returns the configuration with the literal values named in
// spec.md (500ms/20ms debounce, 30s/10s crash damping, 2s shutdown).
func Default() *Configuration {
	c := &Configuration{}
	c.Manager.DependenciesDebounce = 500 * time.Millisecond
	c.Manager.SettingsDebounce = 20 * time.Millisecond
	c.Manager.FallbackTimeout = 2 * time.Second
	c.Adapter.CrashDampingWindow = 30 * time.Second
	c.Adapter.CrashDampingExtraDelay = 10 * time.Second
	c.Adapter.ShutdownTimeout = 2 * time.Second
	return c
}

// Load reads FileName and LocalFileName (if present) from dir on top of
// Default(), the way please's ReadConfigFiles layers
// .plzconfig/.plzconfig.local (src/core/config.go).
func Load(dir string) (*Configuration, error) {
	c := Default()
	for _, name := range []string{FileName, LocalFileName} {
		path := dir + "/" + name
		if err := readInto(c, path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readInto(c *Configuration, path string) error {
	if err := gcfg.ReadFileInto(c, path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if gcfg.FatalOnly(err) != nil {
			return err
		}
	}
	return nil
}
