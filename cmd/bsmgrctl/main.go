// Command bsmgrctl is a developer CLI for exercising a BuildSystemManager
// directly, the practical analogue of please's own `plz query` commands
// (src/query/*.go) applied to this domain (spec.md §4.11). It either spawns
// the configured build server as a subprocess through the external adapter
// (optionally behind the legacy bridge) or runs a built-in compilation
// database adapter, and drives a handful of manager operations against it,
// purely for manual
// smoke-testing: the LSP server itself never goes through this binary.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	flags "github.com/thought-machine/go-flags"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/bspclient/builtin"
	"github.com/please-build/bsmgr/internal/bspclient/external"
	"github.com/please-build/bsmgr/internal/compiledb"
	"github.com/please-build/bsmgr/internal/config"
	"github.com/please-build/bsmgr/internal/legacybridge"
	bsplog "github.com/please-build/bsmgr/internal/logging"
	"github.com/please-build/bsmgr/internal/manager"
	"github.com/please-build/bsmgr/internal/model"
)

var log = bsplog.Get("bsmgrctl")

var verbosityLevels = map[string]logging.Level{
	"debug":   logging.DEBUG,
	"info":    logging.INFO,
	"notice":  logging.NOTICE,
	"warning": logging.WARNING,
	"error":   logging.ERROR,
}

var opts = struct {
	Verbosity string `short:"v" long:"verbosity" default:"warning" choice:"debug" choice:"info" choice:"notice" choice:"warning" choice:"error" description:"Verbosity of output"`
	LogFile   string `long:"log_file" description:"File to echo full logging output to"`
	ConfigDir string `long:"config_dir" default:"." description:"Directory to read .bsmgrconfig from"`

	Args struct {
		Command string   `positional-arg-name:"command" description:"targets | settings | wait"`
		Rest    []string `positional-arg-name:"args"`
	} `positional-args:"yes" required:"yes"`

	Server struct {
		Argv            []string `long:"argv" description:"Build server argv to spawn (repeatable); one of --argv, --compile_commands or --compile_flags is required"`
		Dir             string   `long:"dir" description:"Working directory to spawn the build server in"`
		CompileCommands string   `long:"compile_commands" description:"Path to a compile_commands.json to run the built-in JSON compilation-database adapter against, instead of spawning an external build server"`
		CompileFlags    string   `long:"compile_flags" description:"Path to a compile_flags.txt to run the built-in fixed-flags adapter against, instead of spawning an external build server"`
		Windows         bool     `long:"windows" description:"Tokenize compile_commands.json command strings using Windows (MSVC) conventions instead of POSIX"`
		LegacyBridge    bool     `long:"legacy_bridge" description:"Wrap --argv's external adapter in the push-to-pull legacy settings bridge"`
	} `group:"Build server"`
}{}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = `bsmgrctl drives a BuildSystemManager directly for manual smoke-testing.

Subcommands:
  targets <uri>          list the targets owning uri
  settings <uri>          print the build settings for uri
  wait                    block until the build graph is up to date
`
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	level, ok := verbosityLevels[strings.ToLower(opts.Verbosity)]
	if !ok {
		level = logging.WARNING
	}
	bsplog.Init(level)
	if opts.LogFile != "" {
		if err := bsplog.InitFile(opts.LogFile, level); err != nil {
			log.Fatalf("failed to open log file: %s", err)
		}
	}

	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		log.Fatalf("failed to load config: %s", err)
	}

	adapter, wireHandler, err := buildAdapter(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	mgr := manager.New(manager.Options{
		Adapter: adapter,
		Config:  cfg,
	})
	defer mgr.Shutdown()
	wireHandler(mgr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, mgr, opts.Args.Command, opts.Args.Rest); err != nil {
		log.Fatalf("%s: %s", opts.Args.Command, err)
	}
}

// buildAdapter constructs exactly one of the three adapter kinds
// (spec.md §9's tagged union) from the --argv/--compile_commands/
// --compile_flags flags, and returns a wireHandler func the caller must
// invoke once the manager exists, since every kind needs the manager (or
// the legacy bridge in front of it) installed as its inbound handler
// after construction.
func buildAdapter(cfg *config.Configuration) (bspclient.Adapter, func(bspclient.Handler), error) {
	set := 0
	for _, s := range []string{strings.Join(opts.Server.Argv, " "), opts.Server.CompileCommands, opts.Server.CompileFlags} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return nil, nil, fmt.Errorf("exactly one of --argv, --compile_commands or --compile_flags is required")
	}

	if opts.Server.CompileCommands != "" {
		db, err := compiledb.NewJSONDatabase(opts.Server.CompileCommands, opts.Server.Windows)
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s: %w", opts.Server.CompileCommands, err)
		}
		if err := db.Watch(); err != nil {
			log.Warning("not watching %s for changes: %s", opts.Server.CompileCommands, err)
		}
		adapter := builtin.New(db, nil)
		db.SetOnReload(func() { adapter.NotifyTargetsChanged(context.Background()) })
		return adapter, func(h bspclient.Handler) { adapter.SetHandler(h) }, nil
	}

	if opts.Server.CompileFlags != "" {
		ff, err := compiledb.NewFixedFlags(opts.Server.CompileFlags)
		if err != nil {
			return nil, nil, fmt.Errorf("loading %s: %w", opts.Server.CompileFlags, err)
		}
		if err := ff.Watch(); err != nil {
			log.Warning("not watching %s for changes: %s", opts.Server.CompileFlags, err)
		}
		adapter := builtin.New(ff, nil)
		ff.SetOnReload(func() { adapter.NotifyTargetsChanged(context.Background()) })
		return adapter, func(h bspclient.Handler) { adapter.SetHandler(h) }, nil
	}

	ext := external.New(external.Options{
		Argv:               opts.Server.Argv,
		Dir:                opts.Server.Dir,
		Spawner:            external.ExecSpawner,
		CrashDampingWindow: cfg.Adapter.CrashDampingWindow,
		CrashDampingExtra:  cfg.Adapter.CrashDampingExtraDelay,
		ShutdownTimeout:    cfg.Adapter.ShutdownTimeout,
	})
	if !opts.Server.LegacyBridge {
		return ext, func(h bspclient.Handler) { ext.SetHandler(h) }, nil
	}
	bridge := legacybridge.New(ext)
	ext.SetHandler(bridge)
	return bridge, func(h bspclient.Handler) { bridge.SetNext(h) }, nil
}

func run(ctx context.Context, mgr *manager.Manager, command string, args []string) error {
	switch command {
	case "targets":
		if len(args) != 1 {
			return fmt.Errorf("usage: targets <uri>")
		}
		ids, err := mgr.Targets(ctx, args[0])
		if err != nil {
			return err
		}
		for _, id := range model.SortedIdentifiers(ids) {
			fmt.Println(id.URI)
		}
		return nil

	case "settings":
		if len(args) != 1 {
			return fmt.Errorf("usage: settings <uri>")
		}
		uri := args[0]
		lang, _ := mgr.DefaultLanguage(ctx, uri, nil)
		settings, err := mgr.BuildSettings(ctx, uri, nil, lang, false)
		if err != nil {
			return err
		}
		fmt.Printf("language: %s\n", settings.Language)
		fmt.Printf("workingDirectory: %s\n", settings.WorkingDirectory)
		fmt.Printf("isFallback: %v\n", settings.IsFallback)
		fmt.Println("compilerArguments:")
		for _, a := range settings.CompilerArguments {
			fmt.Printf("  %s\n", a)
		}
		return nil

	case "wait":
		return mgr.WaitForUpToDateBuildGraph(ctx)

	default:
		return fmt.Errorf("unknown command %q (want targets, settings or wait)", command)
	}
}
