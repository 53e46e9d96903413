package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/logging"
)

var log = logging.Get("adapter")

// state is the subprocess lifecycle of spec.md §4.3.
type state int

const (
	stateUninitialized state = iota
	stateStarted
	stateReady
	stateCrashed
	stateRestarting
	stateShutDown
)

// Clock abstracts time.Now/time.Since/time.AfterFunc so crash-damping can
// be tested deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *time.Timer
}

type realClock struct{}

func (realClock) Now() time.Time                             { return time.Now() }
func (realClock) AfterFunc(d time.Duration, f func()) *time.Timer { return time.AfterFunc(d, f) }

// Spawner starts the subprocess and returns its stdio pipes plus a function
// to wait for exit. Split out from Adapter so tests can inject a fake
// subprocess.
type Spawner func(argv []string, dir string) (stdin io.WriteCloser, stdout io.ReadCloser, wait func() error, err error)

// Options configures an Adapter.
type Options struct {
	Argv               []string
	Dir                string
	Spawner            Spawner
	Clock              Clock
	CrashDampingWindow time.Duration
	CrashDampingExtra  time.Duration
	ShutdownTimeout    time.Duration
	Handler            bspclient.Handler
	// WorkspaceRoot, if set alongside WatchConfigDir, is watched
	// (its .bsp subdirectory) for config files dropped in after startup;
	// see OnConfigChanged.
	WorkspaceRoot   string
	WatchConfigDir  bool
	// OnConfigChanged is invoked (debounced) when the watched .bsp
	// directory changes. Typically a re-discovery + restart.
	OnConfigChanged func()
}

// Adapter is the external, out-of-process BSP adapter (spec.md §4.3).
// It owns the subprocess and the JSON-RPC connection to it, and
// transparently respawns on crash.
type Adapter struct {
	opts Options

	mu            sync.Mutex
	st            state
	conn          *jsonrpc2.Conn
	cancelConn    context.CancelFunc
	lastInit      *bsp.InitializeBuildParams
	lastCrash     time.Time
	haveLastCrash bool
	generation    string

	handlerMu sync.RWMutex
	handler   bspclient.Handler

	watchOnce sync.Once
	watchDone chan struct{}
}

// New constructs an Adapter in the UNINITIALIZED state; it does not spawn
// the subprocess until the first Request(initialize) call.
func New(opts Options) *Adapter {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Adapter{opts: opts, st: stateUninitialized, handler: opts.Handler}
}

// SetHandler installs (or replaces) the inbound notification handler.
// Exists because the handler is typically the manager, which can only be
// constructed once this Adapter already exists to hand it; callers wire
// the two together with New(...) followed by SetHandler(mgr).
func (a *Adapter) SetHandler(h bspclient.Handler) {
	a.handlerMu.Lock()
	a.handler = h
	a.handlerMu.Unlock()
}

func (a *Adapter) getHandler() bspclient.Handler {
	a.handlerMu.RLock()
	defer a.handlerMu.RUnlock()
	return a.handler
}

func (a *Adapter) Kind() bspclient.Kind { return bspclient.KindExternal }

// Request sends a BSP request. Per spec.md §4.3, while UNINITIALIZED only
// `initialize` is permitted to trigger the spawn; while CRASHED, requests
// fail fast with an internal error.
func (a *Adapter) Request(ctx context.Context, method bsp.Method, params, result interface{}) error {
	a.mu.Lock()
	switch a.st {
	case stateUninitialized:
		if method != bsp.MethodInitialize {
			a.mu.Unlock()
			return fmt.Errorf("adapter not started: %s sent before initialize", method)
		}
		if err := a.spawnLocked(ctx); err != nil {
			a.mu.Unlock()
			return err
		}
	case stateCrashed, stateRestarting:
		a.mu.Unlock()
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: "internal error: server has crashed"}
	case stateShutDown:
		a.mu.Unlock()
		return fmt.Errorf("adapter is shut down")
	}
	conn := a.conn
	a.mu.Unlock()

	if method == bsp.MethodInitialize {
		a.mu.Lock()
		if a.lastInit != nil {
			log.Error("double initialize sent to external adapter; replay record unchanged")
		} else if p, ok := params.(*bsp.InitializeBuildParams); ok {
			a.lastInit = p
		}
		a.mu.Unlock()
	}

	if err := conn.Call(ctx, string(method), params, result); err != nil {
		return err
	}
	if method == bsp.MethodInitialize {
		a.mu.Lock()
		a.st = stateReady
		a.mu.Unlock()
	}
	return nil
}

// Notify sends a one-way BSP notification.
func (a *Adapter) Notify(ctx context.Context, method bsp.Method, params interface{}) error {
	a.mu.Lock()
	if a.st == stateCrashed || a.st == stateRestarting {
		a.mu.Unlock()
		log.Warning("dropping notification %s: server has crashed", method)
		return nil
	}
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("adapter not started")
	}
	return conn.Notify(ctx, string(method), params)
}

// Close performs the graceful shutdown sequence of spec.md §4.3:
// build/shutdown, then build/exit, with an overall ShutdownTimeout, then
// closes the JSON-RPC connection. The subprocess itself is not signalled or
// killed; Close does not wait for it to exit.
func (a *Adapter) Close() error {
	a.mu.Lock()
	conn := a.conn
	a.st = stateShutDown
	watchDone := a.watchDone
	a.mu.Unlock()
	if watchDone != nil {
		close(watchDone)
	}
	if conn == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.ShutdownTimeout)
		defer cancel()
		_ = conn.Call(ctx, string(bsp.MethodShutdown), nil, nil)
		_ = conn.Notify(ctx, string(bsp.MethodExit), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(a.opts.ShutdownTimeout):
	}
	select {
	case <-time.After(time.Second):
		return conn.Close()
	case <-done:
		return conn.Close()
	}
}

func (a *Adapter) spawnLocked(ctx context.Context) error {
	a.generation = uuid.NewString()
	stdin, stdout, wait, err := a.opts.Spawner(a.opts.Argv, a.opts.Dir)
	if err != nil {
		return err
	}
	stream := jsonrpc2.NewBufferedStream(rwc{stdout, stdin}, jsonrpc2.VSCodeObjectCodec{})
	handler := jsonrpc2.HandlerWithError(a.handleInbound)
	a.conn = jsonrpc2.NewConn(context.Background(), stream, handler)
	a.st = stateStarted
	go a.monitor(wait)
	a.startConfigWatchLocked()
	return nil
}

// startConfigWatchLocked starts the .bsp discovery-directory watcher
// exactly once, on the first successful spawn (spec.md §4.3's discovery
// step, extended per SPEC_FULL.md §4.4: a config dropped in later is
// noticed without requiring a manager restart).
func (a *Adapter) startConfigWatchLocked() {
	if !a.opts.WatchConfigDir || a.opts.WorkspaceRoot == "" || a.opts.OnConfigChanged == nil {
		return
	}
	a.watchOnce.Do(func() {
		a.watchDone = make(chan struct{})
		if err := WatchConfigDir(a.opts.WorkspaceRoot, a.opts.OnConfigChanged, a.watchDone); err != nil {
			log.Warning("failed to watch .bsp config directory: %s", err)
		}
	})
}

// monitor waits for the subprocess to exit and, if abnormal, runs the
// crash-recovery path of spec.md §4.3.
func (a *Adapter) monitor(wait func() error) {
	err := wait()
	a.mu.Lock()
	if a.st == stateShutDown {
		a.mu.Unlock()
		return
	}
	if err == nil {
		a.mu.Unlock()
		return
	}
	a.st = stateCrashed
	delay := time.Duration(0)
	now := a.opts.Clock.Now()
	if a.haveLastCrash && now.Sub(a.lastCrash) < a.opts.CrashDampingWindow {
		delay = a.opts.CrashDampingExtra
	}
	a.lastCrash = now
	a.haveLastCrash = true
	a.st = stateRestarting
	a.mu.Unlock()

	a.opts.Clock.AfterFunc(delay, a.restart)
}

// restart replays the cached initialize, sends build/initialized, then
// synthesizes an empty OnBuildTargetDidChange(nil) toward the manager to
// force cache invalidation (spec.md §4.3).
func (a *Adapter) restart() {
	a.mu.Lock()
	lastInit := a.lastInit
	a.mu.Unlock()

	if err := a.spawnLocked2(); err != nil {
		log.Error("failed to respawn external build server: %s", err)
		return
	}
	if lastInit != nil {
		var result bsp.InitializeBuildResult
		ctx := context.Background()
		if err := a.Request(ctx, bsp.MethodInitialize, lastInit, &result); err != nil {
			log.Error("replaying initialize after restart failed: %s", err)
			return
		}
		_ = a.Notify(ctx, bsp.MethodInitialized, nil)
	}
	if h := a.getHandler(); h != nil {
		h.OnBuildTargetDidChange(context.Background(), &bsp.OnBuildTargetDidChangeParams{Changes: nil})
	}
}

func (a *Adapter) spawnLocked2() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spawnLocked(context.Background())
}

// handleInbound dispatches inbound notifications to the registered
// Handler by method name; they are not routed through the Scheduler.
func (a *Adapter) handleInbound(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (interface{}, error) {
	h := a.getHandler()
	if h == nil {
		return nil, nil
	}
	switch bsp.Method(req.Method) {
	case bsp.MethodBuildTargetDidChange:
		var p bsp.OnBuildTargetDidChangeParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnBuildTargetDidChange(ctx, &p)
	case bsp.MethodLogMessage:
		var p bsp.LogMessageParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnLogMessage(ctx, &p)
	case bsp.MethodTaskStart:
		var p bsp.TaskProgressParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnTaskStart(ctx, &p)
	case bsp.MethodTaskProgress:
		var p bsp.TaskProgressParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnTaskProgress(ctx, &p)
	case bsp.MethodTaskFinish:
		var p bsp.TaskProgressParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnTaskFinish(ctx, &p)
	case bsp.MethodFileOptionsChanged:
		var p bsp.FileOptionsChangedParams
		if req.Params != nil {
			_ = json.Unmarshal(*req.Params, &p)
		}
		h.OnFileOptionsChanged(ctx, &p)
	default:
		log.Warning("unknown inbound BSP method %s, dropped", req.Method)
	}
	return nil, nil
}

// rwc adapts separate reader/writer halves to the io.ReadWriteCloser
// jsonrpc2 wants, the same shape as
// tools/build_langserver/langserver_main.go's stdrwc, but for a dialed
// subprocess instead of our own stdio.
type rwc struct {
	io.ReadCloser
	io.WriteCloser
}

func (r rwc) Close() error {
	werr := r.WriteCloser.Close()
	rerr := r.ReadCloser.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// ExecSpawner is the production Spawner: it runs argv as a real
// subprocess in dir, wired to its own stdin/stdout pipes. Grounded on
// please's src/process/process.go Executor, simplified to the single
// start/wait shape this package needs.
func ExecSpawner(argv []string, dir string) (io.WriteCloser, io.ReadCloser, func() error, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return stdin, stdout, cmd.Wait, nil
}
