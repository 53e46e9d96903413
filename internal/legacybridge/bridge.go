// Package legacybridge adapts a push-based build server — one that only
// publishes settings via FileOptionsChanged notifications, instead of
// answering textDocument/sourceKitOptions on demand — to the pull API the
// manager expects (spec.md §4.9). A Bridge sits directly in the manager's
// adapter slot, transparently forwarding every other request and
// notification to the wrapped Connection.
package legacybridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/bspclient"
	"github.com/please-build/bsmgr/internal/logging"
)

var log = logging.Get("legacybridge")

type cached struct {
	result bsp.SourceKitOptionsResult
	ok     bool
}

// Bridge wraps an underlying Connection that only speaks the push model,
// presenting it to the manager as an ordinary bspclient.Adapter (Kind
// KindInjected, per spec.md §9's tagged union) while separately acting as
// that Connection's bspclient.Handler, so it can intercept the inbound
// `build/fileOptionsChanged` notifications the underlying adapter itself
// never classifies.
type Bridge struct {
	underlying bspclient.Adapter

	nextMu sync.RWMutex
	next   bspclient.Handler

	mu    sync.Mutex
	cache map[string]cached
}

// New wraps underlying. The downstream handler (typically the manager)
// is installed later via SetNext, since it is usually constructed only
// after the Bridge (and the Adapter it wraps) already exist.
func New(underlying bspclient.Adapter) *Bridge {
	return &Bridge{underlying: underlying, cache: map[string]cached{}}
}

// SetNext installs the handler notifications are forwarded to once
// translated (OnBuildTargetDidChange, task progress, logs) or synthesized
// (a cached FileOptionsChanged becomes an OnBuildTargetDidChange(nil)).
func (b *Bridge) SetNext(next bspclient.Handler) {
	b.nextMu.Lock()
	b.next = next
	b.nextMu.Unlock()
}

func (b *Bridge) getNext() bspclient.Handler {
	b.nextMu.RLock()
	defer b.nextMu.RUnlock()
	return b.next
}

func (b *Bridge) Kind() bspclient.Kind { return bspclient.KindInjected }

func (b *Bridge) Close() error { return b.underlying.Close() }

func (b *Bridge) Notify(ctx context.Context, method bsp.Method, params interface{}) error {
	return b.underlying.Notify(ctx, method, params)
}

// Request dispatches textDocument/sourceKitOptions through the pull-bridge
// cache (populated by inbound FileOptionsChanged notifications, see
// OnFileOptionsChanged); everything else passes straight through.
func (b *Bridge) Request(ctx context.Context, method bsp.Method, params, result interface{}) error {
	if method != bsp.MethodSourceKitOptions {
		return b.underlying.Request(ctx, method, params, result)
	}
	p, ok := params.(*bsp.SourceKitOptionsParams)
	if !ok {
		return fmt.Errorf("unexpected params type for textDocument/sourceKitOptions")
	}
	r, ok := result.(*bsp.SourceKitOptionsResult)
	if !ok {
		return fmt.Errorf("unexpected result type for textDocument/sourceKitOptions")
	}
	res, found, err := b.sourceKitOptions(ctx, string(p.TextDocument.URI))
	if err != nil {
		return err
	}
	if found {
		*r = res
	}
	return nil
}

// sourceKitOptions implements the pull side of spec.md §4.9: on first
// request for a URI, it registers for changes with the underlying server
// and answers from whatever the cache holds once that call returns (the
// underlying server is expected to push the real answer back via
// FileOptionsChanged before or shortly after acknowledging registration);
// if registration itself fails, the absence is cached so the manager
// falls back without retrying the underlying server every time.
func (b *Bridge) sourceKitOptions(ctx context.Context, uri string) (bsp.SourceKitOptionsResult, bool, error) {
	b.mu.Lock()
	if c, ok := b.cache[uri]; ok {
		b.mu.Unlock()
		return c.result, c.ok, nil
	}
	b.mu.Unlock()

	var ignored struct{}
	err := b.underlying.Request(ctx, bsp.MethodRegisterForChanges, &bsp.RegisterForChangesParams{URI: uri, Action: "register"}, &ignored)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		log.Warning("registerForChanges failed for %s: %s", uri, err)
		b.cache[uri] = cached{ok: false}
		return bsp.SourceKitOptionsResult{}, false, nil
	}
	if c, ok := b.cache[uri]; ok {
		return c.result, c.ok, nil
	}
	// Registered but nothing pushed yet: cache the absence so later
	// requests wait for the push instead of registering again.
	b.cache[uri] = cached{ok: false}
	return bsp.SourceKitOptionsResult{}, false, nil
}

// OnBuildTargetDidChange forwards unchanged to next.
func (b *Bridge) OnBuildTargetDidChange(ctx context.Context, params *bsp.OnBuildTargetDidChangeParams) {
	if next := b.getNext(); next != nil {
		next.OnBuildTargetDidChange(ctx, params)
	}
}

func (b *Bridge) OnLogMessage(ctx context.Context, params *bsp.LogMessageParams) {
	if next := b.getNext(); next != nil {
		next.OnLogMessage(ctx, params)
	}
}

func (b *Bridge) OnTaskStart(ctx context.Context, params *bsp.TaskProgressParams) {
	if next := b.getNext(); next != nil {
		next.OnTaskStart(ctx, params)
	}
}

func (b *Bridge) OnTaskProgress(ctx context.Context, params *bsp.TaskProgressParams) {
	if next := b.getNext(); next != nil {
		next.OnTaskProgress(ctx, params)
	}
}

func (b *Bridge) OnTaskFinish(ctx context.Context, params *bsp.TaskProgressParams) {
	if next := b.getNext(); next != nil {
		next.OnTaskFinish(ctx, params)
	}
}

// OnFileOptionsChanged handles an inbound FileOptionsChanged notification:
// caches the new settings and invalidates next's view of the world, since
// this is the only signal next will ever get that they changed (spec.md
// §4.9).
func (b *Bridge) OnFileOptionsChanged(ctx context.Context, params *bsp.FileOptionsChangedParams) {
	b.mu.Lock()
	b.cache[params.URI] = cached{result: params.Options, ok: true}
	b.mu.Unlock()
	if next := b.getNext(); next != nil {
		next.OnBuildTargetDidChange(ctx, &bsp.OnBuildTargetDidChangeParams{Changes: nil})
	}
}
