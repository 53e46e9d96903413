// Package bspclient implements the adapter dispatch layer (spec.md §4
// design notes: "BuildSystemAdapter is a tagged union {builtin, external,
// injected}") and the message dependency scheduler (spec.md §4.2). The
// BuildSystemManager (internal/manager) is the only caller; this package
// has no business logic of its own beyond dispatch, scheduling and
// lifecycle.
package bspclient

import (
	"context"

	"github.com/please-build/bsmgr/internal/bsp"
)

// A Connection is the narrow send/notify surface a backend (external
// subprocess, built-in, or test double) must provide. It mirrors the
// canonical BSP shape of spec.md §9: "send<R: Request>(R) → R.Response".
// Go has no request->response type-level relation as clean as Swift's
// associated types, so this is modelled with a method-per-kind dispatch
// table one level up (Adapter), and Connection itself stays untyped JSON.
type Connection interface {
	// Request sends a request for the given method with the given params
	// and decodes the response into result. It blocks until a response (or
	// error) arrives, or ctx is cancelled.
	Request(ctx context.Context, method bsp.Method, params, result interface{}) error
	// Notify sends a one-way notification; it does not wait for any
	// acknowledgement.
	Notify(ctx context.Context, method bsp.Method, params interface{}) error
	// Close tears down the connection.
	Close() error
}

// A Handler processes inbound notifications/requests arriving from a
// backend (target-did-change, log messages, task progress, and — for the
// legacy push bridge — fileOptionsChanged). The manager implements this.
type Handler interface {
	OnBuildTargetDidChange(ctx context.Context, params *bsp.OnBuildTargetDidChangeParams)
	OnLogMessage(ctx context.Context, params *bsp.LogMessageParams)
	OnTaskStart(ctx context.Context, params *bsp.TaskProgressParams)
	OnTaskProgress(ctx context.Context, params *bsp.TaskProgressParams)
	OnTaskFinish(ctx context.Context, params *bsp.TaskProgressParams)
	// OnFileOptionsChanged handles the legacy push-model notification
	// (spec.md §4.9); a handler with no legacy bridge in front of it
	// ignores these, since nothing ever sends them in that configuration.
	OnFileOptionsChanged(ctx context.Context, params *bsp.FileOptionsChangedParams)
}

// Kind discriminates the tagged union of adapter backends (spec.md §9
// design notes).
type Kind int

const (
	KindBuiltIn Kind = iota
	KindExternal
	KindInjected
)

// An Adapter is the uniform surface the manager sends through, whichever
// backend is actually behind it (spec.md §4 component table: "uniform
// `send` over built-in/external/injected backends").
type Adapter interface {
	Kind() Kind
	Connection
}
