package manager

import (
	"context"

	"github.com/please-build/bsmgr/internal/bsp"
)

// RunCancelable runs fn under a context derived from ctx that a later
// CancelRequest(id) call can cancel early (spec.md §5). id is scoped to
// the caller (typically the LSP request id forwarding into this call);
// reusing an id for a second concurrent call is the caller's mistake, not
// this registry's to detect.
func (m *Manager) RunCancelable(ctx context.Context, id string, fn func(context.Context) error) error {
	cctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()
	done := m.cancel.Register(id, cancelFn)
	defer done()
	return fn(cctx)
}

// CancelRequest cancels the in-flight RunCancelable call registered under
// id, if any, and reports whether it found and cancelled one. On success
// it also best-effort notifies the adapter with `$/cancelRequest`, so an
// external build server gets a chance to abort the underlying work too
// (spec.md §4.3); the notification is fire-and-forget, since the local
// cancellation has already taken effect regardless of whether the
// adapter honours it.
func (m *Manager) CancelRequest(id string) bool {
	if !m.cancel.Cancel(id) {
		return false
	}
	go func() {
		_ = m.adapter.Notify(context.Background(), bsp.MethodCancelRequest, &bsp.CancelParams{ID: id})
	}()
	return true
}
