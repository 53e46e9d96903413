package bspclient

import (
	"context"
	"sync"

	"github.com/please-build/bsmgr/internal/bsp"
	"github.com/please-build/bsmgr/internal/logging"
)

var log = logging.Get("bspclient")

// A Scheduler enforces the partial order of spec.md §4.2:
//   - stateChange is a barrier against any other stateChange and any
//     stateRead.
//   - Two stateReads may run concurrently.
//   - taskProgress is serialized among itself, independent of reads/changes.
//
// It is the asynchronous serial queue spec.md §4.2 and §5 describe,
// implemented with two per-class gates rather than a literal actor: a
// sync.RWMutex gives "barrier against everything" (Lock, for stateChange)
// vs "concurrent with other reads" (RLock, for stateRead) for free, and a
// plain mutex serializes taskProgress independently.
type Scheduler struct {
	stateMu sync.RWMutex
	taskMu  sync.Mutex
}

// NewScheduler returns a ready Scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Run executes f under the scheduling class for method. If ctx is already
// cancelled when Run is called, f is never called and ctx.Err() is
// returned; cancellation while blocked waiting for the gate is not
// observed, and f runs once the gate is acquired.
func (s *Scheduler) Run(ctx context.Context, method bsp.Method, f func(ctx context.Context) error) error {
	switch bsp.ClassOf(method) {
	case bsp.ClassStateChange:
		return s.runExclusive(ctx, &s.stateMu, f)
	case bsp.ClassStateRead:
		return s.runShared(ctx, f)
	default: // ClassTaskProgress
		return s.runExclusive(ctx, taskMuAdapter{&s.taskMu}, f)
	}
}

// locker is the minimal lock surface runExclusive needs; satisfied by both
// *sync.RWMutex (via its Lock/Unlock) and our taskMuAdapter wrapper around
// *sync.Mutex.
type locker interface {
	Lock()
	Unlock()
}

type taskMuAdapter struct{ m *sync.Mutex }

func (t taskMuAdapter) Lock()   { t.m.Lock() }
func (t taskMuAdapter) Unlock() { t.m.Unlock() }

func (s *Scheduler) runExclusive(ctx context.Context, l locker, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Acquiring a plain mutex/rwmutex write-lock can't itself observe
	// context cancellation, but these critical sections are held only for
	// the duration of one scheduled BSP exchange, never indefinitely, so an
	// uncancellable short wait here is the documented tradeoff (cancelling
	// only needs to stop *this* call once it's running, per spec.md §5).
	l.Lock()
	defer l.Unlock()
	return f(ctx)
}

func (s *Scheduler) runShared(ctx context.Context, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return f(ctx)
}
