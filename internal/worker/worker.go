// Package worker runs user tasks on goroutines and cleans up after the ones that die.
//
// A task that panics, or returns while still holding a mutex it locked through its
// Holder, leaves that mutex marked abandoned so the next acquirer gets it with a
// WaitAbandoned result instead of blocking forever. The panic itself comes back as an
// internal error.
package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Task is a unit of work. Mutexes it wants cleaned up on failure must be locked
// through h.
type Task func(ctx context.Context, h *Holder) error

// Holder records the mutexes a task currently holds
type Holder struct {
	mu   sync.Mutex
	held []*syncx.Mutex
}

// Lock locks m and records it
func (h *Holder) Lock(m *syncx.Mutex) error {
	if err := m.Lock(); err != nil {
		return err
	}
	h.track(m)
	return nil
}

// LockWait locks m within timeout and records it unless the wait timed out
func (h *Holder) LockWait(m *syncx.Mutex, timeout time.Duration) (syncx.WaitResult, error) {
	res := m.Wait(timeout)
	switch res {
	case syncx.WaitSignaled, syncx.WaitAbandoned:
		h.track(m)
		return res, nil
	case syncx.WaitTimedOut:
		return res, nil
	default:
		return res, errors.New(errors.ErrorTypeSystem, "mutex wait failed").WithComponent(m.Name())
	}
}

// Unlock unlocks m and forgets it
func (h *Holder) Unlock(m *syncx.Mutex) error {
	h.mu.Lock()
	for i := len(h.held) - 1; i >= 0; i-- {
		if h.held[i] == m {
			h.held = append(h.held[:i], h.held[i+1:]...)
			break
		}
	}
	h.mu.Unlock()
	return m.Unlock()
}

// Held returns how many mutexes are recorded
func (h *Holder) Held() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.held)
}

func (h *Holder) track(m *syncx.Mutex) {
	h.mu.Lock()
	h.held = append(h.held, m)
	h.mu.Unlock()
}

// abandonAll marks every recorded mutex abandoned, most recent first
func (h *Holder) abandonAll(log *zap.Logger) {
	h.mu.Lock()
	held := h.held
	h.held = nil
	h.mu.Unlock()

	for i := len(held) - 1; i >= 0; i-- {
		m := held[i]
		log.Warn("mutex abandoned by task", zap.String("mutex", m.Name()))
		if err := m.MarkAbandoned(); err != nil {
			log.Error("failed to mark mutex abandoned", zap.String("mutex", m.Name()), zap.Error(err))
		}
	}
}

// Run executes task on the calling goroutine. A panic is recovered into an internal
// error carrying the stack in its details.
func Run(ctx context.Context, name string, l *zap.Logger, task Task) (err error) {
	log := logger.ForComponent(l, "worker", name)
	h := &Holder{}
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", zap.Any("panic", r))
			err = errors.Newf(errors.ErrorTypeInternal, "task panicked: %v", r).
				WithComponent(name).
				WithDetail("stack", string(debug.Stack()))
		}
		h.abandonAll(log)
	}()
	return task(ctx, h)
}

// Group runs named tasks concurrently. The first failure cancels the group context.
type Group struct {
	g      *errgroup.Group
	ctx    context.Context
	logger *zap.Logger
}

// NewGroup creates a group whose tasks see a context derived from ctx
func NewGroup(ctx context.Context, l *zap.Logger) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx, logger: l}
}

// SetLimit caps the number of tasks running at once; n < 0 removes the cap
func (g *Group) SetLimit(n int) { g.g.SetLimit(n) }

// Go starts task on a new goroutine
func (g *Group) Go(name string, task Task) {
	g.g.Go(func() error {
		return Run(g.ctx, name, g.logger, task)
	})
}

// Wait blocks until every task has returned and reports the first error
func (g *Group) Wait() error {
	return g.g.Wait()
}
