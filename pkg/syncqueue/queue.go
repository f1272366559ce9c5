// Package syncqueue provides a named, blocking FIFO queue.
//
// Producers never block beyond the queue lock. Consumers dequeue with a timeout and an
// optional cancel waitable; a manual-reset wake event is set when the queue goes from
// empty to non-empty and cleared by a consumer that finds it empty. With one producer and
// one consumer entries come out in enqueue order. Concurrent consumers race for the front
// and no fairness between them is promised.
package syncqueue

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/metrics"
	"github.com/ajitpratap0/syncpool/pkg/syncobj"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Queue is a blocking FIFO of T
type Queue[T any] struct {
	name   string
	items  *syncobj.SyncObj[ring[T]]
	wake   *syncx.Event
	empty  *syncx.Event
	closed atomic.Bool
	size   atomic.Int64

	// accessor held between EmptyLock and EmptyUnlock
	emptyHold atomic.Pointer[syncobj.Accessor[ring[T]]]

	logger  *zap.Logger
	metrics *metrics.QueueCollector
}

// Option configures a Queue
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.QueueCollector
	lock    syncx.Lockable
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics replaces the collector registered under the queue name
func WithMetrics(c *metrics.QueueCollector) Option {
	return func(o *options) { o.metrics = c }
}

// WithLock replaces the default critical section guarding the entries
func WithLock(l syncx.Lockable) Option {
	return func(o *options) { o.lock = l }
}

// New creates an empty queue
func New[T any](name string, opts ...Option) *Queue[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.ForComponent(o.logger, "queue", name)
	if o.metrics == nil {
		o.metrics = metrics.NewQueueCollector(name)
	}

	objOpts := []syncobj.Option{syncobj.WithName(name), syncobj.WithLogger(log)}
	if o.lock != nil {
		objOpts = append(objOpts, syncobj.WithLock(o.lock))
	}

	return &Queue[T]{
		name:    name,
		items:   syncobj.New(ring[T]{}, objOpts...),
		wake:    syncx.NewEvent(name+".wake", true, false),
		empty:   syncx.NewEvent(name+".empty", true, true),
		logger:  log,
		metrics: o.metrics,
	}
}

// Name returns the diagnostic name
func (q *Queue[T]) Name() string { return q.name }

// Locked gives fn exclusive access to the queue contents
type Locked[T any] struct {
	q *Queue[T]
	r *ring[T]
}

// Len returns the authoritative length
func (l *Locked[T]) Len() int { return l.r.len() }

// Enqueue appends v and returns the new length
func (l *Locked[T]) Enqueue(v T) int {
	l.r.push(v)
	n := l.r.len()
	l.q.size.Store(int64(n))
	if n == 1 {
		// a consumer may be waiting
		l.q.wake.Set()
	}
	l.q.metrics.Enqueued(n)
	return n
}

// TryDequeue pops the front entry if there is one
func (l *Locked[T]) TryDequeue() (T, bool) {
	v, ok := l.r.pop()
	if !ok {
		l.q.wake.Reset()
		return v, false
	}
	n := l.r.len()
	l.q.size.Store(int64(n))
	if n == 0 {
		l.q.empty.Set()
	}
	l.q.metrics.Dequeued(n)
	return v, true
}

// Compact releases unused backing storage
func (l *Locked[T]) Compact() { l.r.compact() }

// Capacity returns the size of the backing storage
func (l *Locked[T]) Capacity() int { return l.r.capacity() }

// Locked runs fn while holding the queue lock
func (q *Queue[T]) Locked(fn func(l *Locked[T]) error) error {
	var ferr error
	err := q.items.Do(func(r *ring[T]) {
		ferr = fn(&Locked[T]{q: q, r: r})
	})
	if err != nil {
		return err
	}
	return ferr
}

func (q *Queue[T]) closedErr() error {
	return errors.New(errors.ErrorTypeState, "queue closed").WithComponent(q.name)
}

// Enqueue appends v and returns the new length
func (q *Queue[T]) Enqueue(v T) (int, error) {
	return q.EnqueueFunc(func() T { return v })
}

// EnqueueFunc appends the value built by fn while the lock is held
func (q *Queue[T]) EnqueueFunc(fn func() T) (int, error) {
	var n int
	err := q.Locked(func(l *Locked[T]) error {
		if q.closed.Load() {
			return q.closedErr()
		}
		n = l.Enqueue(fn())
		return nil
	})
	return n, err
}

// TryDequeue pops the front entry without blocking
func (q *Queue[T]) TryDequeue() (T, bool, error) {
	var (
		v  T
		ok bool
	)
	err := q.Locked(func(l *Locked[T]) error {
		if q.closed.Load() {
			return q.closedErr()
		}
		v, ok = l.TryDequeue()
		return nil
	})
	return v, ok, err
}

// Dequeue pops the front entry, waiting up to timeout for one to arrive.
// It returns ok=false without error when the timeout expires or cancel fires first.
func (q *Queue[T]) Dequeue(timeout time.Duration, cancel syncx.Waitable) (T, bool, error) {
	deadline := syncx.NewDeadline(timeout)
	for {
		v, ok, err := q.TryDequeue()
		if err != nil || ok {
			return v, ok, err
		}

		remaining, ok := deadline.Remaining()
		if !ok {
			q.metrics.TimedOut()
			return v, false, nil
		}

		signaled := false
		if cancel == nil {
			signaled = q.wake.Wait(remaining) == syncx.WaitSignaled
		} else {
			res, idx := syncx.WaitMultiple([]syncx.Waitable{q.wake, cancel}, remaining)
			signaled = res == syncx.WaitSignaled && idx == 0
		}
		if !signaled {
			q.metrics.TimedOut()
			return v, false, nil
		}
	}
}

// DequeueContext pops the front entry, waiting until ctx is done
func (q *Queue[T]) DequeueContext(ctx context.Context) (T, error) {
	timeout, cancel := syncx.FromContext(ctx)
	v, ok, err := q.Dequeue(timeout, cancel)
	if err != nil || ok {
		return v, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return v, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "dequeue abandoned").WithComponent(q.name)
	}
	return v, errors.New(errors.ErrorTypeTimeout, "dequeue deadline exceeded").WithComponent(q.name)
}

// Length returns the current number of entries
func (q *Queue[T]) Length() (int, error) {
	var n int
	err := q.Locked(func(l *Locked[T]) error {
		n = l.Len()
		return nil
	})
	return n, err
}

// Len returns the length without taking the lock. The value may be stale by the time
// the caller reads it; use Locked for decisions that need the exact length.
func (q *Queue[T]) Len() int { return int(q.size.Load()) }

// Compact releases unused backing storage
func (q *Queue[T]) Compact() error {
	return q.Locked(func(l *Locked[T]) error {
		l.Compact()
		return nil
	})
}

// EmptyLock waits until the queue is empty and returns holding the queue lock, which
// blocks producers and consumers until EmptyUnlock.
func (q *Queue[T]) EmptyLock(timeout time.Duration, cancel syncx.Waitable) (bool, error) {
	deadline := syncx.NewDeadline(timeout)
	for {
		a, err := q.items.Pickup()
		if err != nil {
			return false, err
		}
		if a.Get().len() == 0 {
			q.emptyHold.Store(a)
			return true, nil
		}
		q.empty.Reset()
		if err := a.Drop(); err != nil {
			return false, err
		}

		remaining, ok := deadline.Remaining()
		if !ok {
			return false, nil
		}
		if cancel == nil {
			if q.empty.Wait(remaining) != syncx.WaitSignaled {
				return false, nil
			}
			continue
		}
		if res, idx := syncx.WaitMultiple([]syncx.Waitable{q.empty, cancel}, remaining); res != syncx.WaitSignaled || idx != 0 {
			return false, nil
		}
	}
}

// EmptyUnlock releases the lock taken by a successful EmptyLock
func (q *Queue[T]) EmptyUnlock() error {
	a := q.emptyHold.Swap(nil)
	if a == nil {
		return errors.New(errors.ErrorTypeState, "empty unlock without empty lock").WithComponent(q.name)
	}
	if a.Get().len() != 0 {
		q.empty.Reset()
	}
	return a.Drop()
}

// Close shuts the queue and returns the entries left in it. Blocked consumers wake up
// with a state error. Leftover entries are logged; disposing of them is up to the caller.
func (q *Queue[T]) Close() []T {
	var left []T
	err := q.Locked(func(l *Locked[T]) error {
		if q.closed.Swap(true) {
			return nil
		}
		left = l.r.drain()
		q.size.Store(0)
		return nil
	})
	if err != nil {
		q.logger.Error("close failed", zap.Error(err))
	}
	q.wake.Set()
	if len(left) > 0 {
		q.logger.Warn("queue closed with entries remaining", zap.Int("remaining", len(left)))
	}
	return left
}
