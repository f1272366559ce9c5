package pool

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/managed"
	"github.com/ajitpratap0/syncpool/pkg/metrics"
	"github.com/ajitpratap0/syncpool/pkg/observability"
	"github.com/ajitpratap0/syncpool/pkg/syncqueue"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Unbounded disables the allocation limit
const Unbounded = -1

// DefaultAllocBlock is the growth granularity used when Config.AllocBlock is zero
const DefaultAllocBlock = 256

// Config describes the sizing of a pool
type Config struct {
	Name string
	// Limit caps the number of allocated entries. Zero or Unbounded means no cap.
	Limit int
	// AllocBlock is the number of entries created per growth step
	AllocBlock int
}

// Entry is one pooled value. It is checked out to at most one caller at a time.
type Entry[T any] struct {
	pool *Pool[T]
	val  T
	out  atomic.Bool
}

// Value returns the pooled value
func (e *Entry[T]) Value() T { return e.val }

// Replace swaps in v and destroys the previous value with the current allocator.
// Only a checked-out entry can be replaced; on any other entry Replace logs a warning and
// leaves v with the caller. A checked-out entry keeps the allocator alive after Close.
func (e *Entry[T]) Replace(v T) {
	if !e.out.Load() {
		e.pool.logger.Warn("replace of entry not checked out")
		return
	}
	old := e.val
	e.val = v
	e.pool.destroy(old)
}

// Release returns the entry to its pool
func (e *Entry[T]) Release() error { return e.pool.Release(e) }

// Pool is a bounded, self-resizing pool of entries.
//
// Acquire grows the pool by AllocBlock entries when no more than AllocBlock/4 are
// queued, up to Limit. Release shrinks it by AllocBlock/4 entries when at least
// AllocBlock+AllocBlock/4 are queued. Acquisitions are serialized with each other and
// with the drain barrier, but not with Release.
type Pool[T any] struct {
	name     string
	limit    int64
	block    int
	sentinel int

	queue       *syncqueue.Queue[*Entry[T]]
	acquireLock *syncx.Mutex
	objReturn   *syncx.Event
	// set while ObjectReturnLock holds acquireLock
	drainHeld atomic.Bool

	allocated atomic.Int64
	growLimit atomic.Bool
	closed    atomic.Bool

	alloc     atomic.Pointer[managed.Ref[Allocator[T]]]
	allocOnce sync.Once

	logger  *zap.Logger
	metrics *metrics.PoolCollector
	tracer  *observability.ComponentTracer
}

// Option configures a Pool
type Option[T any] func(*options[T])

type options[T any] struct {
	logger    *zap.Logger
	metrics   *metrics.PoolCollector
	allocator *managed.Ref[Allocator[T]]
}

// WithLogger sets the logger
func WithLogger[T any](l *zap.Logger) Option[T] {
	return func(o *options[T]) { o.logger = l }
}

// WithMetrics replaces the collector registered under the pool name
func WithMetrics[T any](c *metrics.PoolCollector) Option[T] {
	return func(o *options[T]) { o.metrics = c }
}

// WithSharedAllocator makes the pool use ref instead of owning the allocator passed to
// New. The pool releases its reference on Close or when the allocator is replaced.
func WithSharedAllocator[T any](ref *managed.Ref[Allocator[T]]) Option[T] {
	return func(o *options[T]) { o.allocator = ref }
}

// New validates cfg, creates the pool and populates its first block.
// alloc may be nil when WithSharedAllocator is given.
func New[T any](cfg Config, alloc Allocator[T], opts ...Option[T]) (*Pool[T], error) {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}
	log := logger.ForComponent(o.logger, "pool", cfg.Name)

	if cfg.AllocBlock == 0 {
		cfg.AllocBlock = DefaultAllocBlock
	}
	if cfg.Limit == 0 {
		cfg.Limit = Unbounded
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	ref := o.allocator
	if ref == nil {
		if alloc == nil {
			return nil, errors.New(errors.ErrorTypeValidation, "allocator is required").WithComponent(cfg.Name)
		}
		ref = ownAllocator(alloc)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewPoolCollector(cfg.Name)
	}

	p := &Pool[T]{
		name:        cfg.Name,
		limit:       int64(cfg.Limit),
		block:       cfg.AllocBlock,
		sentinel:    cfg.AllocBlock / 4,
		queue:       syncqueue.New[*Entry[T]](cfg.Name, syncqueue.WithLogger(log)),
		acquireLock: syncx.NewMutex(cfg.Name+".acquire", syncx.WithMutexLogger(log)),
		objReturn:   syncx.NewEvent(cfg.Name+".returned", true, false),
		logger:      log,
		metrics:     o.metrics,
		tracer:      observability.NewComponentTracer("pool", cfg.Name),
	}
	p.alloc.Store(ref)

	if err := p.checkGrow(); err != nil {
		ref.Release()
		return nil, err
	}
	return p, nil
}

// ownAllocator takes ownership of alloc, closing it on release if it is an io.Closer
func ownAllocator[T any](alloc Allocator[T]) *managed.Ref[Allocator[T]] {
	return managed.Own(alloc, func(a Allocator[T]) {
		if c, ok := a.(io.Closer); ok {
			_ = c.Close()
		}
	})
}

// Name returns the diagnostic name
func (p *Pool[T]) Name() string { return p.name }

// Capacity returns the number of allocated entries, queued or checked out
func (p *Pool[T]) Capacity() int { return int(p.allocated.Load()) }

// Len returns the number of queued entries
func (p *Pool[T]) Len() int { return p.queue.Len() }

// Stats is a point-in-time view of a pool
type Stats struct {
	Name       string `json:"name"`
	Allocated  int    `json:"allocated"`
	Queued     int    `json:"queued"`
	CheckedOut int    `json:"checked_out"`
	GrowLimit  bool   `json:"grow_limit"`
	Limit      int    `json:"limit"`
	AllocBlock int    `json:"alloc_block"`
}

// Stats reads allocated and queued under the queue lock so they are consistent
func (p *Pool[T]) Stats() (Stats, error) {
	s := Stats{Name: p.name, Limit: int(p.limit), AllocBlock: p.block}
	err := p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		s.Allocated = int(p.allocated.Load())
		s.Queued = l.Len()
		return nil
	})
	s.CheckedOut = s.Allocated - s.Queued
	s.GrowLimit = p.growLimit.Load()
	return s, err
}

func (p *Pool[T]) bounded() bool { return p.limit != Unbounded }

func (p *Pool[T]) allocator() Allocator[T] { return p.alloc.Load().Get() }

func (p *Pool[T]) destroy(v T) { p.allocator().Destroy(v) }

// Acquire checks out an entry, waiting up to timeout for one to be released.
// It returns a nil entry and no error when the timeout expires or cancel fires first.
func (p *Pool[T]) Acquire(timeout time.Duration, cancel syncx.Waitable) (*Entry[T], error) {
	if p.closed.Load() {
		return nil, p.closedErr()
	}
	start := time.Now()
	deadline := syncx.NewDeadline(timeout)

	if !syncx.TimedLock(p.acquireLock, timeout, cancel) {
		p.metrics.TimedOut(time.Since(start))
		return nil, nil
	}
	defer p.unlockAcquire()

	// Close may have run while this call waited for the acquisition lock
	if p.closed.Load() {
		return nil, p.closedErr()
	}
	if err := p.checkGrow(); err != nil {
		return nil, err
	}

	remaining, ok := deadline.Remaining()
	if !ok {
		remaining = 0
	}
	e, ok, err := p.queue.Dequeue(remaining, cancel)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "acquire failed").WithComponent(p.name)
	}
	if !ok {
		p.metrics.TimedOut(time.Since(start))
		return nil, nil
	}
	e.out.Store(true)
	p.metrics.Acquired(time.Since(start))
	return e, nil
}

// AcquireContext checks out an entry, waiting until ctx is done
func (p *Pool[T]) AcquireContext(ctx context.Context) (*Entry[T], error) {
	timeout, cancel := syncx.FromContext(ctx)
	e, err := p.Acquire(timeout, cancel)
	if err != nil || e != nil {
		return e, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "acquire abandoned").WithComponent(p.name)
	}
	return nil, errors.New(errors.ErrorTypeTimeout, "acquire deadline exceeded").WithComponent(p.name)
}

func (p *Pool[T]) unlockAcquire() {
	if err := p.acquireLock.Unlock(); err != nil {
		p.logger.Error("failed to release acquisition lock", zap.Error(err))
	}
}

// Release returns e to the pool. Releasing an entry that is not checked out logs a
// warning and does nothing.
func (p *Pool[T]) Release(e *Entry[T]) error {
	if e == nil {
		return errors.New(errors.ErrorTypeValidation, "release of nil entry").WithComponent(p.name)
	}
	if e.pool != p {
		return errors.New(errors.ErrorTypeValidation, "entry belongs to another pool").WithComponent(p.name)
	}
	if !e.out.CompareAndSwap(true, false) {
		p.logger.Warn("entry released twice")
		return nil
	}
	p.metrics.Released()

	var n int
	err := p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		// Close drains under this lock, so an entry enqueued before it is seen there
		if p.closed.Load() {
			p.destroyAfterClose(e)
			return nil
		}
		n = l.Enqueue(e)
		if int64(n) == p.allocated.Load() {
			p.objReturn.Set()
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSystem, "release failed").WithComponent(p.name)
	}
	if n == 0 {
		return nil
	}
	return p.checkShrink(n)
}

// checkGrow adds up to one block of entries when the queue is at or below the sentinel
func (p *Pool[T]) checkGrow() error {
	if p.growLimit.Load() {
		return nil
	}
	if p.queue.Len() > p.sentinel {
		return nil
	}

	return p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		// Close drains under this lock and may have released the allocator
		if p.closed.Load() {
			return p.closedErr()
		}
		allocated := p.allocated.Load()
		if p.bounded() && allocated >= p.limit {
			p.growLimit.Store(true)
			p.logger.Debug("allocation limit reached", zap.Int64("allocated", allocated))
			return nil
		}
		if l.Len() > p.sentinel {
			return nil
		}

		n := int64(p.block)
		if p.bounded() && allocated+n > p.limit {
			n = p.limit - allocated
		}
		alloc := p.allocator()
		for i := int64(0); i < n; i++ {
			v, err := create(alloc)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "grow failed").WithComponent(p.name)
			}
			l.Enqueue(&Entry[T]{pool: p, val: v})
			p.allocated.Add(1)
		}
		p.metrics.Grew()
		p.metrics.SetLevels(int(p.allocated.Load()), l.Len())
		p.logger.Debug("pool grew",
			zap.Int64("added", n),
			zap.Int64("allocated", p.allocated.Load()),
			zap.Int("queued", l.Len()))
		return nil
	})
}

// checkShrink destroys one sentinel's worth of entries when too many are queued
func (p *Pool[T]) checkShrink(n int) error {
	threshold := p.block + p.sentinel
	if n < threshold {
		return nil
	}

	return p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		if l.Len() < threshold {
			return nil
		}
		p.growLimit.Store(false)
		for i := 0; i < p.sentinel; i++ {
			e, ok := l.TryDequeue()
			if !ok {
				break
			}
			p.destroy(e.val)
			p.allocated.Add(-1)
		}
		l.Compact()
		p.metrics.Shrank()
		p.metrics.SetLevels(int(p.allocated.Load()), l.Len())
		p.logger.Debug("pool shrank",
			zap.Int("removed", p.sentinel),
			zap.Int64("allocated", p.allocated.Load()),
			zap.Int("queued", l.Len()))
		return nil
	})
}

// ObjectReturnLock waits until every entry is back in the pool and returns holding the
// acquisition lock, which blocks Acquire until ObjectReturnUnlock. It reports false when
// the timeout expires or cancel fires first.
func (p *Pool[T]) ObjectReturnLock(timeout time.Duration, cancel syncx.Waitable) (bool, error) {
	deadline := syncx.NewDeadline(timeout)
	remaining := timeout
	for {
		if !syncx.TimedLock(p.acquireLock, remaining, cancel) {
			return false, nil
		}

		var drained bool
		err := p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
			drained = int64(l.Len()) == p.allocated.Load()
			if !drained {
				p.objReturn.Reset()
			}
			return nil
		})
		if err != nil {
			p.unlockAcquire()
			return false, errors.Wrap(err, errors.ErrorTypeSystem, "drain failed").WithComponent(p.name)
		}
		if drained {
			p.drainHeld.Store(true)
			return true, nil
		}
		p.unlockAcquire()

		var ok bool
		if remaining, ok = deadline.Remaining(); !ok {
			return false, nil
		}
		if cancel == nil {
			if p.objReturn.Wait(remaining) != syncx.WaitSignaled {
				return false, nil
			}
		} else if res, idx := syncx.WaitMultiple([]syncx.Waitable{p.objReturn, cancel}, remaining); res != syncx.WaitSignaled || idx != 0 {
			return false, nil
		}
		if remaining, ok = deadline.Remaining(); !ok {
			remaining = 0
		}
	}
}

// ObjectReturnLockContext is ObjectReturnLock bounded by ctx
func (p *Pool[T]) ObjectReturnLockContext(ctx context.Context) error {
	timeout, cancel := syncx.FromContext(ctx)
	ok, err := p.ObjectReturnLock(timeout, cancel)
	if err != nil || ok {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "drain abandoned").WithComponent(p.name)
	}
	return errors.New(errors.ErrorTypeTimeout, "drain deadline exceeded").WithComponent(p.name)
}

// ObjectReturnUnlock releases the lock taken by a successful ObjectReturnLock
func (p *Pool[T]) ObjectReturnUnlock() error {
	if !p.drainHeld.CompareAndSwap(true, false) {
		return errors.New(errors.ErrorTypeState, "object return unlock without lock").WithComponent(p.name)
	}
	return p.acquireLock.Unlock()
}

// SetAllocator drains the pool, rebuilds every queued entry with alloc and takes
// ownership of it. The previous allocator reference is released. It reports false,
// leaving the pool untouched, if the drain does not complete in time.
func (p *Pool[T]) SetAllocator(alloc Allocator[T], timeout time.Duration, cancel syncx.Waitable) (bool, error) {
	if alloc == nil {
		return false, errors.New(errors.ErrorTypeValidation, "allocator is required").WithComponent(p.name)
	}
	ref := ownAllocator(alloc)
	ok, err := p.SetAllocatorRef(ref, timeout, cancel)
	if !ok {
		ref.Release()
	}
	return ok, err
}

// SetAllocatorRef is SetAllocator with an explicitly managed reference
func (p *Pool[T]) SetAllocatorRef(ref *managed.Ref[Allocator[T]], timeout time.Duration, cancel syncx.Waitable) (bool, error) {
	if p.closed.Load() {
		return false, p.closedErr()
	}
	ok, err := p.ObjectReturnLock(timeout, cancel)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		if err := p.ObjectReturnUnlock(); err != nil {
			p.logger.Error("failed to release drain lock", zap.Error(err))
		}
	}()

	var destroyed int
	err = p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		for {
			e, ok := l.TryDequeue()
			if !ok {
				break
			}
			p.destroy(e.val)
			p.allocated.Add(-1)
			destroyed++
		}
		l.Compact()
		p.growLimit.Store(false)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeSystem, "allocator swap failed").WithComponent(p.name)
	}

	old := p.alloc.Swap(ref)
	old.Release()
	p.logger.Info("allocator replaced",
		zap.String("allocator", describeAllocator(ref.Get())),
		zap.Int("destroyed", destroyed))

	if err := p.checkGrow(); err != nil {
		return true, err
	}
	return true, nil
}

// SetAllocatorContext is SetAllocator bounded by ctx and traced as a span
func (p *Pool[T]) SetAllocatorContext(ctx context.Context, alloc Allocator[T]) error {
	return p.tracer.Trace(ctx, "set_allocator", func(ctx context.Context) error {
		timeout, cancel := syncx.FromContext(ctx)
		ok, err := p.SetAllocator(alloc, timeout, cancel)
		if err != nil || ok {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Wrap(ctxErr, errors.ErrorTypeTimeout, "allocator swap abandoned").WithComponent(p.name)
		}
		return errors.New(errors.ErrorTypeTimeout, "allocator swap deadline exceeded").WithComponent(p.name)
	})
}

// Close destroys the queued entries. Entries still checked out are destroyed when they
// are released, and the allocator is released once the last of them is gone.
func (p *Pool[T]) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	err := p.queue.Locked(func(l *syncqueue.Locked[*Entry[T]]) error {
		if allocated := p.allocated.Load(); int64(l.Len()) != allocated {
			p.logger.Warn("pool closed with entries checked out",
				zap.Int64("allocated", allocated),
				zap.Int("queued", l.Len()))
		}
		for {
			e, ok := l.TryDequeue()
			if !ok {
				break
			}
			p.destroy(e.val)
			p.allocated.Add(-1)
		}
		l.Compact()
		return nil
	})
	p.queue.Close()
	p.metrics.SetLevels(int(p.allocated.Load()), 0)
	if p.allocated.Load() == 0 {
		p.releaseAllocator()
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSystem, "close failed").WithComponent(p.name)
	}
	return nil
}

func (p *Pool[T]) destroyAfterClose(e *Entry[T]) {
	p.destroy(e.val)
	if p.allocated.Add(-1) == 0 {
		p.releaseAllocator()
	}
}

func (p *Pool[T]) releaseAllocator() {
	p.allocOnce.Do(func() {
		p.alloc.Load().Release()
	})
}

func (p *Pool[T]) closedErr() error {
	return errors.New(errors.ErrorTypeState, "pool closed").WithComponent(p.name)
}
