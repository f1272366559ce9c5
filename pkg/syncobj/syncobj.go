// Package syncobj provides SyncObj, a value guarded by its own lock.
//
// Every read and write of the wrapped value happens while the lock is held. Access goes
// through a scoped Accessor (Pickup/Drop) or through the one-shot helpers built on it.
package syncobj

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// SyncObj exclusively owns a value of type T and the lock serializing access to it
type SyncObj[T any] struct {
	name   string
	lock   syncx.Lockable
	val    T
	logger *zap.Logger
}

// Option configures a SyncObj
type Option func(*options)

type options struct {
	name   string
	lock   syncx.Lockable
	logger *zap.Logger
}

// WithName sets the diagnostic name used in errors and logs
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLock replaces the default critical section with another lockable
func WithLock(l syncx.Lockable) Option {
	return func(o *options) { o.lock = l }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New wraps v
func New[T any](v T, opts ...Option) *SyncObj[T] {
	o := options{name: "syncobj"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lock == nil {
		o.lock = syncx.NewCriticalSection(syncx.DefaultSpinCount)
	}
	if o.logger == nil {
		o.logger = logger.ForComponent(nil, "syncobj", o.name)
	}
	return &SyncObj[T]{
		name:   o.name,
		lock:   o.lock,
		val:    v,
		logger: o.logger,
	}
}

// Name returns the diagnostic name
func (s *SyncObj[T]) Name() string { return s.name }

// Accessor is exclusive access to the value of a SyncObj until Drop
type Accessor[T any] struct {
	obj     *SyncObj[T]
	dropped bool
}

// Get returns a pointer to the guarded value, valid until Drop
func (a *Accessor[T]) Get() *T {
	return &a.obj.val
}

// Value returns a copy of the guarded value
func (a *Accessor[T]) Value() T {
	return a.obj.val
}

// Set replaces the guarded value
func (a *Accessor[T]) Set(v T) {
	a.obj.val = v
}

// Drop releases the lock. Safe to call more than once.
func (a *Accessor[T]) Drop() error {
	if a == nil || a.dropped {
		return nil
	}
	a.dropped = true
	if err := a.obj.lock.Unlock(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSystem, "unlock failed").WithComponent(a.obj.name)
	}
	return nil
}

// Pickup locks the object and returns an accessor; Drop it when done
func (s *SyncObj[T]) Pickup() (*Accessor[T], error) {
	if err := s.lock.Lock(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSystem, "lock failed").WithComponent(s.name)
	}
	return &Accessor[T]{obj: s}, nil
}

// TryPickup returns an accessor only if the lock is immediately available, nil otherwise
func (s *SyncObj[T]) TryPickup() *Accessor[T] {
	if !s.lock.TryLock() {
		return nil
	}
	return &Accessor[T]{obj: s}
}

// Do runs fn with exclusive access to the value
func (s *SyncObj[T]) Do(fn func(v *T)) (err error) {
	a, err := s.Pickup()
	if err != nil {
		return err
	}
	defer func() {
		if derr := a.Drop(); err == nil {
			err = derr
		}
	}()
	fn(a.Get())
	return nil
}

// Assign replaces the value and returns it
func (s *SyncObj[T]) Assign(v T) (T, error) {
	err := s.Do(func(cur *T) { *cur = v })
	return v, err
}

// Snapshot copies the current value into out
func (s *SyncObj[T]) Snapshot(out *T) error {
	return s.Do(func(cur *T) { *out = *cur })
}

// Load returns a copy of the current value
func (s *SyncObj[T]) Load() (T, error) {
	var out T
	err := s.Snapshot(&out)
	return out, err
}

// CompareAndSwap swaps the value with *desired if it equals expected.
// On failure *desired receives the current value.
func CompareAndSwap[T comparable](s *SyncObj[T], expected T, desired *T) (bool, error) {
	return CompareAndSwapFunc(s, expected, desired, func(a, b T) bool { return a == b })
}

// CompareAndSwapFunc is CompareAndSwap with a caller supplied equality
func CompareAndSwapFunc[T any](s *SyncObj[T], expected T, desired *T, eq func(a, b T) bool) (bool, error) {
	var swapped bool
	err := s.Do(func(cur *T) {
		if eq(*cur, expected) {
			*cur, *desired = *desired, *cur
			swapped = true
			return
		}
		*desired = *cur
	})
	return swapped, err
}

// CopyFrom replaces the value with a copy of src's, holding both locks (source first)
func (s *SyncObj[T]) CopyFrom(src *SyncObj[T]) error {
	return s.transfer(src, false)
}

// MoveFrom moves src's value into s and leaves src holding the zero value
func (s *SyncObj[T]) MoveFrom(src *SyncObj[T]) error {
	return s.transfer(src, true)
}

func (s *SyncObj[T]) transfer(src *SyncObj[T], move bool) (err error) {
	if src == s {
		return nil
	}
	from, err := src.Pickup()
	if err != nil {
		return err
	}
	defer func() {
		if derr := from.Drop(); err == nil {
			err = derr
		}
	}()
	to, err := s.Pickup()
	if err != nil {
		return err
	}
	defer func() {
		if derr := to.Drop(); err == nil {
			err = derr
		}
	}()

	to.Set(from.Value())
	if move {
		var zero T
		from.Set(zero)
	}
	s.logger.Debug("value transferred", zap.String("source", src.name), zap.Bool("move", move))
	return nil
}
