// Package managed provides Ref, a handle that carries its ownership kind explicitly.
//
// An Owned ref is the single owner of its value and runs the release callback when
// released. Shared refs count references and run the callback when the last one goes
// away. Borrowed refs never release anything. Dup follows the kind: shared refs add a
// reference, borrowed refs hand out another borrow and owned refs clone through Cloner.
package managed

import (
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

// Kind is the ownership kind of a Ref
type Kind int

const (
	// Owned refs release their value exactly once, when released
	Owned Kind = iota
	// Shared refs release their value when the last reference is released
	Shared
	// Borrowed refs never release their value
	Borrowed
)

func (k Kind) String() string {
	switch k {
	case Owned:
		return "owned"
	case Shared:
		return "shared"
	default:
		return "borrowed"
	}
}

// Cloner is implemented by values that can produce an independent copy of themselves
type Cloner[T any] interface {
	Clone() T
}

type refState[T any] struct {
	refs    atomic.Int64
	once    sync.Once
	release func(T)
}

// Ref is a handle on a value of type T
type Ref[T any] struct {
	kind     Kind
	val      T
	state    *refState[T]
	released atomic.Bool
}

// Own takes sole ownership of v. release may be nil.
func Own[T any](v T, release func(T)) *Ref[T] {
	st := &refState[T]{release: release}
	st.refs.Store(1)
	return &Ref[T]{kind: Owned, val: v, state: st}
}

// Share starts reference counting v with one reference. release may be nil.
func Share[T any](v T, release func(T)) *Ref[T] {
	st := &refState[T]{release: release}
	st.refs.Store(1)
	return &Ref[T]{kind: Shared, val: v, state: st}
}

// Borrow refers to v without taking ownership
func Borrow[T any](v T) *Ref[T] {
	return &Ref[T]{kind: Borrowed, val: v}
}

// Get returns the referenced value
func (r *Ref[T]) Get() T { return r.val }

// Kind returns the ownership kind
func (r *Ref[T]) Kind() Kind { return r.kind }

// Released reports whether this reference was released
func (r *Ref[T]) Released() bool { return r.released.Load() }

// RefCount returns the live reference count; borrowed refs report 0
func (r *Ref[T]) RefCount() int64 {
	if r.state == nil {
		return 0
	}
	return r.state.refs.Load()
}

// Dup returns another reference of the same kind
func (r *Ref[T]) Dup() (*Ref[T], error) {
	if r.released.Load() {
		return nil, errors.Newf(errors.ErrorTypeState, "dup of released %s reference", r.kind)
	}
	switch r.kind {
	case Shared:
		r.state.refs.Add(1)
		return &Ref[T]{kind: Shared, val: r.val, state: r.state}, nil
	case Borrowed:
		return Borrow(r.val), nil
	}

	c, ok := any(r.val).(Cloner[T])
	if !ok {
		return nil, errors.New(errors.ErrorTypeState, "owned value is neither shareable nor cloneable")
	}
	return Own(c.Clone(), r.state.release), nil
}

// Release drops this reference. Further calls are no-ops.
func (r *Ref[T]) Release() {
	if r.kind == Borrowed || !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.state.refs.Add(-1) > 0 {
		return
	}
	r.state.once.Do(func() {
		if r.state.release != nil {
			r.state.release(r.val)
		}
	})
}
