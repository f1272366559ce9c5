package pool

import (
	"fmt"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

// Allocator creates and destroys the values held by pool entries
type Allocator[T any] interface {
	Create() T
	Destroy(v T)
}

// SimpleAllocator allocates a zero E per entry and leaves destruction to the GC
type SimpleAllocator[E any] struct{}

// Create returns a new zero E
func (SimpleAllocator[E]) Create() *E { return new(E) }

// Destroy does nothing
func (SimpleAllocator[E]) Destroy(*E) {}

// FuncAllocator adapts a pair of functions. A nil DestroyFunc is a no-op.
type FuncAllocator[T any] struct {
	CreateFunc  func() T
	DestroyFunc func(T)
}

// NewFuncAllocator builds a FuncAllocator
func NewFuncAllocator[T any](create func() T, destroy func(T)) *FuncAllocator[T] {
	return &FuncAllocator[T]{CreateFunc: create, DestroyFunc: destroy}
}

// Create calls CreateFunc
func (a *FuncAllocator[T]) Create() T { return a.CreateFunc() }

// Destroy calls DestroyFunc
func (a *FuncAllocator[T]) Destroy(v T) {
	if a.DestroyFunc != nil {
		a.DestroyFunc(v)
	}
}

// DummyAllocator is for values managed elsewhere. It never destroys anything and
// panics if asked to create, so a pool using it must get a real allocator through
// SetAllocator before it can grow.
type DummyAllocator[T any] struct{}

// Create panics with a state error
func (DummyAllocator[T]) Create() T {
	panic(errors.New(errors.ErrorTypeState, "dummy allocator cannot create values"))
}

// Destroy does nothing
func (DummyAllocator[T]) Destroy(T) {}

// create runs alloc.Create, turning a panic into an error
func create[T any](alloc Allocator[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = errors.Wrap(e, errors.ErrorTypeInternal, "allocator create failed")
				return
			}
			err = errors.Newf(errors.ErrorTypeInternal, "allocator create failed: %v", r)
		}
	}()
	return alloc.Create(), nil
}

func describeAllocator(a any) string {
	return fmt.Sprintf("%T", a)
}
