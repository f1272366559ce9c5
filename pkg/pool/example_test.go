package pool_test

import (
	"bytes"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Example shows acquiring and releasing a pooled buffer.
func Example() {
	p, err := pool.New[*bytes.Buffer](pool.Config{Name: "example.buffers", Limit: 128, AllocBlock: 16},
		pool.NewFuncAllocator(
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b *bytes.Buffer) { b.Reset() },
		),
		pool.WithLogger[*bytes.Buffer](zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer p.Close()

	e, err := p.Acquire(time.Second, nil)
	if err != nil || e == nil {
		fmt.Println("no buffer")
		return
	}
	e.Value().WriteString("hello")
	fmt.Println(e.Value().String())
	_ = e.Release()

	fmt.Println("capacity:", p.Capacity())

	// Output:
	// hello
	// capacity: 16
}

// ExamplePool_Acquire shows that running out of time is not an error.
func ExamplePool_Acquire() {
	p, err := pool.New[*int](pool.Config{Name: "example.limited", Limit: 20, AllocBlock: 4},
		pool.SimpleAllocator[int]{}, pool.WithLogger[*int](zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer p.Close()

	var held []*pool.Entry[*int]
	for {
		e, err := p.Acquire(0, nil)
		if err != nil {
			fmt.Println(err)
			return
		}
		if e == nil {
			break
		}
		held = append(held, e)
	}
	fmt.Println("checked out:", len(held))

	for _, e := range held {
		_ = e.Release()
	}

	// Output:
	// checked out: 20
}

// ExamplePool_ObjectReturnLock shows the drain barrier used before reconfiguration.
func ExamplePool_ObjectReturnLock() {
	p, err := pool.New[*int](pool.Config{Name: "example.drain", AllocBlock: 8}, pool.SimpleAllocator[int]{},
		pool.WithLogger[*int](zap.NewNop()))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer p.Close()

	e, _ := p.Acquire(syncx.Infinite, nil)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = e.Release()
	}()

	ok, err := p.ObjectReturnLock(time.Second, nil)
	fmt.Println("drained:", ok, err)
	_ = p.ObjectReturnUnlock()

	// Output:
	// drained: true <nil>
}
