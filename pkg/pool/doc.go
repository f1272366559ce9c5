// Package pool implements a bounded, self-resizing pool of reusable values.
//
// Architecture
//
// A Pool keeps its idle entries in a syncqueue.Queue and counts every entry it has
// allocated. Sizing is driven by two numbers from Config:
//
//   - AllocBlock: how many entries a growth step creates
//   - Limit: the most entries that may exist at once (Unbounded by default)
//
// The sentinel, AllocBlock/4, is the low-water mark. Acquire grows the pool by one block
// when the queue holds sentinel entries or fewer, and Release shrinks it by sentinel
// entries once AllocBlock+sentinel are idle. Both checks read the length without a lock
// first and re-check under the queue lock before acting.
//
// Blocking
//
// Acquire waits for an entry with a timeout (syncx.Infinite to wait forever) and an
// optional cancel waitable. Running out of time is not an error: Acquire returns a nil
// entry. The Context variants turn that outcome into a timeout error instead.
//
// Usage Patterns
//
// Basic pool usage:
//
//	p, err := pool.New[*bytes.Buffer](pool.Config{Name: "buffers", Limit: 1024, AllocBlock: 64},
//		pool.NewFuncAllocator(
//			func() *bytes.Buffer { return new(bytes.Buffer) },
//			nil,
//		))
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	e, err := p.Acquire(time.Second, nil)
//	if err != nil || e == nil {
//		return err
//	}
//	defer e.Release()
//	buf := e.Value()
//
// Reconfiguration
//
// ObjectReturnLock is a drain barrier: it waits until every entry is back in the queue
// and keeps Acquire out until ObjectReturnUnlock. SetAllocator uses it to rebuild the
// idle entries with a new allocator while no entry is checked out.
package pool
