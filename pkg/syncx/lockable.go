// Package syncx provides the blocking synchronization primitives the pool and queue are
// built from: a lockable capability with a scoped guard, counting semaphores, waitable
// mutexes, manual and auto-reset events, spinning critical sections and a wait-any
// multiplexer with timeouts.
//
// Waitable primitives expose a receive-only channel as their wait handle. Receiving from
// the handle is the acquisition, so handles can be shared freely and combined with
// WaitMultiple alongside external cancellation signals such as ContextWaitable.
package syncx

// Lockable is the lock/try-lock/unlock capability.
//
// Unlock must be called exactly once per successful Lock or TryLock.
type Lockable interface {
	Lock() error
	TryLock() bool
	Unlock() error
}

// Guard is a scoped acquisition of a Lockable. Release it with defer.
type Guard struct {
	l      Lockable
	locked bool
}

// Acquire blocks until l is locked and returns a guard owning the lock
func Acquire(l Lockable) (*Guard, error) {
	if err := l.Lock(); err != nil {
		return nil, err
	}
	return &Guard{l: l, locked: true}, nil
}

// TryAcquire attempts an immediate lock. The returned guard reports the outcome via Locked.
func TryAcquire(l Lockable) *Guard {
	return &Guard{l: l, locked: l.TryLock()}
}

// Locked reports whether the guard currently owns the lock
func (g *Guard) Locked() bool {
	return g != nil && g.locked
}

// Release unlocks if the guard still owns the lock. Safe to call more than once.
func (g *Guard) Release() error {
	if g == nil || !g.locked {
		return nil
	}
	g.locked = false
	return g.l.Unlock()
}

// Detach moves ownership out of the guard: the lock stays held and the caller becomes
// responsible for unlocking it. Returns nil when the guard owns nothing.
func (g *Guard) Detach() Lockable {
	if g == nil || !g.locked {
		return nil
	}
	g.locked = false
	return g.l
}

// Synchronized runs fn while holding l
func Synchronized(l Lockable, fn func() error) (err error) {
	g, err := Acquire(l)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := g.Release(); err == nil {
			err = uerr
		}
	}()
	return fn()
}
