package syncx

import (
	"context"
	"reflect"
	"time"
)

// Infinite makes a wait block until it is satisfied
const Infinite time.Duration = -1

// WaitResult is the outcome of a wait
type WaitResult int

const (
	// WaitSignaled means the waitable was acquired
	WaitSignaled WaitResult = iota
	// WaitTimedOut means the budget expired first
	WaitTimedOut
	// WaitAbandoned means a mutex was acquired whose previous holder died holding it
	WaitAbandoned
	// WaitError means the wait could not be performed
	WaitError
)

func (r WaitResult) String() string {
	switch r {
	case WaitSignaled:
		return "signaled"
	case WaitTimedOut:
		return "timed_out"
	case WaitAbandoned:
		return "abandoned"
	default:
		return "error"
	}
}

// Waitable is anything that can take part in WaitFor and WaitMultiple.
// Receiving from Handle acquires the waitable.
type Waitable interface {
	Handle() <-chan struct{}
}

// abandonable waitables report whether the acquisition just made inherited an abandoned lock
type abandonable interface {
	takeAbandoned() bool
}

type contextWaitable struct {
	ctx context.Context
}

func (c contextWaitable) Handle() <-chan struct{} {
	return c.ctx.Done()
}

// ContextWaitable adapts ctx cancellation into a Waitable usable as a cancel handle
func ContextWaitable(ctx context.Context) Waitable {
	return contextWaitable{ctx: ctx}
}

// Deadline tracks the remaining budget of a timeout across retried waits
type Deadline struct {
	start   time.Time
	timeout time.Duration
}

// NewDeadline starts measuring timeout from now. Negative timeouts are Infinite.
func NewDeadline(timeout time.Duration) Deadline {
	if timeout < 0 {
		return Deadline{timeout: Infinite}
	}
	return Deadline{start: time.Now(), timeout: timeout}
}

// Remaining returns the budget left; ok is false once the elapsed time exceeds the timeout
func (d Deadline) Remaining() (time.Duration, bool) {
	if d.timeout < 0 {
		return Infinite, true
	}
	elapsed := time.Since(d.start)
	if elapsed > d.timeout {
		return 0, false
	}
	return d.timeout - elapsed, true
}

// FromContext derives a timeout and cancel handle from ctx
func FromContext(ctx context.Context) (time.Duration, Waitable) {
	timeout := Infinite
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout < 0 {
			timeout = 0
		}
	}
	return timeout, ContextWaitable(ctx)
}

// WaitFor waits for a single waitable
func WaitFor(w Waitable, timeout time.Duration) WaitResult {
	if w == nil {
		return WaitError
	}
	ch := w.Handle()

	select {
	case <-ch:
		return acquired(w)
	default:
	}

	switch {
	case timeout == 0:
		return WaitTimedOut
	case timeout < 0:
		<-ch
		return acquired(w)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return acquired(w)
	case <-timer.C:
		return WaitTimedOut
	}
}

// WaitMultiple waits until any of ws is acquired or the timeout expires.
// Exactly one waitable is acquired on success; when several are ready the lowest index wins.
// The index is -1 unless the result is WaitSignaled or WaitAbandoned.
func WaitMultiple(ws []Waitable, timeout time.Duration) (WaitResult, int) {
	if len(ws) == 0 {
		return WaitError, -1
	}
	chans := make([]<-chan struct{}, len(ws))
	for i, w := range ws {
		if w == nil {
			return WaitError, -1
		}
		chans[i] = w.Handle()
	}

	for i, ch := range chans {
		select {
		case <-ch:
			return acquired(ws[i]), i
		default:
		}
	}
	if timeout == 0 {
		return WaitTimedOut, -1
	}

	cases := make([]reflect.SelectCase, 0, len(chans)+1)
	for _, ch := range chans {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ch)})
	}
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(timer.C)})
	}

	chosen, _, _ := reflect.Select(cases)
	if chosen == len(chans) {
		return WaitTimedOut, -1
	}
	return acquired(ws[chosen]), chosen
}

// LockWaitable is a lock whose acquisition can be multiplexed with other waitables
type LockWaitable interface {
	Lockable
	Waitable
}

// TimedLock acquires l within timeout unless cancel fires first.
// It reports whether the lock is now held.
func TimedLock(l LockWaitable, timeout time.Duration, cancel Waitable) bool {
	if cancel == nil {
		res := WaitFor(l, timeout)
		return res == WaitSignaled || res == WaitAbandoned
	}
	res, idx := WaitMultiple([]Waitable{l, cancel}, timeout)
	return idx == 0 && (res == WaitSignaled || res == WaitAbandoned)
}

func acquired(w Waitable) WaitResult {
	if a, ok := w.(abandonable); ok && a.takeAbandoned() {
		return WaitAbandoned
	}
	return WaitSignaled
}
