package syncx

import (
	"sync"
	"time"
)

// Event is a manual-reset or auto-reset signal.
//
// A manual-reset event keeps a channel that is closed while the event is set, so every
// waiter observes it. An auto-reset event keeps a single buffered token that exactly one
// waiter consumes.
type Event struct {
	name   string
	manual bool

	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// NewEvent creates an event in the given initial state
func NewEvent(name string, manualReset, initial bool) *Event {
	e := &Event{name: name, manual: manualReset}
	if manualReset {
		e.ch = make(chan struct{})
		if initial {
			close(e.ch)
			e.set = true
		}
		return e
	}
	e.ch = make(chan struct{}, 1)
	if initial {
		e.ch <- struct{}{}
	}
	return e
}

// Name returns the diagnostic name
func (e *Event) Name() string { return e.name }

// ManualReset reports the reset mode
func (e *Event) ManualReset() bool { return e.manual }

// Handle implements Waitable
func (e *Event) Handle() <-chan struct{} {
	if !e.manual {
		return e.ch
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// Set signals the event
func (e *Event) Set() {
	if !e.manual {
		select {
		case e.ch <- struct{}{}:
		default:
		}
		return
	}
	e.mu.Lock()
	if !e.set {
		close(e.ch)
		e.set = true
	}
	e.mu.Unlock()
}

// Reset clears the event
func (e *Event) Reset() {
	if !e.manual {
		select {
		case <-e.ch:
		default:
		}
		return
	}
	e.mu.Lock()
	if e.set {
		e.ch = make(chan struct{})
		e.set = false
	}
	e.mu.Unlock()
}

// Pulse releases the goroutines currently waiting and leaves the event reset.
// For an auto-reset event at most one waiter is released.
func (e *Event) Pulse() {
	if !e.manual {
		// A parked receiver takes the token directly from the send.
		select {
		case e.ch <- struct{}{}:
		default:
		}
		select {
		case <-e.ch:
		default:
		}
		return
	}
	e.mu.Lock()
	if !e.set {
		close(e.ch)
	}
	e.ch = make(chan struct{})
	e.set = false
	e.mu.Unlock()
}

// IsSet reports whether the event is currently signaled
func (e *Event) IsSet() bool {
	if !e.manual {
		return len(e.ch) == 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is signaled or timeout expires
func (e *Event) Wait(timeout time.Duration) WaitResult {
	return WaitFor(e, timeout)
}
