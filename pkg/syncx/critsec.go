package syncx

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

// DefaultSpinCount is the number of lock attempts a CriticalSection makes before blocking
const DefaultSpinCount = 5120

// spinYieldEvery is how many failed attempts pass between yields to the scheduler, so a
// holder sharing the spinner's processor gets to run
const spinYieldEvery = 16

// CriticalSection is an in-process exclusive lock that spins before blocking.
// It is not waitable.
type CriticalSection struct {
	mu     sync.Mutex
	held   atomic.Bool
	spin   int
	errTag string
}

// NewCriticalSection creates a critical section; a negative spinCount selects DefaultSpinCount
func NewCriticalSection(spinCount int) *CriticalSection {
	if spinCount < 0 {
		spinCount = DefaultSpinCount
	}
	return &CriticalSection{spin: spinCount, errTag: "critical_section"}
}

// Lock acquires the critical section
func (c *CriticalSection) Lock() error {
	for i := 1; i <= c.spin; i++ {
		if c.mu.TryLock() {
			c.held.Store(true)
			return nil
		}
		if i%spinYieldEvery == 0 {
			runtime.Gosched()
		}
	}
	c.mu.Lock()
	c.held.Store(true)
	return nil
}

// TryLock acquires the critical section if it is free
func (c *CriticalSection) TryLock() bool {
	if !c.mu.TryLock() {
		return false
	}
	c.held.Store(true)
	return true
}

// Unlock releases the critical section
func (c *CriticalSection) Unlock() error {
	if !c.held.CompareAndSwap(true, false) {
		return errors.New(errors.ErrorTypeSystem, "unlock of unlocked critical section").WithComponent(c.errTag)
	}
	c.mu.Unlock()
	return nil
}
