package syncx

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
)

// Mutex is an exclusive lock that can be waited on together with other waitables.
//
// It does not track the owning goroutine. A holder that dies can hand the lock over with
// MarkAbandoned; the next acquirer still gets the lock, with a WaitAbandoned result and a
// logged warning.
type Mutex struct {
	name      string
	token     chan struct{}
	abandoned atomic.Bool
	logger    *zap.Logger
}

// MutexOption configures a Mutex
type MutexOption func(*Mutex)

// WithMutexLogger sets the logger used for abandonment warnings
func WithMutexLogger(l *zap.Logger) MutexOption {
	return func(m *Mutex) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMutex creates an unlocked mutex
func NewMutex(name string, opts ...MutexOption) *Mutex {
	m := &Mutex{
		name:  name,
		token: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.ForComponent(nil, "mutex", name)
	}
	m.token <- struct{}{}
	return m
}

// Name returns the diagnostic name
func (m *Mutex) Name() string { return m.name }

// Handle implements Waitable; receiving the token locks the mutex
func (m *Mutex) Handle() <-chan struct{} {
	return m.token
}

// Wait locks the mutex within timeout
func (m *Mutex) Wait(timeout time.Duration) WaitResult {
	return WaitFor(m, timeout)
}

// Lock blocks until the mutex is held. An abandoned mutex is still acquired.
func (m *Mutex) Lock() error {
	<-m.token
	m.takeAbandoned()
	return nil
}

// TryLock locks the mutex if it is free
func (m *Mutex) TryLock() bool {
	select {
	case <-m.token:
		m.takeAbandoned()
		return true
	default:
		return false
	}
}

// Unlock releases the mutex
func (m *Mutex) Unlock() error {
	select {
	case m.token <- struct{}{}:
		return nil
	default:
		return errors.New(errors.ErrorTypeSystem, "unlock of unlocked mutex").WithComponent(m.name)
	}
}

// MarkAbandoned releases the mutex on behalf of a holder that terminated without unlocking
func (m *Mutex) MarkAbandoned() error {
	m.abandoned.Store(true)
	if err := m.Unlock(); err != nil {
		m.abandoned.Store(false)
		return err
	}
	return nil
}

func (m *Mutex) takeAbandoned() bool {
	if !m.abandoned.CompareAndSwap(true, false) {
		return false
	}
	m.logger.Warn("acquired abandoned mutex")
	return true
}
