package syncx

import (
	"sync"
	"time"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

// Semaphore is a counting semaphore bounded by a maximum count
type Semaphore struct {
	name   string
	max    int
	mu     sync.Mutex
	tokens chan struct{}
}

// NewSemaphore creates a semaphore holding initial permits out of max
func NewSemaphore(name string, initial, max int) (*Semaphore, error) {
	if max <= 0 || initial < 0 || initial > max {
		return nil, errors.Newf(errors.ErrorTypeConfig, "invalid semaphore counts (initial %d, max %d)", initial, max).
			WithComponent(name)
	}
	s := &Semaphore{
		name:   name,
		max:    max,
		tokens: make(chan struct{}, max),
	}
	for i := 0; i < initial; i++ {
		s.tokens <- struct{}{}
	}
	return s, nil
}

// Name returns the diagnostic name
func (s *Semaphore) Name() string { return s.name }

// Handle implements Waitable; each receive takes one permit
func (s *Semaphore) Handle() <-chan struct{} {
	return s.tokens
}

// Count returns the number of available permits
func (s *Semaphore) Count() int {
	return len(s.tokens)
}

// Signal adds n permits and returns the count before the call
func (s *Semaphore) Signal(n int) (int, error) {
	if n <= 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "invalid signal count %d", n).WithComponent(s.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := len(s.tokens)
	if prev+n > s.max {
		return prev, errors.Newf(errors.ErrorTypeSystem, "too many posts (%d + %d > %d)", prev, n, s.max).
			WithComponent(s.name)
	}
	for i := 0; i < n; i++ {
		s.tokens <- struct{}{}
	}
	return prev, nil
}

// Wait takes one permit within timeout
func (s *Semaphore) Wait(timeout time.Duration) WaitResult {
	return WaitFor(s, timeout)
}

// Lock takes one permit, blocking until available
func (s *Semaphore) Lock() error {
	<-s.tokens
	return nil
}

// TryLock takes one permit if immediately available
func (s *Semaphore) TryLock() bool {
	select {
	case <-s.tokens:
		return true
	default:
		return false
	}
}

// Unlock returns one permit
func (s *Semaphore) Unlock() error {
	_, err := s.Signal(1)
	return err
}
