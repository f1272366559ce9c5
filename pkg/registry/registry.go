// Package registry holds named pools and queues for a process.
//
// A Registry is constructed explicitly and handed to the components that need it. It
// owns what is registered: Remove and Close close the entries they drop.
package registry

import (
	"io"
	"sort"
	"sync"

	"github.com/fishy/errbatch"
	"github.com/fishy/rowlock"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/logger"
)

// Registry maps names to closable components
type Registry struct {
	// serializes GetOrCreate per name so a slow constructor only blocks its own name
	rows *rowlock.RowLock

	mu      sync.RWMutex
	entries map[string]io.Closer
	closed  bool

	logger *zap.Logger
}

// New creates an empty registry
func New(l *zap.Logger) *Registry {
	return &Registry{
		rows:    rowlock.NewRowLock(rowlock.MutexNewLocker),
		entries: make(map[string]io.Closer),
		logger:  logger.ForComponent(l, "registry", "default"),
	}
}

// Register adds c under name. Names are unique.
func (r *Registry) Register(name string, c io.Closer) error {
	if name == "" || c == nil {
		return errors.New(errors.ErrorTypeValidation, "register needs a name and a component")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New(errors.ErrorTypeState, "registry closed").WithComponent(name)
	}
	if _, ok := r.entries[name]; ok {
		return errors.New(errors.ErrorTypeValidation, "name already registered").WithComponent(name)
	}
	r.entries[name] = c
	r.logger.Debug("registered", zap.String("name", name))
	return nil
}

// Get returns the component registered under name
func (r *Registry) Get(name string) (io.Closer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.entries[name]
	return c, ok
}

// GetOrCreate returns the component under name, building and registering it with create
// if there is none. Concurrent callers for the same name share one create call.
func (r *Registry) GetOrCreate(name string, create func() (io.Closer, error)) (io.Closer, error) {
	if c, ok := r.Get(name); ok {
		return c, nil
	}

	r.rows.Lock(name)
	defer r.rows.Unlock(name)

	if c, ok := r.Get(name); ok {
		return c, nil
	}
	c, err := create()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "create failed").WithComponent(name)
	}
	if err := r.Register(name, c); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Lookup returns the component under name as a T
func Lookup[T io.Closer](r *Registry, name string) (T, error) {
	var zero T
	c, ok := r.Get(name)
	if !ok {
		return zero, errors.New(errors.ErrorTypeValidation, "not registered").WithComponent(name)
	}
	t, ok := c.(T)
	if !ok {
		return zero, errors.Newf(errors.ErrorTypeValidation, "registered as %T", c).WithComponent(name)
	}
	return t, nil
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Remove unregisters name and closes its component
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	c, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrorTypeValidation, "not registered").WithComponent(name)
	}
	return c.Close()
}

// Close closes every component in reverse name order and reports all failures.
// Later calls do nothing.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]io.Closer)
	r.mu.Unlock()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	batch := errbatch.NewErrBatch()
	for _, name := range names {
		if err := entries[name].Close(); err != nil {
			r.logger.Warn("close failed", zap.String("name", name), zap.Error(err))
			batch.Add(errors.Wrap(err, errors.ErrorTypeSystem, "close failed").WithComponent(name))
		}
	}
	return batch.Compile()
}
