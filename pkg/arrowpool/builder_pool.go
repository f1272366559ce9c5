// Package arrowpool pools Arrow RecordBuilders for one schema at a time.
//
// Builders are the pool entries. Changing the schema goes through the pool's drain
// barrier: SetSchema waits until every builder is back, destroys them and installs an
// allocator for the new schema.
package arrowpool

import (
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
)

// Config sizes a BuilderPool
type Config struct {
	Pool pool.Config
	// AcquireTimeout bounds the wait for a builder when the pool is at its limit
	AcquireTimeout time.Duration
}

// BuilderPool hands out RecordBuilders for the current schema
type BuilderPool struct {
	pool    *pool.Pool[*array.RecordBuilder]
	mem     memory.Allocator
	schema  atomic.Pointer[arrow.Schema]
	timeout time.Duration
	logger  *zap.Logger
}

// builderAllocator creates builders for one schema out of mem
type builderAllocator struct {
	mem    memory.Allocator
	schema *arrow.Schema
}

func (a builderAllocator) Create() *array.RecordBuilder {
	return array.NewRecordBuilder(a.mem, a.schema)
}

func (a builderAllocator) Destroy(b *array.RecordBuilder) { b.Release() }

// New creates a pool of builders for schema. A nil mem uses the Go allocator.
func New(cfg Config, schema *arrow.Schema, mem memory.Allocator, l *zap.Logger) (*BuilderPool, error) {
	if schema == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "schema is required").WithComponent(cfg.Pool.Name)
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	if l == nil {
		l = zap.NewNop()
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = syncx.Infinite
	}

	p, err := pool.New[*array.RecordBuilder](cfg.Pool, builderAllocator{mem: mem, schema: schema},
		pool.WithLogger[*array.RecordBuilder](l))
	if err != nil {
		return nil, err
	}
	bp := &BuilderPool{pool: p, mem: mem, timeout: cfg.AcquireTimeout, logger: l}
	bp.schema.Store(schema)
	return bp, nil
}

// Schema returns the schema new builders are created for
func (bp *BuilderPool) Schema() *arrow.Schema { return bp.schema.Load() }

// Build checks out a builder, lets fn append rows and returns the finished record.
// The caller owns the record and must Release it. If fn fails, the rows it appended
// are discarded.
func (bp *BuilderPool) Build(fn func(*array.RecordBuilder) error) (arrow.Record, error) {
	e, err := bp.pool.Acquire(bp.timeout, nil)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New(errors.ErrorTypeTimeout, "no record builder available").WithComponent(bp.pool.Name())
	}
	defer func() { _ = e.Release() }()

	b := e.Value()
	if err := fn(b); err != nil {
		// NewRecord resets every field builder
		b.NewRecord().Release()
		return nil, err
	}
	return b.NewRecord(), nil
}

// SetSchema switches the pool to schema once every builder has been returned. It
// reports false if that did not happen within timeout.
func (bp *BuilderPool) SetSchema(schema *arrow.Schema, timeout time.Duration) (bool, error) {
	if schema == nil {
		return false, errors.New(errors.ErrorTypeValidation, "schema is required").WithComponent(bp.pool.Name())
	}
	if schema.Equal(bp.Schema()) {
		return true, nil
	}
	ok, err := bp.pool.SetAllocator(builderAllocator{mem: bp.mem, schema: schema}, timeout, nil)
	if err != nil || !ok {
		return ok, err
	}
	bp.schema.Store(schema)
	bp.logger.Info("record builder schema replaced", zap.Int("fields", schema.NumFields()))
	return true, nil
}

// Stats reports the underlying pool
func (bp *BuilderPool) Stats() (pool.Stats, error) { return bp.pool.Stats() }

// Close releases the queued builders; builders still checked out are released when
// they come back
func (bp *BuilderPool) Close() error { return bp.pool.Close() }
