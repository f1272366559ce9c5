// Package syncpool provides bounded object pools, synchronized FIFO queues and the
// waitable primitives they are built on.
//
// # Architecture
//
// The library is layered bottom-up:
//
//  1. syncx: mutexes with ownership and abandonment, auto and manual reset events,
//     counting semaphores, critical sections and a wait-any/wait-all multiplexer. Every
//     blocking call takes a timeout (syncx.Infinite to wait forever).
//
//  2. syncqueue and syncobj: a FIFO queue whose dequeue blocks until an item arrives,
//     and a value guarded by a mutex that can only be reached through an accessor.
//
//  3. managed: a reference-counted handle with an explicit release function, used to
//     share one allocator between pools.
//
//  4. pool: a self-resizing pool that grows by AllocBlock entries when the idle queue
//     runs low and shrinks when too many are idle, never exceeding Limit.
//
// Domain packages sit on top of the pool: compression keeps per-algorithm encoders and
// decoders, json keeps marshal buffers, and arrowpool keeps Arrow record builders.
//
// # Quick Start
//
//	import (
//	    "bytes"
//	    "time"
//
//	    "github.com/ajitpratap0/syncpool/pkg/pool"
//	)
//
//	p, err := pool.New[*bytes.Buffer](
//	    pool.Config{Name: "buffers", Limit: 1024, AllocBlock: 64},
//	    pool.NewFuncAllocator(func() *bytes.Buffer { return new(bytes.Buffer) }, nil),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	e, err := p.Acquire(time.Second, nil)
//	if err != nil || e == nil {
//	    return err // nil entry: timed out
//	}
//	defer e.Release()
//
// # Key Packages
//
//	pkg/syncx        - Waitable mutex, event, semaphore and multi-object waits
//	pkg/syncqueue    - Blocking FIFO queue over a growable ring buffer
//	pkg/syncobj      - Mutex-guarded value with accessor handles
//	pkg/managed      - Reference-counted shared ownership
//	pkg/pool         - Bounded, self-resizing object pool
//	pkg/registry     - Named pools and other closable components
//	pkg/compression  - Pooled codecs (gzip, snappy, lz4, zstd, s2, deflate)
//	pkg/json         - Pooled buffers for goccy/go-json marshalling
//	pkg/arrowpool    - Pooled Arrow record builders
//	pkg/config       - YAML/TOML configuration with environment overrides
//	pkg/errors       - Typed errors with component and detail context
//	pkg/logger       - zap logger construction
//	pkg/metrics      - Prometheus pool metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Command Line
//
//	syncpool bench all             # counter, queue and pool scenarios
//	syncpool --config pools.yaml pools --acquire 100
//	syncpool --config pools.yaml config validate
package syncpool
