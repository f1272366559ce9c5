// Package bench runs the threaded correctness and throughput scenarios behind the
// syncpool bench command.
//
// Each scenario both measures and verifies: a lost counter increment, an out-of-order
// dequeue or an unbalanced pool fails the run with an internal error.
package bench

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/syncpool/internal/worker"
	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/metrics"
	"github.com/ajitpratap0/syncpool/pkg/observability"
	"github.com/ajitpratap0/syncpool/pkg/pool"
	"github.com/ajitpratap0/syncpool/pkg/syncobj"
	"github.com/ajitpratap0/syncpool/pkg/syncqueue"
)

// Result reports one scenario
type Result struct {
	Name      string                 `json:"name"`
	Ops       int                    `json:"ops"`
	Duration  time.Duration          `json:"duration"`
	OpsPerSec float64                `json:"ops_per_sec"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Resources Usage                  `json:"resources"`
}

func (r Result) String() string {
	return fmt.Sprintf("%s: %d ops in %s (%.0f ops/sec)", r.Name, r.Ops, r.Duration.Round(time.Millisecond), r.OpsPerSec)
}

// CounterOptions configures the SyncObj counter scenario
type CounterOptions struct {
	Workers int
	Count   int
}

// QueueOptions configures the producer/consumer ordering scenario
type QueueOptions struct {
	Count int
}

// PoolOptions configures the pool sender/receiver scenario
type PoolOptions struct {
	Count      int
	Limit      int
	AllocBlock int
}

// DefaultCounterOptions matches five threads of 100000 increments each
func DefaultCounterOptions() CounterOptions { return CounterOptions{Workers: 5, Count: 100000} }

// DefaultQueueOptions moves one million integers through one queue
func DefaultQueueOptions() QueueOptions { return QueueOptions{Count: 1000000} }

// DefaultPoolOptions cycles one million entries through a 256-entry pool
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{Count: 1000000, Limit: 256, AllocBlock: 64}
}

// run traces and times fn, filling in the common Result fields
func run(ctx context.Context, name string, ops int, fn func(ctx context.Context, details map[string]interface{}) error) (Result, error) {
	res := Result{Name: name, Ops: ops, Details: map[string]interface{}{}}
	monitor := startMonitor()
	timer := metrics.NewTimer(name)

	err := observability.NewComponentTracer("bench", name).Trace(ctx, "run", func(ctx context.Context) error {
		return fn(ctx, res.Details)
	})
	res.Duration = timer.Stop()
	if res.Duration > 0 {
		res.OpsPerSec = float64(ops) / res.Duration.Seconds()
	}
	res.Resources = monitor.usage()
	return res, err
}

// Counter has every worker increment a shared SyncObj Count times
func Counter(ctx context.Context, l *zap.Logger, opts CounterOptions) (Result, error) {
	total := opts.Workers * opts.Count
	return run(ctx, "syncobj", total, func(ctx context.Context, details map[string]interface{}) error {
		ctr := syncobj.New(0, syncobj.WithName("bench.counter"), syncobj.WithLogger(l))

		g := worker.NewGroup(ctx, l)
		for w := 0; w < opts.Workers; w++ {
			g.Go(fmt.Sprintf("counter-%d", w+1), func(ctx context.Context, _ *worker.Holder) error {
				for i := 0; i < opts.Count; i++ {
					a, err := ctr.Pickup()
					if err != nil {
						return err
					}
					*a.Get()++
					if err := a.Drop(); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		got, err := ctr.Load()
		if err != nil {
			return err
		}
		details["final"] = got
		if got != total {
			return errors.Newf(errors.ErrorTypeInternal, "counter ended at %d, want %d", got, total).
				WithComponent(ctr.Name())
		}
		return nil
	})
}

// Queue streams 0..Count-1 from a producer to a consumer that checks the order
func Queue(ctx context.Context, l *zap.Logger, opts QueueOptions) (Result, error) {
	return run(ctx, "queue", opts.Count, func(ctx context.Context, details map[string]interface{}) error {
		q := syncqueue.New[int]("bench.queue", syncqueue.WithLogger(l))
		defer q.Close()

		g := worker.NewGroup(ctx, l)
		g.Go("producer", func(context.Context, *worker.Holder) error {
			for i := 0; i < opts.Count; i++ {
				if _, err := q.Enqueue(i); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go("consumer", func(ctx context.Context, _ *worker.Holder) error {
			for i := 0; i < opts.Count; i++ {
				j, err := q.DequeueContext(ctx)
				if err != nil {
					return err
				}
				if i != j {
					return errors.Newf(errors.ErrorTypeInternal, "expect %d, got %d", i, j).WithComponent(q.Name())
				}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}
		details["leftover"] = q.Len()
		return nil
	})
}

// Pool has a sender acquire Count entries and hand them through a queue to a
// receiver that releases them
func Pool(ctx context.Context, l *zap.Logger, opts PoolOptions) (Result, error) {
	return run(ctx, "pool", opts.Count, func(ctx context.Context, details map[string]interface{}) error {
		p, err := pool.New[*int64](pool.Config{Name: "bench.pool", Limit: opts.Limit, AllocBlock: opts.AllocBlock},
			pool.SimpleAllocator[int64]{}, pool.WithLogger[*int64](l))
		if err != nil {
			return err
		}
		defer p.Close()
		handoff := syncqueue.New[*pool.Entry[*int64]]("bench.pool.handoff", syncqueue.WithLogger(l))
		defer handoff.Close()

		g := worker.NewGroup(ctx, l)
		g.Go("sender", func(ctx context.Context, _ *worker.Holder) error {
			for i := 0; i < opts.Count; i++ {
				e, err := p.AcquireContext(ctx)
				if err != nil {
					return err
				}
				*e.Value() = int64(i)
				if _, err := handoff.Enqueue(e); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go("receiver", func(ctx context.Context, _ *worker.Holder) error {
			for i := 0; i < opts.Count; i++ {
				e, err := handoff.DequeueContext(ctx)
				if err != nil {
					return err
				}
				if err := e.Release(); err != nil {
					return err
				}
			}
			return nil
		})
		if err := g.Wait(); err != nil {
			return err
		}

		stats, err := p.Stats()
		if err != nil {
			return err
		}
		details["capacity"] = stats.Allocated
		details["queued"] = stats.Queued
		if stats.CheckedOut != 0 {
			return errors.Newf(errors.ErrorTypeInternal, "%d entries still checked out", stats.CheckedOut).
				WithComponent(p.Name())
		}
		return nil
	})
}
