// Package metrics provides Prometheus instrumentation for pools and queues.
//
// # Overview
//
// The metrics package provides:
//   - Pre-registered vectors labeled by pool or queue name
//   - PoolCollector and QueueCollector binding those labels per instance
//   - An HTTP handler exposing the default registry
//   - Timing and throughput helpers used by the benchmarks
//
// # Basic Usage
//
//	c := metrics.NewPoolCollector("buffers")
//	c.Acquired(wait)
//	c.SetLevels(allocated, queued)
//
//	http.Handle("/metrics", metrics.Handler())
//
// Collectors are cheap to create; vectors are global so two collectors with the same
// name report into the same series.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "syncpool"

var (
	// PoolAcquires counts acquisitions by outcome (ok, timeout)
	PoolAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquires_total",
			Help:      "Pool acquisitions by result",
		},
		[]string{"pool", "result"},
	)

	// PoolReleases counts entries returned to the pool
	PoolReleases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "releases_total",
			Help:      "Entries released back to the pool",
		},
		[]string{"pool"},
	)

	// PoolResizes counts grow and shrink passes
	PoolResizes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "resizes_total",
			Help:      "Grow and shrink passes",
		},
		[]string{"pool", "direction"},
	)

	// PoolEntries reports allocated and queued entry counts
	PoolEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "entries",
			Help:      "Entries by state (allocated, queued)",
		},
		[]string{"pool", "state"},
	)

	// PoolAcquireWait observes how long acquisitions blocked
	PoolAcquireWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent blocked in Acquire",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"pool"},
	)

	// QueueLength reports the last observed queue length
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "length",
			Help:      "Last observed queue length",
		},
		[]string{"queue"},
	)

	// QueueOps counts queue operations (enqueue, dequeue, timeout)
	QueueOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue operations by kind",
		},
		[]string{"queue", "op"},
	)
)

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// PoolCollector records metrics for one named pool
type PoolCollector struct {
	name      string
	acquireOK prometheus.Counter
	timeouts  prometheus.Counter
	releases  prometheus.Counter
	grows     prometheus.Counter
	shrinks   prometheus.Counter
	allocated prometheus.Gauge
	queued    prometheus.Gauge
	wait      prometheus.Observer
}

// NewPoolCollector binds the pool vectors to name
func NewPoolCollector(name string) *PoolCollector {
	return &PoolCollector{
		name:      name,
		acquireOK: PoolAcquires.WithLabelValues(name, "ok"),
		timeouts:  PoolAcquires.WithLabelValues(name, "timeout"),
		releases:  PoolReleases.WithLabelValues(name),
		grows:     PoolResizes.WithLabelValues(name, "grow"),
		shrinks:   PoolResizes.WithLabelValues(name, "shrink"),
		allocated: PoolEntries.WithLabelValues(name, "allocated"),
		queued:    PoolEntries.WithLabelValues(name, "queued"),
		wait:      PoolAcquireWait.WithLabelValues(name),
	}
}

// Name returns the pool name
func (c *PoolCollector) Name() string { return c.name }

// Acquired records a successful acquisition and its wait
func (c *PoolCollector) Acquired(wait time.Duration) {
	c.acquireOK.Inc()
	c.wait.Observe(wait.Seconds())
}

// TimedOut records an acquisition that expired or was cancelled
func (c *PoolCollector) TimedOut(wait time.Duration) {
	c.timeouts.Inc()
	c.wait.Observe(wait.Seconds())
}

// Released records a release
func (c *PoolCollector) Released() { c.releases.Inc() }

// Grew records a grow pass
func (c *PoolCollector) Grew() { c.grows.Inc() }

// Shrank records a shrink pass
func (c *PoolCollector) Shrank() { c.shrinks.Inc() }

// SetLevels publishes allocated and queued counts
func (c *PoolCollector) SetLevels(allocated, queued int) {
	c.allocated.Set(float64(allocated))
	c.queued.Set(float64(queued))
}

// QueueCollector records metrics for one named queue
type QueueCollector struct {
	name     string
	length   prometheus.Gauge
	enqueue  prometheus.Counter
	dequeue  prometheus.Counter
	timeouts prometheus.Counter
}

// NewQueueCollector binds the queue vectors to name
func NewQueueCollector(name string) *QueueCollector {
	return &QueueCollector{
		name:     name,
		length:   QueueLength.WithLabelValues(name),
		enqueue:  QueueOps.WithLabelValues(name, "enqueue"),
		dequeue:  QueueOps.WithLabelValues(name, "dequeue"),
		timeouts: QueueOps.WithLabelValues(name, "timeout"),
	}
}

// Enqueued records an enqueue and the resulting length
func (c *QueueCollector) Enqueued(length int) {
	c.enqueue.Inc()
	c.length.Set(float64(length))
}

// Dequeued records a dequeue and the resulting length
func (c *QueueCollector) Dequeued(length int) {
	c.dequeue.Inc()
	c.length.Set(float64(length))
}

// TimedOut records a dequeue that gave up
func (c *QueueCollector) TimedOut() { c.timeouts.Inc() }

// Timer measures elapsed time from its creation
type Timer struct {
	start time.Time
	name  string
}

// NewTimer starts a timer
func NewTimer(name string) *Timer {
	return &Timer{start: time.Now(), name: name}
}

// Name returns the timer name
func (t *Timer) Name() string { return t.name }

// Stop returns the elapsed time since creation. It can be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker counts operations and reports the rate since the last reset
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker creates a tracker starting now
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n operations
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.count += n
	t.mu.Unlock()
}

// GetAndReset returns operations per second since the last reset and restarts the window
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(t.count) / elapsed
	}
	t.count = 0
	t.lastReset = time.Now()
	return rate
}
