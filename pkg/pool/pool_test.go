package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/managed"
	"github.com/ajitpratap0/syncpool/pkg/metrics"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
	"github.com/ajitpratap0/syncpool/pkg/testutil"
)

type item struct {
	gen   int
	seq   int64
	inUse atomic.Bool
}

type countingAllocator struct {
	gen       int
	created   atomic.Int64
	destroyed atomic.Int64
	closed    atomic.Int32
}

func (a *countingAllocator) Create() *item {
	return &item{gen: a.gen, seq: a.created.Add(1)}
}

func (a *countingAllocator) Destroy(*item) { a.destroyed.Add(1) }

func (a *countingAllocator) Close() error {
	a.closed.Add(1)
	return nil
}

func (a *countingAllocator) live() int64 { return a.created.Load() - a.destroyed.Load() }

func newTestPool(t *testing.T, cfg Config, a Allocator[*item], opts ...Option[*item]) *Pool[*item] {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = t.Name()
	}
	opts = append([]Option[*item]{WithLogger[*item](zaptest.NewLogger(t))}, opts...)
	p, err := New[*item](cfg, a, opts...)
	require.NoError(t, err)
	return p
}

func acquireN(t *testing.T, p *Pool[*item], n int) []*Entry[*item] {
	t.Helper()
	out := make([]*Entry[*item], 0, n)
	for i := 0; i < n; i++ {
		e, err := p.Acquire(time.Second, nil)
		require.NoError(t, err)
		require.NotNil(t, e, "acquire %d", i)
		out = append(out, e)
	}
	return out
}

func assertBalanced(t *testing.T, p *Pool[*item], a *countingAllocator, checkedOut int) {
	t.Helper()
	st, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, checkedOut, st.CheckedOut, "checked out")
	assert.Equal(t, st.Allocated, st.Queued+checkedOut)
	assert.Equal(t, int64(st.Allocated), a.live(), "allocated matches created minus destroyed")
	if st.Limit != Unbounded {
		assert.LessOrEqual(t, st.Allocated, st.Limit)
	}
}

func TestGrowthTrace(t *testing.T) {
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{Limit: 16, AllocBlock: 8}, a)
	defer p.Close()

	assert.Equal(t, 8, p.Capacity(), "first block allocated on construction")
	assert.Equal(t, 8, p.Len())

	out := acquireN(t, p, 6)
	assert.Equal(t, 8, p.Capacity())
	assert.Equal(t, 2, p.Len())

	out = append(out, acquireN(t, p, 1)...)
	assert.Equal(t, 16, p.Capacity(), "seventh acquire sees the sentinel and grows")
	assert.Equal(t, 9, p.Len())

	out = append(out, acquireN(t, p, 7)...)
	st, err := p.Stats()
	require.NoError(t, err)
	assert.False(t, st.GrowLimit)
	assert.Equal(t, 2, st.Queued)

	out = append(out, acquireN(t, p, 1)...)
	st, err = p.Stats()
	require.NoError(t, err)
	assert.True(t, st.GrowLimit, "fifteenth acquire finds the pool at its limit")
	assert.Equal(t, 16, st.Allocated)

	out = append(out, acquireN(t, p, 1)...)
	assert.Equal(t, 0, p.Len())
	assertBalanced(t, p, a, len(out))

	start := time.Now()
	e, err := p.Acquire(0, nil)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Less(t, time.Since(start), 50*time.Millisecond, "zero timeout at the limit never blocks")

	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.PoolResizes.WithLabelValues(t.Name(), "grow")))
	assert.Equal(t, int64(16), a.created.Load())

	for _, e := range out {
		require.NoError(t, e.Release())
	}
}

// limitSuite starts every test with a 16/8 pool fully checked out
type limitSuite struct {
	suite.Suite
	alloc *countingAllocator
	pool  *Pool[*item]
	out   []*Entry[*item]
}

func (s *limitSuite) SetupTest() {
	s.alloc = &countingAllocator{gen: 1}
	s.pool = newTestPool(s.T(), Config{Limit: 16, AllocBlock: 8}, s.alloc)
	s.out = acquireN(s.T(), s.pool, 16)
}

func (s *limitSuite) TearDownTest() {
	s.Require().NoError(s.pool.Close())
}

func (s *limitSuite) TestConcurrentAcquiresTimeOut() {
	timeout := 2 * time.Second
	if testing.Short() {
		timeout = 200 * time.Millisecond
	}

	var wg sync.WaitGroup
	elapsed := make([]time.Duration, 4)
	for i := range elapsed {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := time.Now()
			e, err := s.pool.Acquire(timeout, nil)
			elapsed[i] = time.Since(start)
			assert.NoError(s.T(), err)
			assert.Nil(s.T(), e)
		}(i)
	}
	wg.Wait()

	for i, d := range elapsed {
		s.GreaterOrEqual(d, timeout*9/10, "acquire %d returned early", i)
		s.Less(d, timeout+time.Second, "acquire %d overran", i)
	}
	s.Equal(16, s.pool.Capacity())
}

func (s *limitSuite) TestReleaseShrinks() {
	for i := 0; i < 9; i++ {
		s.Require().NoError(s.out[i].Release())
	}
	s.Equal(16, s.pool.Capacity(), "below block+sentinel nothing is destroyed")

	s.Require().NoError(s.out[9].Release())
	s.Equal(14, s.pool.Capacity(), "tenth release reaches block+sentinel")
	s.Equal(8, s.pool.Len())

	s.Require().NoError(s.out[10].Release())
	s.Require().NoError(s.out[11].Release())
	st, err := s.pool.Stats()
	s.Require().NoError(err)
	s.Equal(12, st.Allocated)
	s.Equal(8, st.Queued)
	s.False(st.GrowLimit, "shrink clears the limit flag")
	s.Equal(int64(4), s.alloc.destroyed.Load())
	assertBalanced(s.T(), s.pool, s.alloc, 4)

	for _, e := range s.out[12:] {
		s.Require().NoError(e.Release())
	}
	s.Equal(8, s.pool.Capacity())
	s.Equal(8, s.pool.Len())
	assertBalanced(s.T(), s.pool, s.alloc, 0)
}

func (s *limitSuite) TestReleaseWakesBlockedAcquire() {
	got := make(chan *Entry[*item], 1)
	go func() {
		e, err := s.pool.Acquire(syncx.Infinite, nil)
		assert.NoError(s.T(), err)
		got <- e
	}()

	time.Sleep(20 * time.Millisecond)
	released := s.out[0]
	s.Require().NoError(released.Release())

	select {
	case e := <-got:
		s.Same(released, e)
		s.out[0] = e
	case <-time.After(2 * time.Second):
		s.FailNow("blocked acquire not woken by release")
	}
	for _, e := range s.out {
		s.Require().NoError(e.Release())
	}
}

func (s *limitSuite) TestCancelAtLimit() {
	cancel := syncx.NewEvent("cancel", true, false)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel.Set()
	}()

	start := time.Now()
	e, err := s.pool.Acquire(syncx.Infinite, cancel)
	s.NoError(err)
	s.Nil(e)
	s.Less(time.Since(start), 2*time.Second)
}

func (s *limitSuite) TestAcquireContextAtLimit() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	e, err := s.pool.AcquireContext(ctx)
	s.Nil(e)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeTimeout))
	s.Equal(s.pool.Name(), errors.ComponentOf(err))
}

func TestLimitSuite(t *testing.T) {
	suite.Run(t, new(limitSuite))
}

func TestObjectReturnLock(t *testing.T) {
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, a)
	defer p.Close()

	out := acquireN(t, p, 2)

	ok, err := p.ObjectReturnLock(30*time.Millisecond, nil)
	require.NoError(t, err)
	assert.False(t, ok, "entries are still checked out")
	assert.True(t, errors.IsType(p.ObjectReturnUnlock(), errors.ErrorTypeState))

	locked := make(chan struct{})
	go func() {
		ok, err := p.ObjectReturnLock(syncx.Infinite, nil)
		assert.NoError(t, err)
		assert.True(t, ok)
		close(locked)
	}()

	testutil.AssertBlocked(t, locked, 50*time.Millisecond, "two entries out")
	require.NoError(t, out[0].Release())
	testutil.AssertBlocked(t, locked, 50*time.Millisecond, "one entry out")
	require.NoError(t, out[1].Release())
	testutil.AssertDone(t, locked, 2*time.Second, "all entries returned")

	acquired := make(chan struct{})
	go func() {
		e, err := p.Acquire(syncx.Infinite, nil)
		assert.NoError(t, err)
		assert.NotNil(t, e)
		if e != nil {
			_ = e.Release()
		}
		close(acquired)
	}()
	testutil.AssertBlocked(t, acquired, 50*time.Millisecond, "acquire during drain lock")

	require.NoError(t, p.ObjectReturnUnlock())
	testutil.AssertDone(t, acquired, 2*time.Second, "acquire after unlock")
	assertBalanced(t, p, a, 0)
}

func TestObjectReturnLockImmediate(t *testing.T) {
	p := newTestPool(t, Config{AllocBlock: 8}, &countingAllocator{})
	defer p.Close()

	ok, err := p.ObjectReturnLock(0, nil)
	require.NoError(t, err)
	assert.True(t, ok, "an idle pool drains without waiting")
	require.NoError(t, p.ObjectReturnUnlock())
}

func TestObjectReturnLockCancel(t *testing.T) {
	p := newTestPool(t, Config{AllocBlock: 8}, &countingAllocator{})
	defer p.Close()
	out := acquireN(t, p, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := p.ObjectReturnLockContext(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	require.NoError(t, out[0].Release())
	require.NoError(t, p.ObjectReturnLockContext(context.Background()))
	require.NoError(t, p.ObjectReturnUnlock())
}

func TestSetAllocator(t *testing.T) {
	first := &countingAllocator{gen: 1}
	second := &countingAllocator{gen: 2}
	p := newTestPool(t, Config{AllocBlock: 8}, first)

	out := acquireN(t, p, 2)

	swapped := make(chan struct{})
	go func() {
		ok, err := p.SetAllocator(second, syncx.Infinite, nil)
		assert.NoError(t, err)
		assert.True(t, ok)
		close(swapped)
	}()

	testutil.AssertBlocked(t, swapped, 50*time.Millisecond, "swap waits for the drain")
	for _, e := range out {
		require.NoError(t, e.Release())
	}
	testutil.AssertDone(t, swapped, 2*time.Second, "swap after drain")

	assert.Equal(t, int32(1), first.closed.Load(), "old allocator released once")
	assert.Equal(t, int64(8), first.created.Load())
	assert.Equal(t, int64(8), first.destroyed.Load(), "every old entry destroyed by its own allocator")

	fresh := acquireN(t, p, 8)
	for _, e := range fresh {
		assert.Equal(t, 2, e.Value().gen)
	}
	for _, e := range fresh {
		require.NoError(t, e.Release())
	}
	assertBalanced(t, p, second, 0)

	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), first.closed.Load())
	assert.Equal(t, int32(1), second.closed.Load())
	assert.Equal(t, second.created.Load(), second.destroyed.Load())
}

func TestSetAllocatorTimeout(t *testing.T) {
	first := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, first)
	defer p.Close()
	out := acquireN(t, p, 1)

	rejected := &countingAllocator{gen: 3}
	ok, err := p.SetAllocator(rejected, 30*time.Millisecond, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), first.closed.Load(), "pool keeps its allocator")
	assert.Equal(t, int32(1), rejected.closed.Load(), "ownership was taken and given up")
	assert.Equal(t, 1, out[0].Value().gen)
	require.NoError(t, out[0].Release())

	_, err = p.SetAllocator(nil, 0, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSetAllocatorContext(t *testing.T) {
	p := newTestPool(t, Config{AllocBlock: 8}, &countingAllocator{gen: 1})
	defer p.Close()

	ctx, cancel := testutil.TestContext(t)
	defer cancel()
	require.NoError(t, p.SetAllocatorContext(ctx, &countingAllocator{gen: 5}))

	e, err := p.AcquireContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, e.Value().gen)
	require.NoError(t, e.Release())
}

func TestSharedAllocator(t *testing.T) {
	a := &countingAllocator{gen: 1}
	ref := managed.Share[Allocator[*item]](a, func(Allocator[*item]) { _ = a.Close() })
	dup, err := ref.Dup()
	require.NoError(t, err)

	p := newTestPool(t, Config{AllocBlock: 8}, nil, WithSharedAllocator[*item](dup))
	require.NoError(t, p.Close())
	assert.Equal(t, int32(0), a.closed.Load(), "another reference is still live")

	ref.Release()
	assert.Equal(t, int32(1), a.closed.Load())
}

func TestEntryReplace(t *testing.T) {
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, a)
	defer p.Close()

	e := acquireN(t, p, 1)[0]
	e.Replace(&item{gen: 9})
	assert.Equal(t, 9, e.Value().gen)
	assert.Equal(t, int64(1), a.destroyed.Load())
	require.NoError(t, e.Release())
}

func TestReleaseErrors(t *testing.T) {
	log, logs := testutil.ObservedLogger(t, zapcore.WarnLevel)
	p := newTestPool(t, Config{AllocBlock: 8}, &countingAllocator{}, WithLogger[*item](log))
	defer p.Close()
	other := newTestPool(t, Config{Name: t.Name() + ".other", AllocBlock: 8}, &countingAllocator{})
	defer other.Close()

	e := acquireN(t, p, 1)[0]
	require.NoError(t, e.Release())
	require.NoError(t, e.Release())
	assert.Equal(t, 1, logs.FilterMessage("entry released twice").Len())
	assert.Equal(t, 8, p.Len(), "double release does not enqueue twice")

	foreign := acquireN(t, other, 1)[0]
	err := p.Release(foreign)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	require.NoError(t, foreign.Release())

	assert.True(t, errors.IsType(p.Release(nil), errors.ErrorTypeValidation))
}

func TestCloseWithEntriesOut(t *testing.T) {
	log, logs := testutil.ObservedLogger(t, zapcore.WarnLevel)
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, a, WithLogger[*item](log))
	out := acquireN(t, p, 2)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, logs.FilterMessage("pool closed with entries checked out").Len())
	assert.Equal(t, 2, p.Capacity())
	assert.Equal(t, int32(0), a.closed.Load(), "allocator outlives checked out entries")

	_, err := p.Acquire(0, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))

	require.NoError(t, out[0].Release())
	assert.Equal(t, int32(0), a.closed.Load())
	require.NoError(t, out[1].Release())
	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, 0, p.Capacity())
	assert.Equal(t, a.created.Load(), a.destroyed.Load())

	_, err = p.SetAllocator(&countingAllocator{}, 0, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState))
}

func TestAcquireWaitingDuringClose(t *testing.T) {
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, a)

	ok, err := p.ObjectReturnLock(time.Second, nil)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan struct{})
	var acqErr error
	var got *Entry[*item]
	go func() {
		defer close(done)
		got, acqErr = p.Acquire(2*time.Second, nil)
	}()
	testutil.AssertBlocked(t, done, 50*time.Millisecond, "acquire waits behind the drain lock")

	require.NoError(t, p.Close())
	assert.Equal(t, int32(1), a.closed.Load())
	require.NoError(t, p.ObjectReturnUnlock())
	testutil.AssertDone(t, done, time.Second, "acquire returns once the lock is free")

	assert.Nil(t, got)
	assert.True(t, errors.IsType(acqErr, errors.ErrorTypeState), "got %v", acqErr)
	assert.Equal(t, 0, p.Capacity())
	assert.Zero(t, a.live(), "no entries built after close")
	assert.Equal(t, int64(8), a.created.Load())
	assert.Equal(t, int32(1), a.closed.Load())
}

func TestReplaceAfterClose(t *testing.T) {
	log, logs := testutil.ObservedLogger(t, zapcore.WarnLevel)
	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{AllocBlock: 8}, a, WithLogger[*item](log))
	e := acquireN(t, p, 1)[0]

	require.NoError(t, p.Close())
	e.Replace(&item{gen: 2})
	assert.Equal(t, 2, e.Value().gen)
	assert.Equal(t, int32(0), a.closed.Load(), "checked out entry keeps the allocator")

	require.NoError(t, e.Release())
	assert.Equal(t, int32(1), a.closed.Load())
	destroyed := a.destroyed.Load()

	e.Replace(&item{gen: 3})
	assert.Equal(t, 2, e.Value().gen, "released entry is not replaced")
	assert.Equal(t, destroyed, a.destroyed.Load())
	assert.Equal(t, 1, logs.FilterMessage("replace of entry not checked out").Len())
}

func TestNewAcceptsWideRatios(t *testing.T) {
	for _, cfg := range []Config{
		{Limit: 64, AllocBlock: 64},
		{Limit: 4096, AllocBlock: 8},
	} {
		p := newTestPool(t, cfg, &countingAllocator{})
		assert.Equal(t, cfg.AllocBlock, p.Capacity())
		require.NoError(t, p.Close())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantErr  bool
		warnings int
	}{
		{name: "sentinel zero", cfg: Config{Limit: 16, AllocBlock: 3}, wantErr: true},
		{name: "negative block", cfg: Config{AllocBlock: -8}, wantErr: true},
		{name: "limit below sentinel", cfg: Config{Limit: 1, AllocBlock: 8}, wantErr: true},
		{name: "negative limit", cfg: Config{Limit: -5, AllocBlock: 8}, wantErr: true},
		{name: "one block as the limit", cfg: Config{Limit: 64, AllocBlock: 64}, warnings: 1},
		{name: "limit equal to block", cfg: Config{Limit: 8, AllocBlock: 8}, warnings: 1},
		{name: "large limit small block", cfg: Config{Limit: 4096, AllocBlock: 8}, warnings: 1},
		{name: "very large ratio", cfg: Config{Limit: 2000, AllocBlock: 8}, warnings: 1},
		{name: "ratio below recommended", cfg: Config{Limit: 16, AllocBlock: 8}, warnings: 1},
		{name: "limit not a block multiple", cfg: Config{Limit: 20, AllocBlock: 8}, warnings: 1},
		{name: "ratio above recommended", cfg: Config{Limit: 256, AllocBlock: 8}, warnings: 1},
		{name: "recommended sizing", cfg: Config{Limit: 256, AllocBlock: 64}},
		{name: "unbounded", cfg: Config{Limit: Unbounded, AllocBlock: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Name = "validate"
			warnings, err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
				assert.Equal(t, "validate", errors.ComponentOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, warnings, tt.warnings)
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New[*item](Config{Name: "bad", Limit: 1, AllocBlock: 8}, &countingAllocator{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = New[*item](Config{Name: "nil-alloc", AllocBlock: 8}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = New[*item](Config{Name: "dummy", AllocBlock: 8}, DummyAllocator[*item]{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Equal(t, "dummy", errors.ComponentOf(err))
}

func TestDefaultSizing(t *testing.T) {
	p := newTestPool(t, Config{}, &countingAllocator{})
	defer p.Close()
	assert.Equal(t, DefaultAllocBlock, p.Capacity())
	st, err := p.Stats()
	require.NoError(t, err)
	assert.Equal(t, Unbounded, st.Limit)
}

func TestAllocators(t *testing.T) {
	var simple SimpleAllocator[item]
	v := simple.Create()
	require.NotNil(t, v)
	simple.Destroy(v)

	destroyed := 0
	f := NewFuncAllocator(func() int { return 7 }, func(int) { destroyed++ })
	assert.Equal(t, 7, f.Create())
	f.Destroy(7)
	assert.Equal(t, 1, destroyed)
	NewFuncAllocator(func() int { return 0 }, nil).Destroy(0)

	var dummy DummyAllocator[int]
	assert.Panics(t, func() { dummy.Create() })
	dummy.Destroy(1)
}

func TestThreadedAcquireRelease(t *testing.T) {
	const workers = 32
	iterations := 2000
	if testing.Short() {
		iterations = 200
	}

	a := &countingAllocator{gen: 1}
	p := newTestPool(t, Config{Limit: 256, AllocBlock: 64}, a)
	defer p.Close()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				e, err := p.Acquire(syncx.Infinite, nil)
				if !assert.NoError(t, err) || !assert.NotNil(t, e) {
					return
				}
				if !e.Value().inUse.CompareAndSwap(false, true) {
					t.Errorf("entry %d handed out twice", e.Value().seq)
				}
				e.Value().inUse.Store(false)
				assert.NoError(t, e.Release())
			}
		}()
	}
	wg.Wait()

	assertBalanced(t, p, a, 0)
	assert.LessOrEqual(t, p.Capacity(), 256)
}
