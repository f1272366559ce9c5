package worker

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/syncpool/pkg/errors"
	"github.com/ajitpratap0/syncpool/pkg/syncx"
	"github.com/ajitpratap0/syncpool/pkg/testutil"
)

func TestRunReturnsTaskError(t *testing.T) {
	boom := stderrors.New("boom")
	err := Run(context.Background(), "plain", zaptest.NewLogger(t), func(context.Context, *Holder) error {
		return boom
	})
	assert.Equal(t, boom, err)
}

func TestRunRecoversPanic(t *testing.T) {
	l, logs := testutil.ObservedLogger(t, zapcore.WarnLevel)
	m := syncx.NewMutex("shared", syncx.WithMutexLogger(l))

	err := Run(context.Background(), "crasher", l, func(_ context.Context, h *Holder) error {
		require.NoError(t, h.Lock(m))
		panic("worker died")
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.Equal(t, "crasher", errors.ComponentOf(err))
	assert.Contains(t, err.Error(), "worker died")

	var typed *errors.Error
	require.ErrorAs(t, err, &typed)
	assert.NotEmpty(t, typed.Details["stack"])

	assert.Equal(t, syncx.WaitAbandoned, m.Wait(time.Second), "the next owner inherits an abandoned mutex")
	require.NoError(t, m.Unlock())
	assert.Equal(t, syncx.WaitSignaled, m.Wait(0))
	require.NoError(t, m.Unlock())

	assert.Equal(t, 1, logs.FilterMessage("mutex abandoned by task").Len())
	assert.Equal(t, 1, logs.FilterMessage("acquired abandoned mutex").Len())
}

func TestRunAbandonsMutexLeftLocked(t *testing.T) {
	m := syncx.NewMutex("leaked")
	err := Run(context.Background(), "forgetful", zaptest.NewLogger(t), func(_ context.Context, h *Holder) error {
		return h.Lock(m)
	})
	require.NoError(t, err)
	assert.Equal(t, syncx.WaitAbandoned, m.Wait(0))
	require.NoError(t, m.Unlock())
}

func TestHolderUnlockForgets(t *testing.T) {
	a, b := syncx.NewMutex("a"), syncx.NewMutex("b")
	err := Run(context.Background(), "tidy", zaptest.NewLogger(t), func(_ context.Context, h *Holder) error {
		require.NoError(t, h.Lock(a))
		res, err := h.LockWait(b, time.Second)
		require.NoError(t, err)
		require.Equal(t, syncx.WaitSignaled, res)
		assert.Equal(t, 2, h.Held())

		require.NoError(t, h.Unlock(b))
		require.NoError(t, h.Unlock(a))
		assert.Zero(t, h.Held())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, syncx.WaitSignaled, a.Wait(0))
	assert.Equal(t, syncx.WaitSignaled, b.Wait(0))
}

func TestHolderLockWaitTimeout(t *testing.T) {
	m := syncx.NewMutex("busy")
	require.NoError(t, m.Lock())
	defer m.Unlock()

	err := Run(context.Background(), "waiter", zaptest.NewLogger(t), func(_ context.Context, h *Holder) error {
		res, err := h.LockWait(m, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, syncx.WaitTimedOut, res)
		assert.Zero(t, h.Held())
		return nil
	})
	require.NoError(t, err)
}

func TestGroupCancelsOnFailure(t *testing.T) {
	g := NewGroup(context.Background(), zaptest.NewLogger(t))
	var cancelled atomic.Bool

	g.Go("waiter", func(ctx context.Context, _ *Holder) error {
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-time.After(5 * time.Second):
		}
		return nil
	})
	g.Go("crasher", func(context.Context, *Holder) error {
		panic("bad input")
	})

	err := g.Wait()
	assert.True(t, errors.IsType(err, errors.ErrorTypeInternal))
	assert.True(t, cancelled.Load())
}

func TestGroupLimit(t *testing.T) {
	g := NewGroup(context.Background(), zaptest.NewLogger(t))
	g.SetLimit(2)

	var running, peak atomic.Int32
	for i := 0; i < 8; i++ {
		g.Go("limited", func(context.Context, *Holder) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
