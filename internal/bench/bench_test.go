package bench

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

func TestCounter(t *testing.T) {
	res, err := Counter(context.Background(), zaptest.NewLogger(t), CounterOptions{Workers: 5, Count: 2000})
	require.NoError(t, err)
	assert.Equal(t, "syncobj", res.Name)
	assert.Equal(t, 10000, res.Ops)
	assert.Equal(t, 10000, res.Details["final"])
	assert.Positive(t, res.Duration)
	assert.Positive(t, res.Resources.GoroutineCount)
}

func TestQueueOrdering(t *testing.T) {
	res, err := Queue(context.Background(), zaptest.NewLogger(t), QueueOptions{Count: 50000})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Details["leftover"])
	assert.Positive(t, res.OpsPerSec)
}

func TestPoolSenderReceiver(t *testing.T) {
	res, err := Pool(context.Background(), zaptest.NewLogger(t), PoolOptions{Count: 20000, Limit: 256, AllocBlock: 64})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Details["capacity"], 256)
	assert.Equal(t, res.Details["capacity"], res.Details["queued"])
}

func TestPoolInvalidSizing(t *testing.T) {
	_, err := Pool(context.Background(), zaptest.NewLogger(t), PoolOptions{Count: 1, Limit: 256, AllocBlock: 2})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCancelledRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// neither side can move this many entries before the deadline
	_, err := Pool(ctx, zaptest.NewLogger(t), PoolOptions{Count: 50000000, Limit: 256, AllocBlock: 64})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout), "got %v", err)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, CounterOptions{Workers: 5, Count: 100000}, DefaultCounterOptions())
	assert.Equal(t, 1000000, DefaultQueueOptions().Count)
	assert.Equal(t, PoolOptions{Count: 1000000, Limit: 256, AllocBlock: 64}, DefaultPoolOptions())
}
