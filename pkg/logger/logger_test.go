package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestForComponentAndContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := Get()
	SetGlobal(zap.New(core))
	t.Cleanup(func() { SetGlobal(prev) })

	ForComponent(nil, "pool", "buffers").Warn("leak")

	ctx := context.WithValue(context.Background(), QueueKey, "jobs")
	ctx = context.WithValue(ctx, RequestIDKey, "r-1")
	WithContext(ctx).Info("dequeued")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "pool", entries[0].LoggerName)
	assert.Equal(t, "buffers", entries[0].ContextMap()["pool"])
	assert.Equal(t, "jobs", entries[1].ContextMap()["queue"])
	assert.Equal(t, "r-1", entries[1].ContextMap()["request_id"])
}
