package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastConfig = Config{
	MaxRetries:     3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	Timeout:        time.Second,
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	logger, hook := test.NewNullLogger()
	c := NewClient(logger, fastConfig)

	calls := 0
	got, err := Do(context.Background(), c, "create trade", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return "trade-1", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "trade-1", got)
	assert.Equal(t, 3, calls)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestDo_PermanentErrorIsNotRetried(t *testing.T) {
	c := NewClient(nil, fastConfig)
	permanent := errors.New("trade not found")

	calls := 0
	_, err := Do(context.Background(), c, "get trade", func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})

	assert.Same(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_GivesUpAfterMaxRetries(t *testing.T) {
	c := NewClient(nil, fastConfig)
	busy := errors.New("database is locked")

	calls := 0
	err := c.Run(context.Background(), "update trade", func(context.Context) error {
		calls++
		return busy
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, busy))
	assert.Contains(t, err.Error(), "after 4 attempts")
	assert.Equal(t, fastConfig.MaxRetries+1, calls)
}

func TestDo_StopsWhenContextCanceled(t *testing.T) {
	c := NewClient(nil, Config{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := c.Run(ctx, "list trades", func(context.Context) error {
		calls++
		cancel()
		return errors.New("timeout")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

func TestNextBackoff_RespectsMax(t *testing.T) {
	c := NewClient(nil, Config{MaxBackoff: 100 * time.Millisecond})
	for i := 0; i < 10; i++ {
		b := c.nextBackoff(90 * time.Millisecond)
		assert.GreaterOrEqual(t, b, 100*time.Millisecond)
		assert.LessOrEqual(t, b, 125*time.Millisecond)
	}
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("no such table: trades"), false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientError(tt.err), "%v", tt.err)
	}
}
