package scan

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	sched, err := ParseSchedule("0 9 * * 1-5")
	require.NoError(t, err)
	from := time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) // Friday
	assert.Equal(t, time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), sched.Next(from))

	_, err = ParseSchedule("@daily")
	assert.NoError(t, err)

	_, err = ParseSchedule("")
	assert.Error(t, err)
	_, err = ParseSchedule("61 * * * *")
	assert.Error(t, err)
}

func TestRunSchedulerInvalidExpression(t *testing.T) {
	err := RunScheduler(context.Background(), "every day", time.UTC, nil, func(context.Context) {})
	assert.Error(t, err)
}

func TestRunSchedulerRunsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int32
	done := make(chan error, 1)
	go func() {
		done <- RunScheduler(ctx, "@every 1s", time.UTC, nil, func(context.Context) {
			if atomic.AddInt32(&runs, 1) == 1 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&runs))
}
