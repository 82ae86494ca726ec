package xfer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPeriodicTaskRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	task := NewPeriodicTask("test", 5*time.Millisecond, func(_ context.Context) {
		runs.Add(1)
	})

	require.False(t, task.Running())
	require.NoError(t, task.Start(context.Background()))
	require.True(t, task.Running())

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 5*time.Second, time.Millisecond)

	task.Stop()
	require.False(t, task.Running())

	stopped := runs.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, stopped, runs.Load())

	// Stop on a stopped task is a no-op and the task can be restarted.
	task.Stop()
	require.NoError(t, task.Start(context.Background()))
	task.Stop()
}

func TestPeriodicTaskRunImmediately(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := NewPeriodicTask("immediate", time.Hour, func(_ context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}, WithRunImmediately())

	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("task did not run on start")
	}
}

func TestPeriodicTaskStartErrors(t *testing.T) {
	task := NewPeriodicTask("bad", 0, func(_ context.Context) {})
	require.Error(t, task.Start(context.Background()))
	require.False(t, task.Running())

	task = NewPeriodicTask("twice", time.Hour, func(_ context.Context) {})
	require.NoError(t, task.Start(context.Background()))
	defer task.Stop()
	require.Error(t, task.Start(context.Background()))
}

func TestPeriodicTaskStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := NewPeriodicTask("ctx", time.Millisecond, func(_ context.Context) {})
	require.NoError(t, task.Start(ctx))

	cancel()
	task.Stop()
	require.False(t, task.Running())
}
