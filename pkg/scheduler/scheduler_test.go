package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddValidation(t *testing.T) {
	s := New()

	err := s.Add(Task{Name: "no-interval", Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)

	err = s.Add(Task{Name: "no-run", Interval: time.Second})
	assert.Error(t, err)

	err = s.Add(Task{Name: "ok", Interval: time.Second, Run: func(ctx context.Context) error { return nil }})
	assert.NoError(t, err)
}

func TestTaskRunsPeriodically(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:     "ticker",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestStopHaltsTasks(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:     "ticker",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	s.Stop()
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestPanickingTaskDoesNotKillOthers(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:     "panicky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			panic("task exploded")
		},
	}))
	require.NoError(t, s.Add(Task{
		Name:     "steady",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestFailingTaskKeepsTicking(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:     "failing",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return assert.AnError
		},
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestAddAfterStartFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	err := s.Add(Task{Name: "late", Interval: time.Second, Run: func(ctx context.Context) error { return nil }})
	assert.Error(t, err)
}

func TestContextCancellationStopsTasks(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add(Task{
		Name:     "ticker",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Stop()
}
