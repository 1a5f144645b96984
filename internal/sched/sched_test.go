package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScheduler_AddValidation(t *testing.T) {
	s := New(zap.NewNop())

	err := s.Add(Job{Name: "no-spec", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)

	err = s.Add(Job{Name: "no-run", Spec: "* * * * *"})
	require.Error(t, err)

	err = s.Add(Job{Name: "bad-spec", Spec: "not a cron line", Run: func(ctx context.Context) error { return nil }})
	require.Error(t, err)

	err = s.Add(Job{Name: "ok", Spec: "0 6 * * *", Run: func(ctx context.Context) error { return nil }})
	require.NoError(t, err)
}

func TestScheduler_RunsJob(t *testing.T) {
	s := New(zap.NewNop())

	var runs atomic.Int32
	err := s.Add(Job{
		Name: "tick",
		Spec: "@every 50ms",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_JobErrorDoesNotUnschedule(t *testing.T) {
	s := New(zap.NewNop())

	var runs atomic.Int32
	err := s.Add(Job{
		Name: "flaky",
		Spec: "@every 50ms",
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return errors.New("transient")
		},
	})
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := New(zap.NewNop())

	started := make(chan struct{})
	canceled := make(chan struct{})
	var closeOnce sync.Once
	err := s.Add(Job{
		Name: "long",
		Spec: "@every 10ms",
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			closeOnce.Do(func() { close(canceled) })
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("job context was not canceled on stop")
	}
}
