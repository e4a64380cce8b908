package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bizarik/brkTrd-zr0/internal/config"
)

func testSchedConfig() config.Scheduler {
	return config.Scheduler{
		IngestEveryMinutes:  1,
		HygieneEveryMinutes: 60,
		FailureThreshold:    3,
		LockTTLSeconds:      300,
		MaxPortfolioFanout:  3,
	}
}

func noopJobs() Jobs {
	return Jobs{
		Ingest:  func(ctx context.Context) error { return nil },
		Hygiene: func(ctx context.Context) error { return nil },
	}
}

func TestTransitionsAreIdempotent(t *testing.T) {
	s := New(testSchedConfig(), noopJobs())
	require.Equal(t, StateStopped, s.State())

	require.NoError(t, s.Start())
	require.Equal(t, StateRunning, s.State())
	require.NoError(t, s.Start(), "starting a running scheduler is a no-op")
	require.Equal(t, StateRunning, s.State())

	s.Pause()
	require.Equal(t, StatePaused, s.State())
	s.Pause()
	require.Equal(t, StatePaused, s.State())

	s.Resume()
	require.Equal(t, StateRunning, s.State())
	s.Resume()
	require.Equal(t, StateRunning, s.State())

	s.Stop()
	require.Equal(t, StateStopped, s.State())
	s.Stop()
	require.Equal(t, StateStopped, s.State())
}

func TestPausedSkipsJobBodies(t *testing.T) {
	var runs atomic.Int64
	jobs := Jobs{
		Ingest:  func(ctx context.Context) error { runs.Add(1); return nil },
		Hygiene: func(ctx context.Context) error { return nil },
	}
	s := New(testSchedConfig(), jobs)
	require.NoError(t, s.Start())
	defer s.Stop()

	s.RunIngestNow(context.Background())
	require.Equal(t, int64(1), runs.Load())

	s.Pause()
	s.RunIngestNow(context.Background())
	require.Equal(t, int64(1), runs.Load(), "paused scheduler must not run jobs")

	s.Resume()
	s.RunIngestNow(context.Background())
	require.Equal(t, int64(2), runs.Load())
}

func TestFailureIsolationAndDegradedSignal(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	jobs := Jobs{
		Ingest: func(ctx context.Context) error {
			if fail.Load() {
				return errors.New("upstream down")
			}
			return nil
		},
		Hygiene: func(ctx context.Context) error { return nil },
	}
	s := New(testSchedConfig(), jobs)
	require.NoError(t, s.Start())
	defer s.Stop()

	for i := 0; i < 3; i++ {
		s.RunIngestNow(context.Background())
	}
	st := s.Status()
	require.Equal(t, int64(3), st.IngestFailures)
	require.Equal(t, int64(3), st.ConsecutiveFailures)
	require.True(t, st.Degraded, "three consecutive failures cross the threshold")
	require.Equal(t, StateRunning, st.State, "degraded health never auto-stops the scheduler")

	fail.Store(false)
	s.RunIngestNow(context.Background())
	st = s.Status()
	require.Zero(t, st.ConsecutiveFailures)
	require.False(t, st.Degraded)
	require.Empty(t, st.LastError)
}

func TestStopUnblocksAndReachesStopped(t *testing.T) {
	release := make(chan struct{})
	done := atomic.Bool{}
	jobs := Jobs{
		Ingest: func(ctx context.Context) error {
			<-release
			done.Store(true)
			return nil
		},
		Hygiene: func(ctx context.Context) error { return nil },
	}
	s := New(testSchedConfig(), jobs)
	require.NoError(t, s.Start())

	go s.RunIngestNow(context.Background())
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		// Stop returned without waiting for cron-tracked jobs; the manual
		// run above is not cron-tracked, so only assert state here.
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	close(release)
	require.Equal(t, StateStopped, s.State())
}
