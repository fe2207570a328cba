package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingJob struct {
	name string
	runs atomic.Int32
	err  error
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(_ context.Context) error {
	j.runs.Add(1)
	return j.err
}

type sweeperFunc func() int

func (f sweeperFunc) Sweep() int { return f() }

type publisherFunc func()

func (f publisherFunc) PublishStats() { f() }

type cleanerFunc func(time.Duration) int

func (f cleanerFunc) Cleanup(idle time.Duration) int { return f(idle) }

func TestRunOnceContinuesAfterError(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	ok := &countingJob{name: "ok"}
	s.AddJob(failing)
	s.AddJob(ok)
	s.AddJob(nil)

	s.RunOnce(context.Background())

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int32(1), failing.runs.Load())
	assert.Equal(t, int32(1), ok.runs.Load())
}

func TestStartStopsOnCancel(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	job := &countingJob{name: "tick"}
	s.AddJob(job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return job.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("планировщик не остановился")
	}
}

func TestJobs(t *testing.T) {
	var swept, published, cleaned int
	var gotIdle time.Duration

	jobs := []Job{
		NewCacheSweepJob(sweeperFunc(func() int { swept++; return 2 }), zap.NewNop()),
		NewLedgerStatsJob(publisherFunc(func() { published++ })),
		NewRateLimiterCleanupJob(cleanerFunc(func(idle time.Duration) int {
			cleaned++
			gotIdle = idle
			return 0
		}), time.Hour, zap.NewNop()),
	}

	for _, job := range jobs {
		assert.NoError(t, job.Run(context.Background()), job.Name())
	}

	assert.Equal(t, 1, swept)
	assert.Equal(t, 1, published)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, time.Hour, gotIdle)
}
