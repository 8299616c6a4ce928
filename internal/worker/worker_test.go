package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surveysync/surveysync-api/internal/models"
	"github.com/surveysync/surveysync-api/internal/repository"
	syncpkg "github.com/surveysync/surveysync-api/internal/sync"
)

type pollJobRepo struct {
	repository.JobRepository

	queue      chan string
	claims     int32
	markFailed int32
}

func (r *pollJobRepo) ClaimNextQueued(ctx context.Context) (string, error) {
	atomic.AddInt32(&r.claims, 1)
	select {
	case id := <-r.queue:
		return id, nil
	default:
		return "", nil
	}
}

func (r *pollJobRepo) Get(id string) (*models.SyncJob, error) {
	return nil, repository.ErrJobNotFound
}

func (r *pollJobRepo) MarkFailed(id string, lastError string, errs []models.ProgressError) error {
	atomic.AddInt32(&r.markFailed, 1)
	return nil
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	repo := &pollJobRepo{queue: make(chan string, 1)}
	runner := syncpkg.NewRunner(repo, nil, nil, nil, nil, nil, zerolog.Nop())
	w := New(Config{PollInterval: 10 * time.Millisecond, Concurrency: 2}, repo, runner, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after context cancel")
	}
	assert.Greater(t, atomic.LoadInt32(&repo.claims), int32(0))
}

// A claimed job always reaches the runner, and the runner writes a terminal
// state even when the run fails immediately.
func TestWorkerExecutesClaimedJob(t *testing.T) {
	repo := &pollJobRepo{queue: make(chan string, 1)}
	repo.queue <- "job-1"

	runner := syncpkg.NewRunner(repo, nil, nil, nil, nil, nil, zerolog.Nop())
	w := New(Config{PollInterval: 10 * time.Millisecond, Concurrency: 2}, repo, runner, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&repo.markFailed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
