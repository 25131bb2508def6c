package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitkit/feedsmith/internal/apperror"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(c.Close)
	return c
}

func TestSubmitAndAwaitSuccess(t *testing.T) {
	c := newTestCoordinator(t)

	id := c.Submit("export", func(ctx context.Context) (any, error) {
		return "version-1", nil
	})
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := c.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, job.Status)
	assert.Equal(t, "version-1", job.Result)
	assert.False(t, job.FinishedAt.IsZero())
}

func TestAwaitFailureCarriesReason(t *testing.T) {
	c := newTestCoordinator(t)

	id := c.Submit("publish", func(ctx context.Context) (any, error) {
		return nil, errors.New("feed defines no service calendars")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := c.Await(ctx, id)
	require.ErrorIs(t, err, apperror.ErrJobFailure)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "no service calendars")
}

func TestPollUnknownJob(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.Poll("nope")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestAwaitHonorsContext(t *testing.T) {
	c := newTestCoordinator(t)
	release := make(chan struct{})
	id := c.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Await(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestPruneDropsTerminalJobs(t *testing.T) {
	c := newTestCoordinator(t)

	done := c.Submit("quick", func(ctx context.Context) (any, error) { return nil, nil })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Await(ctx, done)
	require.NoError(t, err)

	release := make(chan struct{})
	running := c.Submit("slow", func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	assert.Equal(t, 1, c.Prune(0))
	_, err = c.Poll(done)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	_, err = c.Poll(running)
	assert.NoError(t, err)
	close(release)
}
