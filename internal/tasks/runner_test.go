package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/chathub/internal/logger"
)

func TestRunnerCountsOutcomes(t *testing.T) {
	t.Parallel()
	r := NewRunner(logger.Discard(), time.Second)

	r.Go("ok", func(context.Context) error { return nil })
	r.Go("fail", func(context.Context) error { return errors.New("nope") })
	r.Go("panic", func(context.Context) error { panic("boom") })
	r.Wait()

	assert.Equal(t, Stats{Started: 3, Succeeded: 1, Failed: 2, Panicked: 1}, r.Stats())
}

func TestRunnerTimeout(t *testing.T) {
	t.Parallel()
	r := NewRunner(logger.Discard(), 20*time.Millisecond)
	var got error
	r.Go("slow", func(ctx context.Context) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	r.Wait()
	assert.ErrorIs(t, got, context.DeadlineExceeded)
	assert.EqualValues(t, 1, r.Stats().Failed)
}

func TestRunnerDetachedFromCaller(t *testing.T) {
	t.Parallel()
	r := NewRunner(logger.Discard(), time.Second)
	caller, cancel := context.WithCancel(context.Background())
	cancel()

	var seen error
	r.Go("detached", func(ctx context.Context) error {
		seen = ctx.Err()
		return nil
	})
	r.Wait()
	require.Error(t, caller.Err())
	assert.NoError(t, seen)
}

func TestRunnerShutdownCancelsStragglers(t *testing.T) {
	t.Parallel()
	r := NewRunner(logger.Discard(), time.Minute)
	started := make(chan struct{})
	r.Go("straggler", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Shutdown(ctx), context.DeadlineExceeded)
	assert.Zero(t, r.Stats().Running)
}

func TestRunnerRejectsAfterShutdown(t *testing.T) {
	t.Parallel()
	r := NewRunner(logger.Discard(), time.Second)
	require.NoError(t, r.Shutdown(context.Background()))

	ran := false
	r.Go("late", func(context.Context) error {
		ran = true
		return nil
	})
	r.Wait()
	assert.False(t, ran)
	assert.Equal(t, Stats{Rejected: 1}, r.Stats())
}
