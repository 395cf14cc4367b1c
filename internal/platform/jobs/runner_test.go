package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_RunsAndWaits(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	var n int32
	for i := 0; i < 10; i++ {
		ok := r.Go("count", func(ctx context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		})
		require.True(t, ok)
	}
	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, int32(10), n)
	assert.Equal(t, 0, r.Active())
}

func TestRunner_JobContextHasNoDeadline(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	result := make(chan bool, 1)

	r.Go("detached", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		result <- hasDeadline || ctx.Err() != nil
		return nil
	})

	require.NoError(t, r.Wait(context.Background()))
	assert.False(t, <-result)
}

func TestRunner_RecoversPanicAndErrors(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	r.Go("boom", func(ctx context.Context) error { panic("boom") })
	r.Go("fail", func(ctx context.Context) error { return errors.New("failed") })

	require.NoError(t, r.Wait(context.Background()))
	assert.Equal(t, 0, r.Active())
}

func TestRunner_WaitTimesOut(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	release := make(chan struct{})
	r.Go("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, r.Active())

	close(release)
	require.NoError(t, r.Wait(context.Background()))
}

func TestRunner_CloseRejectsNewJobs(t *testing.T) {
	r := NewRunner(zerolog.Nop())
	require.NoError(t, r.Close(context.Background()))

	ran := false
	ok := r.Go("late", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.False(t, ok)
	assert.False(t, ran)
}
