package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/medscribe/internal/aiclient"
)

// scriptedSource replays statuses in order and repeats the last one.
type scriptedSource struct {
	mu       sync.Mutex
	statuses []aiclient.TaskStatus
	errAt    int
	err      error
	calls    int
}

func (s *scriptedSource) Status(_ context.Context, _ string) (aiclient.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil && s.calls == s.errAt {
		return aiclient.TaskStatus{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.statuses) {
		i = len(s.statuses) - 1
	}
	return s.statuses[i], nil
}

func inProgress(n int) []aiclient.TaskStatus {
	out := make([]aiclient.TaskStatus, n)
	for i := range out {
		out[i] = aiclient.TaskStatus{State: aiclient.StateInProgress}
	}
	return out
}

type sleepCounter struct {
	n     int
	total time.Duration
}

func (s *sleepCounter) sleep(_ context.Context, d time.Duration) error {
	s.n++
	s.total += d
	return nil
}

func TestWait_CompletesAfterKInProgress(t *testing.T) {
	for _, k := range []int{0, 1, 5} {
		src := &scriptedSource{statuses: append(inProgress(k), aiclient.TaskStatus{State: aiclient.StateCompleted, Result: "done"})}
		sc := &sleepCounter{}
		p := Poller{Interval: 10 * time.Second, MaxAttempts: 240, Sleep: sc.sleep}

		got, err := p.Wait(context.Background(), src, "t1")
		require.NoError(t, err)
		assert.Equal(t, "done", got)
		assert.Equal(t, k+1, src.calls, "status checks for k=%d", k)
		assert.Equal(t, k+1, sc.n, "sleeps for k=%d", k)
	}
}

func TestWait_TimesOutAtExactlyMaxAttempts(t *testing.T) {
	src := &scriptedSource{statuses: inProgress(1)}
	sc := &sleepCounter{}
	p := Poller{Interval: 5 * time.Second, MaxAttempts: 3, Sleep: sc.sleep}

	_, err := p.Wait(context.Background(), src, "t1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTaskTimedOut)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 15*time.Second, te.Waited)
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 15*time.Second, sc.total)
}

func TestWait_FailedTask(t *testing.T) {
	src := &scriptedSource{statuses: []aiclient.TaskStatus{
		{State: aiclient.StateInProgress},
		{State: aiclient.StateFailed, Error: "model crashed"},
	}}
	p := Poller{Interval: time.Second, MaxAttempts: 10, Sleep: (&sleepCounter{}).sleep}

	_, err := p.Wait(context.Background(), src, "t1")
	assert.ErrorIs(t, err, ErrTaskFailed)
	assert.NotErrorIs(t, err, ErrTaskTimedOut)

	var fe *TaskFailedError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "model crashed", fe.Message)
	assert.Equal(t, "t1", fe.TaskID)
	assert.Equal(t, 2, src.calls)
}

func TestWait_StatusErrorAbortsWithoutRetry(t *testing.T) {
	transport := &aiclient.TransportError{Op: "status", StatusCode: 502, Err: errors.New("bad gateway")}
	src := &scriptedSource{statuses: inProgress(1), errAt: 2, err: transport}
	p := Poller{Interval: time.Second, MaxAttempts: 10, Sleep: (&sleepCounter{}).sleep}

	_, err := p.Wait(context.Background(), src, "t1")
	var te *aiclient.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 2, src.calls)
}

func TestWait_SleepErrorStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &scriptedSource{statuses: inProgress(1)}
	p := Poller{Interval: time.Hour, MaxAttempts: 10}

	_, err := p.Wait(ctx, src, "t1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, src.calls)
}

func TestWait_OnCheck(t *testing.T) {
	src := &scriptedSource{statuses: append(inProgress(2), aiclient.TaskStatus{State: aiclient.StateCompleted})}
	var attempts []int
	p := Poller{
		Interval:    time.Millisecond,
		MaxAttempts: 5,
		Sleep:       (&sleepCounter{}).sleep,
		OnCheck:     func(a int, _ aiclient.TaskStatus) { attempts = append(attempts, a) },
	}
	_, err := p.Wait(context.Background(), src, "t1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
