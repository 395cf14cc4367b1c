// Package poller waits for a remote task to settle by checking its status
// at a fixed interval under a bounded attempt budget.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/medscribe/medscribe/internal/aiclient"
)

var (
	ErrTaskFailed   = errors.New("task failed")
	ErrTaskTimedOut = errors.New("task timed out")
)

// TaskFailedError is a task the remote service reported as failed.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Message)
}

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// TimeoutError is a task still in progress after the attempt budget.
type TimeoutError struct {
	TaskID   string
	Attempts int
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s still in progress after %d checks (%s)", e.TaskID, e.Attempts, e.Waited)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTaskTimedOut }

// Source is anything that can report a task's status.
type Source interface {
	Status(ctx context.Context, taskID string) (aiclient.TaskStatus, error)
}

// Poller checks a task at most MaxAttempts times, sleeping Interval before
// every check.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	// Sleep defaults to a timer that returns early with ctx.Err().
	Sleep func(ctx context.Context, d time.Duration) error
	// OnCheck, when set, is called after every status observation.
	OnCheck func(attempt int, status aiclient.TaskStatus)
}

// Wait returns the task result once it completes. It returns a
// *TaskFailedError, a *TimeoutError, or the first error from src or Sleep
// unchanged in its chain; a status error aborts without retrying.
func (p Poller) Wait(ctx context.Context, src Source, taskID string) (string, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := sleep(ctx, p.Interval); err != nil {
			return "", fmt.Errorf("wait for task %s: %w", taskID, err)
		}

		st, err := src.Status(ctx, taskID)
		if err != nil {
			return "", fmt.Errorf("check task %s (attempt %d): %w", taskID, attempt, err)
		}
		if p.OnCheck != nil {
			p.OnCheck(attempt, st)
		}

		switch st.State {
		case aiclient.StateCompleted:
			return st.Result, nil
		case aiclient.StateFailed:
			return "", &TaskFailedError{TaskID: taskID, Message: st.Error}
		}
	}

	return "", &TimeoutError{
		TaskID:   taskID,
		Attempts: p.MaxAttempts,
		Waited:   p.Interval * time.Duration(p.MaxAttempts),
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
