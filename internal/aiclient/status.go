package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"
)

// State is the normalized lifecycle state of a remote task.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// TaskStatus is one status observation. Result is set when completed and
// Error when failed. A failed task is an outcome, not a Go error.
type TaskStatus struct {
	State  State  `json:"state"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Status performs one GET /status/{taskID}.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	var out statusResponse
	path := "/status/" + url.PathEscape(taskID)
	if err := c.do(ctx, "status", resty.MethodGet, path, c.http.R(), &out); err != nil {
		return TaskStatus{}, err
	}
	return out.normalize(), nil
}

func (s statusResponse) normalize() TaskStatus {
	switch strings.ToLower(strings.TrimSpace(s.Status)) {
	case "completed":
		return TaskStatus{State: StateCompleted, Result: resultText(s.Result)}
	case "failed":
		msg := strings.TrimSpace(s.Error)
		if msg == "" {
			msg = "task failed"
		}
		return TaskStatus{State: StateFailed, Error: msg}
	default:
		return TaskStatus{State: StateInProgress}
	}
}

// resultText accepts a JSON string, an object with a "response" string, or
// any other JSON value, which is returned verbatim.
func resultText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var obj struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Response != nil {
		return *obj.Response
	}
	return string(raw)
}
