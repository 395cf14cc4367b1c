// Package aiclient talks to the external AI inference service: it submits
// analysis and note tasks, checks task status and transcribes audio.
package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/medscribe/medscribe/internal/platform/telemetry"
)

type Config struct {
	BaseURL string
	// ASRURL is the absolute transcription endpoint. Empty means
	// BaseURL + "/transcribe".
	ASRURL  string
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	http    *resty.Client
	asrURL  string
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

func New(cfg Config, logger zerolog.Logger, metrics *telemetry.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	asr := cfg.ASRURL
	if asr == "" {
		asr = base + "/transcribe"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if metrics == nil {
		metrics = telemetry.Nop()
	}

	return &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		asrURL:  asr,
		logger:  logger.With().Str("component", "aiclient").Logger(),
		metrics: metrics,
	}
}

// Attachment is one clinical file streamed to the service.
type Attachment struct {
	Name    string
	Content io.Reader
}

// do executes req, records it and maps failures onto TransportError or
// ErrServiceUnavailable. out, when non-nil, receives the decoded JSON body.
func (c *Client) do(ctx context.Context, op, method, url string, req *resty.Request, out interface{}) error {
	start := time.Now()
	resp, err := req.SetContext(ctx).Execute(method, url)
	status := 0
	if resp != nil {
		status = resp.StatusCode()
	}

	switch {
	case err != nil:
		err = &TransportError{Op: op, Err: err}
	case status == http.StatusServiceUnavailable:
		err = fmt.Errorf("ai %s: %w", op, ErrServiceUnavailable)
	case !resp.IsSuccess():
		err = &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("%s", snippet(resp.Body()))}
	case out != nil:
		if jerr := json.Unmarshal(resp.Body(), out); jerr != nil {
			err = &TransportError{Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", jerr)}
		}
	}

	c.metrics.Request(ctx, op, status, time.Since(start), err)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Int("status_code", status).Dur("elapsed", time.Since(start)).Msg("ai request failed")
		return err
	}
	c.logger.Debug().Str("op", op).Int("status_code", status).Dur("elapsed", time.Since(start)).Msg("ai request")
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}

// Health reports the service's own health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(ctx, "health", resty.MethodGet, "/health", c.http.R(), &out); err != nil {
		return nil, err
	}
	return out, nil
}
