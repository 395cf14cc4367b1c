package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func find(points []Point, name string, attrs map[string]string) *Point {
	for i := range points {
		if points[i].Name != name {
			continue
		}
		match := true
		for k, v := range attrs {
			if points[i].Attributes[k] != v {
				match = false
				break
			}
		}
		if match {
			return &points[i]
		}
	}
	return nil
}

func TestMetrics_RecordsIntoProvider(t *testing.T) {
	p := NewProvider()
	defer p.Shutdown(context.Background())

	m, err := New(p.Meter())
	require.NoError(t, err)

	ctx := context.Background()
	m.Submitted(ctx, "analysis")
	m.Submitted(ctx, "analysis")
	m.Submitted(ctx, "note")
	m.Settled(ctx, "analysis", OutcomeCompleted, 1500*time.Millisecond)
	m.Request(ctx, "status", 200, 20*time.Millisecond, nil)
	m.Request(ctx, "status", 503, 5*time.Millisecond, errors.New("unavailable"))

	points, err := p.Snapshot(ctx)
	require.NoError(t, err)

	sub := find(points, "ai.task.submitted", map[string]string{"ai.operation": "analysis"})
	require.NotNil(t, sub)
	assert.Equal(t, float64(2), sub.Value)

	settled := find(points, "ai.task.duration", map[string]string{"outcome": OutcomeCompleted})
	require.NotNil(t, settled)
	assert.Equal(t, uint64(1), settled.Count)
	assert.Equal(t, float64(1500), settled.Value)

	errs := find(points, "ai.http.request.errors", map[string]string{"http.status_code": "503"})
	require.NotNil(t, errs)
	assert.Equal(t, float64(1), errs.Value)
}

func TestNop_DoesNotPanic(t *testing.T) {
	m := Nop()
	ctx := context.Background()
	m.Submitted(ctx, "note")
	m.Settled(ctx, "note", OutcomeTimeout, time.Second)
	m.Request(ctx, "generate-clinical-note", 0, time.Millisecond, errors.New("dial tcp"))
}

func TestProvider_Handler(t *testing.T) {
	p := NewProvider()
	defer p.Shutdown(context.Background())
	m, err := New(p.Meter())
	require.NoError(t, err)
	m.Submitted(context.Background(), "analysis")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, p.Handler()(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Metrics []Point `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotNil(t, find(body.Metrics, "ai.task.submitted", nil))
}
