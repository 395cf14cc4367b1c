// Package telemetry records AI task traffic with OpenTelemetry instruments and
// exposes an in-process snapshot of them.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const instrumentationName = "github.com/medscribe/medscribe/ai"

// Outcomes recorded on settled tasks.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// Metrics holds the AI task instruments.
type Metrics struct {
	submitted       metric.Int64Counter
	settled         metric.Int64Counter
	taskDuration    metric.Float64Histogram
	requestCount    metric.Int64Counter
	requestErrors   metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// New creates the instruments on meter.
func New(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.submitted, err = meter.Int64Counter("ai.task.submitted",
		metric.WithDescription("Number of tasks submitted to the AI service")); err != nil {
		return nil, err
	}
	if m.settled, err = meter.Int64Counter("ai.task.settled",
		metric.WithDescription("Number of AI tasks that reached a final outcome")); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram("ai.task.duration",
		metric.WithDescription("Time from submission to outcome in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.requestCount, err = meter.Int64Counter("ai.http.request.count",
		metric.WithDescription("Number of HTTP requests to the AI service")); err != nil {
		return nil, err
	}
	if m.requestErrors, err = meter.Int64Counter("ai.http.request.errors",
		metric.WithDescription("Number of failed HTTP requests to the AI service")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("ai.http.request.duration",
		metric.WithDescription("AI service request duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

// Global builds Metrics on the globally registered meter provider.
func Global() (*Metrics, error) {
	return New(otel.Meter(instrumentationName))
}

// Nop returns Metrics that record nothing.
func Nop() *Metrics {
	m, _ := New(noop.NewMeterProvider().Meter(instrumentationName))
	return m
}

// Submitted counts a task handed to the AI service.
func (m *Metrics) Submitted(ctx context.Context, operation string) {
	m.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("ai.operation", operation)))
}

// Settled counts a task outcome and how long it took.
func (m *Metrics) Settled(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("ai.operation", operation),
		attribute.String("outcome", outcome),
	)
	m.settled.Add(ctx, 1, attrs)
	m.taskDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// Request records one HTTP exchange with the AI service.
func (m *Metrics) Request(ctx context.Context, endpoint string, statusCode int, elapsed time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("ai.endpoint", endpoint)}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}
	opt := metric.WithAttributes(attrs...)

	m.requestCount.Add(ctx, 1, opt)
	m.requestDuration.Record(ctx, float64(elapsed.Milliseconds()), opt)
	if err != nil {
		m.requestErrors.Add(ctx, 1, opt)
	}
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider is an SDK meter provider backed by a manual reader, so current
// values can be served without an external collector.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewProvider creates a provider and installs it as the global one.
func NewProvider() *Provider {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	return &Provider{mp: mp, reader: reader}
}

// Meter returns a meter scoped to the AI instruments.
func (p *Provider) Meter() metric.Meter {
	return p.mp.Meter(instrumentationName)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}

// Point is one series of a collected instrument.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Snapshot collects current values. Counters report their sum; histograms
// report their sum and observation count.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	var out []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out = append(out, Point{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Handler serves the snapshot as JSON.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		points, err := p.Snapshot(c.Request().Context())
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "metrics unavailable").SetInternal(err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"metrics": points})
	}
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}
