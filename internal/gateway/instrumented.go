package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/kimhsiao/churchhouse/backend/internal/logging"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
)

// Instrumented records a span, call metrics and a log line for every gateway
// call.
type Instrumented struct {
	next     Gateway
	tracer   trace.Tracer
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumented wraps next with the given tracer and meter.
func NewInstrumented(next Gateway, tracer trace.Tracer, meter metric.Meter) (*Instrumented, error) {
	calls, err := meter.Int64Counter("churchhouse.gateway.calls",
		metric.WithDescription("Gateway calls issued"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("churchhouse.gateway.failures",
		metric.WithDescription("Gateway calls that returned an error"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("churchhouse.gateway.duration",
		metric.WithDescription("Gateway call latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumented{
		next:     next,
		tracer:   tracer,
		calls:    calls,
		failures: failures,
		duration: duration,
	}, nil
}

func (g *Instrumented) observe(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	attrs = append(attrs, attribute.String("gateway.op", op))
	ctx, span := g.tracer.Start(ctx, "gateway."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(err error) {
		elapsed := time.Since(start)
		set := metric.WithAttributes(attribute.String("gateway.op", op))
		g.calls.Add(ctx, 1, set)
		g.duration.Record(ctx, elapsed.Seconds(), set)

		if err != nil {
			g.failures.Add(ctx, 1, set)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logging.Warn("Gateway call failed", map[string]interface{}{
				"op":          op,
				"duration_ms": elapsed.Milliseconds(),
				"error":       err.Error(),
			})
		} else {
			logging.Debug("Gateway call", map[string]interface{}{
				"op":          op,
				"duration_ms": elapsed.Milliseconds(),
			})
		}
		span.End()
	}
}

// QueryPage implements Gateway.
func (g *Instrumented) QueryPage(ctx context.Context, kind models.Kind, filter models.Filter, cursor models.Cursor, pageSize int) (Page, error) {
	ctx, done := g.observe(ctx, "query_page",
		attribute.String("collection.kind", string(kind)),
		attribute.Bool("gateway.first_page", cursor.IsEmpty()),
		attribute.Int("gateway.page_size", pageSize),
	)
	page, err := g.next.QueryPage(ctx, kind, filter, cursor, pageSize)
	done(err)
	return page, err
}

// CreateRecord implements Gateway.
func (g *Instrumented) CreateRecord(ctx context.Context, kind models.Kind, payload Payload) (Record, error) {
	ctx, done := g.observe(ctx, "create_record", attribute.String("collection.kind", string(kind)))
	rec, err := g.next.CreateRecord(ctx, kind, payload)
	done(err)
	return rec, err
}

// MutateCounter implements Gateway.
func (g *Instrumented) MutateCounter(ctx context.Context, id string, counter string, delta int64) (CounterResult, error) {
	ctx, done := g.observe(ctx, "mutate_counter",
		attribute.String("record.id", id),
		attribute.String("record.counter", counter),
		attribute.Int64("record.delta", delta),
	)
	res, err := g.next.MutateCounter(ctx, id, counter, delta)
	done(err)
	return res, err
}

// DeleteRecord implements Gateway.
func (g *Instrumented) DeleteRecord(ctx context.Context, id string) error {
	ctx, done := g.observe(ctx, "delete_record", attribute.String("record.id", id))
	err := g.next.DeleteRecord(ctx, id)
	done(err)
	return err
}
