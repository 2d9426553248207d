package lifecycle

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/botoralo/botworker/internal/botworker/errkind"
)

const scopeName = "github.com/botoralo/botworker/internal/botworker/lifecycle"

type metrics struct {
	operations metric.Int64Counter
	denials    metric.Int64Counter
}

// newMetrics binds instruments to the global meter provider. Instrument
// errors only disable the affected counter.
func newMetrics() *metrics {
	meter := otel.Meter(scopeName)
	m := &metrics{}

	var err error
	m.operations, err = meter.Int64Counter("botworker.lifecycle.operations",
		metric.WithDescription("Lifecycle operations by operation and result"),
		metric.WithUnit("{operation}"))
	if err != nil {
		slog.Warn("lifecycle: operations counter unavailable", "err", err)
	}
	m.denials, err = meter.Int64Counter("botworker.admission.denials",
		metric.WithDescription("Admission denials by reason"),
		metric.WithUnit("{denial}"))
	if err != nil {
		slog.Warn("lifecycle: denials counter unavailable", "err", err)
	}
	return m
}

func (m *metrics) operation(ctx context.Context, op string, err error) {
	if m.operations == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(errkind.KindOf(err))
	}
	m.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

func (m *metrics) denial(ctx context.Context, reason string) {
	if m.denials == nil {
		return
	}
	m.denials.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
