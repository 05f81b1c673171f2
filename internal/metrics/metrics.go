// Package metrics exposes engine counters through OpenTelemetry, exported in
// Prometheus format.
package metrics

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Setup installs a global meter provider backed by the Prometheus exporter.
// The exporter registers with the default Prometheus registry, so
// promhttp.Handler() serves the collected series.
func Setup() (*sdkmetric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider, nil
}

// Recorder records engine metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	ordersCreated   metric.Int64Counter
	checkouts       metric.Int64Counter
	transitions     metric.Int64Counter
	eventsPublished metric.Int64Counter
	receivedAmount  metric.Float64Histogram
}

// NewRecorder creates the instruments on meter.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	ordersCreated, err := meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Total number of orders created"),
	)
	if err != nil {
		return nil, err
	}

	checkouts, err := meter.Int64Counter(
		"order_checkouts_total",
		metric.WithDescription("Total number of checkouts recorded"),
	)
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter(
		"order_transitions_total",
		metric.WithDescription("Order status transitions by target status"),
	)
	if err != nil {
		return nil, err
	}

	eventsPublished, err := meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Change events delivered per sink and result"),
	)
	if err != nil {
		return nil, err
	}

	receivedAmount, err := meter.Float64Histogram(
		"checkout_received_amount",
		metric.WithDescription("Amount collected per checkout"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		ordersCreated:   ordersCreated,
		checkouts:       checkouts,
		transitions:     transitions,
		eventsPublished: eventsPublished,
		receivedAmount:  receivedAmount,
	}, nil
}

func (r *Recorder) OrderCreated(ctx context.Context) {
	if r == nil {
		return
	}
	r.ordersCreated.Add(ctx, 1)
}

func (r *Recorder) Checkout(ctx context.Context, received decimal.Decimal) {
	if r == nil {
		return
	}
	r.checkouts.Add(ctx, 1)
	r.receivedAmount.Record(ctx, received.InexactFloat64())
}

func (r *Recorder) Transition(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *Recorder) EventPublished(ctx context.Context, sink string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.String("result", result),
	))
}
