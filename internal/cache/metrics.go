package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/oran3030/samply/internal/cache"

var (
	resultHit  = metric.WithAttributes(attribute.String("cache.result", "hit"))
	resultMiss = metric.WithAttributes(attribute.String("cache.result", "miss"))

	reasonBudget  = metric.WithAttributes(attribute.String("cache.reason", "budget"))
	reasonExpired = metric.WithAttributes(attribute.String("cache.reason", "expired"))
	reasonRemoved = metric.WithAttributes(attribute.String("cache.reason", "removed"))
)

// storeMetrics records cache activity as OpenTelemetry instruments.
type storeMetrics struct {
	lookups  metric.Int64Counter
	removals metric.Int64Counter
	written  metric.Int64Counter
	errors   metric.Int64Counter
	size     metric.Int64UpDownCounter
}

func newStoreMetrics(provider metric.MeterProvider) (*storeMetrics, error) {
	meter := provider.Meter(meterName)

	lookups, err := meter.Int64Counter(
		"samply.cache.lookups",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	removals, err := meter.Int64Counter(
		"samply.cache.removals",
		metric.WithDescription("Entries removed by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	written, err := meter.Int64Counter(
		"samply.cache.written",
		metric.WithDescription("Bytes accepted by Put"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"samply.cache.backend_errors",
		metric.WithDescription("Backend I/O failures"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	size, err := meter.Int64UpDownCounter(
		"samply.cache.size",
		metric.WithDescription("Bytes currently cached"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &storeMetrics{
		lookups:  lookups,
		removals: removals,
		written:  written,
		errors:   errs,
		size:     size,
	}, nil
}

func (m *storeMetrics) lookup(hit bool) {
	if hit {
		m.lookups.Add(context.Background(), 1, resultHit)
		return
	}
	m.lookups.Add(context.Background(), 1, resultMiss)
}

func (m *storeMetrics) removed(reason metric.AddOption) {
	m.removals.Add(context.Background(), 1, reason)
}

func (m *storeMetrics) put(bytes uint64) {
	m.written.Add(context.Background(), int64(bytes))
}

func (m *storeMetrics) resized(delta int64) {
	m.size.Add(context.Background(), delta)
}

func (m *storeMetrics) backendError(action string) {
	m.errors.Add(context.Background(), 1, metric.WithAttributes(attribute.String("cache.action", action)))
}
