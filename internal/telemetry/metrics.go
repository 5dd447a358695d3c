package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/keymint/keymint"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Validation metrics
	ChecksTotal   metric.Int64Counter
	VerdictsTotal metric.Int64Counter
	CheckDuration metric.Float64Histogram

	// Binding metrics
	BindsTotal         metric.Int64Counter
	BindRacesLostTotal metric.Int64Counter

	// Store resilience metrics
	StoreRetriesTotal    metric.Int64Counter
	StoreReconnectsTotal metric.Int64Counter
	StoreFailuresTotal   metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ChecksTotal, _ = meter.Int64Counter(
		"keymint.checks.total",
		metric.WithDescription("Total number of license check requests"),
		metric.WithUnit("{check}"),
	)

	m.VerdictsTotal, _ = meter.Int64Counter(
		"keymint.verdicts.total",
		metric.WithDescription("Total number of verdicts by status"),
		metric.WithUnit("{verdict}"),
	)

	m.CheckDuration, _ = meter.Float64Histogram(
		"keymint.checks.duration",
		metric.WithDescription("Duration of license check requests"),
		metric.WithUnit("ms"),
	)

	m.BindsTotal, _ = meter.Int64Counter(
		"keymint.binds.total",
		metric.WithDescription("Total number of successful first-use bindings"),
		metric.WithUnit("{bind}"),
	)

	m.BindRacesLostTotal, _ = meter.Int64Counter(
		"keymint.binds.races_lost.total",
		metric.WithDescription("Total number of bind attempts that lost the first-use race"),
		metric.WithUnit("{race}"),
	)

	m.StoreRetriesTotal, _ = meter.Int64Counter(
		"keymint.store.retries.total",
		metric.WithDescription("Total number of retried store operations"),
		metric.WithUnit("{retry}"),
	)

	m.StoreReconnectsTotal, _ = meter.Int64Counter(
		"keymint.store.reconnects.total",
		metric.WithDescription("Total number of forced store reconnections"),
		metric.WithUnit("{reconnect}"),
	)

	m.StoreFailuresTotal, _ = meter.Int64Counter(
		"keymint.store.failures.total",
		metric.WithDescription("Total number of store operations that failed after all retries"),
		metric.WithUnit("{failure}"),
	)

	return m
}
