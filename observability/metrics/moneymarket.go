package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "walletlend/moneymarket"

// MoneyMarketMetrics tracks position operations and the host batches that
// carry them. Every observation is exported to Prometheus and to the
// OpenTelemetry meter provider.
type MoneyMarketMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	batches    *prometheus.CounterVec
	batchCalls prometheus.Histogram

	operationCounter  metric.Int64Counter
	operationDuration metric.Float64Histogram
	batchCounter      metric.Int64Counter
	batchSize         metric.Int64Histogram
}

var (
	moneyMarketOnce     sync.Once
	moneyMarketRegistry *MoneyMarketMetrics
)

// MoneyMarket returns the process-wide metrics, registered with the default
// Prometheus registry and recording into the global meter provider.
func MoneyMarket() *MoneyMarketMetrics {
	moneyMarketOnce.Do(func() {
		moneyMarketRegistry = newMoneyMarketMetrics(otel.GetMeterProvider().Meter(meterName))
		prometheus.MustRegister(moneyMarketRegistry.collectors()...)
	})
	return moneyMarketRegistry
}

func newMoneyMarketMetrics(meter metric.Meter) *MoneyMarketMetrics {
	m := &MoneyMarketMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletlend",
			Subsystem: "moneymarket",
			Name:      "operations_total",
			Help:      "Position operations segmented by operation and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "walletlend",
			Subsystem: "moneymarket",
			Name:      "operation_duration_seconds",
			Help:      "Latency of position operations including host commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletlend",
			Subsystem: "evmhost",
			Name:      "batches_total",
			Help:      "Wallet multiCall batches segmented by outcome.",
		}, []string{"outcome"}),
		batchCalls: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "walletlend",
			Subsystem: "evmhost",
			Name:      "batch_calls",
			Help:      "Number of invokes folded into each submitted batch.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
	}
	m.initMeter(meter)
	return m
}

// initMeter creates the OpenTelemetry instruments, falling back to no-op
// instruments when the provider rejects one.
func (m *MoneyMarketMetrics) initMeter(meter metric.Meter) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	fallback := noop.NewMeterProvider().Meter(meterName)

	operations, err := meter.Int64Counter("walletlend.moneymarket.operations",
		metric.WithDescription("Position operations segmented by operation and outcome."))
	if err != nil {
		operations, _ = fallback.Int64Counter("walletlend.moneymarket.operations")
	}
	duration, err := meter.Float64Histogram("walletlend.moneymarket.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Latency of position operations including host commit."))
	if err != nil {
		duration, _ = fallback.Float64Histogram("walletlend.moneymarket.operation.duration")
	}
	batches, err := meter.Int64Counter("walletlend.evmhost.batches",
		metric.WithDescription("Wallet multiCall batches segmented by outcome."))
	if err != nil {
		batches, _ = fallback.Int64Counter("walletlend.evmhost.batches")
	}
	size, err := meter.Int64Histogram("walletlend.evmhost.batch.calls",
		metric.WithDescription("Number of invokes folded into each submitted batch."))
	if err != nil {
		size, _ = fallback.Int64Histogram("walletlend.evmhost.batch.calls")
	}
	m.operationCounter = operations
	m.operationDuration = duration
	m.batchCounter = batches
	m.batchSize = size
}

func (m *MoneyMarketMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.operations, m.latency, m.batches, m.batchCalls}
}

// ObserveOperation records one finished operation. A nil err counts as "ok".
func (m *MoneyMarketMetrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	operation = normalise(operation)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())

	ctx := context.Background()
	m.operationCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
	m.operationDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("operation", operation)))
}

// ObserveBatch records a batch submission outcome such as "committed",
// "reverted" or "discarded".
func (m *MoneyMarketMetrics) ObserveBatch(outcome string, calls int) {
	if m == nil {
		return
	}
	outcome = normalise(outcome)
	m.batches.WithLabelValues(outcome).Inc()

	ctx := context.Background()
	m.batchCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if calls > 0 {
		m.batchCalls.Observe(float64(calls))
		m.batchSize.Record(ctx, int64(calls))
	}
}

func normalise(label string) string {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
