package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, pair := range m.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMoneyMarketMetricsExportBothWays(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMoneyMarketMetrics(provider.Meter(meterName))
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.collectors()...)

	m.ObserveOperation("open_loan", nil, 2*time.Second)
	m.ObserveOperation("open_loan", errors.New("boom"), time.Second)
	m.ObserveOperation(" ", nil, time.Millisecond)
	m.ObserveBatch("committed", 3)
	m.ObserveBatch("discarded", 0)

	ops := gather(t, reg, "walletlend_moneymarket_operations_total")
	counts := make(map[string]float64)
	for _, metric := range ops.GetMetric() {
		counts[labelValue(metric, "operation")+"/"+labelValue(metric, "outcome")] = metric.GetCounter().GetValue()
	}
	require.Equal(t, map[string]float64{"open_loan/ok": 1, "open_loan/error": 1, "unknown/ok": 1}, counts)
	calls := gather(t, reg, "walletlend_evmhost_batch_calls")
	require.EqualValues(t, 1, calls.GetMetric()[0].GetHistogram().GetSampleCount())

	exported := collect(t, reader)
	opSum, ok := exported["walletlend.moneymarket.operations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, opSum.DataPoints, 3)
	var total int64
	for _, point := range opSum.DataPoints {
		total += point.Value
	}
	require.EqualValues(t, 3, total)

	duration, ok := exported["walletlend.moneymarket.operation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var seconds float64
	for _, point := range duration.DataPoints {
		seconds += point.Sum
	}
	require.InDelta(t, 3.001, seconds, 1e-9)

	batches, ok := exported["walletlend.evmhost.batches"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, batches.DataPoints, 2)
	size, ok := exported["walletlend.evmhost.batch.calls"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, size.DataPoints, 1)
	require.EqualValues(t, 1, size.DataPoints[0].Count)
}

func TestNilMetricsAreInert(t *testing.T) {
	t.Parallel()
	var m *MoneyMarketMetrics
	m.ObserveOperation("open_loan", nil, time.Second)
	m.ObserveBatch("committed", 1)

	fallback := newMoneyMarketMetrics(nil)
	fallback.ObserveOperation("open_loan", nil, time.Second)
}
