package otel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitDisabledIsNoop(t *testing.T) {
	t.Parallel()
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
	_, err = Init(context.Background(), Config{ServiceName: "lendingd", Traces: true, SampleRatio: 2})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()
	headers := ParseHeaders(" authorization = Bearer x ,broken,=nokey,tenant=a=b")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "a=b"}, headers)
}

func TestSamplerRatio(t *testing.T) {
	t.Parallel()
	require.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestShutdownAllRunsInReverse(t *testing.T) {
	t.Parallel()
	var order []string
	boom := errors.New("boom")
	err := shutdownAll(context.Background(), []shutdownFunc{
		func(context.Context) error { order = append(order, "traces"); return nil },
		func(context.Context) error { order = append(order, "metrics"); return boom },
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"metrics", "traces"}, order)
	require.NoError(t, shutdownAll(context.Background(), nil))
}
