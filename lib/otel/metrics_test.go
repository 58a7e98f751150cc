package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestResourceMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewResourceMetrics(mp.Meter("test"))
	require.NoError(t, err)

	m.RecordMount(ctx, "verity", nil)
	m.RecordMount(ctx, "loop", errors.New("boom"))
	m.RecordVerity(ctx, "format", nil)

	got := collect(t, reader)
	mounts, ok := got["citadel_resource_mounts_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, mounts.DataPoints, 2)

	verity, ok := got["citadel_verity_operations_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, verity.DataPoints, 1)
	assert.Equal(t, int64(1), verity.DataPoints[0].Value)
}

func TestInstallMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewInstallMetrics(mp.Meter("test"))
	require.NoError(t, err)
	m.RecordInstall(ctx, "extra", 2*time.Second, nil)

	got := collect(t, reader)
	_, ok := got["citadel_installs_total"]
	assert.True(t, ok)
	_, ok = got["citadel_install_duration_seconds"]
	assert.True(t, ok)
}

func TestNilMetricsAreNoops(t *testing.T) {
	var rm *ResourceMetrics
	rm.RecordMount(context.Background(), "loop", nil)
	var im *InstallMetrics
	im.RecordInstall(context.Background(), "extra", time.Second, nil)
}

func TestNewWithoutEndpoint(t *testing.T) {
	p, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.NotNil(t, p.Meter)
	assert.NotNil(t, p.Tracer)
	assert.Nil(t, p.LogHandler)
	require.NoError(t, p.Shutdown(context.Background()))
}
