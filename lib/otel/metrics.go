package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ResourceMetrics holds metrics for mounting and verifying resource images.
type ResourceMetrics struct {
	MountsTotal      metric.Int64Counter
	VerityOperations metric.Int64Counter
}

// NewResourceMetrics creates metrics for the resource image store.
func NewResourceMetrics(meter metric.Meter) (*ResourceMetrics, error) {
	mountsTotal, err := meter.Int64Counter(
		"citadel_resource_mounts_total",
		metric.WithDescription("Total number of resource image mounts by mode and result"),
	)
	if err != nil {
		return nil, err
	}

	verityOperations, err := meter.Int64Counter(
		"citadel_verity_operations_total",
		metric.WithDescription("Total number of dm-verity operations by operation and result"),
	)
	if err != nil {
		return nil, err
	}

	return &ResourceMetrics{
		MountsTotal:      mountsTotal,
		VerityOperations: verityOperations,
	}, nil
}

// RecordMount counts a mount attempt. mode is "verity" or "loop".
func (m *ResourceMetrics) RecordMount(ctx context.Context, mode string, err error) {
	if m == nil {
		return
	}
	m.MountsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("result", result(err)),
	))
}

// RecordVerity counts a verity operation: format, verify or open.
func (m *ResourceMetrics) RecordVerity(ctx context.Context, op string, err error) {
	if m == nil {
		return
	}
	m.VerityOperations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("result", result(err)),
	))
}

// InstallMetrics holds metrics for the update orchestrator.
type InstallMetrics struct {
	InstallsTotal   metric.Int64Counter
	InstallDuration metric.Float64Histogram
	QueueLength     metric.Int64ObservableGauge
}

// NewInstallMetrics creates metrics for image installs.
func NewInstallMetrics(meter metric.Meter) (*InstallMetrics, error) {
	installsTotal, err := meter.Int64Counter(
		"citadel_installs_total",
		metric.WithDescription("Total number of image installs by type and result"),
	)
	if err != nil {
		return nil, err
	}

	installDuration, err := meter.Float64Histogram(
		"citadel_install_duration_seconds",
		metric.WithDescription("Time to install an image"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queueLength, err := meter.Int64ObservableGauge(
		"citadel_install_queue_length",
		metric.WithDescription("Current number of install jobs waiting to run"),
	)
	if err != nil {
		return nil, err
	}

	return &InstallMetrics{
		InstallsTotal:   installsTotal,
		InstallDuration: installDuration,
		QueueLength:     queueLength,
	}, nil
}

// RecordInstall records a finished install.
func (m *InstallMetrics) RecordInstall(ctx context.Context, imageType string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("type", imageType),
		attribute.String("result", result(err)),
	)
	m.InstallsTotal.Add(ctx, 1, attrs)
	m.InstallDuration.Record(ctx, duration.Seconds(), attrs)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
