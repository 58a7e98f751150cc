// Package providers holds the wire providers of the install daemon.
package providers

import (
	"context"
	"log/slog"
	"os"

	"github.com/subgraph/citadel/cmd/citadel-installd/config"
	"github.com/subgraph/citadel/lib/bootcfg"
	"github.com/subgraph/citadel/lib/disks"
	"github.com/subgraph/citadel/lib/installer"
	"github.com/subgraph/citadel/lib/logger"
	"github.com/subgraph/citadel/lib/otel"
	"github.com/subgraph/citadel/lib/partitions"
	"github.com/subgraph/citadel/lib/paths"
	"github.com/subgraph/citadel/lib/resources"
	"github.com/subgraph/citadel/lib/system"
	"github.com/subgraph/citadel/lib/update"
)

// ProvideContext provides a base context
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideConfig provides the application configuration
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideOtel provides the meter, tracer and log export of the daemon.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*otel.Provider, func(), error) {
	p, err := otel.New(ctx, otel.Config{
		Endpoint:    cfg.OtelEndpoint,
		ServiceName: cfg.OtelServiceName,
		Insecure:    cfg.OtelInsecure,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Shutdown(context.Background()); err != nil {
			slog.Error("failed to shutdown telemetry", "error", err)
		}
	}
	return p, cleanup, nil
}

// ProvideLogger provides a JSON logger on stdout, also exported to the
// collector when one is configured.
func ProvideLogger(cfg *config.Config, p *otel.Provider) *slog.Logger {
	log := logger.Tee(logger.NewJSON(os.Stdout, logger.ParseLevel(cfg.LogLevel)), p.LogHandler)
	slog.SetDefault(log)
	return log
}

// ProvidePaths provides the filesystem layout
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.RootDir).
		WithStorageDir(cfg.StorageDir).
		WithSysrootDir(cfg.SysrootDir).
		WithBootDir(cfg.BootDir)
}

// ProvideBootConfig reads the kernel command line and os-release. A system
// without them runs with an empty boot configuration.
func ProvideBootConfig(ctx context.Context, log *slog.Logger, p *paths.Paths) *bootcfg.Config {
	cfg, err := bootcfg.Load(p)
	if err != nil {
		log.WarnContext(ctx, "failed to read boot configuration, using defaults", "error", err)
		return bootcfg.Empty()
	}
	return cfg
}

// ProvideResourceMetrics provides mount and verity metrics
func ProvideResourceMetrics(p *otel.Provider) (*otel.ResourceMetrics, error) {
	return otel.NewResourceMetrics(p.Meter)
}

// ProvideInstallMetrics provides install metrics
func ProvideInstallMetrics(p *otel.Provider) (*otel.InstallMetrics, error) {
	return otel.NewInstallMetrics(p.Meter)
}

// ProvideStore provides the resource image store
func ProvideStore(cfg *config.Config, p *paths.Paths, boot *bootcfg.Config, m *otel.ResourceMetrics) *resources.Store {
	return resources.NewStore(resources.Config{
		Paths:         p,
		Boot:          boot,
		StorageDevice: cfg.StorageDevice,
		Metrics:       m,
	})
}

// ProvidePartitions provides the rootfs partition manager
func ProvidePartitions(cfg *config.Config, p *paths.Paths) *partitions.Manager {
	return partitions.NewManager(cfg.RootfsPartitions, partitions.SystemInUse{Paths: p})
}

// ProvideSystemManager provides the boot partition kernel manager
func ProvideSystemManager(p *paths.Paths) system.Manager {
	return system.NewManager(p)
}

// ProvideDiskFinder provides boot partition discovery
func ProvideDiskFinder(p *paths.Paths) *disks.Finder {
	return disks.NewFinder(p, nil)
}

// ProvideInstaller provides the update orchestrator
func ProvideInstaller(store *resources.Store, parts *partitions.Manager, sys system.Manager, m *otel.InstallMetrics, p *otel.Provider) *update.Installer {
	return update.NewInstaller(update.Config{
		Store:      store,
		Partitions: parts,
		System:     sys,
		Metrics:    m,
		Tracer:     p.Tracer,
	})
}

// ProvideService provides the install job service. Jobs inherit ctx and
// its logger.
func ProvideService(ctx context.Context, log *slog.Logger, inst *update.Installer, p *paths.Paths, finder *disks.Finder, prov *otel.Provider, m *otel.InstallMetrics) (*installer.Service, error) {
	return installer.NewService(logger.AddToContext(ctx, log), installer.Config{
		Installer: inst,
		Paths:     p,
		Disks:     finder,
		Meter:     prov.Meter,
		Metrics:   m,
	})
}
