//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/subgraph/citadel/cmd/citadel-installd/config"
	"github.com/subgraph/citadel/lib/installer"
	"github.com/subgraph/citadel/lib/otel"
	"github.com/subgraph/citadel/lib/providers"
)

// application struct to hold initialized components
type application struct {
	Ctx     context.Context
	Logger  *slog.Logger
	Config  *config.Config
	Otel    *otel.Provider
	Service *installer.Service
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideContext,
		providers.ProvideConfig,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvidePaths,
		providers.ProvideBootConfig,
		providers.ProvideResourceMetrics,
		providers.ProvideInstallMetrics,
		providers.ProvideStore,
		providers.ProvidePartitions,
		providers.ProvideSystemManager,
		providers.ProvideDiskFinder,
		providers.ProvideInstaller,
		providers.ProvideService,
		wire.Struct(new(application), "*"),
	))
}
