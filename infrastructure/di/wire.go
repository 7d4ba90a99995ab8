//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/application/gateway"
	"lessonmap-backend/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideTracerProvider,
	ProvideTracer,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideGraphStore,
	ProvideGraphLocker,
	ProvideEventPublisher,
	ProvideTextGenerator,
	ProvideWorkerPool,
	ProvideGateway,
	wire.Bind(new(agents.Generator), new(*gateway.Gateway)),
	ProvideCatalog,
	ProvideStager,
	ProvideCommitEngine,
	ProvideAssistant,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
