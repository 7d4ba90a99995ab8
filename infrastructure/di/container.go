// Package di assembles the service from configuration.
package di

import (
	"context"

	"go.uber.org/zap"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/application/assistant"
	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/gateway"
	"lessonmap-backend/application/ports"
	domainconfig "lessonmap-backend/domain/config"
	"lessonmap-backend/infrastructure/config"
	"lessonmap-backend/pkg/concurrency"
	"lessonmap-backend/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	DomainConfig *domainconfig.DomainConfig
	Logger       *zap.Logger
	Metrics      *observability.Collector
	Tracing      *observability.TracerProvider
	Store        ports.GraphStore
	Locker       ports.GraphLocker
	Publisher    ports.EventPublisher
	Pool         *concurrency.WorkerPool
	Gateway      *gateway.Gateway
	Catalog      *agents.Catalog
	Engine       *commit.Engine
	Assistant    *assistant.Service
}

// Shutdown stops the worker pool, flushes traces and syncs the logger.
func (c *Container) Shutdown(ctx context.Context) error {
	c.Pool.Stop()
	err := c.Tracing.Shutdown(ctx)
	_ = c.Logger.Sync()
	return err
}
