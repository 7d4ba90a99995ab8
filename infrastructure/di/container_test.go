package di

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lessonmap-backend/infrastructure/config"
	"lessonmap-backend/infrastructure/messaging"
	"lessonmap-backend/infrastructure/messaging/eventbridge"
	"lessonmap-backend/infrastructure/persistence/dynamodb"
	"lessonmap-backend/infrastructure/persistence/memory"
	"lessonmap-backend/pkg/concurrency"
)

func TestInitializeContainer_Local(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "scripted"
	cfg.Tracing.Enabled = false

	c, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	assert.IsType(t, &memory.GraphStore{}, c.Store)
	assert.IsType(t, &concurrency.KeyedMutex{}, c.Locker)
	assert.IsType(t, &messaging.LogPublisher{}, c.Publisher)
	assert.NotNil(t, c.Assistant)
	assert.NotNil(t, c.Engine)
}

func TestInitializeContainer_AWSBackends(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "scripted"
	cfg.Storage.Backend = "dynamodb"
	cfg.Storage.DistributedLock = true
	cfg.Events.Backend = "eventbridge"

	c, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	assert.IsType(t, &dynamodb.GraphStore{}, c.Store)
	assert.IsType(t, &dynamodb.GraphLock{}, c.Locker)
	assert.IsType(t, &eventbridge.Publisher{}, c.Publisher)
}

func TestProvideLogger_RejectsUnknownLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"
	_, err := ProvideLogger(cfg)
	assert.Error(t, err)
}
