package di

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lessonmap-backend/application/agents"
	"lessonmap-backend/application/assistant"
	"lessonmap-backend/application/commit"
	"lessonmap-backend/application/gateway"
	"lessonmap-backend/application/ports"
	"lessonmap-backend/application/staging"
	domainconfig "lessonmap-backend/domain/config"
	"lessonmap-backend/infrastructure/config"
	"lessonmap-backend/infrastructure/llm"
	"lessonmap-backend/infrastructure/messaging"
	"lessonmap-backend/infrastructure/messaging/eventbridge"
	"lessonmap-backend/infrastructure/persistence/dynamodb"
	"lessonmap-backend/infrastructure/persistence/memory"
	"lessonmap-backend/pkg/concurrency"
	"lessonmap-backend/pkg/observability"
	"lessonmap-backend/pkg/retry"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() || cfg.IsLambda {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("lessonmap")
}

// ProvideTracerProvider installs OpenTelemetry tracing when enabled
func ProvideTracerProvider(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	return observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "lessonmap-backend",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		Insecure:     !cfg.IsProduction(),
		SampleRate:   cfg.Tracing.SampleRate,
	})
}

// ProvideTracer returns the service tracer
func ProvideTracer(tp *observability.TracerProvider) trace.Tracer {
	return tp.Tracer()
}

// ProvideDomainConfig returns the domain limits
func ProvideDomainConfig() *domainconfig.DomainConfig {
	return domainconfig.DefaultDomainConfig()
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideDynamoDBClient creates a DynamoDB client
func ProvideDynamoDBClient(awsCfg aws.Config) *awsdynamodb.Client {
	return awsdynamodb.NewFromConfig(awsCfg)
}

// ProvideEventBridgeClient creates an EventBridge client
func ProvideEventBridgeClient(awsCfg aws.Config) *awseventbridge.Client {
	return awseventbridge.NewFromConfig(awsCfg)
}

// ProvideGraphStore selects the storage backend
func ProvideGraphStore(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.GraphStore {
	if cfg.Storage.Backend == "dynamodb" {
		logger.Info("Using DynamoDB graph store",
			zap.String("table", cfg.Storage.TableName),
			zap.String("owner_index", cfg.Storage.OwnerIndex),
		)
		return dynamodb.NewGraphStore(client, cfg.Storage.TableName, cfg.Storage.OwnerIndex, logger)
	}
	logger.Warn("Using in-memory graph store, data is lost on restart")
	return memory.NewGraphStore()
}

// ProvideGraphLocker serialises commits per graph. Across instances this
// needs the table-backed lock; a single process is served by a keyed mutex.
func ProvideGraphLocker(client *awsdynamodb.Client, cfg *config.Config, logger *zap.Logger) ports.GraphLocker {
	if cfg.Storage.Backend == "dynamodb" && cfg.Storage.DistributedLock {
		return dynamodb.NewGraphLock(client, cfg.Storage.TableName, "", cfg.Storage.LockTTL, logger)
	}
	return concurrency.NewKeyedMutex()
}

// ProvideEventPublisher selects where commit events go
func ProvideEventPublisher(client *awseventbridge.Client, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	if cfg.Events.Backend == "eventbridge" {
		return eventbridge.NewPublisher(client, cfg.Events.BusName, cfg.Events.Source, logger)
	}
	return messaging.NewLogPublisher(logger)
}

// ProvideTextGenerator creates the configured provider behind a circuit breaker
func ProvideTextGenerator(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ports.TextGenerator, error) {
	var provider ports.TextGenerator
	switch cfg.LLM.Provider {
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: float32(cfg.LLM.Temperature),
		}, logger)
		if err != nil {
			return nil, err
		}
		provider = client
	case "scripted":
		logger.Warn("Using the scripted text generator; assistant calls will fail until replies are queued")
		provider = llm.NewScriptedGenerator()
	default:
		provider = llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: float32(cfg.LLM.Temperature),
			Timeout:     cfg.LLM.Timeout,
		}, logger)
	}

	breaker := llm.DefaultBreakerConfig()
	if cfg.Gateway.BreakerFailures > 0 {
		breaker.MinRequests = cfg.Gateway.BreakerFailures
	}
	if cfg.Gateway.BreakerCooldown > 0 {
		breaker.Timeout = cfg.Gateway.BreakerCooldown
	}
	return llm.NewBreakerGenerator(provider, breaker, logger), nil
}

// ProvideWorkerPool creates the pool that admits model calls
func ProvideWorkerPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) *concurrency.WorkerPool {
	return concurrency.NewWorkerPool(ctx, concurrency.PoolConfig{
		Name:       "model-gateway",
		MaxWorkers: cfg.Gateway.MaxInFlight,
		QueueSize:  cfg.Gateway.QueueSize,
	}, logger)
}

// ProvideGateway creates the model gateway
func ProvideGateway(
	provider ports.TextGenerator,
	pool *concurrency.WorkerPool,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *gateway.Gateway {
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Gateway.MaxAttempts
	policy.Delay = cfg.Gateway.RetryDelay

	return gateway.New(provider, pool, gateway.Config{
		Retry:             policy,
		RequestsPerMinute: cfg.Gateway.RequestsPerMinute,
		AttemptTimeout:    cfg.Gateway.AttemptTimeout,
		Streaming:         cfg.LLM.Streaming,
	}, logger, metrics, tracer)
}

// ProvideCatalog creates the agent catalog
func ProvideCatalog(gen agents.Generator, dcfg *domainconfig.DomainConfig, logger *zap.Logger, metrics *observability.Collector) (*agents.Catalog, error) {
	return agents.NewCatalog(gen, dcfg, logger, metrics)
}

// ProvideStager creates the proposal stager
func ProvideStager(dcfg *domainconfig.DomainConfig) *staging.Stager {
	return staging.NewStager(dcfg)
}

// ProvideCommitEngine creates the commit engine
func ProvideCommitEngine(
	store ports.GraphStore,
	publisher ports.EventPublisher,
	locker ports.GraphLocker,
	stager *staging.Stager,
	dcfg *domainconfig.DomainConfig,
	logger *zap.Logger,
	metrics *observability.Collector,
	tracer trace.Tracer,
) *commit.Engine {
	return commit.NewEngine(store, publisher, locker, stager, dcfg, logger, metrics, tracer)
}

// ProvideAssistant creates the assistant service
func ProvideAssistant(store ports.GraphStore, catalog *agents.Catalog, engine *commit.Engine, logger *zap.Logger) *assistant.Service {
	return assistant.NewService(store, catalog, engine, logger)
}
