package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string `yaml:"server_address"`
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`

	// AWS configuration
	AWSRegion string `yaml:"aws_region"`

	// Lambda configuration
	IsLambda bool `yaml:"is_lambda"`

	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	LLM     LLMConfig     `yaml:"llm"`
	Gateway GatewayConfig `yaml:"gateway"`
	Tracing TracingConfig `yaml:"tracing"`

	// Feature flags
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableCORS    bool `yaml:"enable_cors"`

	// LoadedFrom lists the sources that contributed to this configuration.
	LoadedFrom []string `yaml:"-"`
}

// StorageConfig selects where graphs live.
type StorageConfig struct {
	Backend   string `yaml:"backend"` // memory | dynamodb
	TableName string `yaml:"table_name"`
	// OwnerIndex is the GSI used to list graphs by owner.
	OwnerIndex string `yaml:"owner_index"`
	// DistributedLock serialises commits across instances through the table.
	DistributedLock bool          `yaml:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl"`
}

// EventsConfig selects where commit events go.
type EventsConfig struct {
	Backend string `yaml:"backend"` // none | eventbridge
	BusName string `yaml:"bus_name"`
	Source  string `yaml:"source"`
}

// LLMConfig describes the text-generation provider.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // openai | gemini | scripted
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	Streaming   bool          `yaml:"streaming"`
}

// GatewayConfig tunes admission, retries and the circuit breaker.
type GatewayConfig struct {
	MaxInFlight       int           `yaml:"max_in_flight"`
	QueueSize         int           `yaml:"queue_size"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		ServerAddress: ":8080",
		Environment:   "development",
		LogLevel:      "info",
		AWSRegion:     "us-west-2",
		Storage: StorageConfig{
			Backend:    "memory",
			TableName:  "lessonmap",
			OwnerIndex: "OwnerIndex",
			LockTTL:    30 * time.Second,
		},
		Events: EventsConfig{
			Backend: "none",
			BusName: "lessonmap-events",
			Source:  "lessonmap.graphs",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			Timeout:     60 * time.Second,
		},
		Gateway: GatewayConfig{
			MaxInFlight:     4,
			QueueSize:       64,
			MaxAttempts:     3,
			RetryDelay:      2 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		EnableMetrics: true,
		EnableCORS:    true,
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// named by CONFIG_FILE and environment variables, in that order of priority.
func LoadConfig() (*Config, error) {
	cfg := Default()
	cfg.LoadedFrom = []string{"defaults"}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
		cfg.LoadedFrom = append(cfg.LoadedFrom, path)
	}

	cfg.loadEnvironment()
	cfg.LoadedFrom = append(cfg.LoadedFrom, "environment")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnvironment() {
	c.ServerAddress = getEnv("SERVER_ADDRESS", c.ServerAddress)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AWSRegion = getEnv("AWS_REGION", c.AWSRegion)
	c.IsLambda = getEnvBool("IS_LAMBDA", c.IsLambda || os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "")

	c.Storage.Backend = getEnv("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.TableName = getEnv("TABLE_NAME", getEnv("DYNAMODB_TABLE", c.Storage.TableName))
	c.Storage.OwnerIndex = getEnv("OWNER_INDEX_NAME", c.Storage.OwnerIndex)
	c.Storage.DistributedLock = getEnvBool("DISTRIBUTED_LOCK", c.Storage.DistributedLock)
	c.Storage.LockTTL = getEnvDuration("LOCK_TTL", c.Storage.LockTTL)

	c.Events.Backend = getEnv("EVENTS_BACKEND", c.Events.Backend)
	c.Events.BusName = getEnv("EVENT_BUS_NAME", c.Events.BusName)
	c.Events.Source = getEnv("EVENT_SOURCE", c.Events.Source)

	c.LLM.Provider = getEnv("LLM_PROVIDER", c.LLM.Provider)
	c.LLM.BaseURL = getEnv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = getEnv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = getEnv("LLM_MODEL", c.LLM.Model)
	c.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", c.LLM.Temperature)
	c.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", c.LLM.Timeout)
	c.LLM.Streaming = getEnvBool("LLM_STREAMING", c.LLM.Streaming)

	c.Gateway.MaxInFlight = getEnvInt("GATEWAY_MAX_IN_FLIGHT", c.Gateway.MaxInFlight)
	c.Gateway.QueueSize = getEnvInt("GATEWAY_QUEUE_SIZE", c.Gateway.QueueSize)
	c.Gateway.MaxAttempts = getEnvInt("GATEWAY_MAX_ATTEMPTS", c.Gateway.MaxAttempts)
	c.Gateway.RetryDelay = getEnvDuration("GATEWAY_RETRY_DELAY", c.Gateway.RetryDelay)
	c.Gateway.AttemptTimeout = getEnvDuration("GATEWAY_ATTEMPT_TIMEOUT", c.Gateway.AttemptTimeout)
	c.Gateway.RequestsPerMinute = getEnvInt("GATEWAY_REQUESTS_PER_MINUTE", c.Gateway.RequestsPerMinute)
	c.Gateway.BreakerFailures = uint32(getEnvInt("GATEWAY_BREAKER_FAILURES", int(c.Gateway.BreakerFailures)))
	c.Gateway.BreakerCooldown = getEnvDuration("GATEWAY_BREAKER_COOLDOWN", c.Gateway.BreakerCooldown)

	c.Tracing.Enabled = getEnvBool("ENABLE_TRACING", c.Tracing.Enabled)
	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.SampleRate = getEnvFloat("TRACE_SAMPLE_RATE", c.Tracing.SampleRate)

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableCORS = getEnvBool("ENABLE_CORS", c.EnableCORS)
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	var problems []string

	switch c.Storage.Backend {
	case "memory":
	case "dynamodb":
		if c.Storage.TableName == "" {
			problems = append(problems, "TABLE_NAME is required for the dynamodb backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Events.Backend {
	case "none":
	case "eventbridge":
		if c.Events.BusName == "" {
			problems = append(problems, "EVENT_BUS_NAME is required for the eventbridge backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown events backend %q", c.Events.Backend))
	}

	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.IsProduction() && c.LLM.APIKey == "" {
			problems = append(problems, "LLM_API_KEY is required in production")
		}
	case "scripted":
		if c.IsProduction() {
			problems = append(problems, "the scripted provider cannot be used in production")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}

	if c.Gateway.MaxInFlight < 1 {
		problems = append(problems, "GATEWAY_MAX_IN_FLIGHT must be at least 1")
	}
	if c.Gateway.MaxAttempts < 1 {
		problems = append(problems, "GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Gateway.RetryDelay < 0 {
		problems = append(problems, "GATEWAY_RETRY_DELAY cannot be negative")
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		problems = append(problems, "TRACE_SAMPLE_RATE must be between 0 and 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
