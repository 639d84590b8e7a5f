package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config holds all configuration for the progrun service
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Streaming StreamingConfig `mapstructure:"streaming"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Version   string          `mapstructure:"version"`
}

// ServiceConfig holds service-level configuration
type ServiceConfig struct {
	Name        string `mapstructure:"name" envconfig:"SERVICE_NAME"`
	Environment string `mapstructure:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// HTTPConfig holds HTTP server configuration for the streaming surface
type HTTPConfig struct {
	Port         int           `mapstructure:"port" envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"HTTP_WRITE_TIMEOUT" default:"10s"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
}

// DatabaseConfig holds document-store and archive configuration
type DatabaseConfig struct {
	MongoURI        string        `mapstructure:"mongo_uri" envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string        `mapstructure:"mongo_database" envconfig:"MONGO_DATABASE" default:"progrun"`
	PostgresDSN     string        `mapstructure:"postgres_dsn" envconfig:"POSTGRES_DSN"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis queue configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host" envconfig:"REDIS_HOST" default:"localhost"`
	Port         int           `mapstructure:"port" envconfig:"REDIS_PORT" default:"6379"`
	Password     string        `mapstructure:"password" envconfig:"REDIS_PASSWORD"`
	DB           int           `mapstructure:"db" envconfig:"REDIS_DB" default:"0"`
	QueueName    string        `mapstructure:"queue_name" envconfig:"REDIS_QUEUE_NAME" default:"progrun:tasks"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

// KafkaConfig holds event export configuration
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled" envconfig:"KAFKA_ENABLED" default:"false"`
	Brokers []string `mapstructure:"brokers" envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string   `mapstructure:"topic" envconfig:"KAFKA_TOPIC" default:"progrun.events"`
}

// ExecutionConfig holds program execution limits
type ExecutionConfig struct {
	MaxConcurrent   int           `mapstructure:"max_concurrent" envconfig:"EXECUTION_MAX_CONCURRENT" default:"20"`
	QueueDepth      int           `mapstructure:"queue_depth" envconfig:"EXECUTION_QUEUE_DEPTH" default:"256"`
	OutputTailBytes int           `mapstructure:"output_tail_bytes" envconfig:"EXECUTION_OUTPUT_TAIL_BYTES" default:"16384"`
	DefaultTimeout  time.Duration `mapstructure:"default_timeout" envconfig:"EXECUTION_DEFAULT_TIMEOUT" default:"10m"`
}

// StreamingConfig holds log streaming hub configuration
type StreamingConfig struct {
	CacheLines       int           `mapstructure:"cache_lines" envconfig:"STREAMING_CACHE_LINES" default:"1000"`
	GracePeriod      time.Duration `mapstructure:"grace_period" envconfig:"STREAMING_GRACE_PERIOD" default:"5m"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer" envconfig:"STREAMING_SUBSCRIBER_BUFFER" default:"256"`
	MaxSubscribers   int           `mapstructure:"max_subscribers" envconfig:"STREAMING_MAX_SUBSCRIBERS" default:"100"`
}

// WorkflowConfig holds workflow scheduling defaults
type WorkflowConfig struct {
	MaxConcurrentNodes  int           `mapstructure:"max_concurrent_nodes" envconfig:"WORKFLOW_MAX_CONCURRENT_NODES" default:"5"`
	DefaultNodeTimeoutM int           `mapstructure:"default_node_timeout_minutes" envconfig:"WORKFLOW_DEFAULT_NODE_TIMEOUT_MINUTES" default:"30"`
	DefaultTimeoutM     int           `mapstructure:"default_timeout_minutes" envconfig:"WORKFLOW_DEFAULT_TIMEOUT_MINUTES" default:"120"`
	InteractionTimeout  time.Duration `mapstructure:"interaction_timeout" envconfig:"WORKFLOW_INTERACTION_TIMEOUT" default:"30m"`
}

// RetryConfig holds the workflow-level retry policy defaults
type RetryConfig struct {
	MaxRetries         int           `mapstructure:"max_retries" envconfig:"RETRY_MAX_RETRIES" default:"3"`
	Delay              time.Duration `mapstructure:"delay" envconfig:"RETRY_DELAY" default:"1s"`
	ExponentialBackoff bool          `mapstructure:"exponential_backoff" envconfig:"RETRY_EXPONENTIAL_BACKOFF" default:"true"`
	RetryOnErrorTypes  []string      `mapstructure:"retry_on_error_types" envconfig:"RETRY_ON_ERROR_TYPES" default:"NON_ZERO_EXIT,TIMEOUT"`
}

// SandboxConfig holds sandbox directory and file storage configuration
type SandboxConfig struct {
	Root           string `mapstructure:"root" envconfig:"SANDBOX_ROOT" default:"/tmp/progrun/sandboxes"`
	StorageRoot    string `mapstructure:"storage_root" envconfig:"STORAGE_ROOT" default:"/tmp/progrun/storage"`
	StorageBackend string `mapstructure:"storage_backend" envconfig:"STORAGE_BACKEND" default:"local"`
	S3Bucket       string `mapstructure:"s3_bucket" envconfig:"STORAGE_S3_BUCKET"`
	S3Region       string `mapstructure:"s3_region" envconfig:"STORAGE_S3_REGION" default:"us-east-1"`
	S3Endpoint     string `mapstructure:"s3_endpoint" envconfig:"STORAGE_S3_ENDPOINT"`
}

// RunnerConfig holds language runner configuration
type RunnerConfig struct {
	SupportedLanguages []string `mapstructure:"supported_languages" envconfig:"RUNNER_SUPPORTED_LANGUAGES" default:"python,csharp,java,nodejs"`
	PythonBin          string   `mapstructure:"python_bin" envconfig:"RUNNER_PYTHON_BIN" default:"python3"`
	NodeBin            string   `mapstructure:"node_bin" envconfig:"RUNNER_NODE_BIN" default:"node"`
	DotnetBin          string   `mapstructure:"dotnet_bin" envconfig:"RUNNER_DOTNET_BIN" default:"dotnet"`
	JavaBin            string   `mapstructure:"java_bin" envconfig:"RUNNER_JAVA_BIN" default:"java"`
	JavacBin           string   `mapstructure:"javac_bin" envconfig:"RUNNER_JAVAC_BIN" default:"javac"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format     string `mapstructure:"format" envconfig:"LOG_FORMAT" default:"json"`
	OutputPath string `mapstructure:"output_path" envconfig:"LOG_OUTPUT_PATH" default:"stdout"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled" envconfig:"METRICS_ENABLED" default:"true"`
	TracingEnabled bool   `mapstructure:"tracing_enabled" envconfig:"TRACING_ENABLED" default:"false"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	ServiceName    string `mapstructure:"service_name" envconfig:"TELEMETRY_SERVICE_NAME"`
}

// Load loads configuration from files and environment
func Load(serviceName string) (*Config, error) {
	var cfg Config

	cfg.Service.Name = serviceName
	cfg.Telemetry.ServiceName = serviceName

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; continue with env vars only
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env vars: %w", err)
	}

	if version := os.Getenv("VERSION"); version != "" {
		cfg.Version = version
	} else if cfg.Version == "" {
		cfg.Version = "dev"
	}

	return &cfg, nil
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultNodeTimeout returns the default per-node timeout
func (c *WorkflowConfig) DefaultNodeTimeout() time.Duration {
	return time.Duration(c.DefaultNodeTimeoutM) * time.Minute
}

// DefaultTimeout returns the default per-workflow timeout
func (c *WorkflowConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutM) * time.Minute
}
