package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Outbox   OutboxRelayConfig
	Auth     AuthConfig
	Logging  LoggingConfig
	Mux      MuxConfig
	GenAI    GenAIConfig `mapstructure:"genai"`
	Storage  StorageConfig
	Workflow WorkflowConfig
	Events   EventsConfig
}

type ServerConfig struct {
	HTTPPort    int           `mapstructure:"http_port" validate:"gt=0"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	CORSOrigin  string        `mapstructure:"cors_origin"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database" validate:"required"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addresses   []string `mapstructure:"addresses" validate:"min=1"`
	Password    string   `mapstructure:"password"`
	DB          int      `mapstructure:"db"`
	PoolSize    int      `mapstructure:"pool_size"`
	ClusterMode bool     `mapstructure:"cluster_mode"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	RunTopic      string   `mapstructure:"run_topic"`
	RunRetryTopic string   `mapstructure:"run_retry_topic"`
	RunDLQTopic   string   `mapstructure:"run_dlq_topic"`
	RunRetryLimit int      `mapstructure:"run_retry_limit"`
	RunGroup      string   `mapstructure:"run_group"`
	EventTopic    string   `mapstructure:"event_topic"`
	EventDLQTopic string   `mapstructure:"event_dlq_topic"`
}

type OutboxRelayConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type MuxConfig struct {
	TokenID          string        `mapstructure:"token_id" validate:"required"`
	TokenSecret      string        `mapstructure:"token_secret" validate:"required"`
	WebhookSecret    string        `mapstructure:"webhook_secret" validate:"required"`
	WebhookTolerance time.Duration `mapstructure:"webhook_tolerance"`
	APIBaseURL       string        `mapstructure:"api_base_url" validate:"url"`
	ImageBaseURL     string        `mapstructure:"image_base_url" validate:"url"`
	StreamBaseURL    string        `mapstructure:"stream_base_url" validate:"url"`
	CORSOrigin       string        `mapstructure:"cors_origin"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type GenAIConfig struct {
	APIKey         string        `mapstructure:"api_key" validate:"required"`
	BaseURL        string        `mapstructure:"base_url" validate:"url"`
	TextModel      string        `mapstructure:"text_model" validate:"required"`
	ImageModel     string        `mapstructure:"image_model" validate:"required"`
	ImageSize      string        `mapstructure:"image_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=minio s3"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket" validate:"required"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type WorkflowConfig struct {
	Dispatcher     string        `mapstructure:"dispatcher" validate:"oneof=kafka inline"`
	InlineWorkers  int           `mapstructure:"inline_workers"`
	StallTimeout   time.Duration `mapstructure:"stall_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	AutoGenerate   []string      `mapstructure:"auto_generate" validate:"dive,oneof=title description thumbnail"`
	StepTimeout    time.Duration `mapstructure:"step_timeout"`
	TranscriptSize int           `mapstructure:"transcript_size"`
}

type EventsConfig struct {
	LastEventTTL     time.Duration `mapstructure:"last_event_ttl"`
	SubscribeBuffer  int           `mapstructure:"subscribe_buffer"`
	HeartbeatPeriod  time.Duration `mapstructure:"heartbeat_period"`
	KeyPrefix        string        `mapstructure:"key_prefix"`
	ChannelKeyPrefix string        `mapstructure:"channel_key_prefix"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/vidflow/")
	v.AddConfigPath(".")

	v.SetEnvPrefix("VIDFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the credentials and enums the processes need before they start.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if cfg.Workflow.Dispatcher == "kafka" && (len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.RunTopic == "") {
		return fmt.Errorf("validate config: kafka dispatcher requires kafka.brokers and kafka.run_topic")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.cors_origin", "*")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "vidflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "vidflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.cluster_mode", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "vidflow")
	v.SetDefault("kafka.run_topic", "vidflow.runs")
	v.SetDefault("kafka.run_retry_topic", "vidflow.runs.retry")
	v.SetDefault("kafka.run_dlq_topic", "vidflow.runs.dlq")
	v.SetDefault("kafka.run_retry_limit", 3)
	v.SetDefault("kafka.run_group", "vidflow-executors")
	v.SetDefault("kafka.event_topic", "vidflow.runs.events")
	v.SetDefault("kafka.event_dlq_topic", "vidflow.runs.events.dlq")

	v.SetDefault("outbox.poll_interval", "5s")
	v.SetDefault("outbox.batch_size", 100)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "vidflow")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("mux.token_id", "")
	v.SetDefault("mux.token_secret", "")
	v.SetDefault("mux.webhook_secret", "")
	v.SetDefault("mux.webhook_tolerance", "5m")
	v.SetDefault("mux.api_base_url", "https://api.mux.com")
	v.SetDefault("mux.image_base_url", "https://image.mux.com")
	v.SetDefault("mux.stream_base_url", "https://stream.mux.com")
	v.SetDefault("mux.cors_origin", "*")
	v.SetDefault("mux.timeout", "15s")

	v.SetDefault("genai.api_key", "")
	v.SetDefault("genai.base_url", "https://api.openai.com/v1")
	v.SetDefault("genai.text_model", "gpt-4o-mini")
	v.SetDefault("genai.image_model", "dall-e-3")
	v.SetDefault("genai.image_size", "1792x1024")
	v.SetDefault("genai.timeout", "60s")
	v.SetDefault("genai.retry_attempts", 3)
	v.SetDefault("genai.retry_base_delay", "1s")

	v.SetDefault("storage.driver", "minio")
	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "vidflow")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.public_base_url", "")

	v.SetDefault("workflow.dispatcher", "inline")
	v.SetDefault("workflow.inline_workers", 8)
	v.SetDefault("workflow.stall_timeout", "10m")
	v.SetDefault("workflow.sweep_interval", "30s")
	v.SetDefault("workflow.auto_generate", []string{})
	v.SetDefault("workflow.step_timeout", "2m")
	v.SetDefault("workflow.transcript_size", 8000)

	v.SetDefault("events.last_event_ttl", "1h")
	v.SetDefault("events.subscribe_buffer", 64)
	v.SetDefault("events.heartbeat_period", "15s")
	v.SetDefault("events.key_prefix", "vidflow:last:")
	v.SetDefault("events.channel_key_prefix", "vidflow:ch:")
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
