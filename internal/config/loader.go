package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "opspilot.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("OPSPILOT_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "OPSPILOT_PORT")
	setString(&cfg.Server.CORSOrigin, "OPSPILOT_CORS_ORIGIN")
	setInt64(&cfg.Server.BodyLimit, "OPSPILOT_BODY_LIMIT")
	setDuration(&cfg.Server.ShutdownTimeout, "OPSPILOT_SHUTDOWN_TIMEOUT")

	setString(&cfg.Logging.Level, "OPSPILOT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OPSPILOT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OPSPILOT_LOG_ASYNC")

	// Channel
	setString(&cfg.Channel.Transport, "OPSPILOT_CHANNEL_TRANSPORT")
	setString(&cfg.Channel.AgentURL, "OPSPILOT_AGENT_URL")
	setString(&cfg.Channel.SubjectPrefix, "OPSPILOT_SUBJECT_PREFIX")
	setDuration(&cfg.Channel.DialTimeout, "OPSPILOT_DIAL_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Stream, "OPSPILOT_NATS_STREAM")

	// Pipeline components
	setInt(&cfg.Router.DedupWindow, "OPSPILOT_DEDUP_WINDOW")
	setInt(&cfg.Router.AbandonedWindow, "OPSPILOT_ABANDONED_WINDOW")
	setDuration(&cfg.Decision.GracePeriod, "OPSPILOT_DECISION_GRACE")
	setDuration(&cfg.Decision.StreamTimeout, "OPSPILOT_DECISION_TIMEOUT")
	setString(&cfg.Validation.Engine, "OPSPILOT_VALIDATION_ENGINE")
	setDuration(&cfg.Validation.StallTimeout, "OPSPILOT_VALIDATION_TIMEOUT")
	setInt(&cfg.Validation.Concurrency, "OPSPILOT_VALIDATION_CONCURRENCY")
	setDuration(&cfg.Execution.IdleTimeout, "OPSPILOT_EXECUTION_IDLE_TIMEOUT")
	setInt(&cfg.Execution.OutputLines, "OPSPILOT_EXECUTION_OUTPUT_LINES")
	setBool(&cfg.Pipeline.AutoExecute, "OPSPILOT_AUTO_EXECUTE")
	setString(&cfg.Pipeline.DefaultTarget, "OPSPILOT_DEFAULT_TARGET")

	// Snapshots
	setString(&cfg.Snapshots.Backend, "OPSPILOT_SNAPSHOT_BACKEND")
	setDuration(&cfg.Snapshots.TTL, "OPSPILOT_SNAPSHOT_TTL")
	setString(&cfg.Snapshots.Bucket, "OPSPILOT_SNAPSHOT_BUCKET")
	setInt64(&cfg.Snapshots.L1MaxSizeMB, "OPSPILOT_SNAPSHOT_L1_SIZE_MB")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "OPSPILOT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "OPSPILOT_PG_MIN_CONNS")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Redis.Prefix, "OPSPILOT_REDIS_PREFIX")

	// Collaborators
	setString(&cfg.Catalog.URL, "OPSPILOT_CATALOG_URL")
	setString(&cfg.Catalog.File, "OPSPILOT_CATALOG_FILE")
	setInt(&cfg.Catalog.Limit, "OPSPILOT_CATALOG_LIMIT")
	setString(&cfg.Target.URL, "OPSPILOT_TARGET_URL")
	setDuration(&cfg.Target.Timeout, "OPSPILOT_TARGET_TIMEOUT")
	setString(&cfg.Policy.DefaultProfile, "OPSPILOT_POLICY_DEFAULT")
	setString(&cfg.Policy.CustomDir, "OPSPILOT_POLICY_DIR")

	setInt(&cfg.Breaker.MaxFailures, "OPSPILOT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OPSPILOT_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "OPSPILOT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "OPSPILOT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "OPSPILOT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "OPSPILOT_RATE_MAX_IDLE_TIME")

	setBool(&cfg.OTEL.Enabled, "OPSPILOT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "OPSPILOT_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "OPSPILOT_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set and enumerations are known.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}

	switch cfg.Channel.Transport {
	case TransportWebSocket:
		if cfg.Channel.AgentURL == "" {
			return errors.New("channel.agent_url is required for websocket transport")
		}
		if !strings.HasPrefix(cfg.Channel.AgentURL, "ws://") && !strings.HasPrefix(cfg.Channel.AgentURL, "wss://") {
			return fmt.Errorf("channel.agent_url must be a ws:// or wss:// URL, got %q", cfg.Channel.AgentURL)
		}
	case TransportNATS, TransportLoopback:
	default:
		return fmt.Errorf("channel.transport: unknown transport %q", cfg.Channel.Transport)
	}

	switch cfg.Snapshots.Backend {
	case BackendMemory, BackendNATS:
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return errors.New("redis.url is required for redis snapshots")
		}
	case BackendPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required for postgres snapshots")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	default:
		return fmt.Errorf("snapshots.backend: unknown backend %q", cfg.Snapshots.Backend)
	}
	if (cfg.Channel.Transport == TransportNATS || cfg.Snapshots.Backend == BackendNATS) && cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}

	if cfg.Validation.Engine != EngineLocal && cfg.Validation.Engine != EngineRemote {
		return fmt.Errorf("validation.engine: unknown engine %q", cfg.Validation.Engine)
	}
	if cfg.Validation.Engine == EngineLocal && cfg.Target.URL == "" {
		return errors.New("target.url is required for the local validation engine")
	}
	if cfg.Router.DedupWindow < 1 {
		return errors.New("router.dedup_window must be >= 1")
	}
	if cfg.Router.AbandonedWindow < 1 {
		return errors.New("router.abandoned_window must be >= 1")
	}
	if cfg.Decision.GracePeriod <= 0 {
		return errors.New("decision.grace_period must be > 0")
	}
	if cfg.Decision.StreamTimeout <= cfg.Decision.GracePeriod {
		return errors.New("decision.stream_timeout must exceed decision.grace_period")
	}
	if cfg.Validation.StallTimeout <= 0 {
		return errors.New("validation.stall_timeout must be > 0")
	}
	if cfg.Validation.Concurrency < 1 {
		return errors.New("validation.concurrency must be >= 1")
	}
	if cfg.Execution.IdleTimeout <= 0 {
		return errors.New("execution.idle_timeout must be > 0")
	}
	if cfg.Execution.OutputLines < 1 {
		return errors.New("execution.output_lines must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Policy.DefaultProfile == "" {
		return errors.New("policy.default_profile is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
