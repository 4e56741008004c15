package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	PolicyBlock      = "block"
	PolicyDropOldest = "drop_oldest"
)

type Config struct {
	App     AppConfig     `yaml:"app"`
	Logging LoggingConfig `yaml:"logging"`
	Source  SourceConfig  `yaml:"source"`
	Ingest  IngestConfig  `yaml:"ingest"`
	API     APIConfig     `yaml:"api"`
	Metrics MetricsConfig `yaml:"metrics"`
	Storage StorageConfig `yaml:"storage"`
	Display DisplayConfig `yaml:"display"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

// SourceConfig describes the L4 feed subscription.
type SourceConfig struct {
	URL              string        `yaml:"url"`
	Markets          []string      `yaml:"markets"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	MaxReconnects    int           `yaml:"max_reconnects"`
	ReadLimit        int64         `yaml:"read_limit"`
	// Capture is a file receiving every raw L4 message, one per line.
	Capture          string        `yaml:"capture"`
}

// IngestConfig controls the queue between the transport and the applier.
type IngestConfig struct {
	Buffer int    `yaml:"buffer"`
	Policy string `yaml:"policy"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Depth   int    `yaml:"depth"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	Prefix          string        `yaml:"prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	Depth           int           `yaml:"depth"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type KafkaConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Brokers  []string      `yaml:"brokers"`
	Topic    string        `yaml:"topic"`
	Interval time.Duration `yaml:"interval"`
}

type DisplayConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Levels   int           `yaml:"levels"`
	Orders   int           `yaml:"orders"`
}

func defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", ReportInterval: 30 * time.Second},
		Source: SourceConfig{
			PingInterval:     20 * time.Second,
			ReadTimeout:      60 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReconnectDelay:   5 * time.Second,
		},
		Ingest:  IngestConfig{Buffer: 1024, Policy: PolicyBlock},
		API:     APIConfig{Address: ":8080", Depth: 20},
		Metrics: MetricsConfig{Prometheus: true},
		Storage: StorageConfig{
			S3:    S3Config{FlushInterval: time.Minute, Depth: 50},
			Kafka: KafkaConfig{Interval: time.Second},
		},
		Display: DisplayConfig{Interval: 2 * time.Second, Levels: 10, Orders: 3},
	}
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func applyEnv(config *Config) {
	for _, key := range []string{"L4_ENDPOINT", "ENDPOINT", "QUICKNODE_ENDPOINT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			config.Source.URL = v
			break
		}
	}
	if v := os.Getenv("L4_MARKETS"); v != "" {
		config.Source.Markets = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = v
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Storage.Kafka.Brokers = splitList(v)
	}
	if config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = os.Getenv("AWS_REGION")
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Source.URL == "" {
		return fmt.Errorf("source.url is required (or set L4_ENDPOINT)")
	}
	if !strings.HasPrefix(cfg.Source.URL, "ws://") && !strings.HasPrefix(cfg.Source.URL, "wss://") {
		return fmt.Errorf("source.url '%s' must be a ws:// or wss:// URL", cfg.Source.URL)
	}
	if len(cfg.Source.Markets) == 0 {
		return fmt.Errorf("source.markets must list at least one market")
	}
	seen := map[string]bool{}
	for _, m := range cfg.Source.Markets {
		if seen[m] {
			return fmt.Errorf("source.markets lists '%s' twice", m)
		}
		seen[m] = true
	}
	if cfg.Source.PingInterval <= 0 {
		return fmt.Errorf("source.ping_interval must be greater than 0")
	}
	if cfg.Source.ReadTimeout <= cfg.Source.PingInterval {
		return fmt.Errorf("source.read_timeout must be greater than source.ping_interval")
	}

	if cfg.Ingest.Buffer <= 0 {
		return fmt.Errorf("ingest.buffer must be greater than 0")
	}
	switch cfg.Ingest.Policy {
	case PolicyBlock, PolicyDropOldest:
	default:
		return fmt.Errorf("ingest.policy '%s' must be %s or %s", cfg.Ingest.Policy, PolicyBlock, PolicyDropOldest)
	}

	if cfg.API.Enabled && cfg.API.Address == "" {
		return fmt.Errorf("api.address is required when the API is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Storage.S3.FlushInterval <= 0 {
			return fmt.Errorf("storage.s3.flush_interval must be greater than 0")
		}
	}

	if cfg.Storage.Kafka.Enabled {
		if len(cfg.Storage.Kafka.Brokers) == 0 {
			return fmt.Errorf("storage.kafka.brokers is required when Kafka is enabled")
		}
		if cfg.Storage.Kafka.Topic == "" {
			return fmt.Errorf("storage.kafka.topic is required when Kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
