package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is used when no path is given on the command line.
const DefaultConfigPath = "config/config.yml"

type Config struct {
	Chainflow ChainflowConfig `yaml:"chainflow"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Reader    ReaderConfig    `yaml:"reader"`
	Processor ProcessorConfig `yaml:"processor"`
	Writer    WriterConfig    `yaml:"writer"`
	Source    SourceConfig    `yaml:"source"`
	LotSizes  LotSizesConfig  `yaml:"lot_sizes"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ChainflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer       int `yaml:"raw_buffer"`
	ProcessedBuffer int `yaml:"processed_buffer"`
}

type ReaderConfig struct {
	MaxWorkers     int             `yaml:"max_workers"`
	Timeout        time.Duration   `yaml:"timeout"`
	IntervalMs     int             `yaml:"interval_ms"`
	Symbols        []string        `yaml:"symbols"`
	Expiry         string          `yaml:"expiry"`
	FetchSpot      bool            `yaml:"fetch_spot"`
	SessionRefresh string          `yaml:"session_refresh"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Retry          RetryConfig     `yaml:"retry"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type ProcessorConfig struct {
	MaxWorkers     int           `yaml:"max_workers"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type WriterConfig struct {
	MaxWorkers    int           `yaml:"max_workers"`
	Compression   string        `yaml:"compression"`
	KeyPrefix     string        `yaml:"key_prefix"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

type SourceConfig struct {
	TrueData TrueDataConfig `yaml:"truedata"`
}

type TrueDataConfig struct {
	AuthURL      string `yaml:"auth_url"`
	AnalyticsURL string `yaml:"analytics_url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	UserAgent    string `yaml:"user_agent"`
}

// LotSizesConfig maps underlying symbols to the number of units in one
// exchange contract.
type LotSizesConfig struct {
	Default       int            `yaml:"default"`
	DefaultSymbol string         `yaml:"default_symbol"`
	Symbols       map[string]int `yaml:"symbols"`
}

type StorageConfig struct {
	S3    S3Config    `yaml:"s3"`
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level      string                 `yaml:"level"`
	Format     string                 `yaml:"format"`
	Output     string                 `yaml:"output"`
	MaxAge     int                    `yaml:"max_age"`
	Fields     map[string]interface{} `yaml:"fields"`
	CloudWatch CloudWatchConfig       `yaml:"cloudwatch"`
}

type MetricsConfig struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// defaultConfig holds the values used for anything the YAML file leaves out.
func defaultConfig() Config {
	return Config{
		Chainflow: ChainflowConfig{Name: "chainflow", Version: "dev"},
		Channels:  ChannelsConfig{RawBuffer: 64, ProcessedBuffer: 64},
		Reader: ReaderConfig{
			MaxWorkers:     4,
			Timeout:        10 * time.Second,
			IntervalMs:     60000,
			Symbols:        []string{"NIFTY", "BANKNIFTY"},
			SessionRefresh: "0 0 */6 * * *",
			RateLimit:      RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
			Retry:          RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond},
		},
		Processor: ProcessorConfig{MaxWorkers: 2, ReportInterval: 30 * time.Second},
		Writer:    WriterConfig{MaxWorkers: 2, Compression: "snappy", UploadTimeout: 30 * time.Second},
		Source: SourceConfig{TrueData: TrueDataConfig{
			AuthURL:      "https://auth.truedata.in/token",
			AnalyticsURL: "https://analytics.truedata.in/api",
			UserAgent:    "chainflow",
		}},
		LotSizes: LotSizesConfig{
			Default:       500,
			DefaultSymbol: "NIFTY",
			Symbols:       map[string]int{"NIFTY": 50, "BANKNIFTY": 15},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout", MaxAge: 7},
		Metrics: MetricsConfig{Prometheus: PrometheusConfig{Address: "0.0.0.0:2112"}},
	}
}

// LoadConfig reads the YAML file at path, applies environment overrides and
// validates the result. When APP_ENV names an environment with its own file
// next to the default one (config.<env>.yml), that file is used instead.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, envSpecificPaths(DefaultConfigPath))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.LotSizes.DefaultSymbol = strings.ToUpper(strings.TrimSpace(config.LotSizes.DefaultSymbol))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func envSpecificPaths(defaultPath string) map[string]string {
	ext := filepath.Ext(defaultPath)
	base := strings.TrimSuffix(defaultPath, ext)
	out := make(map[string]string)
	for _, env := range []string{environmentDevelopment, environmentStaging, environmentProduction} {
		p := base + "." + env + ext
		if _, err := os.Stat(p); err == nil {
			out[env] = p
		}
	}
	return out
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("TRUEDATA_USERNAME"); v != "" {
		config.Source.TrueData.Username = strings.TrimSpace(v)
	}
	if v := os.Getenv("TRUEDATA_PASSWORD"); v != "" {
		config.Source.TrueData.Password = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
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
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	if config.Storage.Kafka.Enabled {
		if v := os.Getenv("KAFKA_BROKERS"); v != "" {
			config.Storage.Kafka.Brokers = splitList(v)
		}
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Chainflow.Name == "" {
		return fmt.Errorf("chainflow.name is required")
	}

	if cfg.Chainflow.Version == "" {
		return fmt.Errorf("chainflow.version is required")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}
	if cfg.Channels.ProcessedBuffer <= 0 {
		return fmt.Errorf("channels.processed_buffer must be greater than 0")
	}

	if cfg.Reader.MaxWorkers <= 0 {
		return fmt.Errorf("reader.max_workers must be greater than 0")
	}
	if cfg.Reader.IntervalMs <= 0 {
		return fmt.Errorf("reader.interval_ms must be greater than 0")
	}
	if len(cfg.Reader.Symbols) == 0 {
		return fmt.Errorf("reader.symbols must not be empty")
	}
	if cfg.Reader.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("reader.rate_limit.requests_per_second must be greater than 0")
	}

	if cfg.Processor.MaxWorkers <= 0 {
		return fmt.Errorf("processor.max_workers must be greater than 0")
	}

	switch strings.ToLower(cfg.Writer.Compression) {
	case "", "snappy", "gzip", "none", "uncompressed":
	default:
		return fmt.Errorf("writer.compression '%s' is not supported", cfg.Writer.Compression)
	}

	for _, raw := range []struct{ name, value string }{
		{"source.truedata.auth_url", cfg.Source.TrueData.AuthURL},
		{"source.truedata.analytics_url", cfg.Source.TrueData.AnalyticsURL},
	} {
		u, err := url.Parse(raw.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s '%s' is not a valid URL", raw.name, raw.value)
		}
	}

	if cfg.LotSizes.DefaultSymbol == "" {
		return fmt.Errorf("lot_sizes.default_symbol is required")
	}
	for sym, size := range cfg.LotSizes.Symbols {
		if size <= 0 {
			return fmt.Errorf("lot_sizes.symbols.%s must be greater than 0", sym)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
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
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
