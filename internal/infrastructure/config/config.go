package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Ledger   LedgerConfig   `koanf:"ledger"`
	Verifier VerifierConfig `koanf:"verifier"`
	Archive  ArchiveConfig  `koanf:"archive"`
	Security SecurityConfig `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

type LedgerConfig struct {
	// DefaultChainID receives events from producers that do not name a
	// chain explicitly
	DefaultChainID string        `koanf:"default_chain_id"`
	MaxBatchSize   int           `koanf:"max_batch_size"`
	AppendRetries  int           `koanf:"append_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	DedupCacheTTL  time.Duration `koanf:"dedup_cache_ttl"`
}

type VerifierConfig struct {
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

type ArchiveConfig struct {
	Bucket          string        `koanf:"bucket"`
	Region          string        `koanf:"region"`
	Endpoint        string        `koanf:"endpoint"`
	Prefix          string        `koanf:"prefix"`
	RetentionYears  int           `koanf:"retention_years"`
	PurgeGrace      time.Duration `koanf:"purge_grace"`
	SealInterval    time.Duration `koanf:"seal_interval"`
	ConfirmInterval time.Duration `koanf:"confirm_interval"`
	// MinRangeAge keeps the sealer away from the tail of the chain that is
	// still being appended to
	MinRangeAge time.Duration `koanf:"min_range_age"`
}

type SecurityConfig struct {
	JWTSecret   string          `koanf:"jwt_secret"`
	TokenExpiry time.Duration   `koanf:"token_expiry"`
	RateLimit   RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// LEDGER_-prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
			BatchTimeout: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			DefaultChainID: "primary",
			MaxBatchSize:   500,
			AppendRetries:  5,
			RetryBackoff:   25 * time.Millisecond,
			DedupCacheTTL:  24 * time.Hour,
		},
		Verifier: VerifierConfig{
			Interval:  5 * time.Minute,
			BatchSize: 1000,
		},
		Archive: ArchiveConfig{
			Prefix:          "audit",
			RetentionYears:  7,
			PurgeGrace:      72 * time.Hour,
			SealInterval:    time.Hour,
			ConfirmInterval: 15 * time.Minute,
			MinRangeAge:     24 * time.Hour,
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("LEDGER_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "LEDGER_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
