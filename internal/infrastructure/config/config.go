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

const defaultConfigPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Recorder  RecorderConfig  `koanf:"recorder"`
	Safety    SafetyConfig    `koanf:"safety"`
	Security  SecurityConfig  `koanf:"security"`
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
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// Entries kept per agent in the recency cache
	RecencyWindow int `koanf:"recency_window"`
	// How long cached pattern reports live
	ReportTTL time.Duration `koanf:"report_ttl"`
}

type TelemetryConfig struct {
	ServiceName    string  `koanf:"service_name"`
	OTLPEndpoint   string  `koanf:"otlp_endpoint"`
	TraceSampling  float64 `koanf:"trace_sampling"`
	MetricsEnabled bool    `koanf:"metrics_enabled"`
}

// RecorderConfig tunes the async append lane
type RecorderConfig struct {
	AsyncWorkers int           `koanf:"async_workers"`
	AsyncBuffer  int           `koanf:"async_buffer"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// SafetyConfig carries the gate thresholds. Zero fields fall back to the
// domain defaults, so operators override only what they need.
type SafetyConfig struct {
	BlockBelow    float64 `koanf:"block_below"`
	PassAt        float64 `koanf:"pass_at"`
	EnhanceAbove  float64 `koanf:"enhance_above"`
	MaxConcern    float64 `koanf:"max_concern"`
	MinConfidence float64 `koanf:"min_confidence"`
	MinClarity    float64 `koanf:"min_clarity"`
	MinAlignment  float64 `koanf:"min_alignment"`
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

// Load reads configuration in precedence order: built-in defaults, then the
// optional YAML file, then ATL_-prefixed environment variables.
func Load() (*Config, error) {
	return LoadFrom(defaultConfigPath)
}

func LoadFrom(path string) (*Config, error) {
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
		Redis: RedisConfig{
			DB:            0,
			PoolSize:      10,
			MinIdleConns:  2,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			RecencyWindow: 100,
			ReportTTL:     5 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "agent-trust-ledger",
			TraceSampling:  0.1,
			MetricsEnabled: true,
		},
		Recorder: RecorderConfig{
			AsyncWorkers: 4,
			AsyncBuffer:  1024,
			WriteTimeout: 5 * time.Second,
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

	// The config file is optional; only a present-but-unreadable file is an
	// error.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("ATL_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ATL_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
