package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"channel-backtest/services/arrowpipeline"
	"channel-backtest/services/engine"
	"channel-backtest/services/ledger"
	"channel-backtest/strategies"
)

const EnvPrefix = "BACKTEST_"

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	MaxJobs         int           `yaml:"max_jobs"`

	// DataDir roots the bar files HTTP requests may name; empty disables them.
	DataDir string `yaml:"data_dir"`
}

type EngineConfig struct {
	MaxWorkers int `yaml:"max_workers"`
}

// RunConfig covers a single backtest invocation.
type RunConfig struct {
	PositionSize float64 `yaml:"position_size"`
	OutputFormat string  `yaml:"output_format"`
	Trace        bool    `yaml:"trace"`
}

type ClickHouseConfig struct {
	Addr        string `yaml:"addr"`
	Database    string `yaml:"database"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	BarsTable   string `yaml:"bars_table"`
	TradesTable string `yaml:"trades_table"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	RedisDB   int           `yaml:"redis_db"`
	TTL       time.Duration `yaml:"ttl"`
}

type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type Config struct {
	Environment string               `yaml:"environment"`
	Server      ServerConfig         `yaml:"server"`
	Engine      EngineConfig         `yaml:"engine"`
	Strategy    strategies.Config    `yaml:"strategy"`
	Run         RunConfig            `yaml:"run"`
	ClickHouse  ClickHouseConfig     `yaml:"clickhouse"`
	Cache       CacheConfig          `yaml:"cache"`
	Arrow       arrowpipeline.Config `yaml:"arrow"`
	Monitoring  MonitoringConfig     `yaml:"monitoring"`
}

func Default() *Config {
	return &Config{
		Environment: "dev",
		Server:      ServerConfig{HTTPPort: 8080, GRPCPort: 9091, ShutdownTimeout: 10 * time.Second, RunTimeout: time.Minute, MaxJobs: 1024},
		Engine:      EngineConfig{MaxWorkers: 4},
		Strategy:    strategies.DefaultConfig(),
		Run:         RunConfig{PositionSize: 1, OutputFormat: "csv"},
		ClickHouse:  ClickHouseConfig{Addr: "localhost:9000", Database: "default", Username: "default", BarsTable: "ohlcv", TradesTable: "backtest_trades"},
		Cache:       CacheConfig{TTL: 24 * time.Hour},
		Arrow:       arrowpipeline.DefaultConfig(),
		Monitoring:  MonitoringConfig{LogLevel: "info", LogFormat: "console"},
	}
}

// Load layers defaults, the YAML file at path (optional), a .env file in
// the working directory (optional) and BACKTEST_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BACKTEST_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return engine.Invalid(strings.ToLower(key), "not an integer: %q", v)
			}
			*dst = n
		}
		return nil
	}
	flt := func(key string, dst *float64) error {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return engine.Invalid(strings.ToLower(key), "not a number: %q", v)
			}
			*dst = f
		}
		return nil
	}

	str("ENVIRONMENT", &c.Environment)
	str("CLICKHOUSE_ADDR", &c.ClickHouse.Addr)
	str("CLICKHOUSE_DATABASE", &c.ClickHouse.Database)
	str("CLICKHOUSE_USERNAME", &c.ClickHouse.Username)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("REDIS_ADDR", &c.Cache.RedisAddr)
	str("DATA_DIR", &c.Server.DataDir)
	str("LOG_LEVEL", &c.Monitoring.LogLevel)
	str("LOG_FORMAT", &c.Monitoring.LogFormat)
	str("OUTPUT_FORMAT", &c.Run.OutputFormat)

	var trigger, kind string
	str("TRIGGER_MODE", &trigger)
	if trigger != "" {
		c.Strategy.Donchian.Trigger = strategies.TriggerMode(trigger)
	}
	str("STRATEGY", &kind)
	if kind != "" {
		c.Strategy.Kind = strategies.Kind(kind)
	}

	for _, err := range []error{
		num("HTTP_PORT", &c.Server.HTTPPort),
		num("GRPC_PORT", &c.Server.GRPCPort),
		num("MAX_WORKERS", &c.Engine.MaxWorkers),
		num("CHANNEL_LENGTH", &c.Strategy.Donchian.ChannelLength),
		num("VOLATILITY_LENGTH", &c.Strategy.Donchian.VolatilityLength),
		flt("MIN_VOLATILITY_PCT", &c.Strategy.Donchian.MinVolatilityPct),
		flt("POSITION_SIZE", &c.Run.PositionSize),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate resolves the strategy and checks the run settings. The kind and
// trigger mode are normalised in place.
func (c *Config) Validate() error {
	kind, err := strategies.ParseKind(string(c.Strategy.Kind))
	if err != nil {
		return err
	}
	c.Strategy.Kind = kind
	if err := c.Strategy.Donchian.Validate(); err != nil {
		return err
	}
	c.Strategy.Donchian.Trigger, _ = strategies.ParseTriggerMode(string(c.Strategy.Donchian.Trigger))
	if err := engine.ValidateSize(c.Run.PositionSize); err != nil {
		return err
	}
	if ledger.NewTradeWriter(c.Run.OutputFormat) == nil {
		return engine.Invalid("output_format", "unsupported format %q (want one of %s)", c.Run.OutputFormat, strings.Join(ledger.Formats(), ", "))
	}
	if c.Engine.MaxWorkers < 1 {
		return engine.Invalid("max_workers", "must be at least 1, got %d", c.Engine.MaxWorkers)
	}
	return nil
}
