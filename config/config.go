package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StateBackendMemory   = "memory"
	StateBackendFile     = "file"
	StateBackendRedis    = "redis"
	StateBackendPostgres = "postgres"
)

type Config struct {
	Cryptex    CryptexConfig    `yaml:"cryptex"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Trading    TradingConfig    `yaml:"trading"`
	Strategy   StrategyConfig   `yaml:"strategy"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Execution  ExecutionConfig  `yaml:"execution"`
	State      StateConfig      `yaml:"state"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type CryptexConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ExchangeConfig struct {
	BaseURL   string          `yaml:"base_url"`
	APIKey    string          `yaml:"api_key"`
	APISecret string          `yaml:"api_secret"`
	Timeout   time.Duration   `yaml:"timeout"`
	LocalIP   string          `yaml:"local_ip"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type TradingConfig struct {
	Symbol       string          `yaml:"symbol"`
	Timeframe    string          `yaml:"timeframe"`
	PositionSize string          `yaml:"position_size"`
	Quantity     decimal.Decimal `yaml:"-"`
	OrderType    string          `yaml:"order_type"`
	DryRun       bool            `yaml:"dry_run"`
}

type StrategyConfig struct {
	MAPeriod    int `yaml:"ma_period"`
	CandleLimit int `yaml:"candle_limit"`
}

type MarketDataConfig struct {
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	ReuseStaleOnError bool          `yaml:"reuse_stale_on_error"`
}

type ExecutionConfig struct {
	Cooldown time.Duration `yaml:"cooldown"`
}

type StateConfig struct {
	Backend  string         `yaml:"backend"`
	FilePath string         `yaml:"file_path"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type StorageConfig struct {
	Local LocalStorageConfig `yaml:"local"`
	S3    S3Config           `yaml:"s3"`
}

type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	PushgatewayURL string           `yaml:"pushgateway_url"`
	Job            string           `yaml:"job"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when no file is given. Values match
// the Binance spot testnet setup.
func Default() Config {
	return Config{
		Cryptex: CryptexConfig{Name: "cryptex", Version: "dev"},
		Exchange: ExchangeConfig{
			BaseURL:   "https://testnet.binance.vision",
			Timeout:   10 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 10, BurstSize: 2},
		},
		Trading: TradingConfig{
			Symbol:       "BTCUSDT",
			Timeframe:    "5m",
			PositionSize: "0.001",
			OrderType:    "MARKET",
		},
		Strategy:   StrategyConfig{MAPeriod: 20, CandleLimit: 100},
		MarketData: MarketDataConfig{CacheTTL: 30 * time.Second},
		Execution:  ExecutionConfig{Cooldown: 60 * time.Second},
		State: StateConfig{
			Backend:  StateBackendFile,
			FilePath: ".data/state.json",
			Redis:    RedisConfig{Addr: "localhost:6379", Prefix: "cryptex:"},
			Postgres: PostgresConfig{Table: "order_records"},
		},
		Storage: StorageConfig{
			Local: LocalStorageConfig{Enabled: true, Dir: ".data"},
			S3:    S3Config{Prefix: "candles", Compression: "snappy"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Job: "cryptex", CloudWatch: CloudWatchConfig{Namespace: "Cryptex"}},
	}
}

// LoadConfig layers the YAML file at path (skipped when path is empty) and
// the process environment over Default, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment: %w", err)
	}

	cfg.Trading.Symbol = NormalizeSymbol(cfg.Trading.Symbol)
	cfg.Trading.OrderType = strings.ToUpper(strings.TrimSpace(cfg.Trading.OrderType))
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString("BINANCE_API_KEY", &cfg.Exchange.APIKey)
	setString("BINANCE_API_SECRET", &cfg.Exchange.APISecret)
	setString("BINANCE_BASE_URL", &cfg.Exchange.BaseURL)
	setString("SYMBOL", &cfg.Trading.Symbol)
	setString("TIMEFRAME", &cfg.Trading.Timeframe)
	setString("ORDER_TYPE", &cfg.Trading.OrderType)
	setString("POSITION_SIZE", &cfg.Trading.PositionSize)
	setString("STATE_BACKEND", &cfg.State.Backend)
	setString("STATE_FILE", &cfg.State.FilePath)
	setString("REDIS_ADDR", &cfg.State.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.State.Redis.Password)
	setString("POSTGRES_DSN", &cfg.State.Postgres.DSN)
	setString("PUSHGATEWAY_URL", &cfg.Metrics.PushgatewayURL)

	ints := []struct {
		key string
		set func(int)
	}{
		{"MA_PERIOD", func(n int) { cfg.Strategy.MAPeriod = n }},
		{"CANDLE_LIMIT", func(n int) { cfg.Strategy.CandleLimit = n }},
		{"DATA_CACHE_TTL_SECONDS", func(n int) { cfg.MarketData.CacheTTL = time.Duration(n) * time.Second }},
		{"ORDER_COOLDOWN_SECONDS", func(n int) { cfg.Execution.Cooldown = time.Duration(n) * time.Second }},
	}
	for _, item := range ints {
		v := strings.TrimSpace(os.Getenv(item.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", item.key, err)
		}
		item.set(n)
	}

	if v := strings.TrimSpace(os.Getenv("DRY_RUN")); v != "" {
		dry, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DRY_RUN: %w", err)
		}
		cfg.Trading.DryRun = dry
	}

	// S3 credentials follow the standard AWS variables.
	if cfg.Storage.S3.Enabled {
		setString("AWS_ACCESS_KEY_ID", &cfg.Storage.S3.AccessKeyID)
		setString("AWS_SECRET_ACCESS_KEY", &cfg.Storage.S3.SecretAccessKey)
		setString("AWS_REGION", &cfg.Storage.S3.Region)
		setString("S3_BUCKET", &cfg.Storage.S3.Bucket)
	}
	return nil
}

var (
	ErrMissingCredentials = errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required (set DRY_RUN=true to simulate)")
	ErrInvalidTimeframe   = errors.New("unsupported timeframe")
)

// validTimeframes are the kline intervals accepted by Binance spot.
var validTimeframes = map[string]struct{}{
	"1s": {}, "1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// Validate reports the first configuration problem found and fills the
// parsed Trading.Quantity on success.
func (c *Config) Validate() error {
	if c.Cryptex.Name == "" {
		return fmt.Errorf("cryptex.name is required")
	}
	if !c.Trading.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return ErrMissingCredentials
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if c.Exchange.Timeout <= 0 {
		return fmt.Errorf("exchange.timeout must be greater than 0")
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol is required")
	}
	if _, ok := validTimeframes[c.Trading.Timeframe]; !ok {
		return fmt.Errorf("%w '%s'", ErrInvalidTimeframe, c.Trading.Timeframe)
	}
	size, err := decimal.NewFromString(strings.TrimSpace(c.Trading.PositionSize))
	if err != nil {
		return fmt.Errorf("trading.position_size '%s' is not a number", c.Trading.PositionSize)
	}
	if !size.IsPositive() {
		return fmt.Errorf("trading.position_size must be greater than 0")
	}
	c.Trading.Quantity = size
	if c.Trading.OrderType != "MARKET" {
		return fmt.Errorf("trading.order_type '%s' is not supported", c.Trading.OrderType)
	}
	if c.Strategy.MAPeriod < 2 {
		return fmt.Errorf("strategy.ma_period must be at least 2")
	}
	if c.Strategy.CandleLimit < c.Strategy.MAPeriod {
		return fmt.Errorf("strategy.candle_limit must be at least strategy.ma_period")
	}
	if c.MarketData.CacheTTL < 0 {
		return fmt.Errorf("market_data.cache_ttl must not be negative")
	}
	if c.Execution.Cooldown < 0 {
		return fmt.Errorf("execution.cooldown must not be negative")
	}

	switch c.State.Backend {
	case StateBackendMemory:
	case StateBackendFile:
		if c.State.FilePath == "" {
			return fmt.Errorf("state.file_path is required for the file backend")
		}
	case StateBackendRedis:
		if c.State.Redis.Addr == "" {
			return fmt.Errorf("state.redis.addr is required for the redis backend")
		}
	case StateBackendPostgres:
		if c.State.Postgres.DSN == "" {
			return fmt.Errorf("state.postgres.dsn is required for the postgres backend")
		}
		if !sqlIdentRegexp.MatchString(c.State.Postgres.Table) {
			return fmt.Errorf("state.postgres.table '%s' is invalid", c.State.Postgres.Table)
		}
	default:
		return fmt.Errorf("state.backend '%s' is not supported", c.State.Backend)
	}

	if c.Storage.Local.Enabled && c.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local.dir is required when local storage is enabled")
	}
	if c.Storage.S3.Enabled {
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(c.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", c.Storage.S3.Bucket)
		}
	}

	return nil
}

// NormalizeSymbol converts "btc/usdt", "BTC-USDT" or "XBT_USDT" style
// pairs to the Binance spot form BTCUSDT.
func NormalizeSymbol(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	for _, sep := range []string{"/", "-", "_", " "} {
		sym = strings.ReplaceAll(sym, sep, "")
	}
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}
	return sym
}

// HasCredentials reports whether signed exchange endpoints can be used.
func (c *Config) HasCredentials() bool {
	return c.Exchange.APIKey != "" && c.Exchange.APISecret != ""
}

var (
	s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	sqlIdentRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
