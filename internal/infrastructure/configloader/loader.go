package configloader

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	Port                string   `yaml:"port"`
	ReadTimeoutSeconds  int      `yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int      `yaml:"writeTimeoutSeconds"`
	AllowedOrigins      []string `yaml:"allowedOrigins"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// NetworkNodeConfig holds the endpoints and call limits of one EVM chain.
type NetworkNodeConfig struct {
	RPCURL          string   `yaml:"rpcURL"`
	FallbackRPCURLs []string `yaml:"fallbackRPCURLs"`
	WSURL           string   `yaml:"wsURL"`
	RPCTimeoutMs    int64    `yaml:"rpcTimeoutMs"`
	// MaxConcurrent bounds in-flight calls to this chain.
	MaxConcurrent int `yaml:"maxConcurrent"`
	// MinIntervalMs is the minimum spacing between dispatched calls.
	MinIntervalMs     int64 `yaml:"minIntervalMs"`
	MaxBatchSize      int   `yaml:"maxBatchSize"`
	BatchIdleWindowMs int64 `yaml:"batchIdleWindowMs"`
	PollIntervalMs    int64 `yaml:"pollIntervalMs"`
}

// BitcoinConfig holds the block-explorer endpoints used for the UTXO chain.
type BitcoinConfig struct {
	EsploraBaseURL        string `yaml:"esploraBaseURL"`
	BlockchainInfoBaseURL string `yaml:"blockchainInfoBaseURL"`
	RequestTimeoutMillis  int64  `yaml:"requestTimeoutMillis"`
	MaxConcurrent         int    `yaml:"maxConcurrent"`
	MinIntervalMs         int64  `yaml:"minIntervalMs"`
	PollIntervalSeconds   int    `yaml:"pollIntervalSeconds"`
}

// CoinGeckoConfig holds CoinGecko API specific configurations.
type CoinGeckoConfig struct {
	APIKey               string `yaml:"apiKey"`
	BaseURL              string `yaml:"baseURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
	// SymbolMapping maps a pricing symbol to a CoinGecko coin id.
	SymbolMapping map[string]string `yaml:"symbolMapping"`
}

// HTTPSourceConfig holds the endpoint of a simple HTTP price source.
type HTTPSourceConfig struct {
	BaseURL              string `yaml:"baseURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
}

// TokenPriceServiceConfig holds configuration for the TokenPriceService.
type TokenPriceServiceConfig struct {
	MaxTokensPerBatchRequest int `yaml:"maxTokensPerBatchRequest"`
	CacheTTLMinutes          int `yaml:"cacheTTLMinutes"`
	FiatCacheTTLHours        int `yaml:"fiatCacheTTLHours"`
	// MaxConcurrent and MinIntervalMs bound the price sources, which also count
	// against Performance.GlobalMaxConcurrent.
	MaxConcurrent int   `yaml:"maxConcurrent"`
	MinIntervalMs int64 `yaml:"minIntervalMs"`
}

// RetryConfig holds the retry engine budget.
type RetryConfig struct {
	MaxRetries       int   `yaml:"maxRetries"`
	BaseDelayMs      int64 `yaml:"baseDelayMs"`
	MaxDelayMs       int64 `yaml:"maxDelayMs"`
	JitterMs         int64 `yaml:"jitterMs"`
	BudgetMultiplier int   `yaml:"budgetMultiplier"`
}

// PerformanceConfig holds performance-related configurations.
type PerformanceConfig struct {
	// GlobalMaxConcurrent bounds in-flight external calls across all chains.
	GlobalMaxConcurrent   int `yaml:"globalMaxConcurrent"`
	MaxConcurrentRoutines int `yaml:"maxConcurrentRoutines"`
}

// CacheConfig selects and tunes the cache store.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	KeyPrefix     string `yaml:"keyPrefix"`
	// LifetimeSeconds is the target freshness of cached data; refresh thresholds derive from it.
	LifetimeSeconds int `yaml:"lifetimeSeconds"`
	// TTLSeconds is the expiry of written entries; it outlives LifetimeSeconds so reads survive a failed refresh.
	TTLSeconds             int `yaml:"ttlSeconds"`
	CleanupIntervalMinutes int `yaml:"cleanupIntervalMinutes"`
	BlockChannelSize       int `yaml:"blockChannelSize"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig                 `yaml:"server"`
	Logging       LoggingConfig                `yaml:"logging"`
	Networks      map[string]NetworkNodeConfig `yaml:"networks"`
	Bitcoin       BitcoinConfig                `yaml:"bitcoin"`
	CoinGecko     CoinGeckoConfig              `yaml:"coingecko"`
	IndexPrice    HTTPSourceConfig             `yaml:"indexPrice"`
	FiatRates     HTTPSourceConfig             `yaml:"fiatRates"`
	TokenPriceSvc TokenPriceServiceConfig      `yaml:"tokenPriceService"`
	Retry         RetryConfig                  `yaml:"retry"`
	Performance   PerformanceConfig            `yaml:"performance"`
	Cache         CacheConfig                  `yaml:"cache"`
}

// ErrMissingRPCURL is returned when a configured EVM network has no endpoint.
var ErrMissingRPCURL = errors.New("missing rpcURL")

// Load reads the YAML configuration file from the given path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes configuration bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logrus.Errorf("Failed to unmarshal config data: %v", err)
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.Info("Configuration loaded successfully.")
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSeconds <= 0 {
		c.Server.ReadTimeoutSeconds = 15
	}
	if c.Server.WriteTimeoutSeconds <= 0 {
		c.Server.WriteTimeoutSeconds = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	for name, n := range c.Networks {
		if n.RPCTimeoutMs <= 0 {
			n.RPCTimeoutMs = 10000
		}
		if n.MaxConcurrent <= 0 {
			n.MaxConcurrent = 8
		}
		if n.MinIntervalMs < 0 {
			n.MinIntervalMs = 0
		}
		if n.MaxBatchSize <= 0 {
			n.MaxBatchSize = 100
		}
		if n.BatchIdleWindowMs <= 0 {
			n.BatchIdleWindowMs = 50
		}
		if n.PollIntervalMs <= 0 {
			n.PollIntervalMs = 4000
		}
		c.Networks[name] = n
	}

	if c.Bitcoin.EsploraBaseURL == "" {
		c.Bitcoin.EsploraBaseURL = "https://mempool.space/api"
		logrus.Infof("Bitcoin.EsploraBaseURL not set, defaulting to %s", c.Bitcoin.EsploraBaseURL)
	}
	if c.Bitcoin.BlockchainInfoBaseURL == "" {
		c.Bitcoin.BlockchainInfoBaseURL = "https://blockchain.info"
		logrus.Infof("Bitcoin.BlockchainInfoBaseURL not set, defaulting to %s", c.Bitcoin.BlockchainInfoBaseURL)
	}
	if c.Bitcoin.RequestTimeoutMillis <= 0 {
		c.Bitcoin.RequestTimeoutMillis = 10000
	}
	if c.Bitcoin.MaxConcurrent <= 0 {
		c.Bitcoin.MaxConcurrent = 4
	}
	if c.Bitcoin.MinIntervalMs <= 0 {
		c.Bitcoin.MinIntervalMs = 200
	}
	if c.Bitcoin.PollIntervalSeconds <= 0 {
		c.Bitcoin.PollIntervalSeconds = 60
	}

	if c.CoinGecko.BaseURL == "" {
		c.CoinGecko.BaseURL = "https://api.coingecko.com/api/v3"
		logrus.Infof("CoinGecko.BaseURL not set, defaulting to %s", c.CoinGecko.BaseURL)
	}
	if c.CoinGecko.RequestTimeoutMillis <= 0 {
		c.CoinGecko.RequestTimeoutMillis = 10000
	}
	if c.IndexPrice.BaseURL == "" {
		c.IndexPrice.BaseURL = "https://coins.llama.fi"
		logrus.Infof("IndexPrice.BaseURL not set, defaulting to %s", c.IndexPrice.BaseURL)
	}
	if c.IndexPrice.RequestTimeoutMillis <= 0 {
		c.IndexPrice.RequestTimeoutMillis = 10000
	}
	if c.FiatRates.BaseURL == "" {
		c.FiatRates.BaseURL = "https://open.er-api.com/v6"
		logrus.Infof("FiatRates.BaseURL not set, defaulting to %s", c.FiatRates.BaseURL)
	}
	if c.FiatRates.RequestTimeoutMillis <= 0 {
		c.FiatRates.RequestTimeoutMillis = 10000
	}

	if c.TokenPriceSvc.MaxTokensPerBatchRequest <= 0 {
		c.TokenPriceSvc.MaxTokensPerBatchRequest = 50
	}
	if c.TokenPriceSvc.CacheTTLMinutes <= 0 {
		c.TokenPriceSvc.CacheTTLMinutes = 5
		logrus.Infof("CacheTTLMinutes for TokenPriceSvc not set, defaulting to %d minutes", c.TokenPriceSvc.CacheTTLMinutes)
	}
	if c.TokenPriceSvc.FiatCacheTTLHours <= 0 {
		c.TokenPriceSvc.FiatCacheTTLHours = 6
	}
	if c.TokenPriceSvc.MaxConcurrent <= 0 {
		c.TokenPriceSvc.MaxConcurrent = 4
	}
	if c.TokenPriceSvc.MinIntervalMs < 0 {
		c.TokenPriceSvc.MinIntervalMs = 0
	}

	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelayMs <= 0 {
		c.Retry.BaseDelayMs = 500
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 10000
	}
	if c.Retry.JitterMs < 0 {
		c.Retry.JitterMs = 0
	}
	if c.Retry.BudgetMultiplier <= 0 {
		c.Retry.BudgetMultiplier = 2
	}

	if c.Performance.GlobalMaxConcurrent <= 0 {
		c.Performance.GlobalMaxConcurrent = 32
	}
	if c.Performance.MaxConcurrentRoutines <= 0 {
		c.Performance.MaxConcurrentRoutines = 10
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.LifetimeSeconds <= 0 {
		c.Cache.LifetimeSeconds = 60
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = 3600
	}
	if c.Cache.CleanupIntervalMinutes <= 0 {
		c.Cache.CleanupIntervalMinutes = 10
	}
	if c.Cache.BlockChannelSize <= 0 {
		c.Cache.BlockChannelSize = 16
	}
}

// Validate checks fields that have no usable default.
func (c *Config) Validate() error {
	names := make([]string, 0, len(c.Networks))
	for name := range c.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if c.Networks[name].RPCURL == "" {
			logrus.Errorf("Network '%s' has no rpcURL configured", name)
			return fmt.Errorf("network %s: %w", name, ErrMissingRPCURL)
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// Network returns the node config of a chain.
func (c *Config) Network(name string) (NetworkNodeConfig, bool) {
	n, ok := c.Networks[name]
	return n, ok
}

// CacheLifetime returns the target freshness of cached data.
func (c *Config) CacheLifetime() time.Duration {
	return time.Duration(c.Cache.LifetimeSeconds) * time.Second
}

// CacheTTL returns the expiry applied to cache writes.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
