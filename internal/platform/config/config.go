package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BUYBACK_HTTP_PORT
const EnvPrefix = "BUYBACK"

// Chain modes
const (
	ModeSim = "sim"
	ModeRPC = "rpc"
)

// Registry store backends
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config holds all configuration for the buyback daemon
type Config struct {
	Chain         ChainConfig         `mapstructure:"chain"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Sim           SimConfig           `mapstructure:"sim"`
}

// ChainConfig holds the execution environment and contract addresses
type ChainConfig struct {
	Mode          string        `mapstructure:"mode"` // sim or rpc
	RPCEndpoints  []RPCEndpoint `mapstructure:"rpc_endpoints"`
	CallTimeout   time.Duration `mapstructure:"call_timeout"`
	Factory       string        `mapstructure:"factory"`
	InitCodeHash  string        `mapstructure:"init_code_hash"`
	WrappedNative string        `mapstructure:"wrapped_native"`
	HookAddress   string        `mapstructure:"hook_address"`
	VerifyPools   bool          `mapstructure:"verify_pools"` // ask the factory instead of deriving offline
	// Projects binds project tokens and owners in rpc mode
	Projects []ProjectBinding `mapstructure:"projects"`
}

// ProjectBinding is a project's token and owner as recorded on chain
type ProjectBinding struct {
	ID    uint64 `mapstructure:"id"`
	Token string `mapstructure:"token"`
	Owner string `mapstructure:"owner"`
}

// RPCEndpoint represents an Ethereum RPC endpoint
type RPCEndpoint struct {
	URL    string `mapstructure:"url"`
	Weight int    `mapstructure:"weight"`
}

// FactoryAddress returns the parsed factory address
func (c ChainConfig) FactoryAddress() common.Address {
	return common.HexToAddress(c.Factory)
}

// InitCodeHashValue returns the parsed pool init code hash
func (c ChainConfig) InitCodeHashValue() common.Hash {
	return common.HexToHash(c.InitCodeHash)
}

// WrappedNativeAddress returns the parsed wrapped native token address
func (c ChainConfig) WrappedNativeAddress() common.Address {
	return common.HexToAddress(c.WrappedNative)
}

// Hook returns the parsed hook address
func (c ChainConfig) Hook() common.Address {
	return common.HexToAddress(c.HookAddress)
}

// RegistryConfig holds pool registry persistence settings
type RegistryConfig struct {
	Store      string      `mapstructure:"store"` // memory or sqlite
	SQLitePath string      `mapstructure:"sqlite_path"`
	Cache      CacheConfig `mapstructure:"cache"`
}

// CacheConfig holds registry read-through cache settings
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	UseRedis  bool          `mapstructure:"use_redis"`
	L1MaxSize int           `mapstructure:"l1_max_size"`
	L1TTL     time.Duration `mapstructure:"l1_ttl"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// AWSConfig holds AWS service configuration
type AWSConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Region      string `mapstructure:"region"`
	SNSTopicARN string `mapstructure:"sns_topic_arn"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Tracing     TracingConfig `mapstructure:"tracing"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig holds tracing settings
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SimConfig seeds the simulated environment used by the dev daemon
type SimConfig struct {
	ProjectID       uint64  `mapstructure:"project_id"`
	Owner           string  `mapstructure:"owner"`
	Weight          string  `mapstructure:"weight"` // project tokens per settlement unit, 18 decimals
	ReservedRateBps uint32  `mapstructure:"reserved_rate_bps"`
	PoolPrice       float64 `mapstructure:"pool_price"` // project tokens per settlement unit
	PoolLiquidity   string  `mapstructure:"pool_liquidity"`
	Fee             uint32  `mapstructure:"fee"`
	TwapWindow      uint32  `mapstructure:"twap_window"`
	TwapTolerance   uint32  `mapstructure:"twap_tolerance"`

	weight    *big.Int
	liquidity *big.Int
}

// WeightValue returns the parsed issuance weight
func (s SimConfig) WeightValue() *big.Int {
	return new(big.Int).Set(s.weight)
}

// LiquidityValue returns the parsed pool liquidity
func (s SimConfig) LiquidityValue() *big.Int {
	return new(big.Int).Set(s.liquidity)
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Chain defaults: canonical Uniswap V3 mainnet deployment
	v.SetDefault("chain.mode", ModeSim)
	v.SetDefault("chain.call_timeout", "10s")
	v.SetDefault("chain.factory", "0x1F98431c8aD98523631AE4a59f267346ea31F984")
	v.SetDefault("chain.init_code_hash", "0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
	v.SetDefault("chain.wrapped_native", "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	v.SetDefault("chain.hook_address", "0x00000000000000000000000000000000b0b0b0b0")
	v.SetDefault("chain.verify_pools", false)

	// Registry defaults
	v.SetDefault("registry.store", StoreMemory)
	v.SetDefault("registry.sqlite_path", "buyback.db")
	v.SetDefault("registry.cache.enabled", false)
	v.SetDefault("registry.cache.use_redis", false)
	v.SetDefault("registry.cache.l1_max_size", 1000)
	v.SetDefault("registry.cache.l1_ttl", "30s")
	v.SetDefault("registry.cache.ttl", "5m")

	// Redis defaults
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "buyback:")

	// AWS defaults
	v.SetDefault("aws.enabled", false)
	v.SetDefault("aws.endpoint", "http://localhost:4566")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.sns_topic_arn", "arn:aws:sns:us-east-1:000000000000:buyback-events")

	// Observability defaults
	v.SetDefault("observability.service_name", "buybackd")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_ratio", 1.0)

	// HTTP defaults
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	// Simulated environment defaults: 1 ETH mints 100 tokens, pool pays ~150
	v.SetDefault("sim.project_id", 1)
	v.SetDefault("sim.owner", "0x00000000000000000000000000000000000a11ce")
	v.SetDefault("sim.weight", "100000000000000000000")
	v.SetDefault("sim.reserved_rate_bps", 1000)
	v.SetDefault("sim.pool_price", 150.0)
	v.SetDefault("sim.pool_liquidity", "1000000000000000000000000")
	v.SetDefault("sim.fee", 3000)
	v.SetDefault("sim.twap_window", 600)
	v.SetDefault("sim.twap_tolerance", 500)
}

// parse parses string values into their proper types
func (c *Config) parse() error {
	weight, ok := new(big.Int).SetString(c.Sim.Weight, 10)
	if !ok {
		return fmt.Errorf("invalid sim weight: %q", c.Sim.Weight)
	}
	c.Sim.weight = weight

	liquidity, ok := new(big.Int).SetString(c.Sim.PoolLiquidity, 10)
	if !ok {
		return fmt.Errorf("invalid sim pool liquidity: %q", c.Sim.PoolLiquidity)
	}
	c.Sim.liquidity = liquidity

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Chain.Mode {
	case ModeSim:
	case ModeRPC:
		if len(c.Chain.RPCEndpoints) == 0 {
			return fmt.Errorf("at least one RPC endpoint is required in rpc mode")
		}
		for _, p := range c.Chain.Projects {
			if !common.IsHexAddress(p.Token) || !common.IsHexAddress(p.Owner) {
				return fmt.Errorf("chain.projects[%d]: token and owner must be addresses", p.ID)
			}
		}
	default:
		return fmt.Errorf("invalid chain mode: %s", c.Chain.Mode)
	}

	for name, addr := range map[string]string{
		"factory":        c.Chain.Factory,
		"wrapped_native": c.Chain.WrappedNative,
		"hook_address":   c.Chain.HookAddress,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("chain.%s is not a valid address: %q", name, addr)
		}
	}

	switch c.Registry.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.Registry.SQLitePath == "" {
			return fmt.Errorf("registry.sqlite_path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("invalid registry store: %s", c.Registry.Store)
	}

	if c.Registry.Cache.Enabled && c.Registry.Cache.UseRedis && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when the registry cache uses redis")
	}

	if c.AWS.Enabled {
		if c.AWS.Region == "" {
			return fmt.Errorf("AWS region is required")
		}
		if c.AWS.SNSTopicARN == "" {
			return fmt.Errorf("SNS topic ARN is required")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Observability.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validLogFormats[c.Observability.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Observability.Logging.Format)
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port: %d", c.HTTP.Port)
	}

	if c.Sim.PoolPrice <= 0 {
		return fmt.Errorf("sim.pool_price must be positive")
	}

	return nil
}
