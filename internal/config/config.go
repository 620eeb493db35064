// Package config loads and validates the probe's runtime configuration
// from environment variables and an optional yaml file, and resolves
// market symbols against the built-in registry.
package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed markets.yaml
var marketsYAML []byte

// MarketSpec describes one listed market: the venue index and the
// decimal scales of its integer price and size units.
type MarketSpec struct {
	Index         int64 `yaml:"index"`
	PriceDecimals int32 `yaml:"price_decimals"`
	SizeDecimals  int32 `yaml:"size_decimals"`
}

var registry map[string]MarketSpec

func init() {
	var reg struct {
		Markets map[string]MarketSpec `yaml:"markets"`
	}
	if err := yaml.Unmarshal(marketsYAML, &reg); err != nil {
		panic(fmt.Sprintf("embedded market registry: %v", err))
	}
	registry = reg.Markets
}

// LookupMarket resolves a market symbol, case-insensitively. Unknown
// symbols get a closest-match suggestion when one is near enough.
func LookupMarket(symbol string) (MarketSpec, error) {
	name := strings.ToUpper(strings.TrimSpace(symbol))
	spec, ok := registry[name]
	if !ok {
		if hint := closestMarket(name); hint != "" {
			return MarketSpec{}, fmt.Errorf("unknown market %q (did you mean %q?)", symbol, hint)
		}
		return MarketSpec{}, fmt.Errorf("unknown market %q", symbol)
	}
	return spec, nil
}

func closestMarket(symbol string) string {
	best := ""
	bestDist := 3
	for name := range registry {
		if d := levenshtein.ComputeDistance(symbol, name); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// Config is the validated runtime configuration of one probe process.
type Config struct {
	APIURL       string `mapstructure:"api_url" validate:"required,url"`
	PrivateKey   string `mapstructure:"private_key" validate:"required"`
	AccountIndex int64  `mapstructure:"account_index" validate:"min=0"`
	APIKeyIndex  uint8  `mapstructure:"api_key_index"`
	Market       string `mapstructure:"market" validate:"required"`

	ProbeSizeUnits    int64   `mapstructure:"probe_size_units" validate:"min=1"`
	FallbackSizeUnits int64   `mapstructure:"fallback_size_units" validate:"min=0"`
	Slippage          float64 `mapstructure:"slippage" validate:"gt=0,lt=1"`

	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" validate:"required"`
	GreetingTimeout time.Duration `mapstructure:"greeting_timeout" validate:"required"`
	AckTimeout      time.Duration `mapstructure:"ack_timeout" validate:"required"`
	FillTimeout     time.Duration `mapstructure:"fill_timeout" validate:"required"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// KafkaBrokers is a comma-separated broker list; empty disables the
	// results sink.
	KafkaBrokers string `mapstructure:"kafka_brokers"`

	Watch         bool          `mapstructure:"watch"`
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	ListenAddr    string        `mapstructure:"listen_addr"`

	Trace bool `mapstructure:"trace"`

	// Resolved from the market registry, not read from the environment.
	MarketIndex   int64 `mapstructure:"-"`
	PriceDecimals int32 `mapstructure:"-"`
	SizeDecimals  int32 `mapstructure:"-"`
}

// Brokers splits the configured kafka broker list, nil when the sink is
// disabled.
func (c *Config) Brokers() []string {
	var out []string
	for _, p := range strings.Split(c.KafkaBrokers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SlippageDecimal returns the slippage fraction as a decimal for price
// padding.
func (c *Config) SlippageDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Slippage)
}

// Load reads configuration from the environment and an optional yaml
// file. An explicit path must exist; otherwise ./lighterprobe.yaml is
// picked up when present. Defaults mirror the public mainnet deployment.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_url", "https://mainnet.zklighter.elliot.ai")
	v.SetDefault("private_key", "")
	v.SetDefault("account_index", -1)
	v.SetDefault("api_key_index", 4)
	v.SetDefault("market", "ETH")
	v.SetDefault("probe_size_units", 10)
	v.SetDefault("fallback_size_units", 100)
	v.SetDefault("slippage", 0.005)
	v.SetDefault("connect_timeout", 10*time.Second)
	v.SetDefault("greeting_timeout", 5*time.Second)
	v.SetDefault("ack_timeout", 10*time.Second)
	v.SetDefault("fill_timeout", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("kafka_brokers", "")
	v.SetDefault("watch", false)
	v.SetDefault("watch_interval", 30*time.Second)
	v.SetDefault("listen_addr", ":9090")
	v.SetDefault("trace", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("lighterprobe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private_key is required (set PRIVATE_KEY)")
	}
	if cfg.AccountIndex < 0 {
		return nil, fmt.Errorf("account_index is required (set ACCOUNT_INDEX)")
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Watch && cfg.WatchInterval <= 0 {
		return nil, fmt.Errorf("watch_interval must be positive, got %s", cfg.WatchInterval)
	}

	spec, err := LookupMarket(cfg.Market)
	if err != nil {
		return nil, err
	}
	cfg.MarketIndex = spec.Index
	cfg.PriceDecimals = spec.PriceDecimals
	cfg.SizeDecimals = spec.SizeDecimals
	return &cfg, nil
}
