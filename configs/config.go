// Package configs loads the external CoreConfig of SPEC_FULL.md §6: chain
// descriptors, token specs, scheduling intervals, and secret handles.
// Secrets are kept out of the YAML file and loaded separately via
// godotenv, matching the teacher's split between config.yml and env vars.
package configs

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChoSanghyuk/whalewatch/internal/model"
)

// ChainYAML is one entry of the `chains` map in config.yml.
type ChainYAML struct {
	ChainID           uint64 `yaml:"chain_id"`
	RPC               string `yaml:"rpc"`
	ExplorerBaseURL   string `yaml:"explorer_base_url"`
	PriceOraclePrefix string `yaml:"price_oracle_prefix"`
	DisplayName       string `yaml:"display_name"`
}

// TokenYAML normalizes the three token-spec shapes the original source
// accepted (bare address string / (address, chain) pair / full record)
// into one struct at the YAML-decode boundary, per SPEC_FULL.md §9
// "Dynamic config shapes".
type TokenYAML struct {
	Address string
	Chain   string
	// TopN is a pointer for the same reason as Config.CacheFreshnessSeconds:
	// nil means "not configured, apply the default", 0 means "explicitly
	// configured to track no whales" (spec.md's top_n=0 testable property).
	TopN         *int
	ThresholdUSD float64
}

// UnmarshalYAML accepts either a bare scalar address (defaults applied by
// the caller), a short mapping of address+chain, or the full record.
func (t *TokenYAML) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var addr string
		if err := value.Decode(&addr); err != nil {
			return fmt.Errorf("token spec: %w", err)
		}
		t.Address = addr
		return nil
	case yaml.MappingNode:
		var full struct {
			Address      string  `yaml:"address"`
			Chain        string  `yaml:"chain"`
			TopN         *int    `yaml:"top_n"`
			ThresholdUSD float64 `yaml:"threshold_usd"`
		}
		if err := value.Decode(&full); err != nil {
			return fmt.Errorf("token spec: %w", err)
		}
		t.Address = full.Address
		t.Chain = full.Chain
		t.TopN = full.TopN
		t.ThresholdUSD = full.ThresholdUSD
		return nil
	default:
		return fmt.Errorf("token spec: unsupported YAML node kind %v", value.Kind)
	}
}

// Config is the raw YAML shape of config.yml.
type Config struct {
	Chains               map[string]ChainYAML `yaml:"chains"`
	Tokens               []TokenYAML          `yaml:"tokens"`
	DefaultChain         string                `yaml:"default_chain"`
	DefaultTopN          int                   `yaml:"default_top_n"`
	DefaultThresholdUSD  float64               `yaml:"default_threshold_usd"`
	BlockPollSeconds     int                   `yaml:"block_poll_seconds"`
	WhaleRefreshSeconds  int                   `yaml:"whale_refresh_seconds"`
	PriceRefreshSeconds  int                   `yaml:"price_refresh_seconds"`
	StatusPrintSeconds   int                   `yaml:"status_print_seconds"`
	CacheFreshnessSeconds *int                 `yaml:"cache_freshness_seconds"` // nil = not configured, 0 = never-expire
	CacheDir              string               `yaml:"cache_dir"`
	DedupCapacity         int                  `yaml:"dedup_capacity"`
	MaxRetries            int                  `yaml:"max_retries"`
	BaseRetryDelayMillis  int                  `yaml:"base_retry_delay_millis"`
	MaxConsecutiveErrors  int                  `yaml:"max_consecutive_errors"`
	RPCTimeoutSeconds     int                  `yaml:"rpc_timeout_seconds"`
	HTTPTimeoutSeconds    int                  `yaml:"http_timeout_seconds"`
	PrimaryProviderURL    string               `yaml:"primary_provider_url"`
	SecondaryProviderURL  string               `yaml:"secondary_provider_url"`
	PriceOracleURL        string               `yaml:"price_oracle_url"`
	MySQLDSN              string               `yaml:"mysql_dsn"` // empty disables internal/db persistence
}

// Secrets holds the values loaded from the environment, never from YAML.
type Secrets struct {
	PrimaryProviderAPIKey string
	TelegramBotToken      string
	TelegramChatID        string
}

// CoreConfig is the fully normalized, ready-to-wire configuration
// consumed by the Supervisor (SPEC_FULL.md §6).
type CoreConfig struct {
	Chains  map[string]model.ChainDescriptor
	Tokens  []model.TokenSpec

	BlockPollInterval   time.Duration
	WhaleRefreshInterval time.Duration
	PriceRefreshInterval time.Duration
	StatusPrintInterval  time.Duration

	CacheFreshnessConfigured bool
	CacheFreshnessHorizon    time.Duration
	CacheDir                 string
	DedupCapacity            int

	MaxRetries           int
	BaseRetryDelay       time.Duration
	MaxConsecutiveErrors int
	RPCTimeout           time.Duration
	HTTPTimeout          time.Duration

	PrimaryProviderURL   string
	SecondaryProviderURL string
	PriceOracleURL       string
	MySQLDSN             string

	Secrets Secrets
}

// LoadConfig reads config.yml, applies defaults, normalizes token specs,
// and validates the shape.
func LoadConfig(path string) (*CoreConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read config file: %w", err)
	}

	var raw Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("configs: parse config YAML: %w", err)
	}

	return normalize(&raw)
}

// LoadSecrets loads secret handles from the environment, via godotenv if
// a .env file is present (teacher's pattern), falling back silently to
// the process environment otherwise.
func LoadSecrets(envPath string) (Secrets, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Secrets{}, fmt.Errorf("configs: load env file: %w", err)
		}
	}
	return Secrets{
		PrimaryProviderAPIKey: os.Getenv("PRIMARY_PROVIDER_API_KEY"),
		TelegramBotToken:      os.Getenv("TG_TOKEN"),
		TelegramChatID:        os.Getenv("TG_CHAT_ID"),
	}, nil
}

func normalize(raw *Config) (*CoreConfig, error) {
	if len(raw.Chains) == 0 {
		return nil, fmt.Errorf("configs: at least one chain must be configured")
	}

	chains := make(map[string]model.ChainDescriptor, len(raw.Chains))
	for name, c := range raw.Chains {
		if c.RPC == "" {
			return nil, fmt.Errorf("configs: chain %s: rpc is required", name)
		}
		chains[name] = model.ChainDescriptor{
			Name:              name,
			ChainID:           c.ChainID,
			RPCEndpoint:       c.RPC,
			ExplorerBaseURL:   c.ExplorerBaseURL,
			PriceOraclePrefix: firstNonEmpty(c.PriceOraclePrefix, name),
			DisplayName:       firstNonEmpty(c.DisplayName, name),
		}
	}

	defaultChain := firstNonEmpty(raw.DefaultChain, "ethereum")
	defaultTopN := raw.DefaultTopN
	if defaultTopN == 0 {
		defaultTopN = 50
	}
	defaultThreshold := raw.DefaultThresholdUSD
	if defaultThreshold == 0 {
		defaultThreshold = 10000
	}

	tokens := make([]model.TokenSpec, 0, len(raw.Tokens))
	for _, ty := range raw.Tokens {
		if ty.Address == "" {
			return nil, fmt.Errorf("configs: token spec missing address")
		}
		topN := defaultTopN
		if ty.TopN != nil {
			topN = *ty.TopN
		}
		spec := model.TokenSpec{
			Address:      common.HexToAddress(ty.Address),
			Chain:        firstNonEmpty(ty.Chain, defaultChain),
			TopN:         topN,
			ThresholdUSD: orDefaultF(ty.ThresholdUSD, defaultThreshold),
		}
		if _, ok := chains[spec.Chain]; !ok {
			return nil, fmt.Errorf("configs: token %s references unconfigured chain %s", ty.Address, spec.Chain)
		}
		if err := spec.Validate(100); err != nil {
			return nil, fmt.Errorf("configs: %w", err)
		}
		tokens = append(tokens, spec)
	}

	cfg := &CoreConfig{
		Chains:               chains,
		Tokens:               tokens,
		BlockPollInterval:    secondsOrDefault(raw.BlockPollSeconds, 12*time.Second),
		WhaleRefreshInterval: secondsOrDefault(raw.WhaleRefreshSeconds, 5*time.Minute),
		PriceRefreshInterval: secondsOrDefault(raw.PriceRefreshSeconds, 30*time.Second),
		StatusPrintInterval:  secondsOrDefault(raw.StatusPrintSeconds, 60*time.Second),
		CacheDir:             firstNonEmpty(raw.CacheDir, "./cache"),
		DedupCapacity:        orDefault(raw.DedupCapacity, 10000),
		MaxRetries:           orDefault(raw.MaxRetries, 3),
		BaseRetryDelay:       millisOrDefault(raw.BaseRetryDelayMillis, 500*time.Millisecond),
		MaxConsecutiveErrors: orDefault(raw.MaxConsecutiveErrors, 5),
		RPCTimeout:           secondsOrDefault(raw.RPCTimeoutSeconds, 10*time.Second),
		HTTPTimeout:          secondsOrDefault(raw.HTTPTimeoutSeconds, 10*time.Second),
		PrimaryProviderURL:   raw.PrimaryProviderURL,
		SecondaryProviderURL: raw.SecondaryProviderURL,
		PriceOracleURL:       raw.PriceOracleURL,
		MySQLDSN:             raw.MySQLDSN,
	}

	if raw.CacheFreshnessSeconds != nil {
		cfg.CacheFreshnessConfigured = true
		cfg.CacheFreshnessHorizon = time.Duration(*raw.CacheFreshnessSeconds) * time.Second
	}

	return cfg, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultF(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func secondsOrDefault(v int, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func millisOrDefault(v int, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
