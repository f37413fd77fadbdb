package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"lendoracle/native/oracle/pendle"
	"lendoracle/storage"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

// UnmarshalText lets TOML decode durations from strings.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Seconds returns the duration in whole seconds.
func (d Duration) Seconds() uint64 {
	if d.Duration <= 0 {
		return 0
	}
	return uint64(d.Duration / time.Second)
}

// Config captures runtime configuration for oracled.
type Config struct {
	ListenAddress  string          `yaml:"listen" toml:"listen"`
	MaxConnections int             `yaml:"max_connections" toml:"max_connections"`
	RPCURL         string          `yaml:"rpc_url" toml:"rpc_url"`
	StateBackend   string          `yaml:"state_backend" toml:"state_backend"`
	StatePath      string          `yaml:"state_path" toml:"state_path"`
	HistoryDSN     string          `yaml:"history_dsn" toml:"history_dsn"`
	LogFile        string          `yaml:"log_file" toml:"log_file"`
	Operator       string          `yaml:"operator" toml:"operator"`
	Admin          AdminConfig     `yaml:"admin" toml:"admin"`
	Keeper         KeeperConfig    `yaml:"keeper" toml:"keeper"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Chainlink      ChainlinkConfig `yaml:"chainlink" toml:"chainlink"`
	UniswapV3      UniswapV3Config `yaml:"uniswap_v3" toml:"uniswap_v3"`
	Pendle         PendleConfig    `yaml:"pendle" toml:"pendle"`
	Twap           TwapConfig      `yaml:"twap" toml:"twap"`
}

// AdminConfig enables the authenticated admin routes. JWTSecretEnv names an
// environment variable holding the HS256 secret.
type AdminConfig struct {
	JWTSecretEnv string   `yaml:"jwt_secret_env" toml:"jwt_secret_env"`
	Issuer       string   `yaml:"issuer" toml:"issuer"`
	Audience     string   `yaml:"audience" toml:"audience"`
	ClockSkew    Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// Secret resolves the admin signing secret from the environment.
func (a AdminConfig) Secret() string {
	if strings.TrimSpace(a.JWTSecretEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(a.JWTSecretEnv))
}

// KeeperConfig tunes the TWAP refresh loop. An empty asset list refreshes
// every configured TWAP asset.
type KeeperConfig struct {
	Interval Duration `yaml:"interval" toml:"interval"`
	Assets   []string `yaml:"assets" toml:"assets"`
}

// RateLimitConfig throttles the HTTP API per client.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`
}

type ChainlinkConfig struct {
	Direct  []FeedToken `yaml:"direct" toml:"direct"`
	OneJump []FeedToken `yaml:"one_jump" toml:"one_jump"`
}

// FeedToken binds an asset to an aggregator feed. DirectPrice, when set, is an
// 18 decimal USD price that overrides the feed.
type FeedToken struct {
	Asset          string   `yaml:"asset" toml:"asset"`
	Feed           string   `yaml:"feed" toml:"feed"`
	MaxStalePeriod Duration `yaml:"max_stale_period" toml:"max_stale_period"`
	Underlying     string   `yaml:"underlying" toml:"underlying"`
	DirectPrice    string   `yaml:"direct_price" toml:"direct_price"`
}

type UniswapV3Config struct {
	Factory string      `yaml:"factory" toml:"factory"`
	Tokens  []PoolToken `yaml:"tokens" toml:"tokens"`
}

type PoolToken struct {
	Base   string   `yaml:"base" toml:"base"`
	Quote  string   `yaml:"quote" toml:"quote"`
	Fee    uint32   `yaml:"fee" toml:"fee"`
	Window Duration `yaml:"window" toml:"window"`
}

type PendleConfig struct {
	PtOracle string        `yaml:"pt_oracle" toml:"pt_oracle"`
	Tokens   []PendleToken `yaml:"tokens" toml:"tokens"`
}

type PendleToken struct {
	Asset        string   `yaml:"asset" toml:"asset"`
	Market       string   `yaml:"market" toml:"market"`
	Underlying   string   `yaml:"underlying" toml:"underlying"`
	TwapDuration Duration `yaml:"twap_duration" toml:"twap_duration"`
	RateKind     string   `yaml:"rate_kind" toml:"rate_kind"`
}

type TwapConfig struct {
	WETH           string      `yaml:"weth" toml:"weth"`
	StableDecimals uint8       `yaml:"stable_decimals" toml:"stable_decimals"`
	Tokens         []TwapToken `yaml:"tokens" toml:"tokens"`
}

type TwapToken struct {
	Asset        string   `yaml:"asset" toml:"asset"`
	Pool         string   `yaml:"pool" toml:"pool"`
	EthBased     bool     `yaml:"eth_based" toml:"eth_based"`
	Reversed     bool     `yaml:"reversed" toml:"reversed"`
	AnchorPeriod Duration `yaml:"anchor_period" toml:"anchor_period"`
}

// Load reads configuration from the supplied path. Files ending in .toml are
// decoded as TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	} else {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 256
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = storage.BackendLevelDB
	}
	if cfg.StatePath == "" {
		cfg.StatePath = "/var/data/oracled/state"
	}
	if cfg.HistoryDSN == "" {
		cfg.HistoryDSN = "file:/var/data/oracled/history.sqlite"
	}
	if cfg.Keeper.Interval.Duration == 0 {
		cfg.Keeper.Interval.Duration = 5 * time.Minute
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 20
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 40
	}
	if cfg.Twap.StableDecimals == 0 {
		cfg.Twap.StableDecimals = 6
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc_url must be configured")
	}
	if err := requireAddress("operator", cfg.Operator); err != nil {
		return err
	}
	switch cfg.StateBackend {
	case storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("unsupported state_backend %q", cfg.StateBackend)
	}
	if cfg.Admin.JWTSecretEnv != "" && cfg.Admin.Secret() == "" {
		return fmt.Errorf("admin secret env %s is empty", cfg.Admin.JWTSecretEnv)
	}
	seen := make(map[common.Address]string)
	// dependsOn maps assets priced through the router to the asset they quote.
	dependsOn := make(map[common.Address]common.Address)
	claim := func(section, raw string) error {
		if err := requireAddress(section+".asset", raw); err != nil {
			return err
		}
		asset := common.HexToAddress(raw)
		if prev, ok := seen[asset]; ok {
			return fmt.Errorf("asset %s configured in both %s and %s", asset.Hex(), prev, section)
		}
		seen[asset] = section
		return nil
	}
	for _, tok := range cfg.Chainlink.Direct {
		if err := claim("chainlink.direct", tok.Asset); err != nil {
			return err
		}
		if err := validateFeed("chainlink.direct", tok); err != nil {
			return err
		}
	}
	for _, tok := range cfg.Chainlink.OneJump {
		if err := claim("chainlink.one_jump", tok.Asset); err != nil {
			return err
		}
		if err := validateFeed("chainlink.one_jump", tok); err != nil {
			return err
		}
		if err := requireAddress("chainlink.one_jump.underlying", tok.Underlying); err != nil {
			return err
		}
		dependsOn[common.HexToAddress(tok.Asset)] = common.HexToAddress(tok.Underlying)
	}
	if len(cfg.UniswapV3.Tokens) > 0 {
		if err := requireAddress("uniswap_v3.factory", cfg.UniswapV3.Factory); err != nil {
			return err
		}
	}
	for _, tok := range cfg.UniswapV3.Tokens {
		if err := claim("uniswap_v3", tok.Base); err != nil {
			return err
		}
		if err := requireAddress("uniswap_v3.quote", tok.Quote); err != nil {
			return err
		}
		dependsOn[common.HexToAddress(tok.Base)] = common.HexToAddress(tok.Quote)
	}
	if len(cfg.Pendle.Tokens) > 0 {
		if err := requireAddress("pendle.pt_oracle", cfg.Pendle.PtOracle); err != nil {
			return err
		}
	}
	for _, tok := range cfg.Pendle.Tokens {
		if err := claim("pendle", tok.Asset); err != nil {
			return err
		}
		if err := requireAddress("pendle.market", tok.Market); err != nil {
			return err
		}
		if err := requireAddress("pendle.underlying", tok.Underlying); err != nil {
			return err
		}
		dependsOn[common.HexToAddress(tok.Asset)] = common.HexToAddress(tok.Underlying)
		if _, err := pendle.ParseRateKind(strings.TrimSpace(tok.RateKind)); err != nil {
			return fmt.Errorf("pendle.rate_kind: %w", err)
		}
	}
	if len(cfg.Twap.Tokens) > 0 {
		if err := requireAddress("twap.weth", cfg.Twap.WETH); err != nil {
			return err
		}
	}
	for _, tok := range cfg.Twap.Tokens {
		if err := claim("twap", tok.Asset); err != nil {
			return err
		}
		if err := requireAddress("twap.pool", tok.Pool); err != nil {
			return err
		}
	}
	for _, raw := range cfg.Keeper.Assets {
		if err := requireAddress("keeper.assets", raw); err != nil {
			return err
		}
		if seen[common.HexToAddress(raw)] != "twap" {
			return fmt.Errorf("keeper asset %s is not a twap asset", raw)
		}
	}
	if len(seen) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	return checkPriceCycles(dependsOn)
}

// checkPriceCycles rejects assets whose downstream quote chain leads back to
// themselves.
func checkPriceCycles(dependsOn map[common.Address]common.Address) error {
	for start := range dependsOn {
		path := []common.Address{start}
		visited := map[common.Address]bool{start: true}
		for next, ok := dependsOn[start]; ok; next, ok = dependsOn[next] {
			path = append(path, next)
			if visited[next] {
				hops := make([]string, len(path))
				for i, asset := range path {
					hops[i] = asset.Hex()
				}
				return fmt.Errorf("price route cycle: %s", strings.Join(hops, " -> "))
			}
			visited[next] = true
		}
	}
	return nil
}

func validateFeed(section string, tok FeedToken) error {
	if err := requireAddress(section+".feed", tok.Feed); err != nil {
		return err
	}
	if tok.MaxStalePeriod.Seconds() == 0 {
		return fmt.Errorf("%s.max_stale_period must be at least one second", section)
	}
	if raw := strings.TrimSpace(tok.DirectPrice); raw != "" {
		if _, err := ParseAmount(raw); err != nil {
			return fmt.Errorf("%s.direct_price: %w", section, err)
		}
	}
	return nil
}

func requireAddress(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return fmt.Errorf("%s must be a hex address, got %q", field, raw)
	}
	if common.HexToAddress(raw) == (common.Address{}) {
		return fmt.Errorf("%s must not be the zero address", field)
	}
	return nil
}

// Address converts a validated hex string.
func Address(raw string) common.Address {
	return common.HexToAddress(strings.TrimSpace(raw))
}

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return value, nil
}
