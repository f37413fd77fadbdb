package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
rpc_url: http://localhost:8545
operator: 0x00000000000000000000000000000000000000aa
keeper:
  interval: 1m
chainlink:
  direct:
    - asset: 0x0000000000000000000000000000000000000001
      feed: 0x0000000000000000000000000000000000000011
      max_stale_period: 1h
      direct_price: "1000000000000000000"
  one_jump:
    - asset: 0x0000000000000000000000000000000000000002
      feed: 0x0000000000000000000000000000000000000012
      max_stale_period: 24h
      underlying: 0x0000000000000000000000000000000000000001
twap:
  weth: 0x0000000000000000000000000000000000000001
  tokens:
    - asset: 0x0000000000000000000000000000000000000003
      pool: 0x0000000000000000000000000000000000000013
      anchor_period: 30m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "oracled.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.Keeper.Interval.Duration != time.Minute {
		t.Fatalf("unexpected keeper interval %s", cfg.Keeper.Interval)
	}
	if cfg.Twap.StableDecimals != 6 {
		t.Fatalf("unexpected stable decimals %d", cfg.Twap.StableDecimals)
	}
	if got := cfg.Twap.Tokens[0].AnchorPeriod.Seconds(); got != 1800 {
		t.Fatalf("unexpected anchor period %d", got)
	}
	if got := cfg.Chainlink.OneJump[0].MaxStalePeriod.Seconds(); got != 86400 {
		t.Fatalf("unexpected stale period %d", got)
	}
}

func TestLoadTOML(t *testing.T) {
	body := `
rpc_url = "http://localhost:8545"
operator = "0x00000000000000000000000000000000000000aa"

[uniswap_v3]
factory = "0x00000000000000000000000000000000000000ff"

[[uniswap_v3.tokens]]
base = "0x0000000000000000000000000000000000000004"
quote = "0x0000000000000000000000000000000000000005"
fee = 3000
window = "30m"
`
	cfg, err := Load(writeFile(t, "oracled.toml", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.UniswapV3.Tokens) != 1 || cfg.UniswapV3.Tokens[0].Fee != 3000 {
		t.Fatalf("unexpected tokens %+v", cfg.UniswapV3.Tokens)
	}
	if cfg.UniswapV3.Tokens[0].Window.Duration != 30*time.Minute {
		t.Fatalf("unexpected window %s", cfg.UniswapV3.Tokens[0].Window)
	}
}

func TestValidateRejectsDuplicateAsset(t *testing.T) {
	body := sampleYAML + `
pendle:
  pt_oracle: 0x00000000000000000000000000000000000000ee
  tokens:
    - asset: 0x0000000000000000000000000000000000000003
      market: 0x0000000000000000000000000000000000000021
      underlying: 0x0000000000000000000000000000000000000001
      twap_duration: 30m
`
	_, err := Load(writeFile(t, "oracled.yaml", body))
	if err == nil || !strings.Contains(err.Error(), "configured in both") {
		t.Fatalf("expected duplicate asset error, got %v", err)
	}
}

func TestValidateRequiresOperator(t *testing.T) {
	body := strings.Replace(sampleYAML, "operator: 0x00000000000000000000000000000000000000aa\n", "", 1)
	if _, err := Load(writeFile(t, "oracled.yaml", body)); err == nil {
		t.Fatalf("expected missing operator error")
	}
}

func TestValidateRejectsZeroStalePeriod(t *testing.T) {
	body := strings.Replace(sampleYAML, "max_stale_period: 1h", "max_stale_period: 0s", 1)
	_, err := Load(writeFile(t, "oracled.yaml", body))
	if err == nil || !strings.Contains(err.Error(), "max_stale_period") {
		t.Fatalf("expected stale period error, got %v", err)
	}
}

func TestValidateKeeperAssetsMustBeTwap(t *testing.T) {
	body := strings.Replace(sampleYAML, "  interval: 1m\n", "  interval: 1m\n  assets:\n    - 0x0000000000000000000000000000000000000001\n", 1)
	_, err := Load(writeFile(t, "oracled.yaml", body))
	if err == nil || !strings.Contains(err.Error(), "not a twap asset") {
		t.Fatalf("expected keeper asset error, got %v", err)
	}
}

func TestValidateRejectsUnknownRateKind(t *testing.T) {
	body := sampleYAML + `
pendle:
  pt_oracle: 0x00000000000000000000000000000000000000ee
  tokens:
    - asset: 0x0000000000000000000000000000000000000009
      market: 0x0000000000000000000000000000000000000021
      underlying: 0x0000000000000000000000000000000000000001
      twap_duration: 30m
      rate_kind: pt_to_lp
`
	_, err := Load(writeFile(t, "oracled.yaml", body))
	if err == nil || !strings.Contains(err.Error(), "rate_kind") {
		t.Fatalf("expected rate kind error, got %v", err)
	}
}

func TestStateBackendDefaultsAndValidation(t *testing.T) {
	cfg, err := Load(writeFile(t, "oracled.yaml", sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateBackend != "leveldb" || cfg.MaxConnections != 256 {
		t.Fatalf("unexpected defaults backend=%q max_connections=%d", cfg.StateBackend, cfg.MaxConnections)
	}

	cfg, err = Load(writeFile(t, "oracled.yaml", sampleYAML+"state_backend: bolt\n"))
	if err != nil {
		t.Fatalf("load bolt: %v", err)
	}
	if cfg.StateBackend != "bolt" {
		t.Fatalf("unexpected backend %q", cfg.StateBackend)
	}

	_, err = Load(writeFile(t, "oracled.yaml", sampleYAML+"state_backend: rocksdb\n"))
	if err == nil || !strings.Contains(err.Error(), "state_backend") {
		t.Fatalf("expected backend error, got %v", err)
	}
}

func TestAdminSecretFromEnv(t *testing.T) {
	body := sampleYAML + `
admin:
  jwt_secret_env: ORACLED_TEST_ADMIN_SECRET
  issuer: lendoracle
`
	t.Setenv("ORACLED_TEST_ADMIN_SECRET", "")
	if _, err := Load(writeFile(t, "oracled.yaml", body)); err == nil {
		t.Fatalf("expected error for empty admin secret")
	}

	t.Setenv("ORACLED_TEST_ADMIN_SECRET", " s3cret ")
	cfg, err := Load(writeFile(t, "oracled.yaml", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Admin.Secret() != "s3cret" || cfg.Admin.Issuer != "lendoracle" {
		t.Fatalf("unexpected admin config %+v", cfg.Admin)
	}
}

func TestValidateRejectsPriceRouteCycles(t *testing.T) {
	base := `
rpc_url: http://localhost:8545
operator: 0x00000000000000000000000000000000000000aa
chainlink:
  one_jump:
    - asset: 0x000000000000000000000000000000000000000a
      feed: 0x000000000000000000000000000000000000001a
      max_stale_period: 1h
      underlying: 0x000000000000000000000000000000000000000b
`
	cycle := base + `    - asset: 0x000000000000000000000000000000000000000b
      feed: 0x000000000000000000000000000000000000001b
      max_stale_period: 1h
      underlying: 0x000000000000000000000000000000000000000a
`
	_, err := Load(writeFile(t, "oracled.yaml", cycle))
	if err == nil || !strings.Contains(err.Error(), "price route cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}

	self := strings.Replace(base, "underlying: 0x000000000000000000000000000000000000000b", "underlying: 0x000000000000000000000000000000000000000a", 1)
	_, err = Load(writeFile(t, "oracled.yaml", self))
	if err == nil || !strings.Contains(err.Error(), "price route cycle") {
		t.Fatalf("expected self reference error, got %v", err)
	}

	// A cycle through another adapter is caught as well.
	viaPendle := base + `pendle:
  pt_oracle: 0x00000000000000000000000000000000000000ee
  tokens:
    - asset: 0x000000000000000000000000000000000000000b
      market: 0x0000000000000000000000000000000000000021
      underlying: 0x000000000000000000000000000000000000000a
      twap_duration: 30m
`
	_, err = Load(writeFile(t, "oracled.yaml", viaPendle))
	if err == nil || !strings.Contains(err.Error(), "price route cycle") {
		t.Fatalf("expected cycle through pendle, got %v", err)
	}

	chain := base + `    - asset: 0x000000000000000000000000000000000000000b
      feed: 0x000000000000000000000000000000000000001b
      max_stale_period: 1h
      underlying: 0x000000000000000000000000000000000000000c
`
	if _, err := Load(writeFile(t, "oracled.yaml", chain)); err != nil {
		t.Fatalf("acyclic chain should load: %v", err)
	}
}
