package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/coldbell/dex/trader/internal/dex"
)

func TestLoadSourceFlattensNestedKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config-test.yaml")
	body := `
solana:
  rpc_url: https://rpc.example.org
trader:
  slippage:
    cap-bps: 1500
  venue_priority: [pumpfun, " pumpswap ", jupiter]
  skip_preflight: true
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	env := map[string]string{"CONFIG_FILE": path, "CONFIG_PHASE": "test"}

	src, err := loadSource(func(key string) string { return env[key] })
	if err != nil {
		t.Fatalf("loadSource() error = %v", err)
	}
	if !src.Loaded || src.Phase != "test" || !filepath.IsAbs(src.Path) {
		t.Fatalf("source = %+v", src.ConfigSource)
	}
	want := map[string]string{
		"SOLANA_RPC_URL":          "https://rpc.example.org",
		"TRADER_SLIPPAGE_CAP_BPS": "1500",
		"TRADER_VENUE_PRIORITY":   "pumpfun,pumpswap,jupiter",
		"TRADER_SKIP_PREFLIGHT":   "true",
	}
	if !reflect.DeepEqual(src.values, want) {
		t.Fatalf("values = %v, want %v", src.values, want)
	}
}

func TestLoadSourceMissingFile(t *testing.T) {
	dir := t.TempDir()
	src, err := loadSource(func(key string) string {
		if key == "CONFIG_PHASE" {
			return "nowhere-" + filepath.Base(dir)
		}
		return ""
	})
	if err != nil || src.Loaded {
		t.Fatalf("default path: source %+v, error %v; want unloaded and no error", src, err)
	}

	missing := filepath.Join(dir, "absent.yaml")
	if _, err := loadSource(func(key string) string {
		if key == "CONFIG_FILE" {
			return missing
		}
		return ""
	}); err == nil {
		t.Fatal("explicit missing CONFIG_FILE error = nil")
	}
}

func TestNormalizeKeySegment(t *testing.T) {
	tests := map[string]string{
		"rpc_url":       "RPC_URL",
		"cap-bps":       "CAP_BPS",
		"  Trader.Log ": "TRADER_LOG",
		"__x__":         "X",
		"":              "",
	}
	for in, want := range tests {
		if got := normalizeKeySegment(in); got != want {
			t.Errorf("normalizeKeySegment(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadTraderConfigFromEnv(t *testing.T) {
	t.Setenv("TRADER_SLIPPAGE_CAP_BPS", "1800")
	t.Setenv("TRADER_VENUE_PRIORITY", "pumpswap, PUMPFUN,pumpswap")
	t.Setenv("TRADER_CONFIRM_TIMEOUT", "20s")
	t.Setenv("TRADER_KEYPAIR_PATHS", "/keys/a.json,/keys/b.json,/keys/a.json")
	t.Setenv("TRADER_SEND_MAX_RETRIES", "0")
	t.Setenv("TRADER_DISCOVERY_TIMEOUT", "45s")

	cfg, err := LoadTraderConfig()
	if err != nil {
		t.Fatalf("LoadTraderConfig() error = %v", err)
	}
	if cfg.SlippageCapBps != 1800 {
		t.Errorf("SlippageCapBps = %d, want 1800", cfg.SlippageCapBps)
	}
	if want := []dex.VenueKind{dex.VenuePumpSwap, dex.VenuePumpFun}; !reflect.DeepEqual(cfg.VenuePriority, want) {
		t.Errorf("VenuePriority = %v, want %v", cfg.VenuePriority, want)
	}
	if cfg.ConfirmTimeout != 20*time.Second {
		t.Errorf("ConfirmTimeout = %v, want 20s", cfg.ConfirmTimeout)
	}
	if want := []string{"/keys/a.json", "/keys/b.json"}; !reflect.DeepEqual(cfg.KeypairPaths, want) {
		t.Errorf("KeypairPaths = %v, want %v", cfg.KeypairPaths, want)
	}
	if cfg.SendMaxRetries == nil || *cfg.SendMaxRetries != 0 {
		t.Errorf("SendMaxRetries = %v, want pointer to 0", cfg.SendMaxRetries)
	}
	if cfg.DiscoveryTimeout != 45*time.Second {
		t.Errorf("DiscoveryTimeout = %v, want 45s", cfg.DiscoveryTimeout)
	}
}

func TestLoadTraderConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{key: "TRADER_SLIPPAGE_CAP_BPS", value: "20000", want: "TRADER_SLIPPAGE_CAP_BPS"},
		{key: "TRADER_SLIPPAGE_CAP_BPS", value: "100", want: "must be >= TRADER_SLIPPAGE_BASE_BPS"},
		{key: "TRADER_FEE_MULTIPLIER_PCT", value: "100", want: "must be > 100"},
		{key: "TRADER_POLL_INTERVAL", value: "-1s", want: "TRADER_POLL_INTERVAL"},
		{key: "TRADER_VENUE_PRIORITY", value: "orca", want: "orca"},
		{key: "SOLANA_COMMITMENT", value: "recent", want: "expected processed|confirmed|finalized"},
		{key: "TRADER_MAX_ATTEMPTS", value: "zero", want: "TRADER_MAX_ATTEMPTS"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadTraderConfig()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("LoadTraderConfig() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadAPIServerConfigEmbedsTrader(t *testing.T) {
	t.Setenv("API_SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("API_SERVER_LOG_LEVEL", "debug")

	cfg, err := LoadAPIServerConfig()
	if err != nil {
		t.Fatalf("LoadAPIServerConfig() error = %v", err)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.MaxAttempts == 0 || cfg.ListenAddr == "" {
		t.Errorf("config missing defaults: %+v", cfg)
	}
}
