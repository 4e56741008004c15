package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalConfig = `app:
  name: "l4book"
  version: "1.0"
source:
  url: "wss://api.example.com/ws"
  markets: ["BTC", "ETH"]
ingest:
  buffer: 16
  policy: drop_oldest
storage:
  s3:
    enabled: false
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

func clearEnv(t *testing.T) {
	for _, k := range []string{"L4_ENDPOINT", "ENDPOINT", "QUICKNODE_ENDPOINT", "L4_MARKETS", "LOG_LEVEL", "S3_BUCKET", "KAFKA_BROKERS", "APP_ENV"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.App.Name != "l4book" {
		t.Errorf("unexpected name: %s", cfg.App.Name)
	}
	if len(cfg.Source.Markets) != 2 {
		t.Errorf("unexpected markets: %v", cfg.Source.Markets)
	}
	if cfg.Ingest.Policy != PolicyDropOldest || cfg.Ingest.Buffer != 16 {
		t.Errorf("unexpected ingest config: %+v", cfg.Ingest)
	}
	if cfg.Source.PingInterval != 20*time.Second {
		t.Errorf("default ping interval not applied: %s", cfg.Source.PingInterval)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("QUICKNODE_ENDPOINT", "wss://node.example.com/ws")
	t.Setenv("L4_MARKETS", "SOL, HYPE ,")

	cfg, err := LoadConfig(writeTempConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Source.URL != "wss://node.example.com/ws" {
		t.Errorf("endpoint override ignored: %s", cfg.Source.URL)
	}
	if strings.Join(cfg.Source.Markets, ",") != "SOL,HYPE" {
		t.Errorf("markets override = %v", cfg.Source.Markets)
	}
}

func TestValidateConfig(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name    string
		replace [2]string
		errText string
	}{
		{"unknown policy", [2]string{"drop_oldest", "drop_newest"}, "ingest.policy"},
		{"zero buffer", [2]string{"buffer: 16", "buffer: 0"}, "ingest.buffer"},
		{"http url", [2]string{"wss://api", "https://api"}, "source.url"},
		{"no markets", [2]string{`["BTC", "ETH"]`, "[]"}, "source.markets"},
		{"duplicate market", [2]string{`["BTC", "ETH"]`, `["BTC", "BTC"]`}, "twice"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			content := strings.Replace(minimalConfig, c.replace[0], c.replace[1], 1)
			_, err := LoadConfig(writeTempConfig(t, content))
			if err == nil || !strings.Contains(err.Error(), c.errText) {
				t.Fatalf("expected error mentioning %q, got %v", c.errText, err)
			}
		})
	}
}

func TestLoadMarketShards(t *testing.T) {
	content := `shards:
- ip: "10.0.0.1"
  markets: ["BTC", "ETH"]
- ip: "10.0.0.2"
  endpoint: "wss://other.example.com/ws"
  markets: ["SOL"]
`
	shards, err := LoadMarketShards(writeTempConfig(t, content))
	if err != nil {
		t.Fatalf("LoadMarketShards failed: %v", err)
	}
	if len(shards.Shards) != 2 {
		t.Fatalf("expected 2 shards, got %d", len(shards.Shards))
	}
	s, ok := shards.Lookup("SOL")
	if !ok || s.IP != "10.0.0.2" || s.Endpoint != "wss://other.example.com/ws" {
		t.Errorf("unexpected shard for SOL: %+v", s)
	}
	if _, ok := shards.Lookup("DOGE"); ok {
		t.Errorf("unexpected shard for DOGE")
	}
}

func TestLoadMarketShardsRejectsOverlap(t *testing.T) {
	content := `shards:
- ip: "10.0.0.1"
  markets: ["BTC"]
- ip: "10.0.0.2"
  markets: ["BTC"]
`
	if _, err := LoadMarketShards(writeTempConfig(t, content)); err == nil {
		t.Fatal("expected error for overlapping shards")
	}
}

func TestLoadMarketShardsMissingFile(t *testing.T) {
	shards, err := LoadMarketShards(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil || len(shards.Shards) != 0 {
		t.Fatalf("missing file: shards=%v err=%v", shards, err)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "config.yml")
	prod := filepath.Join(dir, "config.production.yml")
	if err := os.WriteFile(prod, []byte("app: {}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("APP_ENV", "prod")
	if got := ResolvePath("", def); got != prod {
		t.Errorf("ResolvePath = %s, want %s", got, prod)
	}
	if got := ResolvePath("/etc/custom.yml", def); got != "/etc/custom.yml" {
		t.Errorf("explicit path overridden: %s", got)
	}
	t.Setenv("APP_ENV", "")
	if got := ResolvePath("", def); got != def {
		t.Errorf("ResolvePath in development = %s", got)
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	cases := []struct {
		name  string
		valid bool
	}{
		{"valid-bucket", true},
		{"Invalid", false},
		{"ab", false},
		{"my..bucket", false},
	}
	for _, c := range cases {
		if got := isValidS3Bucket(c.name); got != c.valid {
			t.Errorf("isValidS3Bucket(%q) = %v, want %v", c.name, got, c.valid)
		}
	}
}
