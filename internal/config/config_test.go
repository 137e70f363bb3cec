package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	if cfg.Database.DSN != "sqlite3://~/.fedliq/fed_liquidity.db" {
		t.Fatalf("unexpected dsn %q", cfg.Database.DSN)
	}
	if cfg.Scheduler.Interval != 24*time.Hour {
		t.Fatalf("unexpected interval %s", cfg.Scheduler.Interval)
	}
	if cfg.Ingest.ChunkDays != 365 {
		t.Fatalf("unexpected chunk days %d", cfg.Ingest.ChunkDays)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Ingest.RepoLookbackDays != 7 {
		t.Fatalf("unexpected repo lookback %d", cfg.Ingest.RepoLookbackDays)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
database:
  dsn: sqlite3:///tmp/fedliq-test.db
server:
  addr: ":9090"
alerting:
  enabled: true
  threshold_pct: 1.5
  channels: telegram
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FRED_API_KEY", "from-legacy-env")
	t.Setenv("FEDLIQ_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("file value ignored: %q", cfg.Server.Addr)
	}
	if cfg.FRED.APIKey != "from-legacy-env" {
		t.Fatalf("FRED_API_KEY not honoured: %q", cfg.FRED.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("env override ignored: %q", cfg.Logging.Level)
	}
	if len(cfg.Alerting.Channels) != 1 || cfg.Alerting.Channels[0] != "telegram" {
		t.Fatalf("unexpected channels %v", cfg.Alerting.Channels)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}

	broken := *cfg
	broken.Database.DSN = " "
	if err := broken.Validate(); err == nil {
		t.Fatal("empty dsn must fail validation")
	}

	broken = *cfg
	broken.Alerting.Telegram.Enabled = true
	if err := broken.Validate(); err == nil {
		t.Fatal("telegram without token must fail validation")
	}

	broken = *cfg
	broken.Ingest.MaxCarryForward = -1
	if err := broken.Validate(); err == nil {
		t.Fatal("negative carry forward must fail validation")
	}

	if got := cfg.ResolveMaxPoints(10); got != 10 {
		t.Fatalf("override ignored: %d", got)
	}
	if got := cfg.ResolveMaxPoints(0); got != cfg.Export.MaxDataPoints {
		t.Fatalf("default ignored: %d", got)
	}
}
