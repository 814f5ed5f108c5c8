package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	viper.Reset()

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o700); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	return dir
}

func writeConfig(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "config", name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile %s: %v", path, err)
	}
}

func TestLoadDefault(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "default.yaml", "node:\n  listen_addr: /ip4/0.0.0.0/tcp/4001\n  discovery_tag: onecore-mainnet\nstorage:\n  root: /var/lib/onecore\nchum:\n  poll_interval_seconds: 5\n  keep_running: true\nlogging:\n  level: info\n")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.DiscoveryTag != "onecore-mainnet" {
		t.Fatalf("unexpected discovery tag: %s", cfg.Node.DiscoveryTag)
	}
	if cfg.Chum.PollIntervalSeconds != 5 {
		t.Fatalf("unexpected poll interval: %d", cfg.Chum.PollIntervalSeconds)
	}
	if !cfg.Chum.KeepRunning {
		t.Fatalf("expected KeepRunning true")
	}
}

func TestLoadEnvOverrideMerges(t *testing.T) {
	dir := chdirTemp(t)
	writeConfig(t, dir, "default.yaml", "node:\n  listen_addr: /ip4/0.0.0.0/tcp/4001\n  discovery_tag: onecore-mainnet\nchum:\n  poll_interval_seconds: 5\n")
	writeConfig(t, dir, "staging.yaml", "node:\n  discovery_tag: onecore-staging\n")

	cfg, err := Load("staging")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.DiscoveryTag != "onecore-staging" {
		t.Fatalf("expected override discovery tag, got %s", cfg.Node.DiscoveryTag)
	}
	// poll_interval_seconds is untouched by the override file and must
	// survive the merge.
	if cfg.Chum.PollIntervalSeconds != 5 {
		t.Fatalf("expected poll interval preserved from default, got %d", cfg.Chum.PollIntervalSeconds)
	}
}

func TestLoadMissingConfigFails(t *testing.T) {
	chdirTemp(t)
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when no default.yaml present")
	}
}
