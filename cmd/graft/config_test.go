package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v3"
)

func withConfigFile(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	prev := configPathOverride
	configPathOverride = path
	t.Cleanup(func() { configPathOverride = prev })
}

func TestLoadConfig(t *testing.T) {
	withConfigFile(t, "adapters_dir: /tmp/adapters\nhost: base\nlayers: 3\nseed: 0\ndtype: BF16\nserver_address: 0.0.0.0:9000\n")
	cfg := LoadConfig()
	if cfg.AdaptersDir != "/tmp/adapters" || cfg.Host != "base" || cfg.DType != "BF16" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Layers == nil || *cfg.Layers != 3 {
		t.Fatalf("layers not decoded: %+v", cfg.Layers)
	}
	if cfg.Seed == nil || *cfg.Seed != 0 {
		t.Fatalf("explicit zero seed should be kept: %+v", cfg.Seed)
	}
	if cfg.ServerAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected server address %q", cfg.ServerAddress)
	}
}

func TestLoadConfigMissingOrBroken(t *testing.T) {
	prev := configPathOverride
	t.Cleanup(func() { configPathOverride = prev })

	configPathOverride = filepath.Join(t.TempDir(), "absent.yaml")
	if cfg := LoadConfig(); cfg.Host != "" || cfg.Layers != nil {
		t.Fatalf("expected zero config, got %+v", cfg)
	}

	withConfigFile(t, "host: [unterminated\n")
	if cfg := LoadConfig(); cfg.Host != "" {
		t.Fatalf("expected zero config for bad yaml, got %+v", cfg)
	}
}

// runHostFlags parses args against the host flags and applies cfg.
func runHostFlags(t *testing.T, cfg Config, args ...string) hostSpec {
	t.Helper()
	var got hostSpec
	cmd := &cli.Command{
		Name:  "test",
		Flags: append(hostFlags(), adaptersDirFlag(false)),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyHostConfig(cmd, cfg)
			got = currentHostSpec()
			return nil
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"test"}, args...)); err != nil {
		t.Fatalf("run: %v", err)
	}
	return got
}

func TestApplyHostConfig(t *testing.T) {
	layers, seed := int64(4), int64(9)
	cfg := Config{Host: "base", Layers: &layers, Seed: &seed, AdaptersDir: "/from/config"}

	got := runHostFlags(t, cfg)
	if got.Preset != "base" || got.Layers != 4 || got.Seed != 9 {
		t.Fatalf("config defaults not applied: %+v", got)
	}
	if adaptersDir != "/from/config" {
		t.Fatalf("adapters dir not applied: %q", adaptersDir)
	}

	got = runHostFlags(t, cfg, "--host", "small", "--seed", "2", "--dir", "/from/flag")
	if got.Preset != "small" || got.Seed != 2 || got.Layers != 4 {
		t.Fatalf("explicit flags should win: %+v", got)
	}
	if adaptersDir != "/from/flag" {
		t.Fatalf("explicit dir should win: %q", adaptersDir)
	}
}

func TestHostSpec(t *testing.T) {
	cfg, err := hostSpec{Preset: "base", Layers: 2, Seed: 7}.config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Hidden != 768 || cfg.Layers != 2 || cfg.Seed != 7 {
		t.Fatalf("unexpected host config: %+v", cfg)
	}
	if _, err := (hostSpec{Preset: "huge"}).config(); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
}
