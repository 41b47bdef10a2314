package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CHAT_ROUTER_PORT", "CHAT_ROUTER_DATA_DIR", "CHAT_ROUTER_URL",
		"CHAT_ROUTER_CONFIG", "ROUTER_SELF_URL", "ACS_JOB_NAME", "ACS_URL",
		"TELEGRAM_BOT_TOKEN", "DISCORD_BOT_TOKEN",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3100 {
		t.Fatalf("expected default port 3100, got %d", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default data dir, got %q", cfg.DataDir)
	}
	if cfg.HubURL != "http://localhost:3100" {
		t.Fatalf("unexpected hub url %q", cfg.HubURL)
	}
	if cfg.SelfURL != "http://localhost:3100" {
		t.Fatalf("unexpected self url %q", cfg.SelfURL)
	}
	if cfg.ACSURL != "http://127.0.0.1:8377" {
		t.Fatalf("unexpected acs url %q", cfg.ACSURL)
	}
	if cfg.ACSJobName != "" {
		t.Fatalf("trigger should be disabled by default, got %q", cfg.ACSJobName)
	}
	if cfg.DatabasePath() != filepath.Join("./data", "chat-router.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_ROUTER_PORT", "4200")
	t.Setenv("CHAT_ROUTER_DATA_DIR", "/var/lib/hub")
	t.Setenv("ACS_JOB_NAME", "router-agent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 4200 {
		t.Fatalf("expected port 4200, got %d", cfg.Port)
	}
	if cfg.DataDir != "/var/lib/hub" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.ACSJobName != "router-agent" {
		t.Fatalf("unexpected job name %q", cfg.ACSJobName)
	}
	// Derived URLs follow the overridden port.
	if cfg.SelfURL != "http://localhost:4200" {
		t.Fatalf("unexpected self url %q", cfg.SelfURL)
	}
}

func TestInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHAT_ROUTER_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestYAMLFileAndEnvPrecedence(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "hub.yaml")
	body := "port: 5000\ndataDir: /from/yaml\nacsJobName: yaml-job\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHAT_ROUTER_CONFIG", path)
	t.Setenv("CHAT_ROUTER_DATA_DIR", "/from/env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 5000 {
		t.Fatalf("yaml port not applied, got %d", cfg.Port)
	}
	if cfg.DataDir != "/from/env" {
		t.Fatalf("env should win over yaml, got %q", cfg.DataDir)
	}
	if cfg.ACSJobName != "yaml-job" {
		t.Fatalf("yaml job name not applied, got %q", cfg.ACSJobName)
	}
}
