package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "debug"},
		"database": {
			"postgres": {"dsn": "postgres://u:p@h/db"},
			"redis": {"url": "redis://localhost:6379/0"}
		},
		"memory": {"stm_bound": 20, "activation_threshold": 0.25}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("got port %d, want 9090", cfg.Server.Port)
	}
	if cfg.Database.Postgres.DSN != "postgres://u:p@h/db" {
		t.Fatalf("got dsn %q", cfg.Database.Postgres.DSN)
	}
	if cfg.Memory.StmBound != 20 || cfg.Memory.ActivationThreshold != 0.25 {
		t.Fatalf("memory section wrong: %+v", cfg.Memory)
	}
}

func TestLoadEnvSubstitution(t *testing.T) {
	os.Setenv("MNEMO_TEST_PORT", "7171")
	defer os.Unsetenv("MNEMO_TEST_PORT")

	path := writeConfig(t, `{
		"server": {"port": ${MNEMO_TEST_PORT:8080}, "log_level": "${MNEMO_TEST_LEVEL:warn}"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7171 {
		t.Fatalf("got port %d, want the env override", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "warn" {
		t.Fatalf("got level %q, want the default", cfg.Server.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.json"); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoadShippedDefaults(t *testing.T) {
	os.Unsetenv("INFERENCE_ENDPOINT")

	cfg, err := Load("../../configs/mnemo.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// The inference endpoint is a base URL; the chat client appends
	// /chat/completions itself.
	if got := cfg.Inference.Endpoint; got != "https://api.openai.com/v1" {
		t.Fatalf("got inference endpoint %q, want the base URL", got)
	}
	if strings.HasSuffix(cfg.Inference.Endpoint, "/chat/completions") {
		t.Fatal("inference endpoint must not already carry the completions path")
	}
	if cfg.Memory.StmBound != 15 {
		t.Fatalf("got stm_bound %d, want 15", cfg.Memory.StmBound)
	}
}
