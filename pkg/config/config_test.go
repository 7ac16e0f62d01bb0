package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sandbox.MaxInvokeDepth != 10 {
		t.Errorf("expected default max invoke depth 10, got %d", cfg.Sandbox.MaxInvokeDepth)
	}
	if cfg.Permission.DefaultOnMissingContract != "kernel_contract_freeware" {
		t.Errorf("unexpected default contract fallback: %s", cfg.Permission.DefaultOnMissingContract)
	}
	if len(cfg.Resources) == 0 {
		t.Error("expected at least one default resource definition")
	}
}

func TestSandboxTimeoutsConvertToDuration(t *testing.T) {
	cfg := New()
	if cfg.Sandbox.ExecutionTimeout().Milliseconds() != int64(cfg.Sandbox.ExecutionTimeoutMS) {
		t.Errorf("execution timeout conversion mismatch")
	}
	if cfg.Sandbox.LLMTimeout() <= cfg.Sandbox.ExecutionTimeout() {
		t.Error("expected the LLM timeout to exceed the plain execution timeout")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kerneld.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\nmint:\n  ratio: 5\n"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected overridden port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Mint.Ratio != 5 {
		t.Errorf("expected overridden mint ratio 5, got %d", cfg.Mint.Ratio)
	}
	// Untouched sections retain their defaults.
	if cfg.Sandbox.MaxInvokeDepth != 10 {
		t.Errorf("expected default max invoke depth preserved, got %d", cfg.Sandbox.MaxInvokeDepth)
	}
}

func TestLoadHandlesMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", "non-existent.yaml")
	if _, err := Load(); err != nil {
		t.Fatalf("load should ignore a missing config file: %v", err)
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_FILE", "non-existent.yaml")
	t.Setenv("SERVER_PORT", "9999")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env override to port 9999, got %d", cfg.Server.Port)
	}
}
