// Package config loads kerneld's configuration the way the teacher's
// pkg/config does: struct-tagged defaults, an optional YAML file layer,
// then environment variable overrides decoded via envdecode.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP surface (health, metrics, action submission).
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls logrus construction (internal/logging.Config).
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
}

// SandboxConfig bounds executable artifact and contract evaluation
// (spec §4.4, §4.6, §5).
type SandboxConfig struct {
	ExecutionTimeoutMS int `json:"execution_timeout_ms" yaml:"execution_timeout_ms" env:"SANDBOX_EXECUTION_TIMEOUT_MS"`
	LLMTimeoutMS       int `json:"llm_timeout_ms" yaml:"llm_timeout_ms" env:"SANDBOX_LLM_TIMEOUT_MS"`
	ContractTimeoutMS  int `json:"contract_timeout_ms" yaml:"contract_timeout_ms" env:"SANDBOX_CONTRACT_TIMEOUT_MS"`
	MaxInvokeDepth     int `json:"max_invoke_depth" yaml:"max_invoke_depth" env:"SANDBOX_MAX_INVOKE_DEPTH"`
	MaxContractDepth   int `json:"max_contract_depth" yaml:"max_contract_depth" env:"SANDBOX_MAX_CONTRACT_DEPTH"`
}

// PermissionConfig controls the contract permission cache and dangling-
// contract fallback (spec §4.4, §4.5).
type PermissionConfig struct {
	CacheTTLMS            int    `json:"cache_ttl_ms" yaml:"cache_ttl_ms" env:"PERMISSION_CACHE_TTL_MS"`
	DefaultOnMissingContract string `json:"default_on_missing_contract" yaml:"default_on_missing_contract" env:"PERMISSION_DEFAULT_ON_MISSING_CONTRACT"`
}

// ResourceDefinition seeds one renewable-resource rate-tracker window at
// bootstrap (SPEC_FULL.md §11, grounded on golang.org/x/time/rate).
type ResourceDefinition struct {
	Name       string  `json:"name" yaml:"name"`
	Capacity   float64 `json:"capacity" yaml:"capacity"`
	WindowSecs float64 `json:"window_secs" yaml:"window_secs"`
}

// MintConfig controls the mint auction (spec §4.7, §8 property 7).
type MintConfig struct {
	Ratio       int64  `json:"ratio" yaml:"ratio" env:"MINT_RATIO"`
	TickCron    string `json:"tick_cron" yaml:"tick_cron" env:"MINT_TICK_CRON"`
	MinimumBid  int64  `json:"minimum_bid" yaml:"minimum_bid" env:"MINT_MINIMUM_BID"`
}

// BootstrapConfig toggles kernel-side world seeding (genesis artifacts,
// handbook documents, the alpha bootstrap cluster) — out of scope per
// spec §1, but the on/off switch is ambient configuration every host needs.
type BootstrapConfig struct {
	EnableGenesis bool `json:"enable_genesis" yaml:"enable_genesis" env:"BOOTSTRAP_ENABLE_GENESIS"`
	EnableAlpha   bool `json:"enable_alpha_cluster" yaml:"enable_alpha_cluster" env:"BOOTSTRAP_ENABLE_ALPHA_CLUSTER"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"METRICS_ENABLED"`
	Path    string `json:"path" yaml:"path" env:"METRICS_PATH"`
}

// Config is kerneld's top-level configuration structure.
type Config struct {
	Server     ServerConfig        `json:"server" yaml:"server"`
	Logging    LoggingConfig       `json:"logging" yaml:"logging"`
	Sandbox    SandboxConfig       `json:"sandbox" yaml:"sandbox"`
	Permission PermissionConfig    `json:"permission" yaml:"permission"`
	Resources  []ResourceDefinition `json:"resources" yaml:"resources"`
	Mint       MintConfig          `json:"mint" yaml:"mint"`
	Bootstrap  BootstrapConfig     `json:"bootstrap" yaml:"bootstrap"`
	Metrics    MetricsConfig       `json:"metrics" yaml:"metrics"`
}

// New returns a Config populated with defaults, mirroring the teacher's
// pkg/config.New().
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Sandbox: SandboxConfig{
			ExecutionTimeoutMS: 2000,
			LLMTimeoutMS:       30000,
			ContractTimeoutMS:  200,
			MaxInvokeDepth:     10,
			MaxContractDepth:   10,
		},
		Permission: PermissionConfig{
			CacheTTLMS:               0,
			DefaultOnMissingContract: "kernel_contract_freeware",
		},
		Resources: []ResourceDefinition{
			{Name: "llm_tokens", Capacity: 100000, WindowSecs: 86400},
			{Name: "cpu_seconds", Capacity: 3600, WindowSecs: 3600},
		},
		Mint: MintConfig{
			Ratio:      10,
			TickCron:   "0 */6 * * *",
			MinimumBid: 1,
		},
		Bootstrap: BootstrapConfig{EnableGenesis: true, EnableAlpha: false},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// ExecutionTimeout returns Sandbox.ExecutionTimeoutMS as a time.Duration.
func (s SandboxConfig) ExecutionTimeout() time.Duration {
	return time.Duration(s.ExecutionTimeoutMS) * time.Millisecond
}

// LLMTimeout returns Sandbox.LLMTimeoutMS as a time.Duration.
func (s SandboxConfig) LLMTimeout() time.Duration {
	return time.Duration(s.LLMTimeoutMS) * time.Millisecond
}

// ContractTimeout returns Sandbox.ContractTimeoutMS as a time.Duration.
func (s SandboxConfig) ContractTimeout() time.Duration {
	return time.Duration(s.ContractTimeoutMS) * time.Millisecond
}

// CacheTTL returns Permission.CacheTTLMS as a time.Duration.
func (p PermissionConfig) CacheTTL() time.Duration {
	return time.Duration(p.CacheTTLMS) * time.Millisecond
}

// Load loads configuration from an optional YAML file then environment
// variables, matching the teacher's pkg/config.Load() precedence
// (file defaults, then env overrides, .env picked up via godotenv).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/kerneld.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors when no tagged fields were present in the
		// environment at all; treat that as "no overrides" so a bare
		// `kerneld` run with no env vars set still works.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile reads configuration from a specific YAML file, skipping env
// overrides — used by tests that want a deterministic config.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
