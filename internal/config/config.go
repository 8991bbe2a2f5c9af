package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	CategoryPolicyTrust  = "trust"
	CategoryPolicyStrict = "strict"
)

// Config holds the application configuration
type Config struct {
	// Completion endpoint
	Completion CompletionConfig

	// Credential sources, consulted in this order
	APIKeyVar       string `env:"API_KEY_VAR" envDefault:"OPENROUTER_API_KEY"`
	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:".env"`
	APIKeyParameter string `env:"API_KEY_PARAMETER"`

	// Chain behaviour
	ChainTimeout   time.Duration `env:"CHAIN_TIMEOUT" envDefault:"5m"`
	CategoryPolicy string        `env:"CATEGORY_POLICY" envDefault:"trust"`
	MaxQueryLength int           `env:"MAX_QUERY_LENGTH" envDefault:"2000"`

	// Fallback model probe
	Probe ProbeConfig `envPrefix:"PROBE_"`

	// Persistence of completed runs; empty disables it
	RunsTable string `env:"RUNS_TABLE"`

	ServerAddr string `env:"SERVER_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

type CompletionConfig struct {
	Endpoint       string        `env:"COMPLETION_ENDPOINT" envDefault:"https://openrouter.ai/api/v1/chat/completions"`
	DefaultModel   string        `env:"DEFAULT_MODEL" envDefault:"minimax/minimax-m2:free"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"60s"`
}

type ProbeConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"false"`
	Models  []string      `env:"MODELS" envSeparator:","`
	Delay   time.Duration `env:"DELAY" envDefault:"0s"`
}

// Load reads envFile into the process environment (without overriding
// variables that are already set) and parses the configuration from it.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Missing file is fine: variables may be set externally.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Parse()
}

// Parse builds the configuration from the current environment.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	cfg.Probe.Models = cleanList(cfg.Probe.Models)
	cfg.CategoryPolicy = strings.ToLower(strings.TrimSpace(cfg.CategoryPolicy))

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.Completion.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", cfg.Completion.RequestTimeout))
	}
	if cfg.ChainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_TIMEOUT must be positive, got %s", cfg.ChainTimeout))
	}
	if cfg.Probe.Delay < 0 {
		errs = append(errs, fmt.Errorf("PROBE_DELAY must not be negative, got %s", cfg.Probe.Delay))
	}
	if cfg.Probe.Enabled && len(cfg.Probe.Models) == 0 {
		errs = append(errs, errors.New("PROBE_MODELS must list at least one model when PROBE_ENABLED is set"))
	}
	switch cfg.CategoryPolicy {
	case CategoryPolicyTrust, CategoryPolicyStrict:
	default:
		errs = append(errs, fmt.Errorf("CATEGORY_POLICY must be %q or %q, got %q", CategoryPolicyTrust, CategoryPolicyStrict, cfg.CategoryPolicy))
	}
	if cfg.MaxQueryLength < 1 {
		errs = append(errs, fmt.Errorf("MAX_QUERY_LENGTH must be positive, got %d", cfg.MaxQueryLength))
	}
	if strings.TrimSpace(cfg.Completion.DefaultModel) == "" {
		errs = append(errs, errors.New("DEFAULT_MODEL must not be empty"))
	}

	return errors.Join(errs...)
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
