package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "https://openrouter.ai/api/v1/chat/completions", cfg.Completion.Endpoint)
	require.Equal(t, "minimax/minimax-m2:free", cfg.Completion.DefaultModel)
	require.Equal(t, 60*time.Second, cfg.Completion.RequestTimeout)
	require.Equal(t, 5*time.Minute, cfg.ChainTimeout)
	require.Equal(t, "OPENROUTER_API_KEY", cfg.APIKeyVar)
	require.Equal(t, ".env", cfg.CredentialsFile)
	require.Equal(t, CategoryPolicyTrust, cfg.CategoryPolicy)
	require.Equal(t, 2000, cfg.MaxQueryLength)
	require.False(t, cfg.Probe.Enabled)
	require.Empty(t, cfg.Probe.Models)
	require.Empty(t, cfg.RunsTable)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("COMPLETION_ENDPOINT", "http://localhost:9000/v1")
	t.Setenv("DEFAULT_MODEL", "gpt-mock")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("PROBE_ENABLED", "true")
	t.Setenv("PROBE_MODELS", "a/one, b/two ,,c/three")
	t.Setenv("PROBE_DELAY", "250ms")
	t.Setenv("CATEGORY_POLICY", " Strict ")
	t.Setenv("RUNS_TABLE", "support-chain-runs")

	cfg, err := Parse()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000/v1", cfg.Completion.Endpoint)
	require.Equal(t, "gpt-mock", cfg.Completion.DefaultModel)
	require.Equal(t, 5*time.Second, cfg.Completion.RequestTimeout)
	require.True(t, cfg.Probe.Enabled)
	require.Equal(t, []string{"a/one", "b/two", "c/three"}, cfg.Probe.Models)
	require.Equal(t, 250*time.Millisecond, cfg.Probe.Delay)
	require.Equal(t, CategoryPolicyStrict, cfg.CategoryPolicy)
	require.Equal(t, "support-chain-runs", cfg.RunsTable)
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "probe without models", env: map[string]string{"PROBE_ENABLED": "true"}, want: "PROBE_MODELS"},
		{name: "unknown policy", env: map[string]string{"CATEGORY_POLICY": "lenient"}, want: "CATEGORY_POLICY"},
		{name: "zero timeout", env: map[string]string{"REQUEST_TIMEOUT": "0s"}, want: "REQUEST_TIMEOUT"},
		{name: "negative chain timeout", env: map[string]string{"CHAIN_TIMEOUT": "-1s"}, want: "CHAIN_TIMEOUT"},
		{name: "zero query length", env: map[string]string{"MAX_QUERY_LENGTH": "0"}, want: "MAX_QUERY_LENGTH"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Parse()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env.test")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_MODEL=from-file\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	// godotenv.Load sets variables in the process environment; register them
	// with t.Setenv so they are restored after the test.
	t.Setenv("DEFAULT_MODEL", "")
	require.NoError(t, os.Unsetenv("DEFAULT_MODEL"))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.Completion.DefaultModel)
	require.Equal(t, "warn", cfg.LogLevel, "existing variables win over the file")
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NotNil(t, cfg)
}
