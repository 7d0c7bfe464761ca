package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 300, cfg.Server.RequestTimeoutSecs)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "anthropic", cfg.Enrich.Provider)
	assert.Equal(t, 10, cfg.Enrich.MaxIterations)
	assert.Equal(t, 500, cfg.Enrich.ToolDelayMs)
	assert.Equal(t, 2000, cfg.Enrich.CallSpacingMs)
	assert.Equal(t, 2000, cfg.Enrich.TruncateAt)
	assert.Equal(t, "resolve_identity", cfg.Enrich.ResolveTool)
	assert.Equal(t, "fetch_profiles", cfg.Enrich.ProfileTool)
	assert.Equal(t, 3, cfg.Enrich.RetryMaxAttempts)
	assert.Equal(t, 30, cfg.Enrich.RetryMaxWaitSecs)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.Model)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
enrich:
  provider: gemini
  max_iterations: 6
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.Enrich.Provider)
	assert.Equal(t, 6, cfg.Enrich.MaxIterations)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Enrich.ToolDelayMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
log:
  level: debug
enrich:
  provider: gemini
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ENRICH_LOG_LEVEL", "warn")
	t.Setenv("ENRICH_ENRICH_PROVIDER", "anthropic")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "anthropic", cfg.Enrich.Provider)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("ENRICH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func validConfig() *Config {
	return &Config{
		Anthropic: AnthropicConfig{Key: "sk-ant-key"},
		MCP:       MCPConfig{URL: "https://tools.example.com/mcp"},
		Enrich:    EnrichConfig{Provider: "anthropic", MaxIterations: 10},
		Server:    ServerConfig{Port: 8080, RequestTimeoutSecs: 300},
	}
}

func TestValidate_AllPresent(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingFields(t *testing.T) {
	cfg := &Config{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "mcp.url is required")
	assert.Contains(t, err.Error(), "enrich.provider must be anthropic or gemini")
}

func TestValidate_ProviderKeyRequired(t *testing.T) {
	cfg := validConfig()
	cfg.Anthropic.Key = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg = validConfig()
	cfg.Enrich.Provider = "gemini"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")

	cfg.Gemini.Key = "gm-key"
	assert.NoError(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
