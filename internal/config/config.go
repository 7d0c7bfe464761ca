package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	MCP       MCPConfig       `yaml:"mcp" mapstructure:"mcp"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings. The default model is also
// the finalizer model for the summarization pass.
type AnthropicConfig struct {
	Key          string `yaml:"key" mapstructure:"key"`
	Model        string `yaml:"model" mapstructure:"model"`
	DefaultModel string `yaml:"default_model" mapstructure:"default_model"`
}

// GeminiConfig holds Gemini API settings for the alternate provider.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	Model   string `yaml:"model" mapstructure:"model"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MCPConfig holds the tool-service connection settings.
type MCPConfig struct {
	URL       string            `yaml:"url" mapstructure:"url"`
	AuthToken string            `yaml:"auth_token" mapstructure:"auth_token"`
	Headers   map[string]string `yaml:"headers" mapstructure:"headers"`
}

// EnrichConfig tunes the orchestrator loop and the reconciler.
type EnrichConfig struct {
	Provider         string   `yaml:"provider" mapstructure:"provider"`
	MaxIterations    int      `yaml:"max_iterations" mapstructure:"max_iterations"`
	ToolDelayMs      int      `yaml:"tool_delay_ms" mapstructure:"tool_delay_ms"`
	CallSpacingMs    int      `yaml:"call_spacing_ms" mapstructure:"call_spacing_ms"`
	TruncateAt       int      `yaml:"truncate_at" mapstructure:"truncate_at"`
	ResolveTool      string   `yaml:"resolve_tool" mapstructure:"resolve_tool"`
	ProfileTool      string   `yaml:"profile_tool" mapstructure:"profile_tool"`
	ProfileDomains   []string `yaml:"profile_domains" mapstructure:"profile_domains"`
	RetryMaxAttempts int      `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
	RetryMaxWaitSecs int      `yaml:"retry_max_wait_secs" mapstructure:"retry_max_wait_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	AllowedOrigins     []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_secs", 300)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.default_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("enrich.provider", "anthropic")
	v.SetDefault("enrich.max_iterations", 10)
	v.SetDefault("enrich.tool_delay_ms", 500)
	v.SetDefault("enrich.call_spacing_ms", 2000)
	v.SetDefault("enrich.truncate_at", 2000)
	v.SetDefault("enrich.resolve_tool", "resolve_identity")
	v.SetDefault("enrich.profile_tool", "fetch_profiles")
	v.SetDefault("enrich.profile_domains", []string{"demographic", "household", "financial", "interests"})
	v.SetDefault("enrich.retry_max_attempts", 3)
	v.SetDefault("enrich.retry_max_wait_secs", 30)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the serve mode. Missing values are
// reported together so one run surfaces every problem.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	if c.Server.RequestTimeoutSecs <= 0 {
		problems = append(problems, "server.request_timeout_secs must be > 0")
	}
	if c.MCP.URL == "" {
		problems = append(problems, "mcp.url is required")
	}

	switch c.Enrich.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			problems = append(problems, "gemini.key is required")
		}
	default:
		problems = append(problems, "enrich.provider must be anthropic or gemini")
	}

	if c.Enrich.MaxIterations <= 0 {
		problems = append(problems, "enrich.max_iterations must be > 0")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
