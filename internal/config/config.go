package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and passed by reference to every component.
type Config struct {
	Home       string           `mapstructure:"home"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ClassifierConfig struct {
	ConfidenceThreshold  float64 `mapstructure:"confidence_threshold"`
	ThoughtBodyThreshold int     `mapstructure:"thought_body_threshold"`
}

type LLMConfig struct {
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Temperature      float64       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxResponseBytes int64         `mapstructure:"max_response_bytes"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

type FetchConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// DefaultModels maps each provider to the model used when none is configured.
var DefaultModels = map[string]string{
	ProviderAnthropic: "claude-haiku-4-5-20251001",
	ProviderOpenAI:    "gpt-4o-mini",
}

// Load reads configuration from defaults, the config file and JOT_* environment
// variables, in increasing order of precedence. An empty path means the default
// location; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("JOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(DefaultConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is configured.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.applyFallbacks()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", defaultHome())

	v.SetDefault("classifier.confidence_threshold", 0.75)
	v.SetDefault("classifier.thought_body_threshold", 200)

	v.SetDefault("llm.provider", ProviderAnthropic)
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("llm.max_response_bytes", 1<<20)
	v.SetDefault("llm.failure_threshold", 3)
	v.SetDefault("llm.cooldown", time.Minute)

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.command", "notify-send")

	v.SetDefault("fetch.enabled", false)
	v.SetDefault("fetch.timeout", 10*time.Second)

	v.SetDefault("server.addr", "127.0.0.1:8080")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
}

// applyFallbacks fills the provider model and credential from the
// provider's conventional environment variables when not configured.
func (c *Config) applyFallbacks() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModels[c.LLM.Provider]
	}
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderAnthropic:
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if _, ok := DefaultModels[c.LLM.Provider]; !ok {
		return fmt.Errorf("config: unknown llm provider %q", c.LLM.Provider)
	}
	if t := c.Classifier.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("config: confidence_threshold %v outside [0,1]", t)
	}
	if c.Classifier.ThoughtBodyThreshold < 0 {
		return fmt.Errorf("config: thought_body_threshold must not be negative")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("config: llm timeout must be positive")
	}
	if c.Home == "" {
		return fmt.Errorf("config: home is empty")
	}
	return nil
}

// DefaultConfigDir is $XDG_CONFIG_HOME/jot, or ~/.config/jot.
func DefaultConfigDir() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "jot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "jot")
}

func defaultHome() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "jot")
}

func (c *Config) InboxPath() string        { return filepath.Join(c.Home, "inbox.log") }
func (c *Config) LedgerPath() string       { return filepath.Join(c.Home, "processed.log") }
func (c *Config) ManualReviewPath() string { return filepath.Join(c.Home, "manual_review.md") }
func (c *Config) DBPath() string           { return filepath.Join(c.Home, "jot.db") }
func (c *Config) ThoughtsDir() string      { return filepath.Join(c.Home, "thoughts") }
func (c *Config) PeopleDir() string        { return filepath.Join(c.Home, "people") }

// EnsureDirs creates the data directory.
func (c *Config) EnsureDirs() error {
	if err := os.MkdirAll(c.Home, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}
	return nil
}
