// Package config handles relay configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/relay/config.yaml, /etc/relay/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "relay", "config.yaml"))
	}

	paths = append(paths, "/etc/relay/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all relay configuration.
type Config struct {
	DataDir     string       `yaml:"data_dir"`
	PersonaFile string       `yaml:"persona_file"`
	LogLevel    string       `yaml:"log_level"`
	LogFormat   string       `yaml:"log_format"` // text or json
	State       StateConfig  `yaml:"state"`
	LLM         LLMConfig    `yaml:"llm"`
	Search      SearchConfig `yaml:"search"`
	TTS         TTSConfig    `yaml:"tts"`
	Signal      SignalConfig `yaml:"signal"`
}

// StateConfig selects the backend for conversation history, preferences,
// and the search credential ledger.
type StateConfig struct {
	Driver string      `yaml:"driver"` // sqlite, redis, memory
	Path   string      `yaml:"path"`   // sqlite database file
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis state driver.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig defines the language-model endpoint. The default provider
// speaks the OpenAI chat completions protocol, which Gemini also exposes.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, anthropic, ollama
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// SearchConfig defines the internet search provider and the pool of
// credentials rotated across requests.
type SearchConfig struct {
	Provider   string  `yaml:"provider"` // tavily, brave
	APIKeys    KeyList `yaml:"api_keys"`
	Depth      string  `yaml:"depth"`
	MaxResults int     `yaml:"max_results"`
}

// Configured reports whether at least one search credential is set.
func (c SearchConfig) Configured() bool {
	return len(c.APIKeys) > 0
}

// TTSConfig defines the text-to-speech service. Voice replies are
// disabled unless both BaseURL and Token are set.
type TTSConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	DefaultModel string        `yaml:"default_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Configured reports whether the TTS endpoint and token are both set.
func (c TTSConfig) Configured() bool {
	return c.BaseURL != "" && c.Token != ""
}

// SignalConfig defines the signal-cli subprocess used as the transport.
type SignalConfig struct {
	Account   string   `yaml:"account"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	RateLimit int      `yaml:"rate_limit"` // per sender per minute; 0 = unlimited
}

// CommandArgs returns the argument vector for signal-cli. Explicit Args
// win; otherwise the account is run in jsonRpc mode.
func (c SignalConfig) CommandArgs() []string {
	if len(c.Args) > 0 {
		return c.Args
	}
	return []string{"-a", c.Account, "jsonRpc"}
}

// KeyList is a list of credentials. In YAML it may be written either as
// a sequence or as a single "|"-separated string, which lets a value
// like ${TAVILY_API_KEYS} expand straight into the list.
type KeyList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (k *KeyList) UnmarshalYAML(node *yaml.Node) error {
	var raw []string
	switch node.Kind {
	case yaml.ScalarNode:
		raw = strings.Split(node.Value, "|")
	case yaml.SequenceNode:
		if err := node.Decode(&raw); err != nil {
			return err
		}
	default:
		return fmt.Errorf("api_keys: expected string or list, got %v", node.Tag)
	}

	keys := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			keys = append(keys, s)
		}
	}
	*k = keys
	return nil
}

// LoadDotEnv loads a .env file into the process environment when one
// exists. Variables already set in the environment are not overridden.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.State.Driver == "" {
		c.State.Driver = "sqlite"
	}
	if c.State.Path == "" {
		c.State.Path = filepath.Join(c.DataDir, "relay.db")
	}
	if c.State.Redis.Prefix == "" {
		c.State.Redis.Prefix = "relay:"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "models/gemini-1.5-pro-latest"
	}
	if c.Search.Provider == "" {
		c.Search.Provider = "tavily"
	}
	if c.Search.Depth == "" {
		c.Search.Depth = "advanced"
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = 5
	}
	if c.TTS.DefaultModel == "" {
		c.TTS.DefaultModel = "es_MX-laura_v2"
	}
	if c.TTS.Timeout == 0 {
		c.TTS.Timeout = time.Hour
	}
	if c.Signal.Command == "" {
		c.Signal.Command = "signal-cli"
	}
}

// Validate checks enumerated settings and cross-field requirements.
// It does not require the transport to be configured; commands that
// need signal-cli check that separately.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.LogLevel, validation.By(func(v any) error {
			_, err := ParseLogLevel(v.(string))
			return err
		})),
		validation.Field(&c.LogFormat, validation.In("text", "json")),
		validation.Field(&c.State),
		validation.Field(&c.LLM),
		validation.Field(&c.Search),
	)
}

// Validate implements validation.Validatable.
func (s StateConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required, validation.In("sqlite", "redis", "memory")),
		validation.Field(&s.Path, validation.When(s.Driver == "sqlite", validation.Required)),
		validation.Field(&s.Redis, validation.When(s.Driver == "redis", validation.By(func(any) error {
			if s.Redis.Addr == "" {
				return errors.New("addr is required for the redis driver")
			}
			return nil
		}))),
	)
}

// Validate implements validation.Validatable.
func (l LLMConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Provider, validation.Required, validation.In("openai", "anthropic", "ollama")),
		validation.Field(&l.Model, validation.Required),
		validation.Field(&l.APIKey, validation.When(l.Provider != "ollama", validation.Required)),
	)
}

// Validate implements validation.Validatable.
func (s SearchConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Provider, validation.Required, validation.In("tavily", "brave")),
		validation.Field(&s.Depth, validation.In("basic", "advanced")),
		validation.Field(&s.MaxResults, validation.Min(1), validation.Max(20)),
	)
}
