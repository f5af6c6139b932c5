package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Defaults  DefaultsConfig   `json:"defaults"`
	Cache     CacheConfig      `json:"cache"`
	Prompts   PromptsConfig    `json:"prompts"`
	Database  DatabaseConfig   `json:"database"`
	Embedding EmbeddingConfig  `json:"embedding"`
	Notify    NotifyConfig     `json:"notify"`
	Repo      RepoConfig       `json:"repo"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

// ProviderConfig describes one completion provider endpoint.
type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // "ollama", "openai", "anthropic"
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"` // default model when a request names none
}

// DefaultsConfig holds generation-wide defaults.
type DefaultsConfig struct {
	Provider    string  `json:"provider"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TimeoutMs   int     `json:"timeout_ms"`
}

// CacheConfig bounds the gateway response cache.
type CacheConfig struct {
	MaxEntries int `json:"max_entries"`
	TTLMs      int `json:"ttl_ms"`
	// PrefixLen is how many prompt characters participate in the cache
	// fingerprint. Distinct prompts sharing this prefix (at the same
	// provider/model/temperature/size bucket) collide.
	PrefixLen int `json:"prefix_len"`
}

type PromptsConfig struct {
	Dir string `json:"dir"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL    string `json:"url"`
	Stream string `json:"stream"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

type NotifyConfig struct {
	Slack   SlackNotifyConfig   `json:"slack"`
	Discord DiscordNotifyConfig `json:"discord"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Channel  string `json:"channel"`
}

type DiscordNotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

// RepoConfig points integration-stage git operations at a working tree.
type RepoConfig struct {
	Dir        string `json:"dir"`
	Remote     string `json:"remote"`
	BaseBranch string `json:"base_branch"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero-valued options with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Defaults.Temperature == 0 {
		c.Defaults.Temperature = 0.2
	}
	if c.Defaults.MaxTokens == 0 {
		c.Defaults.MaxTokens = 2000
	}
	if c.Defaults.TimeoutMs == 0 {
		c.Defaults.TimeoutMs = 120000
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 100
	}
	if c.Cache.TTLMs == 0 {
		c.Cache.TTLMs = 3600000
	}
	if c.Cache.PrefixLen == 0 {
		c.Cache.PrefixLen = 100
	}
	if c.Prompts.Dir == "" {
		c.Prompts.Dir = "prompts"
	}
	if c.Database.Redis.Stream == "" {
		c.Database.Redis.Stream = "conduct:analytics"
	}
	if c.Repo.Remote == "" {
		c.Repo.Remote = "origin"
	}
	if c.Repo.BaseBranch == "" {
		c.Repo.BaseBranch = "main"
	}
}

// RequestTimeout returns the global provider-call timeout as a Duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Defaults.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the cache entry time-to-live as a Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}
