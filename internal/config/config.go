package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath        = "config.json"
	DefaultServerAddress     = ":8090"
	DefaultSessionsPath      = "./data/sessions.json"
	DefaultStorageDriver     = "json"
	DefaultProvider          = "gemini"
	DefaultQueueSize         = 16
	DefaultGenerationTimeout = 120
	DefaultTitleMaxTokens    = 24
	DefaultRedisKey          = "codesage:sessions"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Classifier  ClassifierConfig          `json:"classifier" yaml:"classifier"`
}

type ProviderConfig struct {
	BaseURL     string   `json:"base_url" yaml:"base_url"`
	Model       string   `json:"model" yaml:"model"`
	APIKey      string   `json:"api_key" yaml:"api_key"`
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// SessionsPath is the JSON document used by the "json" storage driver.
	SessionsPath  string `json:"sessions_path" yaml:"sessions_path"`
	StorageDriver string `json:"storage_driver" yaml:"storage_driver"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	QueueSize     int    `json:"queue_size" yaml:"queue_size"`
	// GenerationTimeout is in seconds.
	GenerationTimeout int    `json:"generation_timeout_seconds" yaml:"generation_timeout_seconds"`
	TitleMaxTokens    int    `json:"title_max_tokens" yaml:"title_max_tokens"`
	DefaultProvider   string `json:"default_provider" yaml:"default_provider"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

type ClassifierConfig struct {
	ExtraKeywords []string `json:"extra_keywords" yaml:"extra_keywords"`
}

// providerKeyEnv lists the environment variables consulted, in order, when a
// provider has no api_key configured.
var providerKeyEnv = map[string][]string{
	"gemini": {"GEMINI", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"openai": {"OPENAI_API_KEY"},
	"claude": {"ANTHROPIC_API_KEY"},
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file yields the defaults; an explicitly named file must
// exist. Files ending in .yaml or .yml are decoded as YAML, anything else as
// JSON.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			cfg := Default()
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = DefaultServerAddress
	}
	if b.SessionsPath == "" {
		b.SessionsPath = DefaultSessionsPath
	}
	if baseDir != "" && !filepath.IsAbs(b.SessionsPath) {
		b.SessionsPath = filepath.Join(baseDir, b.SessionsPath)
	}
	if b.StorageDriver == "" {
		b.StorageDriver = DefaultStorageDriver
	}
	if b.LogLevel == "" {
		b.LogLevel = "info"
	}
	if b.QueueSize <= 0 {
		b.QueueSize = DefaultQueueSize
	}
	if b.GenerationTimeout <= 0 {
		b.GenerationTimeout = DefaultGenerationTimeout
	}
	if b.TitleMaxTokens <= 0 {
		b.TitleMaxTokens = DefaultTitleMaxTokens
	}
	if b.DefaultProvider == "" {
		b.DefaultProvider = DefaultProvider
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if sqlite, ok := c.Databases["sqlite3"]; ok && baseDir != "" && sqlite.DSN != "" &&
		sqlite.DSN != ":memory:" && !strings.HasPrefix(sqlite.DSN, "file:") && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(baseDir, sqlite.DSN)
		c.Databases["sqlite3"] = sqlite
	}
	if c.Redis.Key == "" {
		c.Redis.Key = DefaultRedisKey
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CODESAGE_PROVIDER"); v != "" {
		c.BasicConfig.DefaultProvider = v
	}
	if v := os.Getenv("CODESAGE_SESSIONS_PATH"); v != "" {
		c.BasicConfig.SessionsPath = v
	}
	if v := os.Getenv("CODESAGE_STORAGE"); v != "" {
		c.BasicConfig.StorageDriver = v
	}
	for name, envs := range providerKeyEnv {
		prov := c.Providers[name]
		if prov.APIKey != "" {
			continue
		}
		for _, env := range envs {
			if v := strings.TrimSpace(os.Getenv(env)); v != "" {
				prov.APIKey = v
				c.Providers[name] = prov
				break
			}
		}
	}
}

func (c *Config) validate() error {
	switch strings.ToLower(c.BasicConfig.StorageDriver) {
	case "json", "sqlite", "sqlite3", "mysql", "redis":
	default:
		return fmt.Errorf("unsupported storage_driver %q", c.BasicConfig.StorageDriver)
	}
	if c.BasicConfig.SessionsPath == "" {
		return errors.New("sessions_path must be configured")
	}
	return nil
}

// Provider returns the named provider's configuration, falling back to the
// default provider when name is empty.
func (c *Config) Provider(name string) (string, ProviderConfig, error) {
	if name == "" {
		name = c.BasicConfig.DefaultProvider
	}
	name = strings.ToLower(strings.TrimSpace(name))
	prov, ok := c.Providers[name]
	if !ok {
		if _, known := providerKeyEnv[name]; !known {
			return "", ProviderConfig{}, fmt.Errorf("provider %s not configured", name)
		}
	}
	if prov.APIKey == "" {
		return "", ProviderConfig{}, fmt.Errorf("api key for provider %s not configured", name)
	}
	return name, prov, nil
}
