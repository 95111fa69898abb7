package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	AI       AIConfig       `yaml:"ai"`
	Render   RenderConfig   `yaml:"render"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ClientDir    string        `yaml:"client_dir"`
}

type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql"`
	Redis RedisConfig `yaml:"redis"`
}

type MySQLConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AIConfig struct {
	// Provider selects the renderer: "gemini" or "openai".
	Provider string       `yaml:"provider"`
	Gemini   GeminiConfig `yaml:"gemini"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	AspectRatio string        `yaml:"aspect_ratio"`
	Timeout     time.Duration `yaml:"timeout"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Size    string        `yaml:"size"`
	Timeout time.Duration `yaml:"timeout"`
}

type RenderConfig struct {
	ImageDir       string        `yaml:"image_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ImageTTL       time.Duration `yaml:"image_ttl"`
	MaxImages      int           `yaml:"max_images"`
	// MaxConcurrent bounds provider calls across all sessions.
	MaxConcurrent int `yaml:"max_concurrent"`
	QueueSize     int `yaml:"queue_size"`
}

type SessionConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// ResponseMargin is kept between the end of a render and the server write
// timeout so a failed render still gets its JSON response out.
const ResponseMargin = 30 * time.Second

// Load reads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every field at its default value.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func applyEnv(cfg *Config) {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		cfg.AI.Gemini.APIKey = apiKey
	} else if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		cfg.AI.Gemini.APIKey = apiKey
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.AI.OpenAI.APIKey = apiKey
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Database.Redis.Password = pw
	}
	if pw := os.Getenv("MYSQL_PASSWORD"); pw != "" {
		cfg.Database.MySQL.Password = pw
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.ClientDir == "" {
		c.Server.ClientDir = "./client"
	}

	if c.Database.Redis.Host == "" {
		c.Database.Redis.Host = "localhost"
	}
	if c.Database.Redis.Port == 0 {
		c.Database.Redis.Port = 6379
	}
	if c.Database.Redis.PoolSize == 0 {
		c.Database.Redis.PoolSize = 10
	}
	if c.Database.MySQL.Host == "" {
		c.Database.MySQL.Host = "localhost"
	}
	if c.Database.MySQL.Port == 0 {
		c.Database.MySQL.Port = 3306
	}
	if c.Database.MySQL.MaxOpenConns == 0 {
		c.Database.MySQL.MaxOpenConns = 10
	}
	if c.Database.MySQL.MaxIdleConns == 0 {
		c.Database.MySQL.MaxIdleConns = 5
	}
	if c.Database.MySQL.ConnMaxLifetime == 0 {
		c.Database.MySQL.ConnMaxLifetime = time.Hour
	}

	if c.AI.Provider == "" {
		c.AI.Provider = ProviderGemini
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-2.5-flash-image"
	}
	if c.AI.Gemini.AspectRatio == "" {
		c.AI.Gemini.AspectRatio = "1:1"
	}
	if c.AI.Gemini.Timeout == 0 {
		c.AI.Gemini.Timeout = 2 * time.Minute
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-image-1"
	}
	if c.AI.OpenAI.Size == "" {
		c.AI.OpenAI.Size = "1024x1024"
	}
	if c.AI.OpenAI.Timeout == 0 {
		c.AI.OpenAI.Timeout = 2 * time.Minute
	}

	// A render response waits for the queue and then the provider call.
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = c.AI.Timeout() + time.Minute
	}
	if floor := c.AI.Timeout() + ResponseMargin; c.Server.WriteTimeout < floor {
		c.Server.WriteTimeout = floor
	}

	if c.Render.ImageDir == "" {
		c.Render.ImageDir = "./data/images"
	}
	if c.Render.MaxUploadBytes == 0 {
		c.Render.MaxUploadBytes = 5 << 20
	}
	if c.Render.ImageTTL == 0 {
		c.Render.ImageTTL = 24 * time.Hour
	}
	if c.Render.MaxImages == 0 {
		c.Render.MaxImages = 1000
	}
	if c.Render.MaxConcurrent == 0 {
		c.Render.MaxConcurrent = 4
	}
	if c.Render.QueueSize == 0 {
		c.Render.QueueSize = 64
	}

	if c.Session.TTL == 0 {
		c.Session.TTL = 24 * time.Hour
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown ai provider %q", c.AI.Provider)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Render.MaxUploadBytes < 0 {
		return fmt.Errorf("max_upload_bytes must not be negative")
	}
	return nil
}

// RenderBudget bounds one render request, queue wait included.
func (c *Config) RenderBudget() time.Duration {
	return c.Server.WriteTimeout - ResponseMargin
}

// Timeout returns the request timeout of the active provider.
func (c *AIConfig) Timeout() time.Duration {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI.Timeout
	}
	return c.Gemini.Timeout
}

// APIKey returns the configured key of the active provider.
func (c *AIConfig) APIKey() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAI.APIKey
	}
	return c.Gemini.APIKey
}
