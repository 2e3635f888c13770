// Package config loads Recall's configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the persistent application configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" yaml:"retrieval"`
	Synthesis SynthesisConfig `mapstructure:"synthesis" yaml:"synthesis"`
	Temporal  TemporalConfig  `mapstructure:"temporal" yaml:"temporal"`
	Calendar  CalendarConfig  `mapstructure:"calendar" yaml:"calendar"`
	Email     EmailConfig     `mapstructure:"email" yaml:"email"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// DatabaseConfig locates the page store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig holds HTTP front door settings
type ServerConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	EnableCORS bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
}

// RetrievalConfig tunes the candidate retriever.
type RetrievalConfig struct {
	Limit        int     `mapstructure:"limit" yaml:"limit"`
	ExcerptChars int     `mapstructure:"excerpt_chars" yaml:"excerpt_chars"`
	SnippetChars int     `mapstructure:"snippet_chars" yaml:"snippet_chars"`
	TitleWeight  float64 `mapstructure:"title_weight" yaml:"title_weight"`
	PoolSize     int     `mapstructure:"pool_size" yaml:"pool_size"` // max pages pulled from the store per query
}

// SynthesisConfig holds the language-model settings
type SynthesisConfig struct {
	Provider        string        `mapstructure:"provider" yaml:"provider"` // claude, openai, ollama
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model           string        `mapstructure:"model" yaml:"model,omitempty"`
	Endpoint        string        `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxContextChars int           `mapstructure:"max_context_chars" yaml:"max_context_chars"`
	MaxTokens       int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	CacheSize       int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RatePerSecond   float64       `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

// TemporalConfig controls date extraction.
type TemporalConfig struct {
	DefaultHour int    `mapstructure:"default_hour" yaml:"default_hour"`
	DateOrder   string `mapstructure:"date_order" yaml:"date_order"` // "MDY" or "DMY"
	Policy      string `mapstructure:"policy" yaml:"policy"`         // "highest-confidence" or "soonest-future"
	TimeZone    string `mapstructure:"time_zone" yaml:"time_zone"`   // IANA name; empty keeps the capture time's zone
}

// CalendarConfig holds Google Calendar settings. Token storage is external;
// the access token is read from config or GOOGLE_CALENDAR_TOKEN.
type CalendarConfig struct {
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	CalendarID    string        `mapstructure:"calendar_id" yaml:"calendar_id"`
	Token         string        `mapstructure:"token" yaml:"token,omitempty"`
	TimeZone      string        `mapstructure:"time_zone" yaml:"time_zone"`
	EventDuration time.Duration `mapstructure:"event_duration" yaml:"event_duration"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// EmailConfig holds SMTP settings for invitation fallback.
type EmailConfig struct {
	Host             string        `mapstructure:"host" yaml:"host"`
	Port             int           `mapstructure:"port" yaml:"port"`
	Username         string        `mapstructure:"username" yaml:"username,omitempty"`
	Password         string        `mapstructure:"password" yaml:"password,omitempty"`
	From             string        `mapstructure:"from" yaml:"from,omitempty"`
	DefaultRecipient string        `mapstructure:"default_recipient" yaml:"default_recipient,omitempty"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig selects log destination and level.
type LoggingConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	File     string `mapstructure:"file" yaml:"file"`           // "-" for stderr
	EventLog string `mapstructure:"event_log" yaml:"event_log"` // JSONL activity journal; empty keeps it in memory
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: filepath.Join(DataDir(), "recall.db"),
		},
		Server: ServerConfig{
			Addr:       "127.0.0.1:5001",
			EnableCORS: true,
		},
		Retrieval: RetrievalConfig{
			Limit:        8,
			ExcerptChars: 1000,
			SnippetChars: 250,
			TitleWeight:  2,
			PoolSize:     200,
		},
		Synthesis: SynthesisConfig{
			Provider:        "claude",
			Timeout:         15 * time.Second,
			MaxContextChars: 12000,
			MaxTokens:       2000,
			CacheSize:       256,
			CacheTTL:        10 * time.Minute,
			RatePerSecond:   2,
		},
		Temporal: TemporalConfig{
			DefaultHour: 9,
			DateOrder:   "MDY",
			Policy:      "highest-confidence",
		},
		Calendar: CalendarConfig{
			Endpoint:      "https://www.googleapis.com/calendar/v3",
			CalendarID:    "primary",
			TimeZone:      "America/Los_Angeles",
			EventDuration: time.Hour,
			Timeout:       15 * time.Second,
		},
		Email: EmailConfig{
			Host:    "smtp.gmail.com",
			Port:    587,
			Timeout: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			EventLog: filepath.Join(DataDir(), "recall.events.jsonl"),
		},
	}
}

// DataDir returns ~/.recall (not created).
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load reads config from path (or ConfigPath when empty), layering
// defaults < file < RECALL_* env < well-known provider env vars.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.AutoPopulateFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.debug", d.Server.Debug)

	v.SetDefault("retrieval.limit", d.Retrieval.Limit)
	v.SetDefault("retrieval.excerpt_chars", d.Retrieval.ExcerptChars)
	v.SetDefault("retrieval.snippet_chars", d.Retrieval.SnippetChars)
	v.SetDefault("retrieval.title_weight", d.Retrieval.TitleWeight)
	v.SetDefault("retrieval.pool_size", d.Retrieval.PoolSize)

	v.SetDefault("synthesis.provider", d.Synthesis.Provider)
	v.SetDefault("synthesis.api_key", d.Synthesis.APIKey)
	v.SetDefault("synthesis.model", d.Synthesis.Model)
	v.SetDefault("synthesis.endpoint", d.Synthesis.Endpoint)
	v.SetDefault("synthesis.timeout", d.Synthesis.Timeout)
	v.SetDefault("synthesis.max_context_chars", d.Synthesis.MaxContextChars)
	v.SetDefault("synthesis.max_tokens", d.Synthesis.MaxTokens)
	v.SetDefault("synthesis.cache_size", d.Synthesis.CacheSize)
	v.SetDefault("synthesis.cache_ttl", d.Synthesis.CacheTTL)
	v.SetDefault("synthesis.rate_per_second", d.Synthesis.RatePerSecond)

	v.SetDefault("temporal.default_hour", d.Temporal.DefaultHour)
	v.SetDefault("temporal.date_order", d.Temporal.DateOrder)
	v.SetDefault("temporal.policy", d.Temporal.Policy)
	v.SetDefault("temporal.time_zone", d.Temporal.TimeZone)

	v.SetDefault("calendar.endpoint", d.Calendar.Endpoint)
	v.SetDefault("calendar.calendar_id", d.Calendar.CalendarID)
	v.SetDefault("calendar.token", d.Calendar.Token)
	v.SetDefault("calendar.time_zone", d.Calendar.TimeZone)
	v.SetDefault("calendar.event_duration", d.Calendar.EventDuration)
	v.SetDefault("calendar.timeout", d.Calendar.Timeout)

	v.SetDefault("email.host", d.Email.Host)
	v.SetDefault("email.port", d.Email.Port)
	v.SetDefault("email.username", d.Email.Username)
	v.SetDefault("email.password", d.Email.Password)
	v.SetDefault("email.from", d.Email.From)
	v.SetDefault("email.default_recipient", d.Email.DefaultRecipient)
	v.SetDefault("email.timeout", d.Email.Timeout)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.event_log", d.Logging.EventLog)
}

// AutoPopulateFromEnv fills in keys from well-known environment variables
// when the config leaves them empty.
func (c *Config) AutoPopulateFromEnv() {
	if c.Synthesis.APIKey == "" {
		switch strings.ToLower(c.Synthesis.Provider) {
		case "openai":
			c.Synthesis.APIKey = os.Getenv("OPENAI_API_KEY")
		case "claude", "anthropic", "":
			if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				c.Synthesis.APIKey = key
			} else {
				c.Synthesis.APIKey = os.Getenv("CLAUDE_API_KEY")
			}
		}
	}
	if c.Synthesis.Provider == "ollama" && c.Synthesis.Endpoint == "" {
		c.Synthesis.Endpoint = os.Getenv("OLLAMA_HOST")
	}
	if c.Calendar.Token == "" {
		c.Calendar.Token = os.Getenv("GOOGLE_CALENDAR_TOKEN")
	}
	if host := os.Getenv("SMTP_SERVER"); host != "" {
		c.Email.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("SMTP_PORT")); err == nil && port > 0 {
		c.Email.Port = port
	}
	if c.Email.Username == "" {
		c.Email.Username = os.Getenv("SMTP_USERNAME")
	}
	if c.Email.Password == "" {
		c.Email.Password = os.Getenv("SMTP_PASSWORD")
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Retrieval.Limit <= 0 {
		return fmt.Errorf("retrieval.limit must be > 0, got %d", c.Retrieval.Limit)
	}
	if c.Temporal.DefaultHour < 0 || c.Temporal.DefaultHour > 23 {
		return fmt.Errorf("temporal.default_hour must be 0-23, got %d", c.Temporal.DefaultHour)
	}
	switch strings.ToUpper(c.Temporal.DateOrder) {
	case "MDY", "DMY":
	default:
		return fmt.Errorf("temporal.date_order must be MDY or DMY, got %q", c.Temporal.DateOrder)
	}
	switch c.Temporal.Policy {
	case "highest-confidence", "soonest-future":
	default:
		return fmt.Errorf("temporal.policy must be highest-confidence or soonest-future, got %q", c.Temporal.Policy)
	}
	if c.Temporal.TimeZone != "" {
		if _, err := time.LoadLocation(c.Temporal.TimeZone); err != nil {
			return fmt.Errorf("temporal.time_zone: %w", err)
		}
	}
	if c.Synthesis.Timeout <= 0 {
		return fmt.Errorf("synthesis.timeout must be > 0")
	}
	return nil
}

// Save writes config to path (or ConfigPath when empty).
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}
