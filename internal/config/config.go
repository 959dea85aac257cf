// Package config loads settings from defaults, an optional config file,
// a .env file and EMOTION_LENS_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. EMOTION_LENS_DB.
const EnvPrefix = "EMOTION_LENS"

type Config struct {
	DB    string      `mapstructure:"db"`
	Store StoreConfig `mapstructure:"store"`
	Redis RedisConfig `mapstructure:"redis"`

	Classifier ClassifierConfig `mapstructure:"classifier"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`

	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
	Game    GameConfig    `mapstructure:"game"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Capture CaptureConfig `mapstructure:"capture"`
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ClassifierConfig struct {
	URL          string        `mapstructure:"url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	TextProvider string        `mapstructure:"text_provider"`
}

type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
	File   string `mapstructure:"file"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type GameConfig struct {
	Rounds int `mapstructure:"rounds"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type CaptureConfig struct {
	MaxDim int `mapstructure:"max_dim"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db", "")
	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "emotion-lens:")
	v.SetDefault("classifier.url", "http://localhost:8000")
	v.SetDefault("classifier.timeout", 30*time.Second)
	v.SetDefault("classifier.text_provider", "http")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
	v.SetDefault("server.port", "8080")
	v.SetDefault("game.rounds", 5)
	v.SetDefault("monitor.interval", time.Second)
	v.SetDefault("capture.max_dim", 640)
}

// Load reads the configuration. path names an explicit config file; when
// empty, emotion-lens.{yaml,json,toml} is looked up in the working directory
// and ~/.emotion-lens, and a missing file is not an error.
func Load(path string, logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("emotion-lens")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".emotion-lens"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Debug().
		Str("config_file", v.ConfigFileUsed()).
		Str("store_backend", cfg.Store.Backend).
		Str("classifier_url", cfg.Classifier.URL).
		Str("text_provider", cfg.Classifier.TextProvider).
		Str("log_level", cfg.Log.Level).
		Msg("configuration loaded")

	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("store.backend must be sqlite, redis or memory, got %q", c.Store.Backend)
	}
	switch c.Classifier.TextProvider {
	case "http", "openai":
	default:
		return fmt.Errorf("classifier.text_provider must be http or openai, got %q", c.Classifier.TextProvider)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}
