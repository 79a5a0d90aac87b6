// Package config provides configuration loading and validation for the
// NouMeal server. Values come from defaults, an optional config.yaml, and
// NOUMEAL_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Gemini      GeminiConfig      `mapstructure:"gemini"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Store       StoreConfig       `mapstructure:"store"`
	Agent       AgentConfig       `mapstructure:"agent"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"             validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// GeminiConfig holds settings for the generation service.
type GeminiConfig struct {
	APIKey            string        `mapstructure:"api_key"             validate:"required"`
	Model             string        `mapstructure:"model"               validate:"required"`
	ClassifierModel   string        `mapstructure:"classifier_model"    validate:"required"`
	Temperature       float32       `mapstructure:"temperature"         validate:"min=0,max=2"`
	MaxOutputTokens   int32         `mapstructure:"max_output_tokens"   validate:"min=1"`
	Timeout           time.Duration `mapstructure:"timeout"             validate:"min=1s,max=10m"`
	MaxRetries        int           `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"min=0"`
}

// RecognitionConfig holds settings for the image-recognition workflow service.
type RecognitionConfig struct {
	BaseURL       string        `mapstructure:"base_url"       validate:"required,url"`
	PAT           string        `mapstructure:"pat"            validate:"required"`
	UserID        string        `mapstructure:"user_id"        validate:"required"`
	AppID         string        `mapstructure:"app_id"         validate:"required"`
	WorkflowID    string        `mapstructure:"workflow_id"    validate:"required"`
	Timeout       time.Duration `mapstructure:"timeout"        validate:"min=1s,max=5m"`
	MinConfidence float64       `mapstructure:"min_confidence" validate:"min=0,max=1"`
}

// StoreConfig selects the session/profile store backend. When RedisAddr is
// empty the server keeps all state in process memory.
type StoreConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// AgentConfig holds intent/dispatch tuning knobs.
type AgentConfig struct {
	HistoryWindow    int `mapstructure:"history_window"    validate:"min=1,max=100"`
	ClassifierWindow int `mapstructure:"classifier_window" validate:"min=1,max=20"`
}

// Load reads configuration from config.yaml (optional) and the environment,
// applies defaults, and validates the result.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("NOUMEAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is fine, defaults plus env vars apply.
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 2*time.Minute)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.json", true)

	viper.SetDefault("gemini.model", "gemini-2.0-flash")
	viper.SetDefault("gemini.classifier_model", "gemini-2.0-flash-lite")
	viper.SetDefault("gemini.temperature", 0.7)
	viper.SetDefault("gemini.max_output_tokens", 2500)
	viper.SetDefault("gemini.timeout", 2*time.Minute)
	viper.SetDefault("gemini.max_retries", 2)
	viper.SetDefault("gemini.retry_delay_seconds", 2)

	viper.SetDefault("recognition.base_url", "https://api.clarifai.com")
	viper.SetDefault("recognition.timeout", 30*time.Second)
	viper.SetDefault("recognition.min_confidence", 0.5)

	viper.SetDefault("store.redis_addr", "")
	viper.SetDefault("store.redis_db", 0)

	viper.SetDefault("agent.history_window", 10)
	viper.SetDefault("agent.classifier_window", 3)
}
