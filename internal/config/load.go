package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable the service reads,
// e.g. DOCSAGE_SERVER_PORT or DOCSAGE_AUTH_JWT_SECRET.
const EnvPrefix = "DOCSAGE"

// defaults lists every key with a default value. Keys without a sensible
// default are bound explicitly in requiredKeys so environment overrides reach Unmarshal.
var defaults = map[string]any{
	"server.port":                     8080,
	"server.log_level":                "info",
	"server.shutdown_timeout_seconds": 15,
	"server.max_upload_bytes":         50 << 20,

	"database.url":            "",
	"database.max_open_conns": 10,

	"auth.token_lifetime_minutes": 60,

	"llm.provider":       "gemini",
	"llm.gemini_api_key": "",
	"llm.model_name":     "gemini-2.0-flash",

	"task.worker_count":                 4,
	"task.queue_ceiling":                500,
	"task.max_attempts":                 3,
	"task.visibility_timeout_seconds":   360,
	"task.stale_task_age_minutes":       30,
	"task.stale_check_interval_seconds": 300,
	"task.budgets.extract":              120,
	"task.budgets.summarize":            300,
	"task.budgets.qa":                   60,
	"task.budgets.rewrite":              180,
	"task.budgets.mindmap":              300,

	"queue.backend":        "memory",
	"queue.redis_addr":     "",
	"queue.redis_password": "",
	"queue.redis_db":       0,
	"queue.key_prefix":     "docsage",

	"storage.data_dir":          "./data/blobs",
	"storage.cache_size":        1024,
	"storage.cache_ttl_minutes": 60,

	"hub.buffer_size":           32,
	"hub.ping_interval_seconds": 30,
	"hub.pong_wait_seconds":     60,
}

var requiredKeys = []string{
	"auth.jwt_secret",
}

// Load configuration from environment variables and optionally config files.
// Precedence, lowest to highest: defaults, config.yaml, .env, process environment.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with an explicit directory for config.yaml and .env.
func LoadFrom(dir string) (*Config, error) {
	// .env never overrides variables already present in the process environment
	if err := godotenv.Load(dir + "/.env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	v := validator.New()
	v.RegisterStructValidation(validateTaskConfig, TaskConfig{})
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// validateTaskConfig requires the queue lease to outlast the longest budget.
// A shorter lease redelivers a message while its first run still executes.
func validateTaskConfig(sl validator.StructLevel) {
	tc := sl.Current().Interface().(TaskConfig)
	lease := time.Duration(tc.VisibilityTimeoutSeconds) * time.Second
	if lease <= tc.Budgets.For("") {
		sl.ReportError(tc.VisibilityTimeoutSeconds,
			"VisibilityTimeoutSeconds", "visibility_timeout_seconds", "gt_longest_budget", "")
	}
}
