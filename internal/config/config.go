package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"     validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"      validate:"required"`
	Task     TaskConfig     `mapstructure:"task"     validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage"  validate:"required"`
	Hub      HubConfig      `mapstructure:"hub"      validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"                     validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level"                validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gt=0"`
	MaxUploadBytes         int64  `mapstructure:"max_upload_bytes"         validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory stores.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"            validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret"             validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"required,gt=0,lte=44640"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// Provider selects the analysis engine: "gemini" or "echo" (local development).
	Provider     string `mapstructure:"provider"       validate:"required,oneof=gemini echo"`
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required_if=Provider gemini"`
	ModelName    string `mapstructure:"model_name"     validate:"required"`
}

// TaskConfig controls the worker pool, the queue ceiling, and per-type budgets.
type TaskConfig struct {
	WorkerCount               int          `mapstructure:"worker_count"                 validate:"required,gt=0"`
	QueueCeiling              int          `mapstructure:"queue_ceiling"                validate:"required,gt=0"`
	MaxAttempts               int          `mapstructure:"max_attempts"                 validate:"required,gt=0"`
	VisibilityTimeoutSeconds  int          `mapstructure:"visibility_timeout_seconds"   validate:"required,gt=0"`
	StaleTaskAgeMinutes       int          `mapstructure:"stale_task_age_minutes"       validate:"required,gt=0"`
	StaleCheckIntervalSeconds int          `mapstructure:"stale_check_interval_seconds" validate:"required,gt=0"`
	Budgets                   BudgetConfig `mapstructure:"budgets"                      validate:"required"`
}

// BudgetConfig is the maximum execution time in seconds for each task type.
type BudgetConfig struct {
	Extract   int `mapstructure:"extract"   validate:"gt=0"`
	Summarize int `mapstructure:"summarize" validate:"gt=0"`
	QA        int `mapstructure:"qa"        validate:"gt=0"`
	Rewrite   int `mapstructure:"rewrite"   validate:"gt=0"`
	Mindmap   int `mapstructure:"mindmap"   validate:"gt=0"`
}

// For returns the budget for a task type name; unknown names get the longest budget.
func (b BudgetConfig) For(taskType string) time.Duration {
	var secs int
	switch taskType {
	case "extract":
		secs = b.Extract
	case "summarize":
		secs = b.Summarize
	case "qa":
		secs = b.QA
	case "rewrite":
		secs = b.Rewrite
	case "mindmap":
		secs = b.Mindmap
	default:
		secs = max(b.Extract, b.Summarize, b.QA, b.Rewrite, b.Mindmap)
	}
	return time.Duration(secs) * time.Second
}

// QueueConfig selects and configures the WorkQueue backend.
type QueueConfig struct {
	Backend       string `mapstructure:"backend"        validate:"required,oneof=memory redis"`
	RedisAddr     string `mapstructure:"redis_addr"     validate:"required_if=Backend redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"       validate:"gte=0"`
	KeyPrefix     string `mapstructure:"key_prefix"     validate:"required"`
}

// StorageConfig configures blob storage and the fingerprint cache.
type StorageConfig struct {
	DataDir         string `mapstructure:"data_dir"          validate:"required"`
	CacheSize       int    `mapstructure:"cache_size"        validate:"gt=0"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes" validate:"gt=0"`
}

// HubConfig configures the progress push channel.
type HubConfig struct {
	BufferSize          int `mapstructure:"buffer_size"           validate:"gt=0"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds" validate:"gt=0"`
	PongWaitSeconds     int `mapstructure:"pong_wait_seconds"     validate:"gtfield=PingIntervalSeconds"`
}
