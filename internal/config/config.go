// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dvloznov/finance-doc-processor/internal/ai"
	"github.com/dvloznov/finance-doc-processor/internal/categorization"
	"github.com/dvloznov/finance-doc-processor/internal/domain"
	"github.com/dvloznov/finance-doc-processor/internal/retry"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBigQuery = "bigquery"
)

// Config is the complete service configuration.
type Config struct {
	App            AppConfig            `mapstructure:"app"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	AI             AIConfig             `mapstructure:"ai"`
	Categorization CategorizationConfig `mapstructure:"categorization"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Notion         NotionConfig         `mapstructure:"notion"`
	API            APIConfig            `mapstructure:"api"`
}

type AppConfig struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ConsumerGroup   string   `mapstructure:"consumer_group"`
	DocumentsTopic  string   `mapstructure:"documents_topic"`
	ProcessedTopic  string   `mapstructure:"processed_topic"`
	DeadLetterTopic string   `mapstructure:"dead_letter_topic"`
}

type AIConfig struct {
	Provider      string        `mapstructure:"provider"`
	OpenAIAPIKey  string        `mapstructure:"openai_api_key"`
	OpenAIModel   string        `mapstructure:"openai_model"`
	OpenAIBaseURL string        `mapstructure:"openai_base_url"`
	GeminiAPIKey  string        `mapstructure:"gemini_api_key"`
	GeminiModel   string        `mapstructure:"gemini_model"`
	ClaudeAPIKey  string        `mapstructure:"claude_api_key"`
	ClaudeModel   string        `mapstructure:"claude_model"`
	ClaudeBaseURL string        `mapstructure:"claude_base_url"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryMinWait  time.Duration `mapstructure:"retry_min_wait"`
	RetryMaxWait  time.Duration `mapstructure:"retry_max_wait"`
	RetryJitter   bool          `mapstructure:"retry_jitter"`
}

type CategorizationConfig struct {
	MinConfidence        float64  `mapstructure:"min_confidence"`
	EnableCaching        bool     `mapstructure:"enable_caching"`
	CacheSize            int      `mapstructure:"cache_size"`
	RulesPath            string   `mapstructure:"rules_path"`
	PredefinedCategories []string `mapstructure:"predefined_categories"`
	GenericCategories    []string `mapstructure:"generic_categories"`
}

type StorageConfig struct {
	Backend         string `mapstructure:"backend"`
	SQLitePath      string `mapstructure:"sqlite_path"`
	BigQueryProject string `mapstructure:"bigquery_project"`
	BigQueryDataset string `mapstructure:"bigquery_dataset"`
	GCSEnabled      bool   `mapstructure:"gcs_enabled"`
	// LocalFilesDir enables file:// content URIs for files under it.
	// Empty disables them.
	LocalFilesDir string `mapstructure:"local_files_dir"`
}

// NotionConfig enables the Notion mirror when both fields are set.
type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

type APIConfig struct {
	Port int `mapstructure:"port"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			ConsumerGroup:  "financial-document-processor",
			DocumentsTopic: "documents-to-process",
			ProcessedTopic: "processed-documents",
		},
		AI: AIConfig{
			Provider:     "openai",
			OpenAIModel:  "gpt-4o",
			GeminiModel:  ai.DefaultGeminiModel,
			BatchSize:    categorization.DefaultBatchSize,
			MaxRetries:   3,
			RetryMinWait: time.Second,
			RetryMaxWait: 10 * time.Second,
			RetryJitter:  true,
		},
		Categorization: CategorizationConfig{
			MinConfidence:        categorization.DefaultMinConfidence,
			EnableCaching:        true,
			PredefinedCategories: domain.DefaultPredefinedCategories(),
			GenericCategories:    domain.DefaultGenericCategories(),
		},
		Storage: StorageConfig{
			Backend:         BackendMemory,
			SQLitePath:      "finance.db",
			BigQueryDataset: "finance",
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}

// envAliases binds the variable names used by existing deployments next to
// the SECTION_KEY names derived by AutomaticEnv.
var envAliases = map[string][]string{
	"app.log_level":            {"APP_LOG_LEVEL", "LOG_LEVEL"},
	"app.log_format":           {"APP_LOG_FORMAT", "LOG_FORMAT"},
	"kafka.brokers":            {"KAFKA_BROKERS", "KAFKA_BOOTSTRAP_SERVERS"},
	"ai.provider":              {"AI_PROVIDER"},
	"ai.openai_api_key":        {"AI_OPENAI_API_KEY", "OPENAI_API_KEY"},
	"ai.openai_model":          {"AI_OPENAI_MODEL", "OPENAI_MODEL"},
	"ai.gemini_api_key":        {"AI_GEMINI_API_KEY", "GEMINI_API_KEY"},
	"ai.gemini_model":          {"AI_GEMINI_MODEL", "GEMINI_MODEL"},
	"ai.claude_api_key":        {"AI_CLAUDE_API_KEY", "ANTHROPIC_API_KEY"},
	"ai.claude_model":          {"AI_CLAUDE_MODEL", "CLAUDE_MODEL"},
	"ai.batch_size":            {"AI_BATCH_SIZE"},
	"ai.max_retries":           {"AI_MAX_RETRIES", "MAX_RETRIES"},
	"notion.token":             {"NOTION_TOKEN"},
	"notion.database_id":       {"NOTION_DATABASE_ID"},
	"storage.gcs_enabled":      {"STORAGE_GCS_ENABLED", "GCS_ENABLED"},
	"storage.local_files_dir":  {"STORAGE_LOCAL_FILES_DIR"},
	"api.port":                 {"API_PORT"},
	"storage.bigquery_project": {"STORAGE_BIGQUERY_PROJECT", "GOOGLE_CLOUD_PROJECT"},
}

// Load reads configuration. Values are layered as defaults, then the YAML
// file at path (skipped when path is empty), then the environment. A .env
// file in the working directory is loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("Load: reading config file %s: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("Load: binding env for %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("Load: decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app.log_level", cfg.App.LogLevel)
	v.SetDefault("app.log_format", cfg.App.LogFormat)

	v.SetDefault("kafka.brokers", cfg.Kafka.Brokers)
	v.SetDefault("kafka.consumer_group", cfg.Kafka.ConsumerGroup)
	v.SetDefault("kafka.documents_topic", cfg.Kafka.DocumentsTopic)
	v.SetDefault("kafka.processed_topic", cfg.Kafka.ProcessedTopic)
	v.SetDefault("kafka.dead_letter_topic", cfg.Kafka.DeadLetterTopic)

	v.SetDefault("ai.provider", cfg.AI.Provider)
	v.SetDefault("ai.openai_api_key", cfg.AI.OpenAIAPIKey)
	v.SetDefault("ai.openai_model", cfg.AI.OpenAIModel)
	v.SetDefault("ai.openai_base_url", cfg.AI.OpenAIBaseURL)
	v.SetDefault("ai.gemini_api_key", cfg.AI.GeminiAPIKey)
	v.SetDefault("ai.gemini_model", cfg.AI.GeminiModel)
	v.SetDefault("ai.claude_api_key", cfg.AI.ClaudeAPIKey)
	v.SetDefault("ai.claude_model", cfg.AI.ClaudeModel)
	v.SetDefault("ai.claude_base_url", cfg.AI.ClaudeBaseURL)
	v.SetDefault("ai.batch_size", cfg.AI.BatchSize)
	v.SetDefault("ai.max_retries", cfg.AI.MaxRetries)
	v.SetDefault("ai.retry_min_wait", cfg.AI.RetryMinWait)
	v.SetDefault("ai.retry_max_wait", cfg.AI.RetryMaxWait)
	v.SetDefault("ai.retry_jitter", cfg.AI.RetryJitter)

	v.SetDefault("categorization.min_confidence", cfg.Categorization.MinConfidence)
	v.SetDefault("categorization.enable_caching", cfg.Categorization.EnableCaching)
	v.SetDefault("categorization.cache_size", cfg.Categorization.CacheSize)
	v.SetDefault("categorization.rules_path", cfg.Categorization.RulesPath)
	v.SetDefault("categorization.predefined_categories", cfg.Categorization.PredefinedCategories)
	v.SetDefault("categorization.generic_categories", cfg.Categorization.GenericCategories)

	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.sqlite_path", cfg.Storage.SQLitePath)
	v.SetDefault("storage.bigquery_project", cfg.Storage.BigQueryProject)
	v.SetDefault("storage.bigquery_dataset", cfg.Storage.BigQueryDataset)
	v.SetDefault("storage.gcs_enabled", cfg.Storage.GCSEnabled)
	v.SetDefault("storage.local_files_dir", cfg.Storage.LocalFilesDir)

	v.SetDefault("notion.token", cfg.Notion.Token)
	v.SetDefault("notion.database_id", cfg.Notion.DatabaseID)

	v.SetDefault("api.port", cfg.API.Port)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.AI.BatchSize < 1 {
		return fmt.Errorf("ai.batch_size must be at least 1, got %d", c.AI.BatchSize)
	}
	if c.Categorization.MinConfidence < 0 || c.Categorization.MinConfidence > 1 {
		return fmt.Errorf("categorization.min_confidence must be within [0,1], got %v", c.Categorization.MinConfidence)
	}
	if c.Categorization.CacheSize < 0 {
		return fmt.Errorf("categorization.cache_size must not be negative, got %d", c.Categorization.CacheSize)
	}
	switch strings.ToLower(c.AI.Provider) {
	case "openai", "gemini", "claude":
	default:
		return fmt.Errorf("ai.provider: %w: %q", ai.ErrUnknownProvider, c.AI.Provider)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case BackendMemory, BackendSQLite, BackendBigQuery:
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// RetryPolicy is the backoff applied to AI calls.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.AI.MaxRetries,
		MinWait:     c.AI.RetryMinWait,
		MaxWait:     c.AI.RetryMaxWait,
		Jitter:      c.AI.RetryJitter,
	}
}

// ProviderConfig maps the ai section onto the provider factory input.
func (c *Config) ProviderConfig() ai.Config {
	return ai.Config{
		Provider:      c.AI.Provider,
		OpenAIKey:     c.AI.OpenAIAPIKey,
		OpenAIModel:   c.AI.OpenAIModel,
		OpenAIBaseURL: c.AI.OpenAIBaseURL,
		GeminiKey:     c.AI.GeminiAPIKey,
		GeminiModel:   c.AI.GeminiModel,
		ClaudeKey:     c.AI.ClaudeAPIKey,
		ClaudeModel:   c.AI.ClaudeModel,
		ClaudeBaseURL: c.AI.ClaudeBaseURL,
		Retry:         c.RetryPolicy(),
	}
}

// EngineConfig maps the categorization settings onto the engine.
func (c *Config) EngineConfig() categorization.Config {
	return categorization.Config{
		PredefinedCategories: c.Categorization.PredefinedCategories,
		GenericCategories:    c.Categorization.GenericCategories,
		BatchSize:            c.AI.BatchSize,
		MinConfidence:        c.Categorization.MinConfidence,
		EnableCaching:        c.Categorization.EnableCaching,
	}
}

// NotionEnabled reports whether transactions are mirrored to Notion.
func (c *Config) NotionEnabled() bool {
	return c.Notion.Token != "" && c.Notion.DatabaseID != ""
}
