package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig   `json:"server" mapstructure:"server"`
	Database    DatabaseConfig `json:"database" mapstructure:"database"`
	OpenAI      OpenAIConfig   `json:"openai" mapstructure:"openai"`
	Batch       BatchConfig    `json:"batch" mapstructure:"batch"`
	Limits      LimitsConfig   `json:"limits" mapstructure:"limits"`
	Storage     StorageConfig  `json:"storage" mapstructure:"storage"`
	Development bool           `json:"development" mapstructure:"development"`
}

type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     int    `json:"port" mapstructure:"port"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslmode" mapstructure:"sslmode"`
}

type OpenAIConfig struct {
	APIKey string `json:"api_key" mapstructure:"api_key"`
	Model  string `json:"model" mapstructure:"model"`
	// TimeoutMs bounds appendMessage calls to the provider; the call is
	// treated as failed once it elapses even if the underlying request
	// later completes.
	TimeoutMs int `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// BatchConfig tunes the assistant-output batcher.
type BatchConfig struct {
	Size         int `json:"size" mapstructure:"size"`
	MaxDelayMs   int `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	RetryDelayMs int `json:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	MaxRetries   int `json:"max_retries" mapstructure:"max_retries"`
}

type LimitsConfig struct {
	MaxMessageLength       int `json:"max_message_length" mapstructure:"max_message_length"`
	MaxMessagesPerThread   int `json:"max_messages_per_thread" mapstructure:"max_messages_per_thread"`
	RequestsPerMinute      int `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxImageSizeBytes      int `json:"max_image_size_bytes" mapstructure:"max_image_size_bytes"`
	ImageUploadConcurrency int `json:"image_upload_concurrency" mapstructure:"image_upload_concurrency"`
}

type StorageConfig struct {
	Bucket          string `json:"bucket" mapstructure:"bucket"`
	CredentialsFile string `json:"credentials_file" mapstructure:"credentials_file"`
	PublicBaseURL   string `json:"public_base_url" mapstructure:"public_base_url"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	homeDir, err := os.UserHomeDir()
	if err == nil {
		viper.AddConfigPath(filepath.Join(homeDir, ".ajeer"))
	}

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// No config file: defaults plus env overrides are enough.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvOverrides(&cfg)

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 3000)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "ajeer")
	viper.SetDefault("database.database", "ajeer")
	viper.SetDefault("database.sslmode", "disable")

	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.timeout_ms", 15000)

	viper.SetDefault("batch.size", 10)
	viper.SetDefault("batch.max_delay_ms", 2000)
	viper.SetDefault("batch.retry_delay_ms", 500)
	viper.SetDefault("batch.max_retries", 3)

	viper.SetDefault("limits.max_message_length", 1000)
	viper.SetDefault("limits.max_messages_per_thread", 100)
	viper.SetDefault("limits.requests_per_minute", 100)
	viper.SetDefault("limits.max_image_size_bytes", 2*1024*1024)
	viper.SetDefault("limits.image_upload_concurrency", 5)
}

func loadEnvOverrides(cfg *Config) {
	if port := os.Getenv("AJEER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if host := os.Getenv("AJEER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if os.Getenv("AJEER_ENV") == "development" {
		cfg.Development = true
	}

	if dbHost := os.Getenv("POSTGRES_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("POSTGRES_PORT"); dbPort != "" {
		if port, err := strconv.Atoi(dbPort); err == nil {
			cfg.Database.Port = port
		}
	}
	if dbUser := os.Getenv("POSTGRES_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("POSTGRES_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("POSTGRES_DB"); dbName != "" {
		cfg.Database.Database = dbName
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.OpenAI.APIKey = key
	}
	if bucket := os.Getenv("AJEER_STORAGE_BUCKET"); bucket != "" {
		cfg.Storage.Bucket = bucket
	}
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" && cfg.Storage.CredentialsFile == "" {
		cfg.Storage.CredentialsFile = creds
	}
}
