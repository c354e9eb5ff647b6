package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	OCR       OCRConfig       `mapstructure:"ocr"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	BaseURL    string `mapstructure:"base_url"`
	SigningKey string `mapstructure:"signing_key"`
}

// OCRConfig holds text extraction configuration
type OCRConfig struct {
	Languages []string `mapstructure:"languages"`
}

// OpenAIConfig holds OpenAI API configuration
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	HardTimeLimit time.Duration `mapstructure:"hard_time_limit"`
	SoftTimeLimit time.Duration `mapstructure:"soft_time_limit"`
}

// RetentionConfig holds document retention configuration
type RetentionConfig struct {
	DocumentAge   time.Duration `mapstructure:"document_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/docverify.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Storage defaults
	viper.SetDefault("storage.base_dir", "data/objects")
	viper.SetDefault("storage.base_url", "http://localhost:8080/files")

	// OCR defaults
	viper.SetDefault("ocr.languages", []string{"eng"})

	// OpenAI defaults
	viper.SetDefault("openai.model", "gpt-4")
	viper.SetDefault("openai.temperature", 0.3)
	viper.SetDefault("openai.timeout", 60*time.Second)

	// Worker defaults
	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.poll_interval", 2*time.Second)
	viper.SetDefault("worker.hard_time_limit", 300*time.Second)
	viper.SetDefault("worker.soft_time_limit", 240*time.Second)

	// Retention defaults
	viper.SetDefault("retention.document_age", 90*24*time.Hour)
	viper.SetDefault("retention.sweep_interval", 10*time.Minute)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	// Sensitive credentials from environment
	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("storage.signing_key", "STORAGE_SIGNING_KEY")
	viper.BindEnv("database.path", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai.api_key is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.SigningKey == "" {
		return fmt.Errorf("storage.signing_key is required")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	if c.Worker.SoftTimeLimit >= c.Worker.HardTimeLimit {
		return fmt.Errorf("worker.soft_time_limit must be below worker.hard_time_limit")
	}
	return nil
}
