package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // schedule zones resolve in minimal containers

	"github.com/joho/godotenv"

	"agripredict/features"
	"agripredict/logger"
	"agripredict/model"
	"agripredict/schedule"
)

// Config holds application configuration
type Config struct {
	LogLevel string

	Source    SourceConfig
	Features  FeaturesConfig
	Training  model.Hyperparameters
	Artifacts ArtifactsConfig
	Schedule  ScheduleConfig

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Webhooks WebhookConfig
	API      APIConfig
}

// SourceConfig describes the remote feed and its local backup
type SourceConfig struct {
	URL           string
	BackupPath    string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// FeaturesConfig is informational: the window and lag depth are fixed.
type FeaturesConfig struct {
	WindowMonths int
	LagDepth     int
}

// ArtifactsConfig holds where published artifacts live
type ArtifactsConfig struct {
	Dir         string
	Generations int
}

// ScheduleConfig holds the weekly trigger
type ScheduleConfig struct {
	Weekly   string
	TimeZone string
}

// DatabaseConfig holds run-history database settings
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// RedisConfig holds status cache and pub/sub settings
type RedisConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Password  string
	DB        int
	Channel   string
	StatusTTL time.Duration
}

// KafkaConfig holds publish notification producer settings
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

// WebhookConfig holds publish webhook targets
type WebhookConfig struct {
	URLs       []string
	AuthHeader string
	AuthValue  string
	Retries    int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// APIConfig holds HTTP API settings
type APIConfig struct {
	Enabled        bool
	Port           int
	AllowedOrigins []string
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg("No .env file found, using environment variables")
	}

	return &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),

		Source: SourceConfig{
			URL:           getEnvOrDefault("SOURCE_URL", ""),
			BackupPath:    getEnvOrDefault("SOURCE_BACKUP_PATH", "data/maize_prices_backup.csv"),
			Timeout:       getEnvDuration("SOURCE_TIMEOUT", 30*time.Second),
			RetryAttempts: getEnvInt("SOURCE_RETRY_ATTEMPTS", 3),
			RetryDelay:    getEnvDuration("SOURCE_RETRY_DELAY", 5*time.Second),
		},

		Features: FeaturesConfig{
			WindowMonths: features.WindowMonths,
			LagDepth:     features.LagDepth,
		},

		Training: model.Hyperparameters{
			Trees:          getEnvInt("TRAINING_TREES", 500),
			LearningRate:   getEnvFloat("TRAINING_LEARNING_RATE", 0.05),
			MaxDepth:       getEnvInt("TRAINING_MAX_DEPTH", 6),
			MinSamplesLeaf: getEnvInt("TRAINING_MIN_SAMPLES_LEAF", 1),
			Subsample:      getEnvFloat("TRAINING_SUBSAMPLE", 1.0),
			Seed:           int64(getEnvInt("TRAINING_SEED", 42)),
		},

		Artifacts: ArtifactsConfig{
			Dir:         getEnvOrDefault("ARTIFACTS_DIR", "artifacts"),
			Generations: getEnvInt("ARTIFACTS_GENERATIONS", 2),
		},

		Schedule: ScheduleConfig{
			Weekly:   getEnvOrDefault("SCHEDULE_WEEKLY", "monday 08:00"),
			TimeZone: getEnvOrDefault("SCHEDULE_TZ", "Africa/Nairobi"),
		},

		Database: DatabaseConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			Name:     getEnvOrDefault("DB_NAME", "agripredict"),
			User:     getEnvOrDefault("DB_USER", "agripredict"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},

		Redis: RedisConfig{
			Enabled:   getEnvBool("REDIS_ENABLED", false),
			Host:      getEnvOrDefault("REDIS_HOST", "localhost"),
			Port:      getEnvOrDefault("REDIS_PORT", "6379"),
			Password:  getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			Channel:   getEnvOrDefault("REDIS_CHANNEL", "forecast:published"),
			StatusTTL: getEnvDuration("REDIS_STATUS_TTL", 0),
		},

		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnvOrDefault("KAFKA_TOPIC", "forecast.published"),
		},

		Webhooks: WebhookConfig{
			URLs:       getEnvList("WEBHOOK_URLS", nil),
			AuthHeader: getEnvOrDefault("WEBHOOK_AUTH_HEADER", ""),
			AuthValue:  getEnvOrDefault("WEBHOOK_AUTH_VALUE", ""),
			Retries:    getEnvInt("WEBHOOK_RETRIES", 3),
			RetryDelay: getEnvDuration("WEBHOOK_RETRY_DELAY", 5*time.Second),
			Timeout:    getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},

		API: APIConfig{
			Enabled:        getEnvBool("API_ENABLED", true),
			Port:           getEnvInt("API_PORT", 8080),
			AllowedOrigins: getEnvList("API_ALLOWED_ORIGINS", nil),
		},
	}
}

// Location resolves the schedule time zone
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Schedule.TimeZone)
}

// WeeklySchedule parses the configured trigger
func (c *Config) WeeklySchedule() (schedule.Weekly, error) {
	loc, err := c.Location()
	if err != nil {
		return schedule.Weekly{}, fmt.Errorf("invalid SCHEDULE_TZ %q: %w", c.Schedule.TimeZone, err)
	}
	return schedule.ParseWeekly(c.Schedule.Weekly, loc)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Source.URL == "" {
		problems = append(problems, "SOURCE_URL is required")
	}
	if c.Source.BackupPath == "" {
		problems = append(problems, "SOURCE_BACKUP_PATH is required")
	}
	if c.Artifacts.Dir == "" {
		problems = append(problems, "ARTIFACTS_DIR is required")
	}
	if c.Artifacts.Generations < 2 {
		problems = append(problems, "ARTIFACTS_GENERATIONS must be at least 2")
	}
	if err := c.Training.Validate(); err != nil {
		problems = append(problems, "training: "+err.Error())
	}
	if _, err := c.WeeklySchedule(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		problems = append(problems, "KAFKA_BROKERS and KAFKA_TOPIC are required when Kafka is enabled")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		problems = append(problems, fmt.Sprintf("API_PORT %d is out of range", c.API.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RedisAddr returns host:port
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// getEnvInt gets environment variable as int or returns default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvFloat gets environment variable as float64 or returns default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

// getEnvBool accepts true/false/1/0/yes/no
func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return defaultValue
}

// getEnvDuration parses values such as "30s" or "5m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getEnvList splits a comma separated value, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// getEnvOrDefault gets environment variable or returns default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
