/**
 * @description
 * This package handles the configuration management for the score-service. It uses the
 * Viper library to read configuration from environment variables (and an optional .env
 * file), providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultServerPort          = "8080"
	defaultEventsExchange      = "score.events"
	defaultProvisionQueue      = "score_service.account_provisioning"
	defaultRateLimitPrefix     = "score:rate_limit"
	defaultMaxTransferScore    = 1_000_000
	defaultTransferRatePerMin  = 60
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultCoreBankingTimeoutS = 15
)

// Config holds all the configuration variables for the score-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	MigrationsEnabled          bool   `mapstructure:"MIGRATIONS_ENABLED"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	TransferRateLimitPerMinute int    `mapstructure:"TRANSFER_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	ScoreEventsExchange        string `mapstructure:"SCORE_EVENTS_EXCHANGE"`
	AccountProvisionQueue      string `mapstructure:"ACCOUNT_PROVISION_QUEUE"`
	CoreBankingURL             string `mapstructure:"CORE_BANKING_URL"`
	CoreBankingAPIKey          string `mapstructure:"CORE_BANKING_API_KEY"`
	CoreBankingTimeoutSeconds  int    `mapstructure:"CORE_BANKING_TIMEOUT_SECONDS"`
	OperatorJWTSecret          string `mapstructure:"OPERATOR_JWT_SECRET"`
	MaxTransferScore           int64  `mapstructure:"MAX_TRANSFER_SCORE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                   string `mapstructure:"LOG_LEVEL"`
	LogFormat                  string `mapstructure:"LOG_FORMAT"`

	warnings []string
}

// Warnings returns the problems found while normalizing the configuration. They are logged
// by the caller once the logger exists.
func (c Config) Warnings() []string {
	return c.warnings
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoadConfig reads configuration from environment variables and the optional .env file
// found in path.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", defaultServerPort)
	viper.SetDefault("MIGRATIONS_ENABLED", true)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("TRANSFER_RATE_LIMIT_PER_MINUTE", defaultTransferRatePerMin)
	viper.SetDefault("SCORE_EVENTS_EXCHANGE", defaultEventsExchange)
	viper.SetDefault("ACCOUNT_PROVISION_QUEUE", defaultProvisionQueue)
	viper.SetDefault("CORE_BANKING_TIMEOUT_SECONDS", defaultCoreBankingTimeoutS)
	viper.SetDefault("MAX_TRANSFER_SCORE", defaultMaxTransferScore)
	viper.SetDefault("LOG_LEVEL", defaultLogLevel)
	viper.SetDefault("LOG_FORMAT", defaultLogFormat)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("MIGRATIONS_ENABLED")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SCORE_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("TRANSFER_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SCORE_EVENTS_EXCHANGE")
	_ = viper.BindEnv("ACCOUNT_PROVISION_QUEUE")
	_ = viper.BindEnv("CORE_BANKING_URL")
	_ = viper.BindEnv("CORE_BANKING_API_KEY")
	_ = viper.BindEnv("CORE_BANKING_TIMEOUT_SECONDS")
	_ = viper.BindEnv("OPERATOR_JWT_SECRET")
	_ = viper.BindEnv("MAX_TRANSFER_SCORE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			config.warnings = append(config.warnings, fmt.Sprintf("failed to read config file; using environment values: %v", err))
		}
		err = nil
	}

	warnings := config.warnings
	if err = viper.Unmarshal(&config); err != nil {
		return
	}
	config.warnings = warnings

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSuffix(strings.TrimSpace(config.RedisRateLimitPrefix), ":")
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	config.CoreBankingAPIKey = strings.TrimSpace(config.CoreBankingAPIKey)
	config.OperatorJWTSecret = strings.TrimSpace(config.OperatorJWTSecret)

	if config.MaxTransferScore <= 0 {
		config.warnings = append(config.warnings, fmt.Sprintf("non-positive MAX_TRANSFER_SCORE=%d; using default %d", config.MaxTransferScore, defaultMaxTransferScore))
		config.MaxTransferScore = defaultMaxTransferScore
	}
	if config.TransferRateLimitPerMinute < 0 {
		config.warnings = append(config.warnings, "negative TRANSFER_RATE_LIMIT_PER_MINUTE; disabling transfer throttling")
		config.TransferRateLimitPerMinute = 0
	}
	if config.CoreBankingTimeoutSeconds <= 0 {
		config.CoreBankingTimeoutSeconds = defaultCoreBankingTimeoutS
	}
	if strings.TrimSpace(config.ScoreEventsExchange) == "" {
		config.ScoreEventsExchange = defaultEventsExchange
	}
	if strings.TrimSpace(config.AccountProvisionQueue) == "" {
		config.AccountProvisionQueue = defaultProvisionQueue
	}

	return
}
