/**
 * @description
 * This package handles the configuration management for the billing-service.
 * It uses the Viper library to read configuration from environment variables
 * (with an optional .env file for local development), providing a centralized
 * and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the billing-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                  string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                 string  `mapstructure:"DATABASE_URL"`
	RedisURL                    string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix        string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                 string  `mapstructure:"RABBITMQ_URL"`
	StripeSecretKey             string  `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret         string  `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	AuthJWTSecret               string  `mapstructure:"AUTH_JWT_SECRET"`
	InternalAPIKey              string  `mapstructure:"INTERNAL_API_KEY"`
	AppBaseURL                  string  `mapstructure:"APP_BASE_URL"`
	PlatformFeePercent          float64 `mapstructure:"PLATFORM_FEE_PERCENT"`
	RecurringInvoiceJobSchedule string  `mapstructure:"RECURRING_INVOICE_JOB_SCHEDULE"`
	PaymentRateLimitPerMinute   int     `mapstructure:"PAYMENT_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "billing:rate_limit")
	viper.SetDefault("APP_BASE_URL", "http://localhost:3000")
	viper.SetDefault("PLATFORM_FEE_PERCENT", 3.0)
	viper.SetDefault("RECURRING_INVOICE_JOB_SCHEDULE", "0 6 * * *") // Daily at 06:00 UTC.
	viper.SetDefault("PAYMENT_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("APP_BASE_URL")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("RECURRING_INVOICE_JOB_SCHEDULE")
	_ = viper.BindEnv("PAYMENT_RATE_LIMIT_PER_MINUTE")

	// The .env file is optional; a missing file is not an error.
	if readErr := viper.ReadInConfig(); readErr != nil {
		if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok {
			// Keep going: env vars alone are a valid configuration source.
			_ = readErr
		}
	}

	err = viper.Unmarshal(&config)
	return config, err
}
