/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the market-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort              string  `mapstructure:"SERVER_PORT"`
	DatabaseURL             string  `mapstructure:"DATABASE_URL"`
	RedisURL                string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix    string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL             string  `mapstructure:"RABBITMQ_URL"`
	JWTSecret               string  `mapstructure:"JWT_SECRET"`
	JWTIssuer               string  `mapstructure:"JWT_ISSUER"`
	AllowedOrigins          string  `mapstructure:"ALLOWED_ORIGINS"`
	InitialINRReserve       float64 `mapstructure:"INITIAL_INR_RESERVE"`
	InitialMRXReserve       float64 `mapstructure:"INITIAL_MRX_RESERVE"`
	TradeRateLimitPerMinute int     `mapstructure:"TRADE_RATE_LIMIT_PER_MINUTE"`
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "market:rate_limit")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("INITIAL_INR_RESERVE", 2000.00)
	viper.SetDefault("INITIAL_MRX_RESERVE", 1000.0)
	viper.SetDefault("TRADE_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "MARKET_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET", "JWT_SECRET", "MARKET_SERVICE_JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("INITIAL_INR_RESERVE")
	_ = viper.BindEnv("INITIAL_MRX_RESERVE")
	_ = viper.BindEnv("TRADE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.JWTSecret) == "" {
		config.JWTSecret = strings.TrimSpace(os.Getenv("MARKET_SERVICE_JWT_SECRET"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "market:rate_limit"
	}

	if config.InitialINRReserve <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive initial INR reserve; using default\" value=%f", config.InitialINRReserve)
		config.InitialINRReserve = 2000.00
	}
	if config.InitialMRXReserve <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive initial MRX reserve; using default\" value=%f", config.InitialMRXReserve)
		config.InitialMRXReserve = 1000.0
	}
	if config.TradeRateLimitPerMinute < 0 {
		config.TradeRateLimitPerMinute = 0
	}

	return
}
