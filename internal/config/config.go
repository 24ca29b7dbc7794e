package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string
	Environment string
	Database    DatabaseConfig
	Carriers    CarriersConfig
	Shipping    ShippingConfig
	Notify      NotifyConfig
	LogLevel    string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// CarriersConfig holds one credential block per integrated carrier.
type CarriersConfig struct {
	TokenTTL   time.Duration
	Shiprocket ShiprocketConfig
	Delhivery  DelhiveryConfig
	NimbusPost NimbusPostConfig
}

type ShiprocketConfig struct {
	BaseURL  string
	Email    string
	Password string
}

type DelhiveryConfig struct {
	BaseURL  string
	APIToken string
}

type NimbusPostConfig struct {
	BaseURL  string
	Email    string
	Password string
}

// ShippingConfig controls carrier selection and the pickup location sent on
// shipment creation.
type ShippingConfig struct {
	DefaultCarrier     string
	AutoSelectCheapest bool
	SweepInterval      time.Duration
	PickupLocation     string
	PickupPincode      string
}

type NotifyConfig struct {
	RelayURL string
}

func Load() (*Config, error) {
	viper.SetConfigType("env")
	viper.SetConfigName(".env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("LOG_LEVEL", "info")

	// Read from environment variables
	viper.AutomaticEnv()

	// Try to read .env file (optional)
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if .env doesn't exist, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	tokenTTL, err := time.ParseDuration(getEnvOrViper("CARRIER_TOKEN_TTL", "55m"))
	if err != nil {
		return nil, fmt.Errorf("invalid CARRIER_TOKEN_TTL: %w", err)
	}
	sweepInterval, err := time.ParseDuration(getEnvOrViper("SHIPMENT_SWEEP_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHIPMENT_SWEEP_INTERVAL: %w", err)
	}

	cfg := &Config{
		Port:        getEnvOrViper("PORT", "8080"),
		Environment: getEnvOrViper("ENVIRONMENT", "development"),
		Database: DatabaseConfig{
			Host:     getEnvOrViper("DB_HOST", "localhost"),
			Port:     getEnvOrViper("DB_PORT", "5432"),
			User:     getEnvOrViper("DB_USER", "postgres"),
			Password: getEnvOrViper("DB_PASSWORD", "postgres"),
			DBName:   getEnvOrViper("DB_NAME", "fulfillment"),
			SSLMode:  getEnvOrViper("DB_SSLMODE", "disable"),
		},
		Carriers: CarriersConfig{
			TokenTTL: tokenTTL,
			Shiprocket: ShiprocketConfig{
				BaseURL:  getEnvOrViper("SHIPROCKET_BASE_URL", "https://apiv2.shiprocket.in"),
				Email:    getEnvOrViper("SHIPROCKET_EMAIL", ""),
				Password: getEnvOrViper("SHIPROCKET_PASSWORD", ""),
			},
			Delhivery: DelhiveryConfig{
				BaseURL:  getEnvOrViper("DELHIVERY_BASE_URL", "https://track.delhivery.com"),
				APIToken: getEnvOrViper("DELHIVERY_API_TOKEN", ""),
			},
			NimbusPost: NimbusPostConfig{
				BaseURL:  getEnvOrViper("NIMBUSPOST_BASE_URL", "https://api.nimbuspost.com/v1"),
				Email:    getEnvOrViper("NIMBUSPOST_EMAIL", ""),
				Password: getEnvOrViper("NIMBUSPOST_PASSWORD", ""),
			},
		},
		Shipping: ShippingConfig{
			DefaultCarrier:     getEnvOrViper("DEFAULT_CARRIER", "shiprocket"),
			AutoSelectCheapest: getEnvOrViper("AUTO_SELECT_CHEAPEST", "false") == "true",
			SweepInterval:      sweepInterval,
			PickupLocation:     getEnvOrViper("PICKUP_LOCATION", "Primary"),
			PickupPincode:      getEnvOrViper("PICKUP_PINCODE", ""),
		},
		Notify: NotifyConfig{
			RelayURL: getEnvOrViper("NOTIFY_RELAY_URL", ""),
		},
		LogLevel: getEnvOrViper("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if cfg.Shipping.PickupPincode == "" {
		return nil, fmt.Errorf("PICKUP_PINCODE is required")
	}

	return cfg, nil
}

func getEnvOrViper(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	if viper.IsSet(key) {
		return viper.GetString(key)
	}
	return defaultValue
}
