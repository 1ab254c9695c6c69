package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Read      ReadConfig      `mapstructure:"read"`
	Write     WriteConfig     `mapstructure:"write"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// TransportConfig holds the radio endpoint settings
type TransportConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ConnectTimeout int    `mapstructure:"connect_timeout"` // Seconds
}

// SessionConfig holds authentication and command dispatch settings
type SessionConfig struct {
	Key             string `mapstructure:"key"` // 16-byte session key, hex encoded
	EntityType      int    `mapstructure:"entity_type"`
	CommandTimeout  int    `mapstructure:"command_timeout"`  // Seconds per attempt
	CommandAttempts int    `mapstructure:"command_attempts"` // Attempts per command
	AuthTimeout     int    `mapstructure:"auth_timeout"`     // Seconds
}

// ReadConfig holds codeplug read settings
type ReadConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// WriteConfig holds codeplug write settings
type WriteConfig struct {
	Partition int `mapstructure:"partition"`
	BlockSize int `mapstructure:"block_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// MonitorConfig holds the live monitor feed configuration
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled    bool             `mapstructure:"enabled"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig holds Prometheus metrics configuration
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Set defaults
	setDefaults()

	// Set config file
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/cpslink")
	}

	// Environment variables
	viper.SetEnvPrefix("CPSLINK")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is OK, use defaults
		} else if os.IsNotExist(err) {
			// File explicitly specified but doesn't exist - that's also OK
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal to struct
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Transport defaults
	viper.SetDefault("transport.host", "192.168.10.1")
	viper.SetDefault("transport.port", 8002)
	viper.SetDefault("transport.connect_timeout", 10)

	// Session defaults
	viper.SetDefault("session.entity_type", 0x10)
	viper.SetDefault("session.command_timeout", 5)
	viper.SetDefault("session.command_attempts", 3)
	viper.SetDefault("session.auth_timeout", 10)

	// Read defaults
	viper.SetDefault("read.batch_size", 60)

	// Write defaults
	viper.SetDefault("write.partition", 1)
	viper.SetDefault("write.block_size", 1024)

	// Logging defaults
	viper.SetDefault("logging.level", "info")

	// Monitor defaults
	viper.SetDefault("monitor.enabled", false)
	viper.SetDefault("monitor.host", "127.0.0.1")
	viper.SetDefault("monitor.port", 8080)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.port", 9090)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}
