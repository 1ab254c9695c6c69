package config

import (
	"encoding/hex"
	"fmt"
)

// sessionKeyLength matches protocol.SessionKeyLength; duplicated here so
// the config package stays import-free of the protocol layers.
const sessionKeyLength = 16

// validate validates the configuration
func validate(cfg *Config) error {
	// Validate transport config
	if cfg.Transport.Host == "" {
		return fmt.Errorf("transport.host is required")
	}
	if cfg.Transport.Port <= 0 || cfg.Transport.Port > 65535 {
		return fmt.Errorf("transport.port must be between 1 and 65535")
	}
	if cfg.Transport.ConnectTimeout <= 0 {
		return fmt.Errorf("transport.connect_timeout must be positive")
	}

	// Validate session config
	if cfg.Session.Key != "" {
		if _, err := cfg.Session.KeyBytes(); err != nil {
			return err
		}
	}
	if cfg.Session.EntityType < 0 || cfg.Session.EntityType > 0xFF {
		return fmt.Errorf("session.entity_type must fit in one byte")
	}
	if cfg.Session.CommandTimeout <= 0 {
		return fmt.Errorf("session.command_timeout must be positive")
	}
	if cfg.Session.CommandAttempts <= 0 {
		return fmt.Errorf("session.command_attempts must be positive")
	}
	if cfg.Session.AuthTimeout <= 0 {
		return fmt.Errorf("session.auth_timeout must be positive")
	}

	// Validate read config
	if cfg.Read.BatchSize <= 0 || cfg.Read.BatchSize > 255 {
		return fmt.Errorf("read.batch_size must be between 1 and 255")
	}

	// Validate write config
	if cfg.Write.Partition < 0 || cfg.Write.Partition > 0xFFFF {
		return fmt.Errorf("write.partition must fit in two bytes")
	}
	if cfg.Write.BlockSize <= 0 {
		return fmt.Errorf("write.block_size must be positive")
	}

	// Validate monitor config
	if cfg.Monitor.Enabled {
		if cfg.Monitor.Port <= 0 || cfg.Monitor.Port > 65535 {
			return fmt.Errorf("monitor.port must be between 1 and 65535")
		}
	}

	// Validate metrics config
	if cfg.Metrics.Enabled && cfg.Metrics.Prometheus.Enabled {
		if cfg.Metrics.Prometheus.Port <= 0 || cfg.Metrics.Prometheus.Port > 65535 {
			return fmt.Errorf("metrics.prometheus.port must be between 1 and 65535")
		}
	}

	return nil
}

// KeyBytes decodes the hex session key.
func (c *SessionConfig) KeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("session.key is not valid hex: %w", err)
	}
	if len(key) != sessionKeyLength {
		return nil, fmt.Errorf("session.key must be %d bytes, got %d", sessionKeyLength, len(key))
	}
	return key, nil
}
