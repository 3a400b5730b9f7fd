package config

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/panel-merge-server/internal/domain"
)

// Manager loads and holds the application configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a configuration manager and loads configuration from the
// optional config file, environment variables, and defaults.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/panel-merge-server/")

	viper.SetEnvPrefix("PANEL_MERGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional; defaults and env vars cover everything.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "60s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.max_upload_bytes", 16<<20)

	// Registry defaults
	viper.SetDefault("registry.uk.base_url", "https://panelapp.genomicsengland.co.uk/api/v1/")
	viper.SetDefault("registry.uk.timeout", "30s")
	viper.SetDefault("registry.uk.rate_limit", 10)
	viper.SetDefault("registry.uk.breaker_timeout", "60s")

	viper.SetDefault("registry.aus.base_url", "https://panelapp-aus.org/api/v1/")
	viper.SetDefault("registry.aus.timeout", "30s")
	viper.SetDefault("registry.aus.rate_limit", 10)
	viper.SetDefault("registry.aus.breaker_timeout", "60s")

	// Cache and index defaults
	viper.SetDefault("cache.detail_capacity", 512)
	viper.SetDefault("index.fetch_concurrency", 5)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the loaded configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// RegistryConfig returns the client configuration for a registry source.
func (m *Manager) RegistryConfig(source domain.Source) (domain.RegistryConfig, error) {
	switch source {
	case domain.SourceUK:
		return m.config.Registry.UK, nil
	case domain.SourceAUS:
		return m.config.Registry.AUS, nil
	default:
		return domain.RegistryConfig{}, fmt.Errorf("no registry configuration for source %q", source)
	}
}

// NewLogger builds a logrus logger from the logging configuration.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}
