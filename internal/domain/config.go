package domain

import "time"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig  `mapstructure:"server"`
	Registry RegistrySet   `mapstructure:"registry"`
	Cache    CacheConfig   `mapstructure:"cache"`
	Index    IndexConfig   `mapstructure:"index"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// RegistrySet holds one client configuration per remote registry.
type RegistrySet struct {
	UK  RegistryConfig `mapstructure:"uk"`
	AUS RegistryConfig `mapstructure:"aus"`
}

// RegistryConfig configures a single registry client.
type RegistryConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      int           `mapstructure:"rate_limit"` // requests per second
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout"`
}

// CacheConfig configures the panel cache.
type CacheConfig struct {
	DetailCapacity int `mapstructure:"detail_capacity"`
}

// IndexConfig configures the gene index.
type IndexConfig struct {
	// FetchConcurrency bounds concurrent detail fetches during an index rebuild.
	FetchConcurrency int `mapstructure:"fetch_concurrency"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}
