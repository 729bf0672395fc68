package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Refresh RefreshConfig `mapstructure:"refresh"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig contains the monitoring HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// CacheConfig contains cache store configuration
type CacheConfig struct {
	MaxSize               int     `mapstructure:"max_size"`
	PriceChangeThreshold  float64 `mapstructure:"price_change_threshold"`
	VolumeChangeThreshold float64 `mapstructure:"volume_change_threshold"`
}

// RefreshConfig contains background refresh scheduler configuration
type RefreshConfig struct {
	MaxQueueSize int `mapstructure:"max_queue_size"`
	MaxRetries   int `mapstructure:"max_retries"`
	RetryDelay   int `mapstructure:"retry_delay"`   // seconds
	PollInterval int `mapstructure:"poll_interval"` // seconds, worker idle wait
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RetryDelayDuration returns the retry delay as a time.Duration
func (c RefreshConfig) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// PollIntervalDuration returns the worker poll interval as a time.Duration
func (c RefreshConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// Get returns the singleton configuration instance
func Get() *Config {
	once.Do(func() {
		if instance == nil {
			instance = &Config{}
		}
	})
	mu.RLock()
	defer mu.RUnlock()
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("TRADER")
	viper.AutomaticEnv()

	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars()

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Cache defaults
	viper.SetDefault("cache.max_size", 1000)
	viper.SetDefault("cache.price_change_threshold", 0.02)
	viper.SetDefault("cache.volume_change_threshold", 0.50)

	// Refresh defaults
	viper.SetDefault("refresh.max_queue_size", 500)
	viper.SetDefault("refresh.max_retries", 3)
	viper.SetDefault("refresh.retry_delay", 5)
	viper.SetDefault("refresh.poll_interval", 1)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	viper.BindEnv("server.host", "TRADER_SERVER_HOST")
	viper.BindEnv("server.port", "TRADER_SERVER_PORT")

	viper.BindEnv("cache.max_size", "TRADER_CACHE_MAX_SIZE")
	viper.BindEnv("cache.price_change_threshold", "TRADER_CACHE_PRICE_CHANGE_THRESHOLD")
	viper.BindEnv("cache.volume_change_threshold", "TRADER_CACHE_VOLUME_CHANGE_THRESHOLD")

	viper.BindEnv("refresh.max_queue_size", "TRADER_REFRESH_MAX_QUEUE_SIZE")
	viper.BindEnv("refresh.max_retries", "TRADER_REFRESH_MAX_RETRIES")
	viper.BindEnv("refresh.retry_delay", "TRADER_REFRESH_RETRY_DELAY")
	viper.BindEnv("refresh.poll_interval", "TRADER_REFRESH_POLL_INTERVAL")

	viper.BindEnv("log.level", "TRADER_LOG_LEVEL")
	viper.BindEnv("log.development", "TRADER_LOG_DEVELOPMENT")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if cfg.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be at least 1")
	}
	if cfg.Cache.PriceChangeThreshold <= 0 {
		return fmt.Errorf("cache.price_change_threshold must be positive")
	}
	if cfg.Cache.VolumeChangeThreshold <= 0 {
		return fmt.Errorf("cache.volume_change_threshold must be positive")
	}

	if cfg.Refresh.MaxQueueSize < 1 {
		return fmt.Errorf("refresh.max_queue_size must be at least 1")
	}
	if cfg.Refresh.MaxRetries < 0 {
		return fmt.Errorf("refresh.max_retries must be non-negative")
	}
	if cfg.Refresh.RetryDelay < 0 {
		return fmt.Errorf("refresh.retry_delay must be non-negative")
	}
	if cfg.Refresh.PollInterval < 1 {
		return fmt.Errorf("refresh.poll_interval must be at least 1")
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	instance = nil
	once = sync.Once{}
	mu.Unlock()

	return Load(configPath)
}
