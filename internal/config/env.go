package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable name
const EnvPrefix = "RELAYCACHE_"

// LoadDotEnv loads path into the process environment. A missing file is not an error
// and variables already set are kept.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides c with every RELAYCACHE_* variable that is set
func (c *Config) ApplyEnv() error {
	// Cache
	loadEnvString(&c.Cache.Path, "CACHE_PATH")
	if err := loadEnvInt(&c.Cache.WritesPerTick, "WRITES_PER_TICK"); err != nil {
		return err
	}
	if err := loadEnvDuration(&c.Cache.TickInterval, "TICK_INTERVAL"); err != nil {
		return err
	}
	if err := loadEnvBool(&c.Cache.WriteOnlyText, "WRITE_ONLY_TEXT"); err != nil {
		return err
	}
	if err := loadEnvBool(&c.Cache.ClearOnFirstWrite, "CLEAR_ON_FIRST_WRITE"); err != nil {
		return err
	}
	if err := loadEnvInt(&c.Cache.JPEGQuality, "JPEG_QUALITY"); err != nil {
		return err
	}
	loadEnvString(&c.Cache.RedisURL, "REDIS_URL")
	loadEnvString(&c.Cache.RedisKey, "REDIS_KEY")

	// Discovery
	if err := loadEnvInt(&c.Discovery.Port, "DISCOVERY_PORT"); err != nil {
		return err
	}
	loadEnvString(&c.Discovery.BroadcastIP, "BROADCAST_IP")
	if err := loadEnvDuration(&c.Discovery.BroadcastEvery, "BROADCAST_EVERY"); err != nil {
		return err
	}
	if err := loadEnvBool(&c.Discovery.AutoConnect, "AUTO_CONNECT"); err != nil {
		return err
	}
	if err := loadEnvBool(&c.Discovery.DisableOnDiscovery, "DISABLE_ON_DISCOVERY"); err != nil {
		return err
	}
	loadEnvString(&c.Discovery.Hostname, "HOSTNAME")

	// Logging and metrics
	loadEnvString(&c.Log.Level, "LOG_LEVEL")
	loadEnvString(&c.Log.File, "LOG_FILE")
	loadEnvString(&c.MetricsAddr, "METRICS_ADDR")
	return nil
}

// Helper functions for type conversion. A variable that is unset leaves target alone.
func loadEnvString(target *string, key string) {
	if value := os.Getenv(EnvPrefix + key); value != "" {
		*target = value
	}
}

func loadEnvInt(target *int, key string) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer value for %s%s: %w", EnvPrefix, key, err)
	}
	*target = parsed
	return nil
}

func loadEnvBool(target *bool, key string) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value for %s%s: %w", EnvPrefix, key, err)
	}
	*target = parsed
	return nil
}

func loadEnvDuration(target *Duration, key string) error {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration value for %s%s: %w", EnvPrefix, key, err)
	}
	*target = Duration(parsed)
	return nil
}
