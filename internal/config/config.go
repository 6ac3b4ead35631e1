// Package config manages relaycache configuration: a JSON file under ~/.relaycache,
// overridden by RELAYCACHE_* environment variables (optionally from a .env file).
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/poprelay/relaycache/internal/cache"
	"github.com/poprelay/relaycache/internal/codec"
	"github.com/poprelay/relaycache/internal/discovery"
	"github.com/poprelay/relaycache/internal/logging"
	"github.com/poprelay/relaycache/internal/sink"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".relaycache"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
	// CacheFileName is the default cache file inside CacheDir
	CacheFileName = "relay.cache"
)

// Config holds the relaycache configuration
type Config struct {
	Cache     CacheConfig     `json:"cache"`
	Discovery DiscoveryConfig `json:"discovery"`
	Log       LogConfig       `json:"log"`
	// MetricsAddr serves /metrics when set (e.g. ":9102")
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// CacheConfig configures the cache writer and its sink
type CacheConfig struct {
	Path              string   `json:"path"`
	WritesPerTick     int      `json:"writes_per_tick"`
	TickInterval      Duration `json:"tick_interval"`
	WriteOnlyText     bool     `json:"write_only_text"`
	ClearOnFirstWrite bool     `json:"clear_on_first_write"`
	JPEGQuality       int      `json:"jpeg_quality"`
	// RedisURL selects the redis sink instead of the file
	RedisURL string `json:"redis_url,omitempty"`
	RedisKey string `json:"redis_key,omitempty"`
}

// DiscoveryConfig configures the broadcast discovery service
type DiscoveryConfig struct {
	Port               int      `json:"port"`
	BroadcastIP        string   `json:"broadcast_ip"`
	BroadcastEvery     Duration `json:"broadcast_every"`
	AutoConnect        bool     `json:"auto_connect"`
	DisableOnDiscovery bool     `json:"disable_on_discovery"`
	// Hostname is what `announce` replies with; empty means os.Hostname
	Hostname string `json:"hostname,omitempty"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.relaycache
	ConfigDir string
	// ConfigFile is ~/.relaycache/config.json
	ConfigFile string
	// LogsDir is ~/.relaycache/logs
	LogsDir string
	// CacheDir is ~/.relaycache/cache
	CacheDir string
}

// GetPaths returns the standard paths
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return PathsAt(filepath.Join(homeDir, ConfigDirName)), nil
}

// PathsAt returns the standard layout rooted at dir
func PathsAt(dir string) *Paths {
	return &Paths{
		ConfigDir:  dir,
		ConfigFile: filepath.Join(dir, ConfigFileName),
		LogsDir:    filepath.Join(dir, "logs"),
		CacheDir:   filepath.Join(dir, "cache"),
	}
}

// EnsureDirectories creates all required directories
func (p *Paths) EnsureDirectories() error {
	dirs := []string{p.ConfigDir, p.LogsDir, p.CacheDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Default returns a new Config with default values
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			WritesPerTick: 1,
			TickInterval:  Duration(cache.DefaultTickInterval),
			WriteOnlyText: true,
			JPEGQuality:   codec.DefaultJPEGQuality,
			RedisKey:      sink.DefaultRedisKey,
		},
		Discovery: DiscoveryConfig{
			Port:               discovery.DefaultPort,
			BroadcastIP:        net.IPv4bcast.String(),
			BroadcastEvery:     Duration(discovery.DefaultBroadcastInterval),
			AutoConnect:        true,
			DisableOnDiscovery: true,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads ~/.relaycache/config.json, then applies the environment
func Load() (*Config, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}
	return LoadFrom(paths, "")
}

// LoadFrom reads the config file of paths (or file, when set), loads .env from the
// working directory if present, applies RELAYCACHE_* overrides and validates.
func LoadFrom(paths *Paths, file string) (*Config, error) {
	if err := paths.EnsureDirectories(); err != nil {
		return nil, err
	}
	if file == "" {
		file = paths.ConfigFile
	}

	config := Default()
	data, err := os.ReadFile(file)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if config.Cache.Path == "" {
		config.Cache.Path = filepath.Join(paths.CacheDir, CacheFileName)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate rejects values the components cannot run with. The broadcast interval is
// clamped instead.
func (c *Config) Validate() error {
	if c.Cache.Path == "" && c.Cache.RedisURL == "" {
		return errors.New("cache.path or cache.redis_url must be set")
	}
	if c.Cache.WritesPerTick < 0 || c.Cache.WritesPerTick > cache.MaxWritesPerTick {
		return fmt.Errorf("cache.writes_per_tick must be between 0 and %d, got %d",
			cache.MaxWritesPerTick, c.Cache.WritesPerTick)
	}
	if c.Cache.TickInterval.Std() <= 0 {
		return fmt.Errorf("cache.tick_interval must be positive, got %s", c.Cache.TickInterval)
	}
	if c.Cache.JPEGQuality < 1 || c.Cache.JPEGQuality > 100 {
		return fmt.Errorf("cache.jpeg_quality must be between 1 and 100, got %d", c.Cache.JPEGQuality)
	}
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port out of range: %d", c.Discovery.Port)
	}
	if net.ParseIP(c.Discovery.BroadcastIP).To4() == nil {
		return fmt.Errorf("discovery.broadcast_ip is not an IPv4 address: %q", c.Discovery.BroadcastIP)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	c.Discovery.BroadcastEvery = Duration(discovery.ClampInterval(c.Discovery.BroadcastEvery.Std()))
	return nil
}

// WriterConfig returns the cache writer settings
func (c *Config) WriterConfig() cache.WriterConfig {
	return cache.WriterConfig{
		WritesPerTick:     c.Cache.WritesPerTick,
		TickInterval:      c.Cache.TickInterval.Std(),
		WriteOnlyText:     c.Cache.WriteOnlyText,
		ClearOnFirstWrite: c.Cache.ClearOnFirstWrite,
		JPEGQuality:       c.Cache.JPEGQuality,
	}
}

// SinkOptions returns the sink settings matching the writer mode
func (c *Config) SinkOptions() sink.Options {
	return sink.Options{TextOnly: c.Cache.WriteOnlyText}
}

// DiscoveryConfig returns the discovery service settings
func (c *Config) DiscoveryConfig() discovery.Config {
	cfg := discovery.DefaultConfig()
	cfg.BroadcastAddr = c.BroadcastAddr()
	cfg.BroadcastEvery = c.Discovery.BroadcastEvery.Std()
	cfg.AutoConnect = c.Discovery.AutoConnect
	cfg.DisableOnDiscovery = c.Discovery.DisableOnDiscovery
	return cfg
}

// BroadcastAddr is the host:port discovery requests go to
func (c *Config) BroadcastAddr() string {
	return net.JoinHostPort(c.Discovery.BroadcastIP, strconv.Itoa(c.Discovery.Port))
}

// LogOptions returns the logger settings. Verbose forces debug level.
func (c *Config) LogOptions(verbose bool) logging.Options {
	level := c.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.Options{Level: level, File: c.Log.File}
}

// Duration is a time.Duration that reads and writes as "5s" in JSON. Plain numbers
// are taken as seconds.
type Duration time.Duration

// Std returns d as a time.Duration
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}
