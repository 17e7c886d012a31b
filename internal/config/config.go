package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cesargomez89/navicache/internal/constants"
)

// Config holds all application configuration
type Config struct {
	ListenAddr    string         `mapstructure:"listen_addr"`
	DBPath        string         `mapstructure:"db_path"`
	MetaCachePath string         `mapstructure:"metacache_path"`
	CacheDir      string         `mapstructure:"cache_dir"`
	LogLevel      string         `mapstructure:"log_level"`
	LogFormat     string         `mapstructure:"log_format"`
	Queue         QueueConfig    `mapstructure:"queue"`
	Evict         EvictConfig    `mapstructure:"evict"`
	Servers       []ServerConfig `mapstructure:"servers"`
}

// QueueConfig holds the download queue policy defaults. Runtime toggles
// saved in the settings table take precedence over these.
type QueueConfig struct {
	OfflineMode            bool          `mapstructure:"offline_mode"`
	Metered                bool          `mapstructure:"metered"`
	ManualCachingOnMetered bool          `mapstructure:"manual_caching_on_metered"`
	MinFreeSpace           int64         `mapstructure:"min_free_space"`
	MaxRetries             int           `mapstructure:"max_retries"`
	RetryDelay             time.Duration `mapstructure:"retry_delay"`
	PlaybackThreshold      int64         `mapstructure:"playback_threshold"`
	PathTemplate           string        `mapstructure:"path_template"` // used when the server sends no path
}

// EvictConfig controls the free space reclaimer
type EvictConfig struct {
	Policy        string `mapstructure:"policy"` // cached, played
	MaxCacheBytes int64  `mapstructure:"max_cache_bytes"`
	MinFreeBytes  int64  `mapstructure:"min_free_bytes"`
	MaxPerPass    int    `mapstructure:"max_per_pass"`
}

// ServerConfig identifies a Subsonic-compatible server songs are cached from
type ServerConfig struct {
	ID       int64  `mapstructure:"id"`
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Load reads the config file (if any) and NAVICACHE_* environment variables.
// An empty path searches the working directory and the user config directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("navicache")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigDir())
	}

	v.SetEnvPrefix("NAVICACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()

	v.SetDefault("listen_addr", constants.DefaultListenAddr)
	v.SetDefault("db_path", constants.DefaultDBPath)
	v.SetDefault("metacache_path", constants.DefaultMetaCacheFile)
	v.SetDefault("cache_dir", filepath.Join(home, ".cache", "navicache", "songs"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("queue.offline_mode", false)
	v.SetDefault("queue.metered", false)
	v.SetDefault("queue.manual_caching_on_metered", false)
	v.SetDefault("queue.min_free_space", constants.DefaultMinFreeSpace)
	v.SetDefault("queue.max_retries", constants.DefaultMaxRetries)
	v.SetDefault("queue.retry_delay", constants.DefaultRetryDelay)
	v.SetDefault("queue.playback_threshold", constants.DefaultPlaybackThreshold)
	v.SetDefault("queue.path_template", "")

	v.SetDefault("evict.policy", constants.DefaultEvictPolicy)
	v.SetDefault("evict.max_cache_bytes", 0)
	v.SetDefault("evict.min_free_bytes", 2*constants.DefaultMinFreeSpace)
	v.SetDefault("evict.max_per_pass", constants.DefaultMaxEvictionsPass)
}

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "navicache")
}

// Server returns the configured server with the given id.
func (c *Config) Server(id int64) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return ServerConfig{}, false
}

// Validate validates the configuration and returns detailed errors
func (c *Config) Validate() error {
	var errors []string

	if c.ListenAddr == "" {
		errors = append(errors, "listen_addr cannot be empty")
	}

	if c.DBPath == "" {
		errors = append(errors, "db_path cannot be empty")
	}

	if c.MetaCachePath == "" {
		errors = append(errors, "metacache_path cannot be empty")
	}

	if c.CacheDir == "" {
		errors = append(errors, "cache_dir cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		errors = append(errors, fmt.Sprintf("log_level must be one of: debug, info, warn, error, got: %s", c.LogLevel))
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.LogFormat] {
		errors = append(errors, fmt.Sprintf("log_format must be one of: text, json, got: %s", c.LogFormat))
	}

	if c.Queue.MinFreeSpace < 0 {
		errors = append(errors, fmt.Sprintf("queue.min_free_space cannot be negative, got: %d", c.Queue.MinFreeSpace))
	}
	if c.Queue.MaxRetries < 0 {
		errors = append(errors, fmt.Sprintf("queue.max_retries cannot be negative, got: %d", c.Queue.MaxRetries))
	}
	if c.Queue.RetryDelay <= 0 {
		errors = append(errors, fmt.Sprintf("queue.retry_delay must be positive, got: %s", c.Queue.RetryDelay))
	}

	if c.Evict.Policy != constants.EvictByCachedDate && c.Evict.Policy != constants.EvictByPlayedDate {
		errors = append(errors, fmt.Sprintf("evict.policy must be one of: cached, played, got: %s", c.Evict.Policy))
	}
	if c.Evict.MaxCacheBytes < 0 {
		errors = append(errors, fmt.Sprintf("evict.max_cache_bytes cannot be negative, got: %d", c.Evict.MaxCacheBytes))
	}

	seen := make(map[int64]bool)
	for i, s := range c.Servers {
		if s.ID <= 0 {
			errors = append(errors, fmt.Sprintf("servers[%d].id must be positive, got: %d", i, s.ID))
		} else if seen[s.ID] {
			errors = append(errors, fmt.Sprintf("servers[%d].id %d is duplicated", i, s.ID))
		}
		seen[s.ID] = true

		if s.URL == "" {
			errors = append(errors, fmt.Sprintf("servers[%d].url cannot be empty", i))
		} else if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("servers[%d].url is not a valid URL: %s", i, s.URL))
		}

		if s.Username == "" {
			errors = append(errors, fmt.Sprintf("servers[%d].username cannot be empty", i))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
