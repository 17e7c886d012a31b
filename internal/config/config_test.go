package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cesargomez89/navicache/internal/constants"
)

func validConfig() Config {
	return Config{
		ListenAddr:    "127.0.0.1:8080",
		DBPath:        "test.db",
		MetaCachePath: "meta.db",
		CacheDir:      "/tmp/navicache",
		LogLevel:      "info",
		LogFormat:     "text",
		Queue: QueueConfig{
			MinFreeSpace: constants.DefaultMinFreeSpace,
			MaxRetries:   constants.DefaultMaxRetries,
			RetryDelay:   constants.DefaultRetryDelay,
		},
		Evict: EvictConfig{Policy: constants.EvictByCachedDate},
		Servers: []ServerConfig{
			{ID: 1, URL: "http://localhost:4533", Username: "admin", Password: "secret"},
		},
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirForTest(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != constants.DefaultListenAddr {
		t.Errorf("Expected ListenAddr to be %s, got %s", constants.DefaultListenAddr, cfg.ListenAddr)
	}
	if cfg.DBPath != constants.DefaultDBPath {
		t.Errorf("Expected DBPath to be %s, got %s", constants.DefaultDBPath, cfg.DBPath)
	}
	if cfg.Queue.MinFreeSpace != constants.DefaultMinFreeSpace {
		t.Errorf("Expected MinFreeSpace to be %d, got %d", constants.DefaultMinFreeSpace, cfg.Queue.MinFreeSpace)
	}
	if cfg.Queue.MaxRetries != constants.DefaultMaxRetries {
		t.Errorf("Expected MaxRetries to be %d, got %d", constants.DefaultMaxRetries, cfg.Queue.MaxRetries)
	}
	if cfg.Queue.RetryDelay != constants.DefaultRetryDelay {
		t.Errorf("Expected RetryDelay to be %s, got %s", constants.DefaultRetryDelay, cfg.Queue.RetryDelay)
	}
	if cfg.CacheDir == "" {
		t.Error("Expected CacheDir to not be empty")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "navicache.yaml")
	data := `
listen_addr: "0.0.0.0:9000"
cache_dir: "/srv/songs"
queue:
  offline_mode: true
  retry_delay: 250ms
  max_retries: 2
evict:
  policy: played
servers:
  - id: 3
    url: "https://music.example.com"
    username: "me"
    password: "pw"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("Expected ListenAddr 0.0.0.0:9000, got %s", cfg.ListenAddr)
	}
	if !cfg.Queue.OfflineMode {
		t.Error("Expected OfflineMode to be true")
	}
	if cfg.Queue.RetryDelay != 250*time.Millisecond {
		t.Errorf("Expected RetryDelay 250ms, got %s", cfg.Queue.RetryDelay)
	}
	if cfg.Queue.MaxRetries != 2 {
		t.Errorf("Expected MaxRetries 2, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Evict.Policy != constants.EvictByPlayedDate {
		t.Errorf("Expected policy played, got %s", cfg.Evict.Policy)
	}

	srv, ok := cfg.Server(3)
	if !ok {
		t.Fatal("Expected server 3 to be configured")
	}
	if srv.URL != "https://music.example.com" {
		t.Errorf("Expected server URL https://music.example.com, got %s", srv.URL)
	}
	if _, ok := cfg.Server(4); ok {
		t.Error("Expected server 4 to be missing")
	}
}

func TestLoadWithEnvVars(t *testing.T) {
	chdirForTest(t, t.TempDir())
	t.Setenv("NAVICACHE_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("NAVICACHE_QUEUE_MAX_RETRIES", "7")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("Expected ListenAddr 127.0.0.1:9999, got %s", cfg.ListenAddr)
	}
	if cfg.Queue.MaxRetries != 7 {
		t.Errorf("Expected MaxRetries 7, got %d", cfg.Queue.MaxRetries)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "empty db path", mutate: func(c *Config) { c.DBPath = "" }, wantErr: true},
		{name: "empty cache dir", mutate: func(c *Config) { c.CacheDir = "" }, wantErr: true},
		{name: "invalid log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.LogFormat = "xml" }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Queue.MaxRetries = -1 }, wantErr: true},
		{name: "zero retry delay", mutate: func(c *Config) { c.Queue.RetryDelay = 0 }, wantErr: true},
		{name: "invalid evict policy", mutate: func(c *Config) { c.Evict.Policy = "random" }, wantErr: true},
		{name: "server without url", mutate: func(c *Config) { c.Servers[0].URL = "" }, wantErr: true},
		{name: "server with relative url", mutate: func(c *Config) { c.Servers[0].URL = "music" }, wantErr: true},
		{name: "duplicate server id", mutate: func(c *Config) {
			c.Servers = append(c.Servers, c.Servers[0])
		}, wantErr: true},
		{name: "no servers", mutate: func(c *Config) { c.Servers = nil }, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// chdirForTest mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdirForTest(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restoring working directory: %v", err)
		}
	})
}
