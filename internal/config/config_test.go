package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "airamed.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// FUNCTIONAL VALIDATION TEST: Default configuration runs out of the box
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if config.Storage.Backend != BackendSQLite {
		t.Errorf("default backend = %q", config.Storage.Backend)
	}
	if config.API.RequestTimeout != 10*time.Second {
		t.Errorf("default request timeout = %v", config.API.RequestTimeout)
	}
	if config.Polling.NetworkInterval != 5*time.Second || config.Polling.ChatInterval != 3*time.Second {
		t.Errorf("default intervals = %+v", config.Polling)
	}
	if config.ListenAddress() != "127.0.0.1:8090" {
		t.Errorf("ListenAddress = %s", config.ListenAddress())
	}
}

// FUNCTIONAL VALIDATION TEST: Configuration validation prevents invalid settings
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative base url", func(c *Config) { c.API.BaseURL = "localhost:8000" }, "base URL"},
		{"ftp base url", func(c *Config) { c.API.BaseURL = "ftp://example.org" }, "base URL"},
		{"zero request timeout", func(c *Config) { c.API.RequestTimeout = 0 }, "request timeout"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage backend"},
		{"empty sqlite path", func(c *Config) { c.Storage.SQLitePath = "" }, "SQLite path"},
		{"empty redis addr", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.RedisAddr = ""
		}, "Redis address"},
		{"negative redis db", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.RedisDB = -1
		}, "Redis database"},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }, "HTTP port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "HTTP host"},
		{"wildcard origin", func(c *Config) { c.HTTP.AllowedOrigins = []string{"*"} }, "allowed origin"},
		{"origin with path", func(c *Config) { c.HTTP.AllowedOrigins = []string{"http://wall.local/app"} }, "allowed origin"},
		{"zero poll interval", func(c *Config) { c.Polling.ChatInterval = 0 }, "poll intervals"},
		{"latitude out of range", func(c *Config) { c.Ambulance.OriginLat = 91 }, "ambulance origin"},
		{"missing metrics", func(c *Config) { c.Metrics = nil }, "metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %q", err, tt.wantErr)
			}
		})
	}

	redis := DefaultConfig()
	redis.Storage.Backend = BackendRedis
	redis.Storage.SQLitePath = ""
	if err := redis.Validate(); err != nil {
		t.Errorf("redis backend does not need a SQLite path: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("AIRAMED_HTTP_PORT", "9090")
	t.Setenv("AIRAMED_API_BASE_URL", "https://capacity.example.org")
	t.Setenv("AIRAMED_STORAGE_BACKEND", "redis")
	t.Setenv("AIRAMED_REDIS_DB", "3")
	t.Setenv("AIRAMED_POLL_CHAT_INTERVAL", "750ms")
	t.Setenv("AIRAMED_AMBULANCE_LAT", "12.97")
	t.Setenv("AIRAMED_METRICS_RUNTIME", "false")
	t.Setenv("AIRAMED_VIEWER_KEY", "wall-display")
	t.Setenv("AIRAMED_HTTP_ALLOWED_ORIGINS", " http://wall.local:3000, ,https://ops.example.org")

	config := LoadFromEnv()

	if config.HTTP.Port != 9090 {
		t.Errorf("Expected HTTP port 9090, got %d", config.HTTP.Port)
	}
	if config.API.BaseURL != "https://capacity.example.org" {
		t.Errorf("base url = %s", config.API.BaseURL)
	}
	if config.Storage.Backend != BackendRedis || config.Storage.RedisDB != 3 {
		t.Errorf("storage = %+v", config.Storage)
	}
	if config.Polling.ChatInterval != 750*time.Millisecond {
		t.Errorf("chat interval = %v", config.Polling.ChatInterval)
	}
	if config.Ambulance.OriginLat != 12.97 {
		t.Errorf("origin lat = %v", config.Ambulance.OriginLat)
	}
	if config.Metrics.IncludeRuntime {
		t.Error("runtime metrics should be disabled")
	}
	if config.HTTP.ViewerKey != "wall-display" {
		t.Errorf("viewer key = %q", config.HTTP.ViewerKey)
	}
	if len(config.HTTP.AllowedOrigins) != 2 || config.HTTP.AllowedOrigins[1] != "https://ops.example.org" {
		t.Errorf("allowed origins = %q", config.HTTP.AllowedOrigins)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("env configuration should validate: %v", err)
	}
}

// FUNCTIONAL VALIDATION TEST: Malformed environment values keep the defaults
func TestConfig_LoadFromEnvEdgeCases(t *testing.T) {
	t.Setenv("AIRAMED_HTTP_PORT", "eighty")
	t.Setenv("AIRAMED_POLL_NETWORK_INTERVAL", "soon")
	t.Setenv("AIRAMED_METRICS_ENABLED", "maybe")
	t.Setenv("AIRAMED_SQLITE_PATH", "   ")

	config := LoadFromEnv()
	defaults := DefaultConfig()

	if config.HTTP.Port != defaults.HTTP.Port {
		t.Errorf("port = %d", config.HTTP.Port)
	}
	if config.Polling.NetworkInterval != defaults.Polling.NetworkInterval {
		t.Errorf("network interval = %v", config.Polling.NetworkInterval)
	}
	if !config.Metrics.Enabled {
		t.Error("metrics should stay enabled")
	}
	if config.Storage.SQLitePath != defaults.Storage.SQLitePath {
		t.Errorf("blank path should be ignored, got %q", config.Storage.SQLitePath)
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing with duration strings
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"api": {"base_url": "http://10.0.0.5:8000", "request_timeout": "4s"},
		"storage": {"backend": "redis", "redis_addr": "cache:6379", "redis_db": 2},
		"http": {"port": 8081, "read_timeout": "10s", "viewer_key": "k", "allowed_origins": ["http://wall.local:3000"]},
		"polling": {"facility_interval": "2s"},
		"ambulance": {"origin_lat": 0, "origin_lon": 1.5},
		"metrics": {"enabled": false}
	}`)

	config, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.API.BaseURL != "http://10.0.0.5:8000" || config.API.RequestTimeout != 4*time.Second {
		t.Errorf("api = %+v", config.API)
	}
	if config.Storage.Backend != BackendRedis || config.Storage.RedisAddr != "cache:6379" || config.Storage.RedisDB != 2 {
		t.Errorf("storage = %+v", config.Storage)
	}
	if config.HTTP.Port != 8081 || config.HTTP.ReadTimeout != 10*time.Second || config.HTTP.ViewerKey != "k" {
		t.Errorf("http = %+v", config.HTTP)
	}
	if len(config.HTTP.AllowedOrigins) != 1 || config.HTTP.AllowedOrigins[0] != "http://wall.local:3000" {
		t.Errorf("allowed origins = %q", config.HTTP.AllowedOrigins)
	}
	if config.HTTP.WriteTimeout != 30*time.Second {
		t.Errorf("unset write timeout should keep its default, got %v", config.HTTP.WriteTimeout)
	}
	if config.Polling.FacilityInterval != 2*time.Second || config.Polling.NetworkInterval != 5*time.Second {
		t.Errorf("polling = %+v", config.Polling)
	}
	// An explicit zero is honoured, unlike an absent field
	if config.Ambulance.OriginLat != 0 || config.Ambulance.OriginLon != 1.5 {
		t.Errorf("ambulance = %+v", config.Ambulance)
	}
	if config.Metrics.Enabled || !config.Metrics.IncludeRuntime {
		t.Errorf("metrics = %+v", config.Metrics)
	}
}

// TECHNICAL VALIDATION TEST: Invalid files are reported, not ignored
func TestConfig_LoadFromFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"invalid json", `{"api": {"base_url": "http://x"`, "parse"},
		{"bad duration", `{"polling": {"chat_interval": "3 seconds"}}`, "polling.chat_interval"},
		{"fails validation", `{"storage": {"backend": "etcd"}}`, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfigFile(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
}

// FUNCTIONAL VALIDATION TEST: File beats environment, environment beats defaults
func TestConfig_LoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("AIRAMED_HTTP_PORT", "7777")
	t.Setenv("AIRAMED_HTTP_HOST", "0.0.0.0")

	config, err := LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatal(err)
	}
	if config.HTTP.Port != 7777 {
		t.Errorf("environment should override default, got %d", config.HTTP.Port)
	}

	path := writeConfigFile(t, `{"http": {"port": 9999}}`)
	config, err = LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatal(err)
	}
	if config.HTTP.Port != 9999 {
		t.Errorf("file should override environment, got %d", config.HTTP.Port)
	}
	if config.HTTP.Host != "0.0.0.0" {
		t.Errorf("environment value absent from file should survive, got %s", config.HTTP.Host)
	}

	t.Setenv("AIRAMED_HTTP_PORT", "0")
	if _, err := LoadConfigWithPrecedence(""); err == nil {
		t.Error("invalid environment should fail validation")
	}
	if _, err := LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("named file that does not exist should fail")
	}
}
