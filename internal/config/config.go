package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends for the persisted session
const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as the daemon-wide settings
// coordinator; components receive plain values, never the Config itself
type Config struct {
	API       *APIConfig       `json:"api"`
	Storage   *StorageConfig   `json:"storage"`
	HTTP      *HTTPConfig      `json:"http"`
	Polling   *PollingConfig   `json:"polling"`
	Ambulance *AmbulanceConfig `json:"ambulance"`
	Metrics   *MetricsConfig   `json:"metrics"`
}

// APIConfig locates the capacity API
type APIConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// StorageConfig selects where the session triple is persisted
type StorageConfig struct {
	Backend       string        `json:"backend"`
	SQLitePath    string        `json:"sqlite_path"`
	Timeout       time.Duration `json:"timeout"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	RedisPrefix   string        `json:"redis_prefix"`
}

// HTTPConfig is the local control API and viewer feed listener
type HTTPConfig struct {
	Port         int           `json:"port"`
	Host         string        `json:"host"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`

	// ViewerKey gates the viewer feed and every /api route when set
	ViewerKey string `json:"-"`
	// AllowedOrigins may call the control API from a browser; empty sends no CORS headers
	AllowedOrigins []string `json:"allowed_origins"`
}

// PollingConfig holds the refresh cadence of each subscription kind
type PollingConfig struct {
	NetworkInterval  time.Duration `json:"network_interval"`
	FacilityInterval time.Duration `json:"facility_interval"`
	ChatInterval     time.Duration `json:"chat_interval"`
}

// AmbulanceConfig is the position reported with referral requests
type AmbulanceConfig struct {
	OriginLat float64 `json:"origin_lat"`
	OriginLon float64 `json:"origin_lon"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled        bool `json:"enabled"`
	IncludeRuntime bool `json:"include_runtime"`
}

// FUNCTIONAL DISCOVERY: Defaults target a single operator workstation: API on
// localhost, SQLite under ./data, control API bound to loopback
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 10 * time.Second,
		},
		Storage: &StorageConfig{
			Backend:     BackendSQLite,
			SQLitePath:  "./data/airamed.db",
			Timeout:     30 * time.Second,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "airamed:",
		},
		HTTP: &HTTPConfig{
			Port:         8090,
			Host:         "127.0.0.1",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Polling: &PollingConfig{
			NetworkInterval:  5 * time.Second,
			FacilityInterval: 5 * time.Second,
			ChatInterval:     3 * time.Second,
		},
		Ambulance: &AmbulanceConfig{
			OriginLat: 18.5204,
			OriginLon: 73.8567,
		},
		Metrics: &MetricsConfig{
			Enabled:        true,
			IncludeRuntime: true,
		},
	}
}

// Validate rejects configurations the daemon cannot run with
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}
	parsed, err := url.Parse(c.API.BaseURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("API base URL must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("API request timeout must be positive")
	}

	if c.Storage == nil {
		return fmt.Errorf("storage configuration is required")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("SQLite path cannot be empty")
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("Redis address cannot be empty")
		}
		if c.Storage.RedisDB < 0 {
			return fmt.Errorf("Redis database index cannot be negative")
		}
	default:
		return fmt.Errorf("storage backend must be %q or %q, got %q", BackendSQLite, BackendRedis, c.Storage.Backend)
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	for _, origin := range c.HTTP.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("allowed origin cannot be a wildcard")
		}
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || (u.Path != "" && u.Path != "/") {
			return fmt.Errorf("allowed origin %q must be scheme://host[:port]", origin)
		}
	}

	if c.Polling == nil {
		return fmt.Errorf("polling configuration is required")
	}
	if c.Polling.NetworkInterval <= 0 || c.Polling.FacilityInterval <= 0 || c.Polling.ChatInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}

	if c.Ambulance == nil {
		return fmt.Errorf("ambulance configuration is required")
	}
	if c.Ambulance.OriginLat < -90 || c.Ambulance.OriginLat > 90 || c.Ambulance.OriginLon < -180 || c.Ambulance.OriginLon > 180 {
		return fmt.Errorf("ambulance origin out of range")
	}

	if c.Metrics == nil {
		return fmt.Errorf("metrics configuration is required")
	}
	return nil
}

// ListenAddress returns host:port for the HTTP server
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv overlays AIRAMED_* variables on the defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	setString("AIRAMED_API_BASE_URL", &config.API.BaseURL)
	setDuration("AIRAMED_API_REQUEST_TIMEOUT", &config.API.RequestTimeout)

	setString("AIRAMED_STORAGE_BACKEND", &config.Storage.Backend)
	setString("AIRAMED_SQLITE_PATH", &config.Storage.SQLitePath)
	setDuration("AIRAMED_STORAGE_TIMEOUT", &config.Storage.Timeout)
	setString("AIRAMED_REDIS_ADDR", &config.Storage.RedisAddr)
	setString("AIRAMED_REDIS_PASSWORD", &config.Storage.RedisPassword)
	setInt("AIRAMED_REDIS_DB", &config.Storage.RedisDB)
	setString("AIRAMED_REDIS_PREFIX", &config.Storage.RedisPrefix)

	setInt("AIRAMED_HTTP_PORT", &config.HTTP.Port)
	setString("AIRAMED_HTTP_HOST", &config.HTTP.Host)
	setDuration("AIRAMED_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("AIRAMED_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	setString("AIRAMED_VIEWER_KEY", &config.HTTP.ViewerKey)
	setList("AIRAMED_HTTP_ALLOWED_ORIGINS", &config.HTTP.AllowedOrigins)

	setDuration("AIRAMED_POLL_NETWORK_INTERVAL", &config.Polling.NetworkInterval)
	setDuration("AIRAMED_POLL_FACILITY_INTERVAL", &config.Polling.FacilityInterval)
	setDuration("AIRAMED_POLL_CHAT_INTERVAL", &config.Polling.ChatInterval)

	setFloat("AIRAMED_AMBULANCE_LAT", &config.Ambulance.OriginLat)
	setFloat("AIRAMED_AMBULANCE_LON", &config.Ambulance.OriginLon)

	setBool("AIRAMED_METRICS_ENABLED", &config.Metrics.Enabled)
	setBool("AIRAMED_METRICS_RUNTIME", &config.Metrics.IncludeRuntime)
}

// FUNCTIONAL DISCOVERY: Unparseable environment values keep the previous
// value and are logged, so a typo never prevents startup
func setString(key string, target *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*target = value
	}
}

func setList(key string, target *[]string) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	*target = items
}

func setInt(key string, target *int) {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			*target = n
		} else {
			log.Printf("Ignoring %s=%q: %v", key, value, err)
		}
	}
}

func setFloat(key string, target *float64) {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			*target = f
		} else {
			log.Printf("Ignoring %s=%q: %v", key, value, err)
		}
	}
}

func setBool(key string, target *bool) {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			*target = b
		} else {
			log.Printf("Ignoring %s=%q: %v", key, value, err)
		}
	}
}

func setDuration(key string, target *time.Duration) {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			*target = d
		} else {
			log.Printf("Ignoring %s=%q: %v", key, value, err)
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	API       *APIConfigFile       `json:"api"`
	Storage   *StorageConfigFile   `json:"storage"`
	HTTP      *HTTPConfigFile      `json:"http"`
	Polling   *PollingConfigFile   `json:"polling"`
	Ambulance *AmbulanceConfigFile `json:"ambulance"`
	Metrics   *MetricsConfigFile   `json:"metrics"`
}

type APIConfigFile struct {
	BaseURL        string `json:"base_url"`
	RequestTimeout string `json:"request_timeout"`
}

type StorageConfigFile struct {
	Backend       string `json:"backend"`
	SQLitePath    string `json:"sqlite_path"`
	Timeout       string `json:"timeout"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       *int   `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	Host         string `json:"host"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout   string   `json:"write_timeout"`
	ViewerKey      string   `json:"viewer_key"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type PollingConfigFile struct {
	NetworkInterval  string `json:"network_interval"`
	FacilityInterval string `json:"facility_interval"`
	ChatInterval     string `json:"chat_interval"`
}

type AmbulanceConfigFile struct {
	OriginLat *float64 `json:"origin_lat"`
	OriginLon *float64 `json:"origin_lon"`
}

type MetricsConfigFile struct {
	Enabled        *bool `json:"enabled"`
	IncludeRuntime *bool `json:"include_runtime"`
}

// LoadFromFile reads a JSON configuration over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	var durationErr error
	parse := func(field, value string, target *time.Duration) {
		if value == "" || durationErr != nil {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			durationErr = fmt.Errorf("config file %s: %s: %w", filepath, field, err)
			return
		}
		*target = d
	}
	overlay := func(value string, target *string) {
		if value != "" {
			*target = value
		}
	}

	if f := file.API; f != nil {
		overlay(f.BaseURL, &config.API.BaseURL)
		parse("api.request_timeout", f.RequestTimeout, &config.API.RequestTimeout)
	}
	if f := file.Storage; f != nil {
		overlay(f.Backend, &config.Storage.Backend)
		overlay(f.SQLitePath, &config.Storage.SQLitePath)
		overlay(f.RedisAddr, &config.Storage.RedisAddr)
		overlay(f.RedisPassword, &config.Storage.RedisPassword)
		overlay(f.RedisPrefix, &config.Storage.RedisPrefix)
		if f.RedisDB != nil {
			config.Storage.RedisDB = *f.RedisDB
		}
		parse("storage.timeout", f.Timeout, &config.Storage.Timeout)
	}
	if f := file.HTTP; f != nil {
		if f.Port > 0 {
			config.HTTP.Port = f.Port
		}
		overlay(f.Host, &config.HTTP.Host)
		overlay(f.ViewerKey, &config.HTTP.ViewerKey)
		if f.AllowedOrigins != nil {
			config.HTTP.AllowedOrigins = f.AllowedOrigins
		}
		parse("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		parse("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if f := file.Polling; f != nil {
		parse("polling.network_interval", f.NetworkInterval, &config.Polling.NetworkInterval)
		parse("polling.facility_interval", f.FacilityInterval, &config.Polling.FacilityInterval)
		parse("polling.chat_interval", f.ChatInterval, &config.Polling.ChatInterval)
	}
	if f := file.Ambulance; f != nil {
		if f.OriginLat != nil {
			config.Ambulance.OriginLat = *f.OriginLat
		}
		if f.OriginLon != nil {
			config.Ambulance.OriginLon = *f.OriginLon
		}
	}
	if f := file.Metrics; f != nil {
		if f.Enabled != nil {
			config.Metrics.Enabled = *f.Enabled
		}
		if f.IncludeRuntime != nil {
			config.Metrics.IncludeRuntime = *f.IncludeRuntime
		}
	}
	return durationErr
}

// LoadConfigWithPrecedence resolves file > environment > defaults. A named
// file that cannot be read or parsed is an error.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
