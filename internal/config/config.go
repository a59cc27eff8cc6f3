package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const (
	DefaultAPIBaseURL    = "http://localhost:8000"
	DefaultMaxFileSizeMB = 200
	DefaultAudioCapacity = 50
)

// Config represents runtime configuration for the client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
}

type BasicConfig struct {
	APIBaseURL      string `json:"api_base_url" env:"UNICHAT_API_BASE_URL"`
	Database        string `json:"database" env:"UNICHAT_DB"`
	MaxFileSizeMB   int    `json:"max_file_size_mb" env:"UNICHAT_MAX_FILE_SIZE_MB"`
	AudioCapacity   int    `json:"audio_capacity" env:"UNICHAT_AUDIO_CAPACITY"`
	AudioSpoolDir   string `json:"audio_spool_dir" env:"UNICHAT_AUDIO_SPOOL_DIR"`
	SessionAudio    bool   `json:"session_scoped_audio" env:"UNICHAT_SESSION_SCOPED_AUDIO"`
	RequestTimeout  int    `json:"request_timeout_seconds" env:"UNICHAT_REQUEST_TIMEOUT"`
	SessionKeyTTL   int    `json:"session_key_ttl_minutes" env:"UNICHAT_SESSION_KEY_TTL"`
	LogFile         string `json:"log_file" env:"UNICHAT_LOG_FILE"`
	LogLevel        string `json:"log_level" env:"UNICHAT_LOG_LEVEL"`
	DevBackendAddr  string `json:"dev_backend_address" env:"UNICHAT_DEV_BACKEND_ADDR"`
	HistoryCacheTTL int    `json:"history_cache_ttl_minutes" env:"UNICHAT_HISTORY_CACHE_TTL"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

// RedisConfig is optional; an empty Host disables redis-backed features.
type RedisConfig struct {
	Host     string `json:"host" env:"UNICHAT_REDIS_HOST"`
	Port     int    `json:"port" env:"UNICHAT_REDIS_PORT"`
	Username string `json:"username" env:"UNICHAT_REDIS_USERNAME"`
	Password string `json:"password" env:"UNICHAT_REDIS_PASSWORD"`
	DB       int    `json:"db" env:"UNICHAT_REDIS_DB"`
}

// Enabled reports whether a redis server was configured.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Load reads configuration from the provided path (defaults to config.json),
// then applies UNICHAT_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := env.Parse(&cfg.BasicConfig); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := env.Parse(&cfg.Redis); err != nil {
		return nil, fmt.Errorf("parse redis env: %w", err)
	}
	cfg.applyDefaults(filepath.Dir(absPath))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.BasicConfig.APIBaseURL == "" {
		c.BasicConfig.APIBaseURL = DefaultAPIBaseURL
	}
	if c.BasicConfig.Database == "" {
		c.BasicConfig.Database = "sqlite3"
	}
	if c.BasicConfig.MaxFileSizeMB <= 0 {
		c.BasicConfig.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if c.BasicConfig.AudioCapacity <= 0 {
		c.BasicConfig.AudioCapacity = DefaultAudioCapacity
	}
	if c.BasicConfig.LogLevel == "" {
		c.BasicConfig.LogLevel = "INFO"
	}
	if c.BasicConfig.LogFile == "" {
		c.BasicConfig.LogFile = filepath.Join(os.TempDir(), "unichat.log")
	}
	if c.BasicConfig.SessionKeyTTL <= 0 {
		c.BasicConfig.SessionKeyTTL = 12 * 60
	}
	if c.BasicConfig.HistoryCacheTTL <= 0 {
		c.BasicConfig.HistoryCacheTTL = 30
	}
	if c.BasicConfig.DevBackendAddr == "" {
		c.BasicConfig.DevBackendAddr = ":8000"
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if sq, ok := c.Databases["sqlite3"]; !ok || sq.DSN == "" {
		sq.DSN = filepath.Join(userStateDir(), "unichat.db")
		c.Databases["sqlite3"] = sq
	} else if sq.DSN != ":memory:" && !filepath.IsAbs(sq.DSN) {
		sq.DSN = filepath.Join(baseDir, sq.DSN)
		c.Databases["sqlite3"] = sq
	}
}

func userStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "unichat")
	}
	return "."
}
