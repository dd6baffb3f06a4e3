package config

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// EnvConfig is the environment variable holding the JSON configuration
// object, either raw or base64-encoded.
const EnvConfig = "REFLEX_ENGINE_CONFIG"

var GlobalConfig *Config

// Config is the engine configuration.
type Config struct {
	Server       ServerConfig         `mapstructure:"server"`
	Heartbeat    int                  `mapstructure:"heartbeat"`     // seconds
	StatusReport int                  `mapstructure:"status_report"` // seconds
	RefreshMaps  int                  `mapstructure:"refresh_maps"`  // seconds
	RequestID    bool                 `mapstructure:"requestid"`
	DeployVer    string               `mapstructure:"deploy_ver"`
	Cache        CacheConfig          `mapstructure:"cache"`
	Crypto       map[string]CryptoKey `mapstructure:"crypto"`
	DB           DatabaseConfig       `mapstructure:"db"`
	Auth         AuthConfig           `mapstructure:"auth"`
	Log          LogConfig            `mapstructure:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	RouteBase string `mapstructure:"route_base"`
	Mode      string `mapstructure:"mode"` // debug, release
}

// CacheConfig holds per-ctype TTLs in seconds.
type CacheConfig struct {
	Housekeeper int `mapstructure:"housekeeper"`
	Policies    int `mapstructure:"policies"`
	Sessions    int `mapstructure:"sessions"`
	Groups      int `mapstructure:"groups"`
}

// CryptoKey is one named symmetric key; exactly one entry must be default.
type CryptoKey struct {
	Key     string `mapstructure:"key"` // base64 key material
	Default bool   `mapstructure:"default"`
}

// DatabaseConfig holds the relational store settings.
type DatabaseConfig struct {
	Database     string `mapstructure:"database"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxIdleTime  int    `mapstructure:"max_idle_time"` // seconds
}

// AuthConfig holds session settings.
type AuthConfig struct {
	Expires int `mapstructure:"expires"` // session TTL in seconds
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 54000)
	v.SetDefault("server.route_base", "/api/v1")
	v.SetDefault("server.mode", "release")
	v.SetDefault("heartbeat", 10)
	v.SetDefault("status_report", 3600)
	v.SetDefault("refresh_maps", 300)
	v.SetDefault("requestid", false)
	v.SetDefault("cache.housekeeper", 60)
	v.SetDefault("cache.policies", 300)
	v.SetDefault("cache.sessions", 300)
	v.SetDefault("cache.groups", 300)
	v.SetDefault("db.database", "reflex_engine")
	v.SetDefault("db.user", "root")
	v.SetDefault("db.host", "127.0.0.1")
	v.SetDefault("db.port", 3306)
	v.SetDefault("db.max_open_conns", 16)
	v.SetDefault("db.max_idle_conns", 4)
	v.SetDefault("db.max_idle_time", 3600)
	v.SetDefault("auth.expires", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

// Load resolves configuration from, in priority order: an explicit file path,
// the REFLEX_ENGINE_CONFIG environment variable (raw or base64 JSON), then
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	switch {
	case configPath != "":
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	case os.Getenv(EnvConfig) != "":
		raw, err := DecodeEnv(os.Getenv(EnvConfig))
		if err != nil {
			return nil, fmt.Errorf("cannot process %s: %w", EnvConfig, err)
		}
		v.SetConfigType("json")
		if err := v.ReadConfig(bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("cannot process %s: %w", EnvConfig, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// DecodeEnv accepts either a base64-encoded or a raw JSON object and returns
// the raw JSON bytes.
func DecodeEnv(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		if json.Valid(decoded) {
			return decoded, nil
		}
	}
	raw := []byte(value)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("not valid JSON (raw or base64)")
	}
	return raw, nil
}
