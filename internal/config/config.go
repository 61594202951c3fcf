// Package config loads the SafeStreets server and CLI configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is used when no explicit path is given. A missing file at the
// default path falls back to Default().
var ConfigPath = "config.yaml"

const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMinio    = "minio"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	LogLevel                string   `yaml:"logLevel"`
	Backend                 string   `yaml:"backend"`
	DataDir                 string   `yaml:"dataDir"`
	DatabaseURL             string   `yaml:"databaseURL"`
	SQLitePath              string   `yaml:"sqlitePath"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	Profile                 string   `yaml:"profile"`
	SeedDir                 string   `yaml:"seedDir"`
	StaticDir               string   `yaml:"staticDir"`
	WriteRateLimitPerMinute int      `yaml:"writeRateLimitPerMinute"`
	TrustedProxies          []string `yaml:"trustedProxies"`
}

// Default returns a config that runs against a local data directory.
func Default() FileConfig {
	return FileConfig{
		Port:                    "8080",
		LogLevel:                "info",
		Backend:                 BackendFile,
		DataDir:                 "data",
		MinioBucket:             "safestreets",
		WriteRateLimitPerMinute: 60,
	}
}

// Load reads config from path (defaults to ConfigPath), applies environment
// overrides and validates the result. Fields missing from the file keep
// their Default() values.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case !explicit && errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("SAFESTREETS_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SAFESTREETS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SAFESTREETS_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("SAFESTREETS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("SAFESTREETS_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("SAFESTREETS_MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("SAFESTREETS_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("SAFESTREETS_MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("SAFESTREETS_MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("SAFESTREETS_MINIO_USE_SSL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.MinioUseSSL = enabled
		}
	}
	if v := os.Getenv("SAFESTREETS_PROFILE"); v != "" {
		cfg.Profile = v
	}
	if v := os.Getenv("SAFESTREETS_SEED_DIR"); v != "" {
		cfg.SeedDir = v
	}
	if v := os.Getenv("SAFESTREETS_STATIC_DIR"); v != "" {
		cfg.StaticDir = v
	}
	if v := os.Getenv("SAFESTREETS_WRITE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WriteRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SAFESTREETS_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or SAFESTREETS_PORT)")
	}
	if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("config: port %q is not a valid TCP port", cfg.Port)
	}
	switch cfg.Backend {
	case BackendMemory, BackendSQLite:
	case BackendFile:
		if strings.TrimSpace(cfg.DataDir) == "" {
			return errors.New("config: dataDir is required for the file backend")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for the redis backend (set in config.yaml or REDIS_ADDR)")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required for the postgres backend (set in config.yaml or DATABASE_URL)")
		}
	case BackendMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: minio backend requires minioEndpoint, minioAccessKey and minioSecretKey")
		}
		if strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: minioBucket is required for the minio backend")
		}
	default:
		return fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	if cfg.WriteRateLimitPerMinute < 0 {
		return errors.New("config: writeRateLimitPerMinute must be >= 0")
	}
	if strings.ContainsAny(cfg.Profile, ":/\\ ") {
		return fmt.Errorf("config: profile %q must not contain separators or spaces", cfg.Profile)
	}
	return nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
