package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"safestreets/internal/app"
	"safestreets/internal/config"
	"safestreets/internal/util"
	"safestreets/pkg/storage"
	"safestreets/pkg/store"
)

const (
	sqliteFileName     = "safestreets.db"
	backendPingTimeout = 5 * time.Second
)

// appEnv is everything a command needs once the config is loaded.
type appEnv struct {
	cfg    config.FileConfig
	app    *app.App
	logger *slog.Logger
	closer func() error
}

func (rt *appEnv) Close() error {
	if rt.closer == nil {
		return nil
	}
	return rt.closer()
}

// openRuntime loads the config, opens the backend and builds the app. Logs go
// to logOut.
func openRuntime(logOut io.Writer) (*appEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := util.InitLoggerTo(logOut, cfg.LogLevel)

	kv, closer, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	kv = storage.NewNamespaced(kv, cfg.Profile)

	opts := []store.Option{store.WithLogger(logger)}
	if cfg.SeedDir != "" {
		seeds, err := store.LoadSeedDir(cfg.SeedDir)
		if err != nil {
			_ = closer()
			return nil, fmt.Errorf("load seeds: %w", err)
		}
		opts = append(opts, store.WithSeeds(seeds))
	}

	a, err := app.New(app.Config{Store: store.New(kv, opts...)})
	if err != nil {
		_ = closer()
		return nil, err
	}
	logger.Info("backend opened", "backend", cfg.Backend, "profile", cfg.Profile)
	return &appEnv{cfg: cfg, app: a, logger: logger, closer: closer}, nil
}

// openBackend builds the storage backend named by cfg.Backend. The returned
// func releases its connections.
func openBackend(cfg config.FileConfig) (storage.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(), noop, nil
	case config.BackendFile:
		fs, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open file backend: %w", err)
		}
		return fs, noop, nil
	case config.BackendRedis:
		rs := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword)
		ctx, cancel := context.WithTimeout(context.Background(), backendPingTimeout)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return rs, rs.Close, nil
	case config.BackendPostgres:
		gs, err := storage.NewGormStore(storage.DriverPostgres, cfg.DatabaseURL, storage.WithGormLogLevel(gormLogLevel(cfg.LogLevel)))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres backend: %w", err)
		}
		return gs, gs.Close, nil
	case config.BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, sqliteFileName)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		gs, err := storage.NewGormStore(storage.DriverSQLite, path, storage.WithGormLogLevel(gormLogLevel(cfg.LogLevel)))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return gs, gs.Close, nil
	case config.BackendMinio:
		ms, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, nil, fmt.Errorf("open minio backend: %w", err)
		}
		return ms, noop, nil
	default:
		return nil, nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

// gormLogLevel maps the service log level onto GORM's. SQL statements are
// only traced at debug.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch util.ParseLevel(level) {
	case slog.LevelDebug:
		return gormlogger.Info
	case slog.LevelError:
		return gormlogger.Error
	default:
		return gormlogger.Warn
	}
}
