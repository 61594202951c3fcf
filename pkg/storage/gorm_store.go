package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type GormStoreOptions struct {
	LogLevel gormlogger.LogLevel
}

type GormStoreOption func(*GormStoreOptions)

// WithGormLogLevel overrides the GORM logger level (default Warn).
func WithGormLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// GormStore implements Store on a single kv_entries table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB for driver ("postgres" or "sqlite") and migrates.
// An empty sqlite DSN opens a private in-memory database.
func NewGormStore(driver, dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	gormLog := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog}

	var (
		db  *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "pg":
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("postgres dsn is required")
		}
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite, "":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:"
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported gorm driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if db.Dialector.Name() == DriverSQLite {
		// sqlite allows one writer; a single connection also keeps an
		// in-memory database alive and shared.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&EntryModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Get loads the value for key.
func (s *GormStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := checkKey(key); err != nil {
		return "", false, err
	}
	return getEntry(s.db.WithContext(ctx), key, false)
}

// Set upserts the value for key.
func (s *GormStore) Set(ctx context.Context, key, value string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return putEntry(s.db.WithContext(ctx), key, value)
}

// Delete removes the row for key.
func (s *GormStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&EntryModel{}).Error; err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Update runs fn inside a transaction. On postgres the row is locked with
// SELECT ... FOR UPDATE; sqlite serializes writers on its own.
func (s *GormStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := checkKey(key); err != nil {
		return err
	}
	lock := s.db.Dialector.Name() == DriverPostgres
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old, ok, err := getEntry(tx, key, lock)
		if err != nil {
			return err
		}
		next, err := fn(old, ok)
		if err != nil {
			return err
		}
		return putEntry(tx, key, next)
	})
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func getEntry(db *gorm.DB, key string, forUpdate bool) (string, bool, error) {
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m EntryModel
	err := db.Where("entry_key = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get entry: %w", err)
	}
	return m.Value, true, nil
}

func putEntry(db *gorm.DB, key, value string) error {
	m := EntryModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("put entry: %w", err)
	}
	return nil
}
