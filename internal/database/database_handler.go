package database

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"privacyspace/internal/domain"
	"privacyspace/internal/support"

	"github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is the process-wide connection opened by SetupDB.
var DB *gorm.DB

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	sqliteBusyTimeoutMs = 5000
)

type Config struct {
	ExistingDB  *gorm.DB
	Dialector   gorm.Dialector
	Logger      logger.Interface
	AutoMigrate bool
	Migrations  []any
}

type Option func(*Config)

func WithExistingDB(db *gorm.DB) Option {
	return func(cfg *Config) { cfg.ExistingDB = db }
}

func WithDialector(d gorm.Dialector) Option {
	return func(cfg *Config) { cfg.Dialector = d }
}

func WithLogger(l logger.Interface) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

func WithAutoMigrate(enabled bool) Option {
	return func(cfg *Config) { cfg.AutoMigrate = enabled }
}

// WithMigrations replaces the model list. No models disables migration.
func WithMigrations(models ...any) Option {
	return func(cfg *Config) {
		cfg.Migrations = nil
		if len(models) > 0 {
			cfg.Migrations = append([]any(nil), models...)
		}
	}
}

// SetupDB opens (or adopts) the connection, tunes it for its driver and
// migrates the configured models. Without options it targets the aggregator
// registry described by the DB_* environment.
func SetupDB(opts ...Option) (*gorm.DB, error) {
	cfg := Config{AutoMigrate: true, Migrations: AggregatorModels()}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := connect(cfg)
	if err != nil {
		return nil, err
	}
	DB = db

	if isSQLiteDialect(db) {
		if err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMs)).Error; err != nil {
			log.Warn("database: set sqlite busy timeout", "error", err)
		}
	}

	if cfg.AutoMigrate && len(cfg.Migrations) > 0 {
		if err := db.AutoMigrate(cfg.Migrations...); err != nil {
			return nil, fmt.Errorf("database: auto migrate: %w", err)
		}
		log.Info("Database schema ready", "driver", db.Dialector.Name(), "tables", len(cfg.Migrations))
	}
	return db, nil
}

func connect(cfg Config) (*gorm.DB, error) {
	if cfg.ExistingDB != nil {
		return cfg.ExistingDB, nil
	}

	dialector := cfg.Dialector
	if dialector == nil {
		dialector = dialectorFromEnv()
	}

	l := cfg.Logger
	if l == nil {
		l = logger.New(log.Default(), logger.Config{LogLevel: logger.Silent})
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: l})
	if err != nil {
		return nil, fmt.Errorf("database: open connection: %w", err)
	}
	if err := poolSettingsFromEnv(isSQLiteDialect(db)).apply(db); err != nil {
		log.Error("database: configure pool", "error", err)
	}
	return db, nil
}

// dialectorFromEnv picks postgres unless DB_DRIVER=sqlite.
func dialectorFromEnv() gorm.Dialector {
	if strings.EqualFold(support.GetEnv("DB_DRIVER", DriverPostgres), DriverSQLite) {
		return SQLiteDialector(support.GetEnv("DB_PATH", filepath.Join("data", "privacyspace.db")))
	}
	return postgres.Open(postgresDSN())
}

func postgresDSN() string {
	params := [][2]string{
		{"host", support.GetEnv("DB_HOST", "localhost")},
		{"port", support.GetEnv("DB_PORT", "5432")},
		{"user", support.GetEnv("DB_USERNAME", "privacyspace")},
		{"password", support.GetEnv("DB_PASSWORD", "privacyspace")},
		{"dbname", support.GetEnv("DB_NAME", "privacyspace")},
		{"sslmode", support.GetEnv("DB_SSLMODE", "disable")},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p[0]+"="+p[1])
	}
	return strings.Join(parts, " ")
}

// SQLiteDialector opens path with foreign keys enabled. The client keeps its
// counters here.
func SQLiteDialector(path string) gorm.Dialector {
	return sqlite.Open("file:" + path + "?_fk=1")
}

// AggregatorModels are the tables of the shared tracker registry.
func AggregatorModels() []any {
	return []any{
		domain.TrackerRecord{},
		domain.ReporterSighting{},
	}
}

// ClientModels are the tables of the local verdict engine.
func ClientModels() []any {
	return []any{
		domain.LocalCounterEntry{},
	}
}

func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	DB = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

// poolSettingsFromEnv reads DB_MAX_* overrides. SQLite gets a single writer.
func poolSettingsFromEnv(sqliteDB bool) poolSettings {
	p := poolSettings{
		maxOpen:     support.GetEnvInt("DB_MAX_OPEN_CONNS", 32),
		maxLifetime: time.Duration(support.GetEnvInt("DB_CONN_MAX_LIFETIME", 300)) * time.Second,
		maxIdleTime: time.Duration(support.GetEnvInt("DB_CONN_MAX_IDLE_TIME", 60)) * time.Second,
	}
	if sqliteDB {
		p.maxOpen = 1
	}
	p.maxIdle = min(support.GetEnvInt("DB_MAX_IDLE_CONNS", p.maxOpen), p.maxOpen)
	return p
}

func (p poolSettings) apply(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if p.maxOpen > 0 {
		sqlDB.SetMaxOpenConns(p.maxOpen)
	}
	if p.maxIdle >= 0 {
		sqlDB.SetMaxIdleConns(p.maxIdle)
	}
	if p.maxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.maxLifetime)
	}
	if p.maxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(p.maxIdleTime)
	}
	return nil
}

func isSQLiteDialect(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return strings.Contains(strings.ToLower(db.Dialector.Name()), "sqlite")
}
