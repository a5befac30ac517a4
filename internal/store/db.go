package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/disposal-triage/internal/resilience"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
)

// Config selects the driver and pool limits
type Config struct {
	Driver          string
	DSN             string
	DataDir         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a SQLite configuration rooted at dataDir
func DefaultConfig(dataDir string) Config {
	return Config{
		Driver:          DriverSQLite,
		DataDir:         dataDir,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DB wraps sqlx with the driver it was opened with
type DB struct {
	*sqlx.DB
	driver          string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// Open connects, pings with retry and applies pool limits. Migrations are run
// separately with Migrate.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = resilience.Retry(ctx, resilience.StartupBackoff, nil, conn.PingContext)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := Wrap(conn, cfg)
	slog.Info("Database initialized with connection pooling",
		"driver", cfg.Driver,
		"max_open_conns", db.maxOpenConns,
		"max_idle_conns", db.maxIdleConns,
		"max_lifetime", db.connMaxLifetime)

	return db, nil
}

// Wrap adopts an existing sqlx handle, applying the pool limits from cfg
func Wrap(conn *sqlx.DB, cfg Config) *DB {
	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return &DB{
		DB:              conn,
		driver:          conn.DriverName(),
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}
}

func dataSourceName(cfg Config) (string, error) {
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.DSN != "" {
			return cfg.DSN, nil
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return "", fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath := filepath.Join(cfg.DataDir, "triage.db")
		return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath), nil

	case DriverPostgres:
		if cfg.DSN == "" {
			return "", fmt.Errorf("DATABASE_URL is required for driver %s", cfg.Driver)
		}
		return cfg.DSN, nil

	case DriverMySQL:
		if cfg.DSN == "" {
			return "", fmt.Errorf("DATABASE_URL is required for driver %s", cfg.Driver)
		}
		mcfg, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid mysql DSN: %w", err)
		}
		// timestamps scan into time.Time only with parseTime
		mcfg.ParseTime = true
		mcfg.Loc = time.UTC
		return mcfg.FormatDSN(), nil

	default:
		return "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Driver returns the database/sql driver name
func (db *DB) Driver() string {
	return db.driver
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	stats := db.Stats()

	return map[string]interface{}{
		"driver":               db.driver,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": db.maxOpenConns,
		"max_idle_connections": db.maxIdleConns,
		"max_lifetime_seconds": db.connMaxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}
