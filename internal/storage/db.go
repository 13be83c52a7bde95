package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"govee-gateway/internal/config"

	_ "github.com/mattn/go-sqlite3"
)

const driverName = "sqlite3"

// Connection parameters appended to every path-built DSN. foreign_keys
// enforces readings -> devices; busy_timeout rides out "database is locked"
// while dbtool runs next to the gateway.
var sqliteParams = []string{
	"_foreign_keys=on",
	"_busy_timeout=5000",
	"_journal_mode=WAL",
}

var errNoDatabase = errors.New("storage: neither SQLITE_PATH nor SQLITE_DSN is set")

// Open opens the reading database described by cfg. With DB_LOG_SQL set, every
// statement is logged at debug level through logger.
func Open(cfg config.Config, logger *slog.Logger) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	var conn *sql.DB
	switch {
	case cfg.SQLiteLogSQL:
		conn = sql.OpenDB(NewLoggingConnector(dsn, logger))
	default:
		if conn, err = sql.Open(driverName, dsn); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
	}
	tunePool(conn, cfg)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", cfg.SQLitePath, err)
	}
	return conn, nil
}

// Close is nil-safe.
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

// tunePool applies the DB_* pool settings. SQLite wants a single writer, so
// the defaults keep one connection open.
func tunePool(conn *sql.DB, cfg config.Config) {
	if n := cfg.SQLiteMaxOpenConns; n > 0 {
		conn.SetMaxOpenConns(n)
	}
	if n := cfg.SQLiteMaxIdleConns; n >= 0 {
		conn.SetMaxIdleConns(n)
	}
	if d := cfg.SQLiteConnMaxLifetime; d > 0 {
		conn.SetConnMaxLifetime(d)
	}
}

func buildDSN(cfg config.Config) (string, error) {
	if cfg.SQLiteDSN != "" {
		return cfg.SQLiteDSN, nil
	}
	if cfg.SQLitePath == "" {
		return "", errNoDatabase
	}

	query := strings.Join(sqliteParams, "&")
	uri, isURI := strings.CutPrefix(cfg.SQLitePath, "file:")
	if isURI {
		if strings.Contains(uri, "?") {
			return cfg.SQLitePath + "&" + query, nil
		}
		return cfg.SQLitePath + "?" + query, nil
	}

	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	return "file:" + cfg.SQLitePath + "?" + query, nil
}
