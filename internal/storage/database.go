package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"portfoliochat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Dialects understood by Open and Migrate.
const (
	DialectSQLite = "sqlite3"
	DialectMySQL  = "mysql"
)

// Normalize maps driver aliases onto a dialect name.
func Normalize(dbType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// Open connects to the configured database for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dialect, err := Normalize(dbType)
	if err != nil {
		return nil, err
	}
	dbCfg, ok := cfg.Databases[dialect]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dialect)
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		if dbCfg.DSN != ":memory:" && !strings.HasPrefix(dbCfg.DSN, "file:") {
			if err := os.MkdirAll(filepath.Dir(dbCfg.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection keeps :memory: databases shared and avoids SQLITE_BUSY on writes.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case DialectMySQL:
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, dbType string) error {
	dialect, err := Normalize(dbType)
	if err != nil {
		return fmt.Errorf("unsupported driver for migration: %s", dbType)
	}
	var stmts []string
	switch dialect {
	case DialectSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chats (
				session_id TEXT PRIMARY KEY,
				preview TEXT NOT NULL DEFAULT '',
				ai_active INTEGER NOT NULL DEFAULT 1,
				contact_notified INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				last_updated DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'admin')),
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(session_id) REFERENCES chats(session_id)
			)`,
			`CREATE TABLE IF NOT EXISTS admin_tokens (
				token TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_time ON messages(session_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_chats_last_updated ON chats(last_updated DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_admin_tokens_expiry ON admin_tokens(expires_at)`,
		}
	case DialectMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS chats (
				session_id VARCHAR(128) NOT NULL,
				preview VARCHAR(255) NOT NULL DEFAULT '',
				ai_active TINYINT(1) NOT NULL DEFAULT 1,
				contact_notified TINYINT(1) NOT NULL DEFAULT 0,
				created_at DATETIME(6) NOT NULL,
				last_updated DATETIME(6) NOT NULL,
				PRIMARY KEY (session_id),
				INDEX idx_chats_last_updated (last_updated)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				session_id VARCHAR(128) NOT NULL,
				role VARCHAR(16) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_session_time (session_id, created_at),
				CONSTRAINT fk_messages_chat FOREIGN KEY (session_id) REFERENCES chats(session_id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS admin_tokens (
				token VARCHAR(255) NOT NULL PRIMARY KEY,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				INDEX idx_admin_tokens_expiry (expires_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", dialect, err)
		}
	}
	return nil
}
