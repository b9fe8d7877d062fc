package kvstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store used in production. A single kv table in a
// WAL-mode SQLite database stands in for the platform's origin-scoped storage;
// the byte quota emulates its capacity limit.
type SQLiteStore struct {
	db         *sql.DB
	quotaBytes int64
	log        *zap.Logger
}

// Open opens (or creates) the terminal's key-value database under dataDir.
// The database is opened with WAL mode and a single writer connection.
// quotaBytes <= 0 disables the quota check.
func Open(dataDir string, quotaBytes int64, log *zap.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = zap.NewNop()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "poscore.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}

	return &SQLiteStore{db: db, quotaBytes: quotaBytes, log: log}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(key string) (string, bool) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Warn("kv read failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (s *SQLiteStore) Set(key, value string) bool {
	if s.quotaBytes > 0 {
		var used sql.NullInt64
		err := s.db.QueryRow(
			"SELECT SUM(LENGTH(key) + LENGTH(value)) FROM kv WHERE key != ?", key,
		).Scan(&used)
		if err != nil {
			s.log.Warn("kv quota check failed", zap.Error(err))
			return false
		}
		if used.Int64+int64(len(key)+len(value)) > s.quotaBytes {
			s.log.Warn("kv quota exceeded",
				zap.String("key", key),
				zap.Int64("used_bytes", used.Int64),
				zap.Int64("quota_bytes", s.quotaBytes))
			return false
		}
	}

	_, err := s.db.Exec(
		"INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?) "+
			"ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at",
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		s.log.Warn("kv write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *SQLiteStore) Remove(key string) {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		s.log.Warn("kv remove failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *SQLiteStore) Keys() []string {
	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		s.log.Warn("kv key scan failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			s.log.Warn("kv key scan failed", zap.Error(err))
			return keys
		}
		keys = append(keys, k)
	}
	return keys
}
