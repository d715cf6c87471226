package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Keys of the persisted entries.
const (
	KeySSID       = "ssid"
	KeyPass       = "pass"
	KeyServerURL  = "server_url"
	KeyBackground = "background_gif"
)

// Size caps per key, in bytes.
const (
	MaxSSID       = 32
	MaxPass       = 64
	MaxServerURL  = 128
	MaxBackground = 1 << 20
)

var (
	// ErrNotFound is returned when a key has never been written.
	ErrNotFound = errors.New("settings: key not found")
	// ErrTooLarge is returned when a value exceeds its key's cap.
	ErrTooLarge = errors.New("settings: value too large")
)

// Store is the typed key/value store the device persists its settings in.
type Store interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string) error
	GetBlob(ctx context.Context, key string) ([]byte, error)
	SetBlob(ctx context.Context, key string, value []byte) error
}

// Limit returns the byte cap for key, or 0 when the key is uncapped.
func Limit(key string) int {
	switch key {
	case KeySSID:
		return MaxSSID
	case KeyPass:
		return MaxPass
	case KeyServerURL:
		return MaxServerURL
	case KeyBackground:
		return MaxBackground
	}
	return 0
}

func checkSize(key string, n int) error {
	if max := Limit(key); max > 0 && n > max {
		return fmt.Errorf("%w: %s is %d bytes, max %d", ErrTooLarge, key, n, max)
	}
	return nil
}

// SQLiteStore keeps settings in a single key/value table.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
)`

// OpenSQLite opens (creating if needed) the settings database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("settings: store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("settings: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("settings: open %s: %w", path, err)
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("settings: init schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetString(ctx context.Context, key string) (string, error) {
	b, err := s.GetBlob(ctx, key)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SQLiteStore) SetString(ctx context.Context, key, value string) error {
	return s.SetBlob(ctx, key, []byte(value))
}

func (s *SQLiteStore) GetBlob(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) SetBlob(ctx context.Context, key string, value []byte) error {
	if err := checkSize(key, len(value)); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
