package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

const schema = `
CREATE TABLE IF NOT EXISTS perception_cache (
    city_key TEXT PRIMARY KEY,
    city TEXT NOT NULL DEFAULT '',
    country TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_perception_cache_expires ON perception_cache(expires_at);
`

var openDB = sql.Open

// SQLite is an on-disk perception cache. Keys are unique per city, so
// concurrent city runs never write the same row.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating cache directory: %w", err)
			}
		}
	}
	db, err := openDB("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Has reports whether a bundle younger than maxAgeDays exists for key.
func (s *SQLite) Has(ctx context.Context, key string, maxAgeDays int) (bool, error) {
	const query = `
		SELECT created_at FROM perception_cache
		WHERE city_key = ? AND expires_at > ?
	`
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, key, s.now().UTC()).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fresh(createdAt, s.now(), maxAgeDays), nil
}

func (s *SQLite) Load(ctx context.Context, key string) (agent.PerceptionBundle, bool, error) {
	const query = `
		SELECT payload FROM perception_cache
		WHERE city_key = ? AND expires_at > ?
	`
	var payload string
	err := s.db.QueryRowContext(ctx, query, key, s.now().UTC()).Scan(&payload)
	if err == sql.ErrNoRows {
		return agent.PerceptionBundle{}, false, nil
	}
	if err != nil {
		return agent.PerceptionBundle{}, false, err
	}
	var bundle agent.PerceptionBundle
	if err := json.Unmarshal([]byte(payload), &bundle); err != nil {
		return agent.PerceptionBundle{}, false, fmt.Errorf("decoding cached bundle: %w", err)
	}
	return bundle, true, nil
}

func (s *SQLite) Save(ctx context.Context, key string, bundle agent.PerceptionBundle, maxAgeDays int) error {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	const query = `
		INSERT INTO perception_cache (city_key, city, country, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(city_key) DO UPDATE SET
			city = excluded.city,
			country = excluded.country,
			payload = excluded.payload,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`
	_, err = s.db.ExecContext(ctx, query, key, bundle.City, bundle.Country, string(payload), now, expiry(now, maxAgeDays))
	return err
}

// Clear removes every entry and returns how many were deleted.
func (s *SQLite) Clear(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM perception_cache`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Prune removes expired entries.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM perception_cache WHERE expires_at <= ?`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func expiry(now time.Time, maxAgeDays int) time.Time {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	return now.Add(time.Duration(maxAgeDays) * 24 * time.Hour)
}

func fresh(createdAt, now time.Time, maxAgeDays int) bool {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	return now.Sub(createdAt) < time.Duration(maxAgeDays)*24*time.Hour
}
