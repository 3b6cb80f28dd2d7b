package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS cookies (
	host      TEXT NOT NULL,
	name      TEXT NOT NULL,
	path      TEXT NOT NULL,
	value     TEXT NOT NULL,
	domain    TEXT NOT NULL DEFAULT '',
	expires   INTEGER NOT NULL DEFAULT 0,
	secure    INTEGER NOT NULL DEFAULT 0,
	http_only INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (host, name, path)
);
CREATE TABLE IF NOT EXISTS played (
	item_key  TEXT PRIMARY KEY,
	played_at INTEGER NOT NULL
);`

// DB is the local SQLite database. The path can be ":memory:".
type DB struct {
	db *sql.DB
}

// Open opens the database at path and creates the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// SavePlayed records key as played at time at.
func (d *DB) SavePlayed(ctx context.Context, key string, at time.Time) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO played (item_key, played_at) VALUES (?, ?)
		 ON CONFLICT(item_key) DO UPDATE SET played_at = excluded.played_at`,
		key, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save played item: %w", err)
	}
	return nil
}

// LoadPlayed returns the limit most recently played keys, oldest first.
func (d *DB) LoadPlayed(ctx context.Context, limit int) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT item_key FROM (
			SELECT item_key, played_at FROM played ORDER BY played_at DESC LIMIT ?
		 ) ORDER BY played_at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load played items: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan played item: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TrimPlayed keeps only the keep most recently played keys.
func (d *DB) TrimPlayed(ctx context.Context, keep int) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM played WHERE item_key NOT IN (
			SELECT item_key FROM played ORDER BY played_at DESC LIMIT ?
		 )`, keep)
	if err != nil {
		return fmt.Errorf("failed to trim played items: %w", err)
	}
	return nil
}

type cookieRow struct {
	host     string
	name     string
	path     string
	value    string
	domain   string
	expires  int64
	secure   bool
	httpOnly bool
}

func (d *DB) saveCookie(ctx context.Context, row cookieRow) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO cookies (host, name, path, value, domain, expires, secure, http_only)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(host, name, path) DO UPDATE SET
			value = excluded.value, domain = excluded.domain, expires = excluded.expires,
			secure = excluded.secure, http_only = excluded.http_only`,
		row.host, row.name, row.path, row.value, row.domain, row.expires, row.secure, row.httpOnly)
	if err != nil {
		return fmt.Errorf("failed to save cookie: %w", err)
	}
	return nil
}

func (d *DB) deleteCookie(ctx context.Context, host, name, path string) error {
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE host = ? AND name = ? AND path = ?`, host, name, path)
	if err != nil {
		return fmt.Errorf("failed to delete cookie: %w", err)
	}
	return nil
}

func (d *DB) loadCookies(ctx context.Context, now time.Time) ([]cookieRow, error) {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM cookies WHERE expires > 0 AND expires <= ?`, now.Unix()); err != nil {
		return nil, fmt.Errorf("failed to purge expired cookies: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT host, name, path, value, domain, expires, secure, http_only FROM cookies`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cookies: %w", err)
	}
	defer rows.Close()

	var cookies []cookieRow
	for rows.Next() {
		var row cookieRow
		if err := rows.Scan(&row.host, &row.name, &row.path, &row.value, &row.domain,
			&row.expires, &row.secure, &row.httpOnly); err != nil {
			return nil, fmt.Errorf("failed to scan cookie: %w", err)
		}
		cookies = append(cookies, row)
	}
	return cookies, rows.Err()
}
