package usage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeLayout = "2006-01-02 15:04:05.000"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// DB wraps the probe_cooldowns SQLite store backing the secondary
// providers' probe backoff, adapted from the teacher's internal/db
// package onto this spec's single table.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the probe_cooldowns schema exists.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS probe_cooldowns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			account_id TEXT NOT NULL,
			hit_at TEXT NOT NULL,
			cooldown_until TEXT NOT NULL,
			notes TEXT
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create probe_cooldowns: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
