// Package sqlite implements the primary durable channel on SQLite.
//
// WHY SQLITE FOR THE PRIMARY CHANNEL?
// The primary store must survive restarts, tolerate concurrent readers from
// several engine processes on one machine, and need zero infrastructure.
// SQLite is an embedded database — it lives inside the binary as a single
// file. We use modernc.org/sqlite, a pure-Go translation of the SQLite C
// code, so no C compiler is needed and cross-compilation stays painless.
//
// The schema is a plain key/value table. The engine treats every channel as
// an unversioned byte store by contract; giving the primary channel real
// columns would invite exactly the kind of channel-specific coupling the
// replicator exists to avoid.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	// Blank import registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/rewards-engine/internal/apperror"
)

// Store wraps a sql.DB connection pool and implements channel.Adapter.
type Store struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/rewards.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func New(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Ping forces an immediate connection so a bad path or permissions
	// problem surfaces here rather than on the first query.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL mode allows concurrent reads while a write is in flight. Several
	// engine processes share this file, so the default whole-file write lock
	// would serialize every merged read behind every fan-out write.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// busy_timeout makes concurrent writers queue briefly instead of
	// failing immediately with SQLITE_BUSY.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return s, nil
}

// Close closes the connection pool. Always defer this next to New.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}
	return nil
}

// Name identifies this channel in logs and merge decisions.
func (s *Store) Name() string { return "sqlite" }

// Get returns the value stored under key, or apperror.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key = ?`, key,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("key", key)
		}
		return nil, apperror.Unavailable(s.Name(), err)
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	if err != nil {
		return apperror.Unavailable(s.Name(), err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return apperror.Unavailable(s.Name(), err)
	}
	return nil
}

// Keys returns every key with the given prefix, sorted. Used by the cookie
// jar and the mirror outbox to enumerate their namespaces.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	// ESCAPE clause: a literal underscore in the prefix (cookie names contain
	// them) would otherwise act as a single-character LIKE wildcard.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.conn.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`,
		escaped+"%",
	)
	if err != nil {
		return nil, apperror.Unavailable(s.Name(), err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, apperror.Unavailable(s.Name(), err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Unavailable(s.Name(), err)
	}
	return keys, nil
}
