// Package token persists the opaque session token across process restarts.
// Only the token is stored; the profile is re-fetched from the gateway on
// startup.
package token

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StorageKey is the single well-known row the token lives under.
const StorageKey = "libres_session_token"

// SQLiteStore implements the authflow TokenStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a token store and ensures its schema exists.
// PRE: db is a valid database connection
// POST: the session_token table exists
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS session_token (
		key TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create session_token table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load retrieves the persisted token. An absent row is not an error; it
// returns the empty string, meaning anonymous.
// PRE: none
// POST: Returns the stored token or ""
func (s *SQLiteStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx,
		"SELECT token FROM session_token WHERE key = ?", StorageKey).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load session token: %w", err)
	}
	return token, nil
}

// Save upserts the token under the well-known key.
// PRE: token is non-empty
// POST: the token survives a process restart
func (s *SQLiteStore) Save(ctx context.Context, token string) error {
	query := `
	INSERT INTO session_token (key, token, saved_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET token=excluded.token, saved_at=excluded.saved_at`
	_, err := s.db.ExecContext(ctx, query, StorageKey, token,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save session token: %w", err)
	}
	return nil
}

// Clear removes the token. Clearing an absent token is a no-op.
// PRE: none
// POST: no token is stored
func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM session_token WHERE key = ?", StorageKey)
	if err != nil {
		return fmt.Errorf("clear session token: %w", err)
	}
	return nil
}
