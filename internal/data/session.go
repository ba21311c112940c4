package data

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/larkgate/larkgate/internal/biz/repo"
)

// Timestamps are stored as Unix epoch seconds.
const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	chat_id       TEXT PRIMARY KEY,
	session_key   TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	last_msg_id   TEXT NOT NULL DEFAULT '',
	last_msg_time INTEGER NOT NULL DEFAULT 0,
	last_reply_at INTEGER NOT NULL DEFAULT 0
);
`

// SessionStore keeps per-chat session bookkeeping in a local sqlite file.
type SessionStore struct {
	db *sql.DB
}

var _ repo.SessionRepo = (*SessionStore)(nil)

// NewSessionStore opens (and migrates) the store at path, creating parent
// directories as needed.
func NewSessionStore(path string) (*SessionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	// sqlite serializes writers; a single connection avoids lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session db: %w", err)
	}
	return &SessionStore{db: db}, nil
}

// Observe records the message against the chat's session and returns the
// session key, minting one on first sight of the chat.
func (s *SessionStore) Observe(ctx context.Context, chatID, messageID string, at time.Time) (string, error) {
	now := time.Now().Unix()

	var key string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_key FROM sessions WHERE chat_id = ?`, chatID).Scan(&key)
	switch {
	case err == sql.ErrNoRows:
		key = uuid.NewString()
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (chat_id, session_key, created_at, updated_at, last_msg_id, last_msg_time)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			chatID, key, now, now, messageID, at.Unix())
		if err != nil {
			return "", fmt.Errorf("insert session: %w", err)
		}
		return key, nil
	case err != nil:
		return "", fmt.Errorf("lookup session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ?, last_msg_id = ?, last_msg_time = ? WHERE chat_id = ?`,
		now, messageID, at.Unix(), chatID)
	if err != nil {
		return "", fmt.Errorf("update session: %w", err)
	}
	return key, nil
}

// MarkReplied stamps the chat's last completed reply cycle.
func (s *SessionStore) MarkReplied(ctx context.Context, chatID string) error {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_reply_at = ?, updated_at = ? WHERE chat_id = ?`,
		now, now, chatID)
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

// CleanupStale deletes sessions not touched since before.
func (s *SessionStore) CleanupStale(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE updated_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}
