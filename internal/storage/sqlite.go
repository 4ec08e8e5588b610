package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hanamilabs/tg-forwarder/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the session file: the account that last authenticated under
// a session name and a username -> chat id cache. It never records relayed
// messages.
type SQLiteStore struct {
	db *sql.DB
}

func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			session_name TEXT PRIMARY KEY,
			telegram_user_id INTEGER NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			last_login_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS username_index (
			username TEXT PRIMARY KEY,
			telegram_chat_id INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("run migration query: %w", err)
		}
	}

	return nil
}

func (s *SQLiteStore) SaveAccount(ctx context.Context, sessionName string, identity domain.Identity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (session_name, telegram_user_id, first_name, last_name, username, last_login_at)
		VALUES (?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(session_name)
		DO UPDATE SET
			telegram_user_id = excluded.telegram_user_id,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			username = excluded.username,
			last_login_at = datetime('now');
	`, sessionName, identity.ID, identity.FirstName, identity.LastName, identity.Username)
	return err
}

func (s *SQLiteStore) LoadAccount(ctx context.Context, sessionName string) (domain.Identity, bool, error) {
	var identity domain.Identity
	err := s.db.QueryRowContext(ctx, `
		SELECT telegram_user_id, first_name, last_name, username
		FROM accounts
		WHERE session_name = ?
		LIMIT 1;
	`, sessionName).Scan(&identity.ID, &identity.FirstName, &identity.LastName, &identity.Username)
	if err == nil {
		return identity, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Identity{}, false, nil
	}
	return domain.Identity{}, false, err
}

func (s *SQLiteStore) LookupPeer(ctx context.Context, username string) (int64, bool, error) {
	var chatID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT telegram_chat_id FROM username_index WHERE username = ? LIMIT 1;
	`, normalizeUsername(username)).Scan(&chatID)
	if err == nil {
		return chatID, true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return 0, false, err
}

func (s *SQLiteStore) RememberPeer(ctx context.Context, username string, chatID int64) error {
	key := normalizeUsername(username)
	if key == "" {
		return errors.New("empty username")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO username_index (username, telegram_chat_id, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(username)
		DO UPDATE SET
			telegram_chat_id = excluded.telegram_chat_id,
			updated_at = datetime('now');
	`, key, chatID)
	return err
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
