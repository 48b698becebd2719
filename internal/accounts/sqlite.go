package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements SettingsProvider and Directory over the daemon's
// SQLite database. The settings UI writes the same table from its own
// process; WAL mode keeps the two sides from blocking each other.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database and runs migrations.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "accounts_store").Logger(),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS accounts (
		id                        TEXT PRIMARY KEY,
		owner_user_id             TEXT NOT NULL,
		auth_key                  TEXT NOT NULL DEFAULT '',
		auto_reply_dm_enabled     INTEGER NOT NULL DEFAULT 0,
		auto_reply_dm_message     TEXT NOT NULL DEFAULT '',
		auto_reply_groups_enabled INTEGER NOT NULL DEFAULT 0,
		auto_reply_groups_message TEXT NOT NULL DEFAULT '',
		updated_at                INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_accounts_owner ON accounts(owner_user_id);
	`)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const accountColumns = `id, owner_user_id, auth_key,
	auto_reply_dm_enabled, auto_reply_dm_message,
	auto_reply_groups_enabled, auto_reply_groups_message`

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.OwnerUserID, &a.AuthKey,
		&a.AutoReplyDMEnabled, &a.AutoReplyDMMessage,
		&a.AutoReplyGroupsEnabled, &a.AutoReplyGroupsMessage,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccountSettings implements SettingsProvider.
func (s *SQLiteStore) GetAccountSettings(ctx context.Context, accountID string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}
	return a, nil
}

// ListEnabled implements Directory.
func (s *SQLiteStore) ListEnabled(ctx context.Context) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE (auto_reply_dm_enabled = 1 AND TRIM(auto_reply_dm_message) != '')
		    OR (auto_reply_groups_enabled = 1 AND TRIM(auto_reply_groups_message) != '')`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OwnerOf implements Directory.
func (s *SQLiteStore) OwnerOf(ctx context.Context, accountID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var owner string
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_user_id FROM accounts WHERE id = ?`, accountID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve owner of %s: %w", accountID, err)
	}
	return owner, nil
}

// Upsert writes an account row. Used by tests and the import tooling; the
// production writer is the external settings service.
func (s *SQLiteStore) Upsert(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
	INSERT OR REPLACE INTO accounts (
		id, owner_user_id, auth_key,
		auto_reply_dm_enabled, auto_reply_dm_message,
		auto_reply_groups_enabled, auto_reply_groups_message,
		updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		a.ID, a.OwnerUserID, a.AuthKey,
		a.AutoReplyDMEnabled, a.AutoReplyDMMessage,
		a.AutoReplyGroupsEnabled, a.AutoReplyGroupsMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
	}
	return nil
}
