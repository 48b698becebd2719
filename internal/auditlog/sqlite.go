package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteLog implements Sink over SQLite.
type SQLiteLog struct {
	db     *sql.DB
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewSQLiteLog opens (or creates) the audit database.
func NewSQLiteLog(dbPath string, logger zerolog.Logger) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	l := &SQLiteLog{db: db, logger: logger.With().Str("component", "auditlog").Logger()}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}
	return l, nil
}

func (l *SQLiteLog) migrate() error {
	_, err := l.db.Exec(`
	CREATE TABLE IF NOT EXISTS auto_replies (
		id            TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		account_id    TEXT NOT NULL,
		chat_id       INTEGER NOT NULL,
		chat_title    TEXT NOT NULL DEFAULT '',
		chat_type     TEXT NOT NULL DEFAULT '',
		surface       TEXT NOT NULL,
		original_text TEXT NOT NULL,
		reply_text    TEXT NOT NULL,
		sent_at       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auto_replies_account ON auto_replies(account_id, sent_at);
	`)
	return err
}

// Close closes the database connection.
func (l *SQLiteLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// LogAutoReply implements Sink.
func (l *SQLiteLog) LogAutoReply(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
	INSERT INTO auto_replies (
		id, owner_user_id, account_id, chat_id, chat_title, chat_type,
		surface, original_text, reply_text, sent_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerUserID, rec.AccountID, rec.ChatID, rec.ChatTitle,
		rec.ChatType, rec.Surface, rec.OriginalText, rec.ReplyText,
		rec.SentAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write auto-reply record: %w", err)
	}
	return nil
}

// Recent returns up to limit records for an account, newest first.
// Empty accountID returns records across all accounts.
func (l *SQLiteLog) Recent(ctx context.Context, accountID string, limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, owner_user_id, account_id, chat_id, chat_title, chat_type,
		surface, original_text, reply_text, sent_at FROM auto_replies`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-reply records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var sentAt int64
		if err := rows.Scan(&r.ID, &r.OwnerUserID, &r.AccountID, &r.ChatID, &r.ChatTitle,
			&r.ChatType, &r.Surface, &r.OriginalText, &r.ReplyText, &sentAt); err != nil {
			return nil, fmt.Errorf("failed to scan auto-reply record: %w", err)
		}
		r.SentAt = time.UnixMilli(sentAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
