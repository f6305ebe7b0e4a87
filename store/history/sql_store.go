package history

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore implements Store using a database/sql connection. One row per
// message; append order is preserved by the autoincrement rowid, which keeps
// the read contract of the original whole-log rewrite while persisting
// incrementally.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Init creates the messages table and its lookup index if they do not exist.
func (s *SQLStore) Init(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			conv_kind TEXT NOT NULL,
			conv_id TEXT NOT NULL,
			msg_id TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			origin TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_log
			ON messages(owner, conv_kind, conv_id, id)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Append(ctx context.Context, owner string, key Key, msg Message) error {
	if key.IsZero() {
		return ErrEmptyKey
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	query := `
		INSERT INTO messages (owner, conv_kind, conv_id, msg_id, sender, text, sent_at, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		owner, string(key.Kind), key.ID,
		msg.ID, msg.Sender, msg.Text,
		msg.SentAt.UTC().Format(time.RFC3339Nano), string(msg.Origin),
	)
	return err
}

func (s *SQLStore) Load(ctx context.Context, owner string, key Key) ([]Message, error) {
	if key.IsZero() {
		return nil, ErrEmptyKey
	}

	query := `
		SELECT msg_id, sender, text, sent_at, origin
		FROM messages
		WHERE owner = ? AND conv_kind = ? AND conv_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, owner, string(key.Kind), key.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		var sentAt, origin string
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Text, &sentAt, &origin); err != nil {
			return nil, err
		}
		msg.Origin = Origin(origin)
		if ts, err := time.Parse(time.RFC3339Nano, sentAt); err == nil {
			msg.SentAt = ts
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (s *SQLStore) Clear(ctx context.Context, owner string, key Key) error {
	if key.IsZero() {
		return ErrEmptyKey
	}

	query := `DELETE FROM messages WHERE owner = ? AND conv_kind = ? AND conv_id = ?`
	_, err := s.db.ExecContext(ctx, query, owner, string(key.Kind), key.ID)
	return err
}
