package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by an embedded SQLite file.
//
// Timestamps are stored as unix microseconds so ORDER BY sorts chronologically across
// the whole year 1 to 9999 range. Sub-microsecond precision is dropped.
// The pool is pinned to one connection; SQLite serializes writers anyway and this keeps
// the upsert free of SQLITE_BUSY retries.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Parent directories are created if needed.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "store.sqlite")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("store.sqlite.ready", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("inbox.SQLiteStore.Ping", err)
	}
	return nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			contact    TEXT NOT NULL,
			name       TEXT NOT NULL,
			body       TEXT NOT NULL,
			ts         INTEGER NOT NULL,
			is_reply   INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_contact_ts
			ON messages(contact, ts DESC, id DESC);

		CREATE TABLE IF NOT EXISTS conversations (
			contact      TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			last_body    TEXT NOT NULL,
			last_ts      INTEGER NOT NULL,
			unread_count INTEGER NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
			created_at   INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_ts
			ON conversations(last_ts DESC);
	`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return storageErr("inbox.SQLiteStore.EnsureSchema", err)
	}
	return nil
}

// AppendMessage inserts a message under a fresh ULID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "inbox.SQLiteStore.AppendMessage"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}

	now := time.Now().UTC()
	ts := in.Timestamp.UTC().Truncate(time.Microsecond)
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, storageErr(op, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, contact, name, body, ts, is_reply, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, in.Contact, in.Name, in.Body, ts.UnixMicro(), in.IsReply, now.UnixMicro(),
	); err != nil {
		return Message{}, storageErr(op, fmt.Errorf("insert message: %w", err))
	}

	return Message{
		ID:        id,
		Contact:   in.Contact,
		Name:      in.Name,
		Body:      in.Body,
		Timestamp: ts,
		IsReply:   in.IsReply,
	}, nil
}

// ListByContact returns the newest limit messages of contact, newest first.
func (s *SQLiteStore) ListByContact(ctx context.Context, contact string, limit int) ([]Message, error) {
	const op = "inbox.SQLiteStore.ListByContact"
	limit = NormalizeLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, contact, name, body, ts, is_reply
		   FROM messages
		  WHERE contact = ?
		  ORDER BY ts DESC, id DESC
		  LIMIT ?`,
		contact, limit,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.Contact, &m.Name, &m.Body, &ts, &m.IsReply); err != nil {
			return nil, storageErr(op, err)
		}
		m.Timestamp = fromUnixMicro(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return msgs, nil
}

// DeleteByContact removes all messages of contact and reports how many were removed.
func (s *SQLiteStore) DeleteByContact(ctx context.Context, contact string) (int64, error) {
	const op = "inbox.SQLiteStore.DeleteByContact"

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE contact = ?`, contact)
	if err != nil {
		return 0, storageErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr(op, err)
	}
	return n, nil
}

// UpsertConversation creates or updates the contact's row and increments unread by one.
func (s *SQLiteStore) UpsertConversation(ctx context.Context, in UpsertConversationInput) (Conversation, error) {
	const op = "inbox.SQLiteStore.UpsertConversation"
	if err := in.validate(op); err != nil {
		return Conversation{}, err
	}

	now := time.Now().UTC().UnixMicro()

	var (
		c                            Conversation
		lastTS, createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO conversations (contact, name, last_body, last_ts, unread_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(contact) DO UPDATE
		    SET name         = excluded.name,
		        last_body    = excluded.last_body,
		        last_ts      = excluded.last_ts,
		        unread_count = conversations.unread_count + 1,
		        updated_at   = excluded.updated_at
		 RETURNING contact, name, last_body, last_ts, unread_count, created_at, updated_at`,
		in.Contact, in.Name, in.LastBody, in.LastTimestamp.UnixMicro(), now, now,
	).Scan(&c.Contact, &c.Name, &c.LastBody, &lastTS, &c.UnreadCount, &createdAt, &updatedAt)
	if err != nil {
		return Conversation{}, storageErr(op, err)
	}
	c.LastTimestamp = fromUnixMicro(lastTS)
	c.CreatedAt = fromUnixMicro(createdAt)
	c.UpdatedAt = fromUnixMicro(updatedAt)
	return c, nil
}

// ListConversations returns every conversation, most recent first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	const op = "inbox.SQLiteStore.ListConversations"

	rows, err := s.db.QueryContext(ctx,
		`SELECT contact, name, last_body, last_ts, unread_count, created_at, updated_at
		   FROM conversations
		  ORDER BY last_ts DESC, contact ASC`,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c                            Conversation
			lastTS, createdAt, updatedAt int64
		)
		if err := rows.Scan(&c.Contact, &c.Name, &c.LastBody, &lastTS, &c.UnreadCount, &createdAt, &updatedAt); err != nil {
			return nil, storageErr(op, err)
		}
		c.LastTimestamp = fromUnixMicro(lastTS)
		c.CreatedAt = fromUnixMicro(createdAt)
		c.UpdatedAt = fromUnixMicro(updatedAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// MarkRead resets unread to zero; unknown contacts are ignored.
func (s *SQLiteStore) MarkRead(ctx context.Context, contact string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = ? WHERE contact = ?`,
		time.Now().UTC().UnixMicro(), contact,
	); err != nil {
		return storageErr("inbox.SQLiteStore.MarkRead", err)
	}
	return nil
}

// DeleteConversation removes the contact's row; unknown contacts are ignored.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, contact string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE contact = ?`, contact); err != nil {
		return storageErr("inbox.SQLiteStore.DeleteConversation", err)
	}
	return nil
}

func fromUnixMicro(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}
