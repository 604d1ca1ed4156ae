package inbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - UpsertConversation is one INSERT ... ON CONFLICT DO UPDATE statement, so concurrent
//     upserts for the same contact neither lose increments nor create duplicate rows.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "inbox").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("inbox: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("inbox: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "inbox",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("inbox: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Ping checks if a connection can be acquired.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("inbox.PostgresStore.Ping", err)
	}
	return nil
}

// EnsureSchema creates the schema, tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	messages := pgIdent(s.schema, "messages")
	conversations := pgIdent(s.schema, "conversations")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %s;

CREATE TABLE IF NOT EXISTS %s (
  id         TEXT PRIMARY KEY,
  contact    TEXT NOT NULL,
  name       TEXT NOT NULL,
  body       TEXT NOT NULL,
  ts         TIMESTAMPTZ NOT NULL,
  is_reply   BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_contact_ts_desc
  ON %s (contact, ts DESC, id DESC);

CREATE TABLE IF NOT EXISTS %s (
  contact      TEXT PRIMARY KEY,
  name         TEXT NOT NULL,
  last_body    TEXT NOT NULL,
  last_ts      TIMESTAMPTZ NOT NULL,
  unread_count BIGINT NOT NULL DEFAULT 0 CHECK (unread_count >= 0),
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_last_ts_desc
  ON %s (last_ts DESC);
`, pgx.Identifier{s.schema}.Sanitize(), messages, messages, conversations, conversations)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return storageErr("inbox.PostgresStore.EnsureSchema", err)
	}
	return nil
}

// AppendMessage inserts a message under a fresh ULID.
func (s *PostgresStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "inbox.PostgresStore.AppendMessage"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, storageErr(op, err)
	}

	id, err := NewMessageID(time.Now().UTC())
	if err != nil {
		return Message{}, storageErr(op, err)
	}
	// TIMESTAMPTZ keeps microseconds.
	ts := in.Timestamp.UTC().Truncate(time.Microsecond)

	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "messages")+` (id, contact, name, body, ts, is_reply)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.Contact, in.Name, in.Body, ts, in.IsReply,
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
func (s *PostgresStore) ListByContact(ctx context.Context, contact string, limit int) ([]Message, error) {
	const op = "inbox.PostgresStore.ListByContact"
	if err := ctx.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	limit = NormalizeLimit(limit)

	rows, err := s.pool.Query(ctx,
		`SELECT id, contact, name, body, ts, is_reply
		   FROM `+pgIdent(s.schema, "messages")+`
		  WHERE contact = $1
		  ORDER BY ts DESC, id DESC
		  LIMIT $2`,
		contact, limit,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Contact, &m.Name, &m.Body, &m.Timestamp, &m.IsReply); err != nil {
			return nil, storageErr(op, err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return msgs, nil
}

// DeleteByContact removes all messages of contact and reports how many were removed.
func (s *PostgresStore) DeleteByContact(ctx context.Context, contact string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "messages")+` WHERE contact = $1`,
		contact,
	)
	if err != nil {
		return 0, storageErr("inbox.PostgresStore.DeleteByContact", err)
	}
	return tag.RowsAffected(), nil
}

// UpsertConversation creates or updates the contact's row and increments unread by one.
func (s *PostgresStore) UpsertConversation(ctx context.Context, in UpsertConversationInput) (Conversation, error) {
	const op = "inbox.PostgresStore.UpsertConversation"
	if err := in.validate(op); err != nil {
		return Conversation{}, err
	}

	var c Conversation
	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "conversations")+` AS c
		     (contact, name, last_body, last_ts, unread_count)
		 VALUES ($1, $2, $3, $4, 1)
		 ON CONFLICT (contact) DO UPDATE
		    SET name         = EXCLUDED.name,
		        last_body    = EXCLUDED.last_body,
		        last_ts      = EXCLUDED.last_ts,
		        unread_count = c.unread_count + 1,
		        updated_at   = now()
		 RETURNING contact, name, last_body, last_ts, unread_count, created_at, updated_at`,
		in.Contact, in.Name, in.LastBody, in.LastTimestamp,
	).Scan(&c.Contact, &c.Name, &c.LastBody, &c.LastTimestamp, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Conversation{}, storageErr(op, err)
	}
	c.LastTimestamp = c.LastTimestamp.UTC()
	return c, nil
}

// ListConversations returns every conversation, most recent first.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	const op = "inbox.PostgresStore.ListConversations"

	rows, err := s.pool.Query(ctx,
		`SELECT contact, name, last_body, last_ts, unread_count, created_at, updated_at
		   FROM `+pgIdent(s.schema, "conversations")+`
		  ORDER BY last_ts DESC, contact ASC`,
	)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	out := make([]Conversation, 0, 32)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Contact, &c.Name, &c.LastBody, &c.LastTimestamp, &c.UnreadCount, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, storageErr(op, err)
		}
		c.LastTimestamp = c.LastTimestamp.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return out, nil
}

// MarkRead resets unread to zero; unknown contacts are ignored.
func (s *PostgresStore) MarkRead(ctx context.Context, contact string) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "conversations")+`
		    SET unread_count = 0, updated_at = now()
		  WHERE contact = $1`,
		contact,
	); err != nil {
		return storageErr("inbox.PostgresStore.MarkRead", err)
	}
	return nil
}

// DeleteConversation removes the contact's row; unknown contacts are ignored.
func (s *PostgresStore) DeleteConversation(ctx context.Context, contact string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgIdent(s.schema, "conversations")+` WHERE contact = $1`,
		contact,
	); err != nil {
		return storageErr("inbox.PostgresStore.DeleteConversation", err)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
