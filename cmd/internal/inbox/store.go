package inbox

import (
	"context"
	"time"
)

const (
	// DefaultMessageLimit is used when a caller asks for limit <= 0.
	DefaultMessageLimit = 50
	// MaxMessageLimit caps a single message page.
	MaxMessageLimit = 200
)

// MessageStore persists the append-only message log.
//
// Requirements:
//   - AppendMessage assigns a fresh unique id on every call (retries create new rows)
//   - ListByContact returns newest-first by timestamp, ties broken by id
//   - DeleteByContact is idempotent
type MessageStore interface {
	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	ListByContact(ctx context.Context, contact string, limit int) ([]Message, error)
	DeleteByContact(ctx context.Context, contact string) (int64, error)
}

// ConversationStore persists one summary row per contact.
//
// Requirements:
//   - UpsertConversation is a single atomic store operation: create with unread=1 or
//     overwrite the last-message fields and increment unread by exactly 1
//   - ListConversations is ordered by last timestamp, newest first
//   - MarkRead and DeleteConversation are no-ops for unknown contacts
type ConversationStore interface {
	UpsertConversation(ctx context.Context, in UpsertConversationInput) (Conversation, error)
	ListConversations(ctx context.Context) ([]Conversation, error)
	MarkRead(ctx context.Context, contact string) error
	DeleteConversation(ctx context.Context, contact string) error
}

// Store is a backend that provides both collections.
type Store interface {
	MessageStore
	ConversationStore

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// AppendMessageInput describes a message append request.
type AppendMessageInput struct {
	Contact   string
	Name      string
	Body      string
	Timestamp time.Time
	IsReply   bool
}

// UpsertConversationInput describes a conversation upsert request.
type UpsertConversationInput struct {
	Contact       string
	Name          string
	LastBody      string
	LastTimestamp time.Time
}

// NormalizeLimit maps limit <= 0 to DefaultMessageLimit and clamps to MaxMessageLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		return MaxMessageLimit
	}
	return limit
}

func (in AppendMessageInput) validate(op string) error {
	if in.Contact == "" {
		return validationErr(op, "missing contact")
	}
	if in.Timestamp.IsZero() {
		return validationErr(op, "missing timestamp")
	}
	return nil
}

func (in UpsertConversationInput) validate(op string) error {
	if in.Contact == "" {
		return validationErr(op, "missing contact")
	}
	if in.LastTimestamp.IsZero() {
		return validationErr(op, "missing last timestamp")
	}
	return nil
}
