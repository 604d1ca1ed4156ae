package inbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is a dev-only fallback when no database is configured.
// Nothing is evicted: messages leave only through DeleteByContact.
// A single mutex makes UpsertConversation atomic with respect to concurrent upserts.
type InMemoryStore struct {
	mu    sync.Mutex
	msgs  map[string][]Message // contact -> messages in insertion order
	convs map[string]Conversation
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		msgs:  make(map[string][]Message),
		convs: make(map[string]Conversation),
	}
}

// Ping always succeeds.
func (s *InMemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// AppendMessage stores a message under a fresh id.
func (s *InMemoryStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "inbox.InMemoryStore.AppendMessage"
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
	msg := Message{
		ID:        id,
		Contact:   in.Contact,
		Name:      in.Name,
		Body:      in.Body,
		Timestamp: in.Timestamp,
		IsReply:   in.IsReply,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs[in.Contact] = append(s.msgs[in.Contact], msg)
	return msg, nil
}

// ListByContact returns the newest limit messages, newest first.
func (s *InMemoryStore) ListByContact(ctx context.Context, contact string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("inbox.InMemoryStore.ListByContact", err)
	}
	limit = NormalizeLimit(limit)

	s.mu.Lock()
	snap := append([]Message(nil), s.msgs[contact]...)
	s.mu.Unlock()

	sort.SliceStable(snap, func(i, j int) bool {
		if !snap[i].Timestamp.Equal(snap[j].Timestamp) {
			return snap[i].Timestamp.After(snap[j].Timestamp)
		}
		return snap[i].ID > snap[j].ID
	})
	if len(snap) > limit {
		snap = snap[:limit]
	}
	return snap, nil
}

// DeleteByContact removes every message of contact.
func (s *InMemoryStore) DeleteByContact(ctx context.Context, contact string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storageErr("inbox.InMemoryStore.DeleteByContact", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.msgs[contact]))
	delete(s.msgs, contact)
	return n, nil
}

// UpsertConversation creates the row with unread=1 or updates it and increments unread.
func (s *InMemoryStore) UpsertConversation(ctx context.Context, in UpsertConversationInput) (Conversation, error) {
	const op = "inbox.InMemoryStore.UpsertConversation"
	if err := in.validate(op); err != nil {
		return Conversation{}, err
	}
	if err := ctx.Err(); err != nil {
		return Conversation{}, storageErr(op, err)
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[in.Contact]
	if !ok {
		c = Conversation{Contact: in.Contact, CreatedAt: now}
	}
	c.Name = in.Name
	c.LastBody = in.LastBody
	c.LastTimestamp = in.LastTimestamp
	c.UnreadCount++
	c.UpdatedAt = now
	s.convs[in.Contact] = c
	return c, nil
}

// ListConversations returns every conversation, most recent first.
func (s *InMemoryStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("inbox.InMemoryStore.ListConversations", err)
	}

	s.mu.Lock()
	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastTimestamp.Equal(out[j].LastTimestamp) {
			return out[i].LastTimestamp.After(out[j].LastTimestamp)
		}
		return out[i].Contact < out[j].Contact
	})
	return out, nil
}

// MarkRead resets the unread counter; unknown contacts are ignored.
func (s *InMemoryStore) MarkRead(ctx context.Context, contact string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("inbox.InMemoryStore.MarkRead", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[contact]
	if !ok {
		return nil
	}
	c.UnreadCount = 0
	c.UpdatedAt = time.Now().UTC()
	s.convs[contact] = c
	return nil
}

// DeleteConversation removes the contact's row; unknown contacts are ignored.
func (s *InMemoryStore) DeleteConversation(ctx context.Context, contact string) error {
	if err := ctx.Err(); err != nil {
		return storageErr("inbox.InMemoryStore.DeleteConversation", err)
	}

	s.mu.Lock()
	delete(s.convs, contact)
	s.mu.Unlock()
	return nil
}
