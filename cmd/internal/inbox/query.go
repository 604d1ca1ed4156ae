package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Service is the read side: conversation listing, thread reads and thread deletion.
type Service struct {
	log           *slog.Logger
	messages      MessageStore
	conversations ConversationStore
}

// NewService constructs a query Service.
func NewService(log *slog.Logger, messages MessageStore, conversations ConversationStore) (*Service, error) {
	if messages == nil || conversations == nil {
		return nil, errors.New("inbox: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{log: log, messages: messages, conversations: conversations}, nil
}

// ListConversations returns all conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context) ([]Conversation, error) {
	return s.conversations.ListConversations(ctx)
}

// GetMessages returns up to limit of the contact's most recent messages, oldest first,
// and marks the conversation as read.
//
// A mark-read failure fails the whole call: the thread counts as read only when the
// unread counter was actually reset.
func (s *Service) GetMessages(ctx context.Context, contact string, limit int) ([]Message, error) {
	contact = NormalizeContact(contact)
	if contact == "" {
		return nil, validationErr("inbox.Service.GetMessages", "missing contact")
	}

	msgs, err := s.messages.ListByContact(ctx, contact, NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	slices.Reverse(msgs)

	if err := s.conversations.MarkRead(ctx, contact); err != nil {
		s.log.Error("query.mark_read.fail", "contact", contact, "err", err)
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return msgs, nil
}

// DeleteThread removes the contact's messages and then its conversation row.
// If message deletion fails the conversation row is kept, so the contact stays listed.
func (s *Service) DeleteThread(ctx context.Context, contact string) (int64, error) {
	contact = NormalizeContact(contact)
	if contact == "" {
		return 0, validationErr("inbox.Service.DeleteThread", "missing contact")
	}

	n, err := s.messages.DeleteByContact(ctx, contact)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	if err := s.conversations.DeleteConversation(ctx, contact); err != nil {
		s.log.Error("query.delete_conversation.fail", "contact", contact, "messages_deleted", n, "err", err)
		return n, fmt.Errorf("delete conversation: %w", err)
	}

	s.log.Info("query.thread.deleted", "contact", contact, "messages_deleted", n)
	return n, nil
}
