package api

import (
	"time"

	"inbox/cmd/internal/inbox"
)

type webhookRequest struct {
	Phone     string  `json:"phone"`
	Name      string  `json:"name"`
	Message   string  `json:"message"`
	Timestamp *string `json:"timestamp,omitempty"`
}

type webhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type conversationResponse struct {
	Phone         string    `json:"phone"`
	Name          string    `json:"name"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	UnreadCount   int64     `json:"unreadCount"`
}

type conversationsResponse struct {
	Conversations []conversationResponse `json:"conversations"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsFromBot bool      `json:"isFromBot"`
}

type messagesResponse struct {
	Messages []messageResponse `json:"messages"`
}

func toConversationResponse(c inbox.Conversation) conversationResponse {
	return conversationResponse{
		Phone:         c.Contact,
		Name:          c.Name,
		LastMessage:   c.LastBody,
		LastTimestamp: c.LastTimestamp,
		UnreadCount:   c.UnreadCount,
	}
}

func toMessageResponse(m inbox.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Phone:     m.Contact,
		Name:      m.Name,
		Message:   m.Body,
		Timestamp: m.Timestamp,
		IsFromBot: m.IsReply,
	}
}
