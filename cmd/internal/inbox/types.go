package inbox

import "time"

// Message is one immutable entry of a contact's message log.
type Message struct {
	ID        string
	Contact   string
	Name      string
	Body      string
	Timestamp time.Time
	// IsReply is true for machine-generated replies and false for messages from the contact.
	IsReply bool
}

// Conversation is the per-contact summary derived from the message stream.
type Conversation struct {
	Contact       string
	Name          string
	LastBody      string
	LastTimestamp time.Time
	UnreadCount   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InboundMessage is a normalized webhook event.
// Timestamp is optional; a zero value means "now" at ingestion.
type InboundMessage struct {
	Contact   string
	Name      string
	Body      string
	Timestamp time.Time
}
