// Package v1 defines the inbox realtime contract pushed to connected viewers.
//
// The shapes here are wire-stable: viewers written against them must keep working.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type constants (wire-stable).
const (
	// TypeNewMessage announces a freshly ingested message (server -> all viewers).
	TypeNewMessage = "new_message"
)

// Event is the canonical frame written to viewer sockets.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Validate performs structural validation for an Event.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	switch e.Type {
	case TypeNewMessage:
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if len(e.Data) == 0 {
		return errors.New("missing field: data")
	}
	return nil
}

// MessageData is the payload of a new_message event.
type MessageData struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	IsFromBot bool      `json:"isFromBot"`
}

// NewMessageEvent wraps data into a new_message Event.
func NewMessageEvent(data MessageData) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: TypeNewMessage, Data: raw}, nil
}

// DecodeMessage extracts the MessageData of a new_message Event.
func (e Event) DecodeMessage() (MessageData, error) {
	if e.Type != TypeNewMessage {
		return MessageData{}, fmt.Errorf("not a %s event: %q", TypeNewMessage, e.Type)
	}
	var d MessageData
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return MessageData{}, err
	}
	return d, nil
}
