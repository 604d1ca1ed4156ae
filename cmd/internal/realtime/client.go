package realtime

import (
	"sync"

	v1 "inbox/contracts/realtime/v1"

	"github.com/google/uuid"
)

const defaultSendQueueSize = 64

// Client represents one connected viewer session.
//
// Send is never closed by the server so a concurrent Publish cannot panic.
// done signals the session goroutines to stop; Close is idempotent.
type Client struct {
	SessionID string
	Send      chan v1.Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a fresh session id and a bounded send queue.
func NewClient(sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		SessionID: uuid.NewString(),
		Send:      make(chan v1.Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
