package inbox

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// NewMessageID returns a ULID (26 chars) for a new message.
// The default entropy source is monotonic, so ids minted in the same millisecond
// still sort in creation order.
func NewMessageID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
