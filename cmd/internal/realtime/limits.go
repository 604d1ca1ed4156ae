package realtime

import "time"

const (
	// Viewers only receive; inbound frames are read to service control frames and discarded.
	maxFrameBytes = 4 << 10 // 4 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound frame budget.
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
