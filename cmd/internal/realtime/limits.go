package realtime

import "time"

const (
	// Clients never send data frames; anything larger than a control frame
	// is a protocol violation.
	maxFrameBytes = 4 << 10 // 4 KiB

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
)
