package store

import "time"

// ContextSnapshot is a persisted compacted message list for a group.
// Snapshots are append-only; only the latest per group is read.
type ContextSnapshot struct {
	ID            string
	GroupID       string
	LastMessageID string
	TokenCount    int
	CreatedAt     time.Time

	// Messages is the decoded compacted list. Drivers only see Payload.
	Messages []*Message
	// Payload is the encoded form of Messages as stored by the driver.
	Payload  []byte
}
