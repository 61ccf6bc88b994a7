package store

import "time"

// MemoryCheckpoint is the archival cursor of a (group, user) pair.
type MemoryCheckpoint struct {
	GroupID              string
	UserID               string
	LastMessageID        string
	LastMessageCreatedAt time.Time
	UpdatedAt            time.Time
}

// MemoryDeadLetter records an archival batch that exhausted its retries.
type MemoryDeadLetter struct {
	ID         string
	GroupID    string
	UserID     string
	Error      string
	Payload    map[string]any
	RetryCount int
	CreatedAt  time.Time
}

// FindMemoryDeadLetter specifies the conditions for listing dead letters, oldest first.
type FindMemoryDeadLetter struct {
	GroupID *string
	UserID  *string
	Limit   int
}

// Audit event types.
const (
	AuditArchiveStart   = "archive_start"
	AuditArchiveSuccess = "archive_success"
	AuditArchiveFailed  = "archive_failed"
	AuditRetrieveEmpty  = "retrieve_empty"
	AuditRetrieveHit    = "retrieve_hit"
)

// MemoryAuditLog is an append-only record of an archive or retrieve decision.
type MemoryAuditLog struct {
	ID        string
	RequestID string
	GroupID   string
	UserID    string
	EventType string
	Scope     string
	MemoryIDs []string
	Detail    string
	CreatedAt time.Time
}

// FindMemoryAuditLog specifies the conditions for listing audit rows, newest first.
type FindMemoryAuditLog struct {
	GroupID   *string
	UserID    *string
	EventType *string
	Limit     int
}
