package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// HasVectorSupport reports whether long_term_memory can store and compare embeddings.
	HasVectorSupport(ctx context.Context) (bool, error)

	// Group model related methods.
	UpsertGroup(ctx context.Context, upsert *Group) (*Group, error)
	GetGroup(ctx context.Context, find *FindGroup) (*Group, error)

	// Message model related methods.
	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	// ContextSnapshot model related methods. Drivers persist Payload as-is.
	CreateContextSnapshot(ctx context.Context, create *ContextSnapshot) (*ContextSnapshot, error)
	GetLatestContextSnapshot(ctx context.Context, groupID string) (*ContextSnapshot, error)

	// LongTermMemory model related methods.
	UpsertLongTermMemory(ctx context.Context, upsert *LongTermMemory) (*LongTermMemory, error)
	SearchLongTermMemories(ctx context.Context, search *SearchLongTermMemory) ([]*LongTermMemoryWithScore, error)
	ListLongTermMemories(ctx context.Context, find *FindLongTermMemory) ([]*LongTermMemory, error)
	CountLongTermMemories(ctx context.Context, find *FindLongTermMemory) (int, error)
	TouchLongTermMemories(ctx context.Context, touch *TouchLongTermMemories) error
	UpdateLongTermMemoryEmbedding(ctx context.Context, update *UpdateLongTermMemoryEmbedding) error
	DeactivateLongTermMemories(ctx context.Context, deactivate *DeactivateLongTermMemory) (int, error)
	GetLongTermMemoryStats(ctx context.Context, groupID string) (*LongTermMemoryStats, error)

	// MemoryCheckpoint model related methods.
	GetMemoryCheckpoint(ctx context.Context, groupID, userID string) (*MemoryCheckpoint, error)
	UpsertMemoryCheckpoint(ctx context.Context, upsert *MemoryCheckpoint) (*MemoryCheckpoint, error)
	ListMemoryCheckpoints(ctx context.Context) ([]*MemoryCheckpoint, error)

	// Dead letters and audit logs are append-only.
	CreateMemoryDeadLetter(ctx context.Context, create *MemoryDeadLetter) (*MemoryDeadLetter, error)
	ListMemoryDeadLetters(ctx context.Context, find *FindMemoryDeadLetter) ([]*MemoryDeadLetter, error)
	CreateMemoryAuditLog(ctx context.Context, create *MemoryAuditLog) (*MemoryAuditLog, error)
	ListMemoryAuditLogs(ctx context.Context, find *FindMemoryAuditLog) ([]*MemoryAuditLog, error)
}
