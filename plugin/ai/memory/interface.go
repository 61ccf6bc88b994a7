// Package memory archives durable facts out of group conversations and injects
// the relevant ones back into later turns.
package memory

import (
	"context"
	"errors"
	"time"

	"github.com/hrygo/groupmind/store"
)

// ErrMemoryDisabled is returned by explicit operations on a group whose
// memory is switched off.
var ErrMemoryDisabled = errors.New("long-term memory is disabled for this group")

// MemoryService is the long-term memory surface used by the chat turn loop.
type MemoryService interface {
	// ArchiveIncremental extracts memories from messages after the (group, user)
	// checkpoint. Failures are retried and then dead-lettered.
	ArchiveIncremental(ctx context.Context, group *store.Group, userID string, force bool, reason string) (*ArchiveResult, error)

	// ScheduleArchive runs ArchiveIncremental in the background.
	ScheduleArchive(group *store.Group, userID, reason string)

	// BuildInjectionContext returns the memory block for a turn, or "" when
	// nothing relevant was found.
	BuildInjectionContext(ctx context.Context, group *store.Group, userID, query string, maxContextTokens int, opts RetrieveOptions) string

	// GroupStats reports memory counts and the latest retrieval of a group.
	GroupStats(ctx context.Context, groupID string) (*GroupStats, error)
}

// Candidate is one memory proposed by the extractor.
type Candidate struct {
	Scope      store.MemoryScope `json:"scope"`
	MemoryType string            `json:"memory_type"`
	Content    string            `json:"content"`
	Confidence float64           `json:"confidence"`
	SenderName string            `json:"sender_name,omitempty"`
}

// ArchiveResult describes one archival run.
type ArchiveResult struct {
	RequestID    string
	Skipped      bool
	SkipReason   string
	MessageCount int
	Extracted    int
	Prepared     int
	MemoryIDs    []string
	Attempts     int
	DeadLettered bool
}

// RetrieveOptions narrow a retrieval. Empty fields mean no restriction.
type RetrieveOptions struct {
	Types  []string
	Scopes []store.MemoryScope
	// Filter is a CEL expression over memory.scope, memory.memory_type,
	// memory.confidence and memory.content.
	Filter string
}

// RetrievalInfo is the in-memory record of the last retrieval for a (group, user).
type RetrievalInfo struct {
	RetrievedAt  time.Time `json:"retrieved_at"`
	Query        string    `json:"query"`
	Candidates   int       `json:"candidates"`
	SelectedIDs  []string  `json:"selected_ids"`
	TokenBudget  int       `json:"token_budget"`
	BudgetRatio  float64   `json:"budget_ratio"`
	VectorUsed   bool      `json:"vector_used"`
	TypesFilter  []string  `json:"memory_types_filter,omitempty"`
	ScopesFilter []string  `json:"scopes_filter,omitempty"`
}

// GroupStats is the memory overview of one group.
type GroupStats struct {
	ScopeCounts     map[store.MemoryScope]int `json:"scope_counts"`
	TotalRecords    int                       `json:"total_records"`
	DeadLetterCount int                       `json:"dead_letter_count"`
	VectorEnabled   bool                      `json:"vector_enabled"`
	EmbeddedRecords int                       `json:"embedded_records"`
	LastRetrieval   *RetrievalInfo            `json:"last_retrieval,omitempty"`
}

// Store is the persistence the memory core needs. *store.Store satisfies it.
type Store interface {
	HasVectorSupport(ctx context.Context) (bool, error)
	ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error)

	UpsertLongTermMemory(ctx context.Context, upsert *store.LongTermMemory) (*store.LongTermMemory, error)
	SearchLongTermMemories(ctx context.Context, search *store.SearchLongTermMemory) ([]*store.LongTermMemoryWithScore, error)
	ListLongTermMemories(ctx context.Context, find *store.FindLongTermMemory) ([]*store.LongTermMemory, error)
	CountLongTermMemories(ctx context.Context, find *store.FindLongTermMemory) (int, error)
	TouchLongTermMemories(ctx context.Context, touch *store.TouchLongTermMemories) error
	UpdateLongTermMemoryEmbedding(ctx context.Context, update *store.UpdateLongTermMemoryEmbedding) error
	GetLongTermMemoryStats(ctx context.Context, groupID string) (*store.LongTermMemoryStats, error)

	GetMemoryCheckpoint(ctx context.Context, groupID, userID string) (*store.MemoryCheckpoint, error)
	UpsertMemoryCheckpoint(ctx context.Context, upsert *store.MemoryCheckpoint) (*store.MemoryCheckpoint, error)
	ListMemoryCheckpoints(ctx context.Context) ([]*store.MemoryCheckpoint, error)
	CreateMemoryDeadLetter(ctx context.Context, create *store.MemoryDeadLetter) (*store.MemoryDeadLetter, error)
	ListMemoryDeadLetters(ctx context.Context, find *store.FindMemoryDeadLetter) ([]*store.MemoryDeadLetter, error)
	CreateMemoryAuditLog(ctx context.Context, create *store.MemoryAuditLog) (*store.MemoryAuditLog, error)
}
