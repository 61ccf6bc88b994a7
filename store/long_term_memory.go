package store

import "time"

// MemoryScope is the isolation boundary of a long-term memory record.
type MemoryScope string

const (
	// ScopeUserGlobal memories follow a user across all conversations.
	ScopeUserGlobal MemoryScope = "user_global"
	// ScopeGroupLocal memories belong to one conversation, any participant.
	ScopeGroupLocal MemoryScope = "group_local"
	// ScopeAgentLocal memories belong to one conversation and one persona version.
	ScopeAgentLocal MemoryScope = "agent_local"
)

// ParseMemoryScope reports whether raw names one of the three scopes.
func ParseMemoryScope(raw string) (MemoryScope, bool) {
	switch s := MemoryScope(raw); s {
	case ScopeUserGlobal, ScopeGroupLocal, ScopeAgentLocal:
		return s, true
	}
	return "", false
}

// LongTermMemory is a durable fact.
//
// GroupID, MemberID and PersonaVersion use "" for "not set", so the unique key
// (scope, user_id, group_id, member_id, persona_version, fingerprint) treats
// missing parts as equal.
type LongTermMemory struct {
	ID              string
	GroupID         string
	UserID          string
	MemberID        string
	Scope           MemoryScope
	MemoryType      string
	Content         string
	Confidence      float64
	Fingerprint     string
	PersonaVersion  string
	SourceMessageID string
	SourceCreatedAt *time.Time
	ExpiresAt       *time.Time
	Metadata        map[string]any
	Embedding       []float32
	EmbeddingModel  string
	DecayScore      float64
	LastUsedAt      *time.Time
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LongTermMemoryWithScore is a search hit. VectorScore is 0 when no vector was compared.
type LongTermMemoryWithScore struct {
	Memory      *LongTermMemory
	VectorScore float64
}

// SearchLongTermMemory specifies a single-scope candidate search.
// Only active, unexpired records at or above MinConfidence are returned.
type SearchLongTermMemory struct {
	Scope          MemoryScope
	UserID         string
	GroupID        *string
	MemberID       *string
	PersonaVersion *string
	MinConfidence  float64
	// QueryEmbedding orders results by cosine similarity when set.
	QueryEmbedding []float32
	Limit          int
	Now            time.Time
}

// FindLongTermMemory specifies the conditions for listing memory records.
// Results are ordered by (updated_at, id) ascending.
type FindLongTermMemory struct {
	IDs     []string
	GroupID *string
	UserID  *string
	Scope   *MemoryScope

	// ActiveOnly keeps active records with non-empty content.
	ActiveOnly       bool
	MissingEmbedding bool

	// Keyset cursor: only records strictly after (AfterUpdatedAt, AfterID).
	AfterUpdatedAt *time.Time
	AfterID        *string

	// UpdatedBefore excludes records touched at or after this instant.
	UpdatedBefore *time.Time

	Limit int
}

// TouchLongTermMemories marks records as used by a retrieval.
type TouchLongTermMemories struct {
	IDs    []string
	UsedAt time.Time

	// DecayStep is added to decay_score, capped at 1.0.
	DecayStep float64
}

// UpdateLongTermMemoryEmbedding attaches a vector to an existing record.
type UpdateLongTermMemoryEmbedding struct {
	ID        string
	Embedding []float32
	Model     string
	UpdatedAt time.Time
}

// DeactivateLongTermMemory soft-deletes records. Records are never hard-deleted.
type DeactivateLongTermMemory struct {
	IDs    []string
	UserID string
}

// LongTermMemoryStats summarizes a group's memory store.
type LongTermMemoryStats struct {
	ScopeCounts     map[MemoryScope]int
	TotalRecords    int
	DeadLetterCount int
	EmbeddedRecords int
}
