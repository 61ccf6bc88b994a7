package store

import "time"

// Group is a multi-participant conversation with its AI members and memory settings.
type Group struct {
	ID        string
	Name      string
	Members   []*GroupMember
	Settings  MemorySettings
	CreatedAt time.Time
}

// GroupMember is an AI participant. Its configuration defines the persona
// version that agent_local memories are bound to.
type GroupMember struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	ModelID     string  `json:"model_id"`
	Description string  `json:"description,omitempty"`
	Task        string  `json:"task,omitempty"`
	Thinking    bool    `json:"thinking"`
	Temperature float64 `json:"temperature"`
}

// MemorySettings is the per-conversation configuration of the memory core.
type MemorySettings struct {
	MemoryEnabled   bool `json:"memory_enabled"`
	ArchiveEnabled  bool `json:"archive_enabled"`
	RetrieveEnabled bool `json:"retrieve_enabled"`

	ScopeUserGlobal bool `json:"scope_user_global"`
	ScopeGroupLocal bool `json:"scope_group_local"`
	ScopeAgentLocal bool `json:"scope_agent_local"`

	InjectionRatio       float64 `json:"memory_injection_ratio"`
	TopN                 int     `json:"memory_top_n"`
	MinConfidence        float64 `json:"memory_min_confidence"`
	ScoreThreshold       float64 `json:"memory_score_threshold"`
	CompressionThreshold float64 `json:"compression_threshold"`
}

// DefaultMemorySettings returns the settings a new group starts with.
func DefaultMemorySettings() MemorySettings {
	return MemorySettings{
		MemoryEnabled:        true,
		ArchiveEnabled:       true,
		RetrieveEnabled:      true,
		ScopeUserGlobal:      true,
		ScopeGroupLocal:      true,
		ScopeAgentLocal:      true,
		InjectionRatio:       0.2,
		TopN:                 5,
		MinConfidence:        0.75,
		ScoreThreshold:       0.35,
		CompressionThreshold: 0.8,
	}
}

// MemberByName returns the member with the given display name.
func (g *Group) MemberByName(name string) (*GroupMember, bool) {
	for _, m := range g.Members {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// FindGroup specifies the conditions for finding a group.
type FindGroup struct {
	ID *string
}
