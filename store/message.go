package store

import "time"

// Role is the author role of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType is the semantic class of a message used for retention scoring.
// The set is closed: every producer maps into these five values.
type MessageType string

const (
	MessageTypeUser      MessageType = "user"
	MessageTypeStatus    MessageType = "status"
	MessageTypeReasoning MessageType = "reasoning"
	MessageTypeFailure   MessageType = "failure"
	MessageTypeNormal    MessageType = "normal"
)

// ParseMessageType maps a raw label onto the closed type set.
// Unknown labels map to MessageTypeNormal and report false.
func ParseMessageType(raw string) (MessageType, bool) {
	switch t := MessageType(raw); t {
	case MessageTypeUser, MessageTypeStatus, MessageTypeReasoning, MessageTypeFailure, MessageTypeNormal:
		return t, true
	}
	return MessageTypeNormal, false
}

// Message is one conversational unit. Only the compression-derived fields
// (Type, Compressed, OriginalContent, ValueScore) change after creation.
type Message struct {
	ID         string
	GroupID    string
	Role       Role
	SenderID   string
	SenderName string
	Mode       string
	Content    string
	CreatedAt  time.Time

	Type            MessageType
	Compressed      bool
	OriginalContent string
	// ValueScore is nil until the message has been scored.
	ValueScore      *float64
}

// Clone returns a deep copy so callers can annotate without touching the source.
func (m *Message) Clone() *Message {
	c := *m
	if m.ValueScore != nil {
		v := *m.ValueScore
		c.ValueScore = &v
	}
	return &c
}

// FindMessage specifies the conditions for listing messages.
// Results are ordered by (created_at, id) ascending.
type FindMessage struct {
	ID      *string
	GroupID *string

	// Cursor: only messages strictly after (AfterCreatedAt, AfterID).
	AfterCreatedAt *time.Time
	AfterID        *string

	ExcludeCompressed bool
	Limit             int
}
