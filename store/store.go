package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/internal/profile"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	now func() time.Time
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	return &Store{
		driver:  driver,
		profile: profile,
		now:     time.Now,
	}
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) HasVectorSupport(ctx context.Context) (bool, error) {
	return s.driver.HasVectorSupport(ctx)
}

func (s *Store) UpsertGroup(ctx context.Context, upsert *Group) (*Group, error) {
	if upsert.ID == "" {
		upsert.ID = uuid.NewString()
	}
	if upsert.CreatedAt.IsZero() {
		upsert.CreatedAt = s.now().UTC()
	}
	return s.driver.UpsertGroup(ctx, upsert)
}

// GetGroup returns nil without error when the group does not exist.
func (s *Store) GetGroup(ctx context.Context, id string) (*Group, error) {
	return s.driver.GetGroup(ctx, &FindGroup{ID: &id})
}

func (s *Store) CreateMessage(ctx context.Context, create *Message) (*Message, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = s.now().UTC()
	}
	return s.driver.CreateMessage(ctx, create)
}

func (s *Store) ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error) {
	return s.driver.ListMessages(ctx, find)
}

// GetMessage returns nil without error when the message does not exist.
func (s *Store) GetMessage(ctx context.Context, groupID, id string) (*Message, error) {
	list, err := s.driver.ListMessages(ctx, &FindMessage{ID: &id, GroupID: &groupID, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// SaveContextSnapshot encodes the compacted list and appends a new snapshot.
func (s *Store) SaveContextSnapshot(ctx context.Context, snapshot *ContextSnapshot) (*ContextSnapshot, error) {
	payload, err := EncodeSnapshotMessages(snapshot.Messages)
	if err != nil {
		return nil, err
	}
	snapshot.Payload = payload
	if snapshot.ID == "" {
		snapshot.ID = shortuuid.New()
	}
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = s.now().UTC()
	}
	return s.driver.CreateContextSnapshot(ctx, snapshot)
}

// GetLatestContextSnapshot returns the newest snapshot of a group with its
// messages decoded. It returns (nil, nil) when none exists, and the snapshot
// metadata together with ErrSnapshotDecode when the payload is unusable.
func (s *Store) GetLatestContextSnapshot(ctx context.Context, groupID string) (*ContextSnapshot, error) {
	snapshot, err := s.driver.GetLatestContextSnapshot(ctx, groupID)
	if err != nil || snapshot == nil {
		return nil, err
	}
	messages, err := DecodeSnapshotMessages(snapshot.Payload)
	if err != nil {
		return snapshot, err
	}
	snapshot.Messages = messages
	return snapshot, nil
}

func (s *Store) UpsertLongTermMemory(ctx context.Context, upsert *LongTermMemory) (*LongTermMemory, error) {
	now := s.now().UTC()
	if upsert.ID == "" {
		upsert.ID = uuid.NewString()
	}
	if upsert.CreatedAt.IsZero() {
		upsert.CreatedAt = now
	}
	upsert.UpdatedAt = now
	if upsert.DecayScore == 0 {
		upsert.DecayScore = 1.0
	}
	upsert.IsActive = true
	if upsert.Fingerprint == "" {
		return nil, errors.New("long term memory fingerprint is required")
	}
	return s.driver.UpsertLongTermMemory(ctx, upsert)
}

func (s *Store) SearchLongTermMemories(ctx context.Context, search *SearchLongTermMemory) ([]*LongTermMemoryWithScore, error) {
	if search.Now.IsZero() {
		search.Now = s.now().UTC()
	}
	return s.driver.SearchLongTermMemories(ctx, search)
}

func (s *Store) ListLongTermMemories(ctx context.Context, find *FindLongTermMemory) ([]*LongTermMemory, error) {
	return s.driver.ListLongTermMemories(ctx, find)
}

func (s *Store) CountLongTermMemories(ctx context.Context, find *FindLongTermMemory) (int, error) {
	return s.driver.CountLongTermMemories(ctx, find)
}

func (s *Store) TouchLongTermMemories(ctx context.Context, touch *TouchLongTermMemories) error {
	if len(touch.IDs) == 0 {
		return nil
	}
	if touch.UsedAt.IsZero() {
		touch.UsedAt = s.now().UTC()
	}
	return s.driver.TouchLongTermMemories(ctx, touch)
}

func (s *Store) UpdateLongTermMemoryEmbedding(ctx context.Context, update *UpdateLongTermMemoryEmbedding) error {
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = s.now().UTC()
	}
	return s.driver.UpdateLongTermMemoryEmbedding(ctx, update)
}

func (s *Store) DeactivateLongTermMemories(ctx context.Context, deactivate *DeactivateLongTermMemory) (int, error) {
	if len(deactivate.IDs) == 0 {
		return 0, nil
	}
	return s.driver.DeactivateLongTermMemories(ctx, deactivate)
}

func (s *Store) GetLongTermMemoryStats(ctx context.Context, groupID string) (*LongTermMemoryStats, error) {
	return s.driver.GetLongTermMemoryStats(ctx, groupID)
}

// GetMemoryCheckpoint returns nil without error when no archival has happened yet.
func (s *Store) GetMemoryCheckpoint(ctx context.Context, groupID, userID string) (*MemoryCheckpoint, error) {
	return s.driver.GetMemoryCheckpoint(ctx, groupID, userID)
}

func (s *Store) UpsertMemoryCheckpoint(ctx context.Context, upsert *MemoryCheckpoint) (*MemoryCheckpoint, error) {
	upsert.UpdatedAt = s.now().UTC()
	return s.driver.UpsertMemoryCheckpoint(ctx, upsert)
}

func (s *Store) ListMemoryCheckpoints(ctx context.Context) ([]*MemoryCheckpoint, error) {
	return s.driver.ListMemoryCheckpoints(ctx)
}

func (s *Store) CreateMemoryDeadLetter(ctx context.Context, create *MemoryDeadLetter) (*MemoryDeadLetter, error) {
	if create.ID == "" {
		create.ID = shortuuid.New()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = s.now().UTC()
	}
	return s.driver.CreateMemoryDeadLetter(ctx, create)
}

func (s *Store) ListMemoryDeadLetters(ctx context.Context, find *FindMemoryDeadLetter) ([]*MemoryDeadLetter, error) {
	return s.driver.ListMemoryDeadLetters(ctx, find)
}

func (s *Store) CreateMemoryAuditLog(ctx context.Context, create *MemoryAuditLog) (*MemoryAuditLog, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	if create.CreatedAt.IsZero() {
		create.CreatedAt = s.now().UTC()
	}
	return s.driver.CreateMemoryAuditLog(ctx, create)
}

func (s *Store) ListMemoryAuditLogs(ctx context.Context, find *FindMemoryAuditLog) ([]*MemoryAuditLog, error) {
	return s.driver.ListMemoryAuditLogs(ctx, find)
}
