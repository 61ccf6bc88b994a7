package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	aierrors "github.com/hrygo/groupmind/internal/errors"
	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/plugin/ai/metrics"
	"github.com/hrygo/groupmind/plugin/ai/retry"
	"github.com/hrygo/groupmind/plugin/ai/timeout"
	"github.com/hrygo/groupmind/store"
)

// ArchiveIncremental implements MemoryService.
//
// Messages strictly after the (group, user) checkpoint are extracted, filtered
// against the group settings and upserted. The checkpoint only moves when the
// whole batch was stored; after the last failed attempt the batch is
// dead-lettered and will be picked up again by the next run.
func (s *Service) ArchiveIncremental(ctx context.Context, group *store.Group, userID string, force bool, reason string) (*ArchiveResult, error) {
	start := time.Now()
	result, err := s.archiveIncremental(ctx, group, userID, force, reason)
	if result == nil || !result.Skipped || err != nil {
		s.metrics.Record(metrics.OpArchive, time.Since(start), err == nil)
	}
	return result, err
}

func (s *Service) archiveIncremental(ctx context.Context, group *store.Group, userID string, force bool, reason string) (*ArchiveResult, error) {
	if group == nil {
		return nil, aierrors.InvalidArgument("group is required")
	}
	settings := group.Settings
	if !settings.MemoryEnabled || !settings.ArchiveEnabled {
		return &ArchiveResult{Skipped: true, SkipReason: "disabled"}, nil
	}

	// Runs for the same pair are serialized so each sees the checkpoint the
	// previous one left.
	lock := s.archiveLock(group.ID, userID)
	lock.Lock()
	defer lock.Unlock()

	rc := observability.NewRequestContext(s.logger, "archive", group.ID, userID)
	ctx = observability.WithRequestContext(ctx, rc)
	result := &ArchiveResult{RequestID: rc.RequestID}

	checkpoint, err := s.store.GetMemoryCheckpoint(ctx, group.ID, userID)
	if err != nil {
		return nil, aierrors.StoreFailed("get memory checkpoint", err)
	}

	find := &store.FindMessage{
		GroupID:           &group.ID,
		ExcludeCompressed: true,
		Limit:             s.cfg.ArchiveBatchLimit,
	}
	if checkpoint != nil && checkpoint.LastMessageID != "" {
		find.AfterCreatedAt = &checkpoint.LastMessageCreatedAt
		find.AfterID = &checkpoint.LastMessageID
	}
	msgs, err := s.store.ListMessages(ctx, find)
	if err != nil {
		return nil, aierrors.StoreFailed("list messages since checkpoint", err)
	}
	result.MessageCount = len(msgs)

	if len(msgs) == 0 {
		result.Skipped, result.SkipReason = true, "no new messages"
		return result, nil
	}
	if !force && len(msgs) < s.cfg.ArchiveMinBatch {
		result.Skipped, result.SkipReason = true, "below batch threshold"
		rc.Debug("archive skipped", slog.Int("messages", len(msgs)))
		return result, nil
	}

	s.audit(ctx, rc, store.AuditArchiveStart, "", nil, fmt.Sprintf("reason=%s, count=%d", reason, len(msgs)))

	policy := retry.Exponential(s.cfg.ArchiveRetries, s.cfg.ArchiveBackoff)
	err = retry.Do(ctx, policy, func(attempt int) error {
		result.Attempts = attempt

		candidates := s.extractor.Extract(ctx, msgs)
		prepared := s.prepareMemories(group, userID, msgs, candidates, reason)
		result.Extracted, result.Prepared = len(candidates), len(prepared)

		ids, err := s.gateway.AddMemories(ctx, prepared)
		if err != nil {
			return aierrors.StoreFailed("add memories", err)
		}

		last := msgs[len(msgs)-1]
		if _, err := s.store.UpsertMemoryCheckpoint(ctx, &store.MemoryCheckpoint{
			GroupID:              group.ID,
			UserID:               userID,
			LastMessageID:        last.ID,
			LastMessageCreatedAt: last.CreatedAt,
		}); err != nil {
			return aierrors.StoreFailed("advance checkpoint", err)
		}
		result.MemoryIDs = ids
		return nil
	})

	if err == nil {
		s.audit(ctx, rc, store.AuditArchiveSuccess, "", result.MemoryIDs,
			fmt.Sprintf("prepared=%d, saved=%d", result.Prepared, len(result.MemoryIDs)))
		rc.Info("archive completed",
			slog.String("reason", reason),
			slog.Int("messages", len(msgs)),
			slog.Int("saved", len(result.MemoryIDs)),
			slog.Int64(observability.LogFieldDuration, rc.DurationMs()),
		)
		return result, nil
	}

	archiveErr := aierrors.ArchiveFailed("archive batch exhausted retries", err).
		WithContext("attempts", result.Attempts).
		WithContext("messages", len(msgs))
	s.deadLetter(rc, checkpoint, reason, len(msgs), result.Attempts, archiveErr)
	result.DeadLettered = true
	return result, archiveErr
}

func (s *Service) archiveLock(groupID, userID string) *sync.Mutex {
	v, _ := s.archiveLocks.LoadOrStore(groupUserKey{groupID, userID}, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// deadLetter records the failed batch. It uses a fresh context so a cancelled
// run can still be recorded.
func (s *Service) deadLetter(rc *observability.RequestContext, checkpoint *store.MemoryCheckpoint, reason string, count, attempts int, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := map[string]any{
		"reason":        reason,
		"group_id":      rc.GroupID,
		"user_id":       rc.UserID,
		"checkpoint":    nil,
		"message_count": count,
	}
	if checkpoint != nil {
		payload["checkpoint"] = map[string]any{
			"last_message_id":         checkpoint.LastMessageID,
			"last_message_created_at": checkpoint.LastMessageCreatedAt,
		}
	}

	if _, err := s.store.CreateMemoryDeadLetter(ctx, &store.MemoryDeadLetter{
		GroupID:    rc.GroupID,
		UserID:     rc.UserID,
		Error:      cause.Error(),
		Payload:    payload,
		RetryCount: attempts,
	}); err != nil {
		rc.Error("failed to write memory dead letter", err)
	}
	s.audit(ctx, rc, store.AuditArchiveFailed, "", nil, cause.Error())
	rc.Error("long-term memory archive failed", cause,
		slog.String(observability.LogFieldErrorCode, string(aierrors.ErrCodeArchiveFailed)),
		slog.Int("attempts", attempts),
	)
}

// ScheduleArchive implements MemoryService. The run is detached from the
// caller and bounded by timeout.ArchiveTimeout.
func (s *Service) ScheduleArchive(group *store.Group, userID, reason string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout.ArchiveTimeout)
		defer cancel()
		if _, err := s.ArchiveIncremental(ctx, group, userID, false, reason); err != nil {
			slog.Warn("scheduled archive failed",
				"group_id", group.ID,
				"user_id", userID,
				"reason", reason,
				"error", err,
			)
		}
	}()
}

// prepareMemories turns candidates into records bound to the group settings.
func (s *Service) prepareMemories(group *store.Group, userID string, msgs []*store.Message, candidates []Candidate, reason string) []*store.LongTermMemory {
	if len(candidates) == 0 {
		return nil
	}

	settings := group.Settings
	versions := personaVersions(group)
	source := msgs[len(msgs)-1]
	sourceAt := source.CreatedAt
	now := s.now().UTC()

	var prepared []*store.LongTermMemory
	for _, c := range candidates {
		content := strings.TrimSpace(c.Content)
		if content == "" || c.Confidence < s.cfg.MinExtractConfidence {
			continue
		}
		if !scopeEnabled(settings, c.Scope) {
			continue
		}

		memoryType := c.MemoryType
		if memoryType == "" {
			memoryType = defaultMemoryType
		}
		record := &store.LongTermMemory{
			UserID:          userID,
			Scope:           c.Scope,
			MemoryType:      memoryType,
			Content:         content,
			Confidence:      c.Confidence,
			SourceMessageID: source.ID,
			SourceCreatedAt: &sourceAt,
			Metadata: map[string]any{
				"reason":      reason,
				"sender_name": c.SenderName,
			},
		}

		switch c.Scope {
		case store.ScopeGroupLocal:
			record.GroupID = group.ID
			expires := now.Add(s.cfg.GroupLocalTTL)
			record.ExpiresAt = &expires
		case store.ScopeAgentLocal:
			member, ok := group.MemberByName(c.SenderName)
			if !ok {
				continue
			}
			record.GroupID = group.ID
			record.MemberID = member.ID
			record.PersonaVersion = versions[member.ID]
		}

		prepared = append(prepared, record)
	}
	return prepared
}

func scopeEnabled(settings store.MemorySettings, scope store.MemoryScope) bool {
	switch scope {
	case store.ScopeUserGlobal:
		return settings.ScopeUserGlobal
	case store.ScopeGroupLocal:
		return settings.ScopeGroupLocal
	case store.ScopeAgentLocal:
		return settings.ScopeAgentLocal
	}
	return false
}

// PersonaVersion identifies a member configuration. Changing any field yields
// a new version, which hides the agent_local memories of the old one.
func PersonaVersion(m *store.GroupMember) string {
	raw := strings.Join([]string{
		m.ID,
		m.ModelID,
		m.Description,
		m.Task,
		strconv.FormatBool(m.Thinking),
		strconv.FormatFloat(m.Temperature, 'f', -1, 64),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:12]
}

func personaVersions(group *store.Group) map[string]string {
	versions := make(map[string]string, len(group.Members))
	for _, m := range group.Members {
		versions[m.ID] = PersonaVersion(m)
	}
	return versions
}
