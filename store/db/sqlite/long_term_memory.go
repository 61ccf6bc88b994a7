package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

const longTermMemoryColumns = `id, group_id, user_id, member_id, scope, memory_type, content, confidence,
	fingerprint, persona_version, source_message_id, source_created_at, expires_at, metadata,
	embedding, embedding_model, decay_score, last_used_at, is_active, created_at, updated_at`

func (d *DB) UpsertLongTermMemory(ctx context.Context, upsert *store.LongTermMemory) (*store.LongTermMemory, error) {
	metadata, err := jsonOrDefault(upsert.Metadata, "{}")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal memory metadata")
	}

	fields := []string{
		"id", "group_id", "user_id", "member_id", "scope", "memory_type", "content", "confidence",
		"fingerprint", "persona_version", "source_message_id", "source_created_at", "expires_at",
		"metadata", "decay_score", "is_active", "created_at", "updated_at",
	}
	args := []any{
		upsert.ID,
		upsert.GroupID,
		upsert.UserID,
		upsert.MemberID,
		string(upsert.Scope),
		upsert.MemoryType,
		upsert.Content,
		upsert.Confidence,
		upsert.Fingerprint,
		upsert.PersonaVersion,
		upsert.SourceMessageID,
		toNullMillis(upsert.SourceCreatedAt),
		toNullMillis(upsert.ExpiresAt),
		metadata,
		upsert.DecayScore,
		true,
		toMillis(upsert.CreatedAt),
		toMillis(upsert.UpdatedAt),
	}
	updates := []string{
		"content = excluded.content",
		"confidence = excluded.confidence",
		"source_message_id = excluded.source_message_id",
		"source_created_at = excluded.source_created_at",
		"expires_at = excluded.expires_at",
		"metadata = excluded.metadata",
		"is_active = 1",
		"updated_at = excluded.updated_at",
	}
	if len(upsert.Embedding) > 0 {
		embedding, err := json.Marshal(upsert.Embedding)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal embedding")
		}
		fields = append(fields, "embedding", "embedding_model", "embedding_updated_at")
		args = append(args, string(embedding), upsert.EmbeddingModel, toMillis(upsert.UpdatedAt))
		updates = append(updates,
			"embedding = excluded.embedding",
			"embedding_model = excluded.embedding_model",
			"embedding_updated_at = excluded.embedding_updated_at",
		)
	}

	stmt := `INSERT INTO long_term_memory (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (scope, user_id, group_id, member_id, persona_version, fingerprint)
		DO UPDATE SET ` + strings.Join(updates, ", ") + `
		RETURNING id, created_at, decay_score`
	var createdAt int64
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&upsert.ID, &createdAt, &upsert.DecayScore); err != nil {
		return nil, errors.Wrap(err, "failed to upsert long term memory")
	}
	upsert.CreatedAt = fromMillis(createdAt)
	return upsert, nil
}

func (d *DB) SearchLongTermMemories(ctx context.Context, search *store.SearchLongTermMemory) ([]*store.LongTermMemoryWithScore, error) {
	if search == nil {
		return nil, errors.New("search parameter cannot be nil")
	}

	where := []string{"is_active = 1", "scope = ?", "user_id = ?", "confidence >= ?", "(expires_at IS NULL OR expires_at > ?)"}
	args := []any{string(search.Scope), search.UserID, search.MinConfidence, toMillis(search.Now)}
	if search.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *search.GroupID)
	}
	if search.MemberID != nil {
		where, args = append(where, "member_id = ?"), append(args, *search.MemberID)
	}
	if search.PersonaVersion != nil {
		where, args = append(where, "persona_version = ?"), append(args, *search.PersonaVersion)
	}

	withVector := len(search.QueryEmbedding) > 0
	query := `SELECT ` + longTermMemoryColumns + ` FROM long_term_memory WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_at DESC, id DESC`
	// Similarity ordering happens in Go, so the limit can only be pushed down without a query vector.
	if !withVector && search.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", search.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search long term memories")
	}
	defer rows.Close()

	list := make([]*store.LongTermMemoryWithScore, 0)
	for rows.Next() {
		m, err := scanLongTermMemory(rows)
		if err != nil {
			return nil, err
		}
		hit := &store.LongTermMemoryWithScore{Memory: m}
		if withVector {
			hit.VectorScore = cosineSimilarity(search.QueryEmbedding, m.Embedding)
		}
		list = append(list, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate long term memories")
	}

	if withVector {
		// Stable sort keeps the updated_at DESC order among equal scores.
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].VectorScore > list[j].VectorScore
		})
		if search.Limit > 0 && len(list) > search.Limit {
			list = list[:search.Limit]
		}
	}
	return list, nil
}

func buildLongTermMemoryWhere(find *store.FindLongTermMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if len(find.IDs) > 0 {
		where = append(where, "id IN "+inClause(len(find.IDs)))
		for _, id := range find.IDs {
			args = append(args, id)
		}
	}
	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Scope != nil {
		where, args = append(where, "scope = ?"), append(args, string(*find.Scope))
	}
	if find.ActiveOnly {
		where = append(where, "is_active = 1", "content <> ''")
	}
	if find.MissingEmbedding {
		where = append(where, "embedding IS NULL")
	}
	if find.AfterUpdatedAt != nil && find.AfterID != nil {
		where, args = append(where, "(updated_at, id) > (?, ?)"), append(args, toMillis(*find.AfterUpdatedAt), *find.AfterID)
	}
	if find.UpdatedBefore != nil {
		where, args = append(where, "updated_at < ?"), append(args, toMillis(*find.UpdatedBefore))
	}
	return where, args
}

func (d *DB) ListLongTermMemories(ctx context.Context, find *store.FindLongTermMemory) ([]*store.LongTermMemory, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := buildLongTermMemoryWhere(find)
	query := `SELECT ` + longTermMemoryColumns + ` FROM long_term_memory WHERE ` + strings.Join(where, " AND ") + ` ORDER BY updated_at ASC, id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list long term memories")
	}
	defer rows.Close()

	list := make([]*store.LongTermMemory, 0)
	for rows.Next() {
		m, err := scanLongTermMemory(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate long term memories")
	}
	return list, nil
}

func (d *DB) CountLongTermMemories(ctx context.Context, find *store.FindLongTermMemory) (int, error) {
	if find == nil {
		return 0, errors.New("find parameter cannot be nil")
	}
	where, args := buildLongTermMemoryWhere(find)
	var count int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM long_term_memory WHERE `+strings.Join(where, " AND "), args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count long term memories")
	}
	return count, nil
}

func (d *DB) TouchLongTermMemories(ctx context.Context, touch *store.TouchLongTermMemories) error {
	args := []any{toMillis(touch.UsedAt), touch.DecayStep}
	for _, id := range touch.IDs {
		args = append(args, id)
	}
	stmt := `UPDATE long_term_memory
		SET last_used_at = ?, decay_score = MIN(decay_score + ?, 1.0)
		WHERE id IN ` + inClause(len(touch.IDs))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to touch long term memories")
	}
	return nil
}

func (d *DB) UpdateLongTermMemoryEmbedding(ctx context.Context, update *store.UpdateLongTermMemoryEmbedding) error {
	embedding, err := json.Marshal(update.Embedding)
	if err != nil {
		return errors.Wrap(err, "failed to marshal embedding")
	}
	at := toMillis(update.UpdatedAt)
	stmt := `UPDATE long_term_memory
		SET embedding = ?, embedding_model = ?, embedding_updated_at = ?, updated_at = ?
		WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, string(embedding), update.Model, at, at, update.ID); err != nil {
		return errors.Wrap(err, "failed to update long term memory embedding")
	}
	return nil
}

func (d *DB) DeactivateLongTermMemories(ctx context.Context, deactivate *store.DeactivateLongTermMemory) (int, error) {
	args := []any{toMillis(time.Now())}
	for _, id := range deactivate.IDs {
		args = append(args, id)
	}
	stmt := `UPDATE long_term_memory SET is_active = 0, updated_at = ?
		WHERE is_active = 1 AND id IN ` + inClause(len(deactivate.IDs))
	if deactivate.UserID != "" {
		stmt += " AND user_id = ?"
		args = append(args, deactivate.UserID)
	}
	result, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to deactivate long term memories")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(affected), nil
}

func (d *DB) GetLongTermMemoryStats(ctx context.Context, groupID string) (*store.LongTermMemoryStats, error) {
	stats := &store.LongTermMemoryStats{ScopeCounts: map[store.MemoryScope]int{}}

	rows, err := d.db.QueryContext(ctx, `SELECT scope, COUNT(*) FROM long_term_memory WHERE group_id = ? AND is_active = 1 GROUP BY scope`, groupID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count memories by scope")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			scope string
			count int
		)
		if err := rows.Scan(&scope, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan scope count")
		}
		stats.ScopeCounts[store.MemoryScope(scope)] = count
		stats.TotalRecords += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate scope counts")
	}

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_dead_letter WHERE group_id = ?`, groupID).Scan(&stats.DeadLetterCount); err != nil {
		return nil, errors.Wrap(err, "failed to count dead letters")
	}
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM long_term_memory WHERE group_id = ? AND is_active = 1 AND embedding IS NOT NULL`, groupID).Scan(&stats.EmbeddedRecords); err != nil {
		return nil, errors.Wrap(err, "failed to count embedded memories")
	}
	return stats, nil
}

func scanLongTermMemory(rows *sql.Rows) (*store.LongTermMemory, error) {
	var (
		m               store.LongTermMemory
		scope           string
		metadata        string
		embedding       sql.NullString
		sourceCreatedAt sql.NullInt64
		expiresAt       sql.NullInt64
		lastUsedAt      sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)
	if err := rows.Scan(
		&m.ID,
		&m.GroupID,
		&m.UserID,
		&m.MemberID,
		&scope,
		&m.MemoryType,
		&m.Content,
		&m.Confidence,
		&m.Fingerprint,
		&m.PersonaVersion,
		&m.SourceMessageID,
		&sourceCreatedAt,
		&expiresAt,
		&metadata,
		&embedding,
		&m.EmbeddingModel,
		&m.DecayScore,
		&lastUsedAt,
		&m.IsActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to scan long term memory")
	}

	m.Scope = store.MemoryScope(scope)
	m.SourceCreatedAt = fromNullMillis(sourceCreatedAt)
	m.ExpiresAt = fromNullMillis(expiresAt)
	m.LastUsedAt = fromNullMillis(lastUsedAt)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &m.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal memory metadata")
		}
	}
	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &m.Embedding); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal embedding")
		}
	}
	return &m, nil
}
