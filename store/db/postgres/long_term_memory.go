package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

const longTermMemoryColumns = `id, group_id, user_id, member_id, scope, memory_type, content, confidence,
	fingerprint, persona_version, source_message_id, source_created_at, expires_at, metadata,
	embedding_model, decay_score, last_used_at, is_active, created_at, updated_at`

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
		upsert.SourceCreatedAt,
		upsert.ExpiresAt,
		metadata,
		upsert.DecayScore,
		true,
		upsert.CreatedAt,
		upsert.UpdatedAt,
	}
	updates := []string{
		"content = EXCLUDED.content",
		"confidence = EXCLUDED.confidence",
		"source_message_id = EXCLUDED.source_message_id",
		"source_created_at = EXCLUDED.source_created_at",
		"expires_at = EXCLUDED.expires_at",
		"metadata = EXCLUDED.metadata",
		"is_active = TRUE",
		"updated_at = EXCLUDED.updated_at",
	}
	// The embedding column only exists with pgvector; callers set Embedding
	// only after HasVectorSupport reported true.
	if len(upsert.Embedding) > 0 {
		fields = append(fields, "embedding", "embedding_model", "embedding_updated_at")
		args = append(args, pgvector.NewVector(upsert.Embedding), upsert.EmbeddingModel, upsert.UpdatedAt)
		updates = append(updates,
			"embedding = EXCLUDED.embedding",
			"embedding_model = EXCLUDED.embedding_model",
			"embedding_updated_at = EXCLUDED.embedding_updated_at",
		)
	}

	stmt := `INSERT INTO long_term_memory (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		ON CONFLICT (scope, user_id, group_id, member_id, persona_version, fingerprint)
		DO UPDATE SET ` + strings.Join(updates, ", ") + `
		RETURNING id, created_at, decay_score`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&upsert.ID, &upsert.CreatedAt, &upsert.DecayScore); err != nil {
		return nil, errors.Wrap(err, "failed to upsert long term memory")
	}
	return upsert, nil
}

func (d *DB) SearchLongTermMemories(ctx context.Context, search *store.SearchLongTermMemory) ([]*store.LongTermMemoryWithScore, error) {
	if search == nil {
		return nil, errors.New("search parameter cannot be nil")
	}

	args := []any{}
	scoreExpr := "0::DOUBLE PRECISION"
	if len(search.QueryEmbedding) > 0 {
		args = append(args, pgvector.NewVector(search.QueryEmbedding))
		scoreExpr = "COALESCE(1 - (embedding <=> $1), 0)"
	}

	where := []string{"is_active = TRUE"}
	where, args = append(where, "scope = "+placeholder(len(args)+1)), append(args, string(search.Scope))
	where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, search.UserID)
	where, args = append(where, "confidence >= "+placeholder(len(args)+1)), append(args, search.MinConfidence)
	where, args = append(where, "(expires_at IS NULL OR expires_at > "+placeholder(len(args)+1)+")"), append(args, search.Now)
	if search.GroupID != nil {
		where, args = append(where, "group_id = "+placeholder(len(args)+1)), append(args, *search.GroupID)
	}
	if search.MemberID != nil {
		where, args = append(where, "member_id = "+placeholder(len(args)+1)), append(args, *search.MemberID)
	}
	if search.PersonaVersion != nil {
		where, args = append(where, "persona_version = "+placeholder(len(args)+1)), append(args, *search.PersonaVersion)
	}

	orderBy := "updated_at DESC"
	if len(search.QueryEmbedding) > 0 {
		orderBy = "vector_score DESC, updated_at DESC"
	}
	query := `SELECT ` + longTermMemoryColumns + `, ` + scoreExpr + ` AS vector_score
		FROM long_term_memory WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + orderBy
	if search.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", search.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search long term memories")
	}
	defer rows.Close()

	list := make([]*store.LongTermMemoryWithScore, 0)
	for rows.Next() {
		var score float64
		m, err := scanLongTermMemory(rows, &score)
		if err != nil {
			return nil, err
		}
		list = append(list, &store.LongTermMemoryWithScore{Memory: m, VectorScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate long term memories")
	}
	return list, nil
}

func buildLongTermMemoryWhere(find *store.FindLongTermMemory) ([]string, []any) {
	where, args := []string{"1 = 1"}, []any{}
	if len(find.IDs) > 0 {
		where, args = append(where, "id = ANY("+placeholder(len(args)+1)+")"), append(args, pq.Array(find.IDs))
	}
	if find.GroupID != nil {
		where, args = append(where, "group_id = "+placeholder(len(args)+1)), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Scope != nil {
		where, args = append(where, "scope = "+placeholder(len(args)+1)), append(args, string(*find.Scope))
	}
	if find.ActiveOnly {
		where = append(where, "is_active = TRUE", "content <> ''")
	}
	if find.MissingEmbedding {
		where = append(where, "embedding IS NULL")
	}
	if find.AfterUpdatedAt != nil && find.AfterID != nil {
		where = append(where, fmt.Sprintf("(updated_at, id) > (%s, %s)", placeholder(len(args)+1), placeholder(len(args)+2)))
		args = append(args, *find.AfterUpdatedAt, *find.AfterID)
	}
	if find.UpdatedBefore != nil {
		where, args = append(where, "updated_at < "+placeholder(len(args)+1)), append(args, *find.UpdatedBefore)
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
		m, err := scanLongTermMemory(rows, nil)
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
	stmt := `UPDATE long_term_memory
		SET last_used_at = $1, decay_score = LEAST(decay_score + $2, 1.0)
		WHERE id = ANY($3)`
	if _, err := d.db.ExecContext(ctx, stmt, touch.UsedAt, touch.DecayStep, pq.Array(touch.IDs)); err != nil {
		return errors.Wrap(err, "failed to touch long term memories")
	}
	return nil
}

func (d *DB) UpdateLongTermMemoryEmbedding(ctx context.Context, update *store.UpdateLongTermMemoryEmbedding) error {
	stmt := `UPDATE long_term_memory
		SET embedding = $1, embedding_model = $2, embedding_updated_at = $3, updated_at = $3
		WHERE id = $4`
	if _, err := d.db.ExecContext(ctx, stmt, pgvector.NewVector(update.Embedding), update.Model, update.UpdatedAt, update.ID); err != nil {
		return errors.Wrap(err, "failed to update long term memory embedding")
	}
	return nil
}

func (d *DB) DeactivateLongTermMemories(ctx context.Context, deactivate *store.DeactivateLongTermMemory) (int, error) {
	stmt := `UPDATE long_term_memory SET is_active = FALSE, updated_at = now() WHERE id = ANY($1) AND is_active = TRUE`
	args := []any{pq.Array(deactivate.IDs)}
	if deactivate.UserID != "" {
		stmt += " AND user_id = $2"
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

	rows, err := d.db.QueryContext(ctx, `SELECT scope, COUNT(*) FROM long_term_memory WHERE group_id = $1 AND is_active = TRUE GROUP BY scope`, groupID)
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

	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_dead_letter WHERE group_id = $1`, groupID).Scan(&stats.DeadLetterCount); err != nil {
		return nil, errors.Wrap(err, "failed to count dead letters")
	}

	hasVector, err := d.HasVectorSupport(ctx)
	if err != nil {
		return nil, err
	}
	if hasVector {
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM long_term_memory WHERE group_id = $1 AND is_active = TRUE AND embedding IS NOT NULL`, groupID).Scan(&stats.EmbeddedRecords); err != nil {
			return nil, errors.Wrap(err, "failed to count embedded memories")
		}
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanLongTermMemory scans longTermMemoryColumns, plus vector_score when score is non-nil.
func scanLongTermMemory(row rowScanner, score *float64) (*store.LongTermMemory, error) {
	var (
		m               store.LongTermMemory
		scope           string
		metadata        []byte
		sourceCreatedAt sql.NullTime
		expiresAt       sql.NullTime
		lastUsedAt      sql.NullTime
	)
	dest := []any{
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
		&m.EmbeddingModel,
		&m.DecayScore,
		&lastUsedAt,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	}
	if score != nil {
		dest = append(dest, score)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, errors.Wrap(err, "failed to scan long term memory")
	}

	m.Scope = store.MemoryScope(scope)
	if sourceCreatedAt.Valid {
		m.SourceCreatedAt = &sourceCreatedAt.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	if lastUsedAt.Valid {
		m.LastUsedAt = &lastUsedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal memory metadata")
		}
	}
	return &m, nil
}
