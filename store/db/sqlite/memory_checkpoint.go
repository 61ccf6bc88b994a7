package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

func (d *DB) GetMemoryCheckpoint(ctx context.Context, groupID, userID string) (*store.MemoryCheckpoint, error) {
	var (
		c                    store.MemoryCheckpoint
		lastCreated, updated int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT group_id, user_id, last_message_id, last_message_created_at, updated_at
		FROM memory_checkpoint WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&c.GroupID, &c.UserID, &c.LastMessageID, &lastCreated, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get memory checkpoint")
	}
	c.LastMessageCreatedAt = fromMillis(lastCreated)
	c.UpdatedAt = fromMillis(updated)
	return &c, nil
}

func (d *DB) UpsertMemoryCheckpoint(ctx context.Context, upsert *store.MemoryCheckpoint) (*store.MemoryCheckpoint, error) {
	stmt := `INSERT INTO memory_checkpoint (group_id, user_id, last_message_id, last_message_created_at, updated_at)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (group_id, user_id) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_message_created_at = excluded.last_message_created_at,
			updated_at = excluded.updated_at`
	if _, err := d.db.ExecContext(ctx, stmt,
		upsert.GroupID, upsert.UserID, upsert.LastMessageID, toMillis(upsert.LastMessageCreatedAt), toMillis(upsert.UpdatedAt),
	); err != nil {
		return nil, errors.Wrap(err, "failed to upsert memory checkpoint")
	}
	return upsert, nil
}

func (d *DB) ListMemoryCheckpoints(ctx context.Context) ([]*store.MemoryCheckpoint, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT group_id, user_id, last_message_id, last_message_created_at, updated_at
		FROM memory_checkpoint ORDER BY updated_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory checkpoints")
	}
	defer rows.Close()

	list := make([]*store.MemoryCheckpoint, 0)
	for rows.Next() {
		var (
			c                    store.MemoryCheckpoint
			lastCreated, updated int64
		)
		if err := rows.Scan(&c.GroupID, &c.UserID, &c.LastMessageID, &lastCreated, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory checkpoint")
		}
		c.LastMessageCreatedAt = fromMillis(lastCreated)
		c.UpdatedAt = fromMillis(updated)
		list = append(list, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory checkpoints")
	}
	return list, nil
}

func (d *DB) CreateMemoryDeadLetter(ctx context.Context, create *store.MemoryDeadLetter) (*store.MemoryDeadLetter, error) {
	payload, err := jsonOrDefault(create.Payload, "{}")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal dead letter payload")
	}
	stmt := `INSERT INTO memory_dead_letter (id, group_id, user_id, error, payload, retry_count, created_at)
		VALUES (` + placeholders(7) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.GroupID, create.UserID, create.Error, payload, create.RetryCount, toMillis(create.CreatedAt),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory dead letter")
	}
	return create, nil
}

func (d *DB) ListMemoryDeadLetters(ctx context.Context, find *store.FindMemoryDeadLetter) ([]*store.MemoryDeadLetter, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT id, group_id, user_id, error, payload, retry_count, created_at
		FROM memory_dead_letter WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at ASC, rowid ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory dead letters")
	}
	defer rows.Close()

	list := make([]*store.MemoryDeadLetter, 0)
	for rows.Next() {
		var (
			l         store.MemoryDeadLetter
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.GroupID, &l.UserID, &l.Error, &payload, &l.RetryCount, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory dead letter")
		}
		l.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(payload), &l.Payload); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal dead letter payload")
		}
		list = append(list, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory dead letters")
	}
	return list, nil
}

func (d *DB) CreateMemoryAuditLog(ctx context.Context, create *store.MemoryAuditLog) (*store.MemoryAuditLog, error) {
	memoryIDs, err := jsonOrDefault(create.MemoryIDs, "[]")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal audit memory ids")
	}
	stmt := `INSERT INTO memory_audit_log (id, request_id, group_id, user_id, event_type, scope, memory_ids, detail, created_at)
		VALUES (` + placeholders(9) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.RequestID, create.GroupID, create.UserID, create.EventType, create.Scope, memoryIDs, create.Detail, toMillis(create.CreatedAt),
	); err != nil {
		return nil, errors.Wrap(err, "failed to create memory audit log")
	}
	return create, nil
}

func (d *DB) ListMemoryAuditLogs(ctx context.Context, find *store.FindMemoryAuditLog) ([]*store.MemoryAuditLog, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.EventType != nil {
		where, args = append(where, "event_type = ?"), append(args, *find.EventType)
	}

	query := `SELECT id, request_id, group_id, user_id, event_type, scope, memory_ids, detail, created_at
		FROM memory_audit_log WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at DESC, rowid DESC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memory audit logs")
	}
	defer rows.Close()

	list := make([]*store.MemoryAuditLog, 0)
	for rows.Next() {
		var (
			l         store.MemoryAuditLog
			ids       string
			createdAt int64
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.GroupID, &l.UserID, &l.EventType, &l.Scope, &ids, &l.Detail, &createdAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory audit log")
		}
		l.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(ids), &l.MemoryIDs); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal audit memory ids")
		}
		list = append(list, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory audit logs")
	}
	return list, nil
}
