package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

func (d *DB) CreateContextSnapshot(ctx context.Context, create *store.ContextSnapshot) (*store.ContextSnapshot, error) {
	stmt := `INSERT INTO context_snapshot (id, group_id, last_message_id, token_count, payload, created_at)
		VALUES (` + placeholders(6) + `)`
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.GroupID, create.LastMessageID, create.TokenCount, create.Payload, create.CreatedAt,
	); err != nil {
		return nil, errors.Wrap(err, "failed to create context snapshot")
	}
	return create, nil
}

func (d *DB) GetLatestContextSnapshot(ctx context.Context, groupID string) (*store.ContextSnapshot, error) {
	var s store.ContextSnapshot
	err := d.db.QueryRowContext(ctx, `
		SELECT id, group_id, last_message_id, token_count, payload, created_at
		FROM context_snapshot
		WHERE group_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, groupID,
	).Scan(&s.ID, &s.GroupID, &s.LastMessageID, &s.TokenCount, &s.Payload, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest context snapshot")
	}
	return &s, nil
}
