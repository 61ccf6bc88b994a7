package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

func (d *DB) UpsertGroup(ctx context.Context, upsert *store.Group) (*store.Group, error) {
	members, err := jsonOrDefault(upsert.Members, "[]")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal group members")
	}
	settings, err := json.Marshal(upsert.Settings)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal group settings")
	}

	stmt := `
		INSERT INTO chat_group (id, name, members, settings, created_at)
		VALUES (` + placeholders(5) + `)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			members = excluded.members,
			settings = excluded.settings
		RETURNING created_at
	`
	var createdAt int64
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.ID, upsert.Name, members, string(settings), toMillis(upsert.CreatedAt),
	).Scan(&createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to upsert group")
	}
	upsert.CreatedAt = fromMillis(createdAt)
	return upsert, nil
}

func (d *DB) GetGroup(ctx context.Context, find *store.FindGroup) (*store.Group, error) {
	if find == nil || find.ID == nil {
		return nil, errors.New("group id is required")
	}

	var (
		group             store.Group
		members, settings string
		createdAt         int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, members, settings, created_at FROM chat_group WHERE id = ?`, *find.ID,
	).Scan(&group.ID, &group.Name, &members, &settings, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get group")
	}

	group.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(members), &group.Members); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal group members")
	}
	group.Settings = store.DefaultMemorySettings()
	if err := json.Unmarshal([]byte(settings), &group.Settings); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal group settings")
	}
	return &group, nil
}
