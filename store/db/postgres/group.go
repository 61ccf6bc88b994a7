package postgres

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
			name = EXCLUDED.name,
			members = EXCLUDED.members,
			settings = EXCLUDED.settings
		RETURNING created_at
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		upsert.ID, upsert.Name, members, string(settings), upsert.CreatedAt,
	).Scan(&upsert.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to upsert group")
	}
	return upsert, nil
}

func (d *DB) GetGroup(ctx context.Context, find *store.FindGroup) (*store.Group, error) {
	if find == nil || find.ID == nil {
		return nil, errors.New("group id is required")
	}

	var (
		group             store.Group
		members, settings []byte
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, members, settings, created_at FROM chat_group WHERE id = $1`, *find.ID,
	).Scan(&group.ID, &group.Name, &members, &settings, &group.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get group")
	}

	if err := json.Unmarshal(members, &group.Members); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal group members")
	}
	group.Settings = store.DefaultMemorySettings()
	if err := json.Unmarshal(settings, &group.Settings); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal group settings")
	}
	return &group, nil
}
