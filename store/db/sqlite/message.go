package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/groupmind/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	fields := []string{"id", "group_id", "role", "sender_id", "sender_name", "mode", "content", "created_at", "message_type", "is_compressed", "original_content", "value_score"}
	args := []any{
		create.ID,
		create.GroupID,
		string(create.Role),
		create.SenderID,
		create.SenderName,
		create.Mode,
		create.Content,
		toMillis(create.CreatedAt),
		string(create.Type),
		create.Compressed,
		create.OriginalContent,
		create.ValueScore,
	}

	stmt := `INSERT INTO chat_message (` + strings.Join(fields, ", ") + `) VALUES (` + placeholders(len(args)) + `)`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}
	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	if find == nil {
		return nil, errors.New("find parameter cannot be nil")
	}

	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.AfterCreatedAt != nil {
		if find.AfterID != nil {
			where, args = append(where, "(created_at, id) > (?, ?)"), append(args, toMillis(*find.AfterCreatedAt), *find.AfterID)
		} else {
			where, args = append(where, "created_at > ?"), append(args, toMillis(*find.AfterCreatedAt))
		}
	}
	if find.ExcludeCompressed {
		where = append(where, "is_compressed = 0")
	}

	query := `SELECT id, group_id, role, sender_id, sender_name, mode, content, created_at, message_type, is_compressed, original_content, value_score
		FROM chat_message WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at ASC, id ASC`
	if find.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		var (
			m          store.Message
			role, kind string
			createdAt  int64
			score      sql.NullFloat64
		)
		if err := rows.Scan(
			&m.ID,
			&m.GroupID,
			&role,
			&m.SenderID,
			&m.SenderName,
			&m.Mode,
			&m.Content,
			&createdAt,
			&kind,
			&m.Compressed,
			&m.OriginalContent,
			&score,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Role = store.Role(role)
		m.Type = store.MessageType(kind)
		m.CreatedAt = fromMillis(createdAt)
		if score.Valid {
			m.ValueScore = &score.Float64
		}
		list = append(list, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}
	return list, nil
}
