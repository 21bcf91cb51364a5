package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// UpsertConversationSession writes a session snapshot. The created
// timestamp survives updates.
func (d *DB) UpsertConversationSession(ctx context.Context, upsert *store.UpsertConversationSession) (*store.ConversationSession, error) {
	stmt := `
		INSERT INTO conversation_session (id, state, slots, turn, created_ts, updated_ts)
		VALUES (` + placeholders(6) + `)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			slots = EXCLUDED.slots,
			turn = EXCLUDED.turn,
			updated_ts = EXCLUDED.updated_ts
		RETURNING id, state, slots, turn, created_ts, updated_ts
	`

	now := time.Now().Unix()
	session := &store.ConversationSession{}
	err := d.db.QueryRowContext(ctx, stmt,
		upsert.ID,
		upsert.State,
		upsert.Slots,
		upsert.Turn,
		now,
		now,
	).Scan(
		&session.ID,
		&session.State,
		&session.Slots,
		&session.Turn,
		&session.CreatedTs,
		&session.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert conversation session")
	}
	return session, nil
}

// ListConversationSessions lists persisted snapshots, most recently
// updated first.
func (d *DB) ListConversationSessions(ctx context.Context, find *store.FindConversationSession) ([]*store.ConversationSession, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UpdatedBefore != nil {
		where, args = append(where, "updated_ts < ?"), append(args, *find.UpdatedBefore)
	}

	query := `
		SELECT id, state, slots, turn, created_ts, updated_ts
		FROM conversation_session
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY updated_ts DESC
	`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversation sessions")
	}
	defer rows.Close()

	list := []*store.ConversationSession{}
	for rows.Next() {
		var session store.ConversationSession
		err := rows.Scan(
			&session.ID,
			&session.State,
			&session.Slots,
			&session.Turn,
			&session.CreatedTs,
			&session.UpdatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation session")
		}
		list = append(list, &session)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteConversationSession removes a session snapshot.
func (d *DB) DeleteConversationSession(ctx context.Context, delete *store.DeleteConversationSession) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM conversation_session WHERE id = ?", delete.ID)
	return errors.Wrap(err, "failed to delete conversation session")
}
