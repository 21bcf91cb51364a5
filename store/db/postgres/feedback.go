package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

// CreateFeedbackEvent appends one revision operation to the event log.
func (d *DB) CreateFeedbackEvent(ctx context.Context, create *store.FeedbackEvent) (*store.FeedbackEvent, error) {
	stmt := `
		INSERT INTO feedback_event (id, session_id, operation, target_place_id, other_place_id, target_day, reason, created_ts)
		VALUES (` + placeholders(8) + `)
		RETURNING created_ts
	`

	create.CreatedTs = time.Now().Unix()
	err := d.db.QueryRowContext(ctx, stmt,
		create.ID,
		create.SessionID,
		create.Operation,
		create.TargetPlaceID,
		create.OtherPlaceID,
		create.TargetDay,
		create.Reason,
		create.CreatedTs,
	).Scan(&create.CreatedTs)

	if err != nil {
		return nil, errors.Wrap(err, "failed to create feedback event")
	}
	return create, nil
}

// ListFeedbackEvents lists events oldest first, so replaying them
// reproduces the revision sequence.
func (d *DB) ListFeedbackEvents(ctx context.Context, find *store.FindFeedbackEvent) ([]*store.FeedbackEvent, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.SessionID != nil {
		where, args = append(where, "session_id = "+placeholder(len(args)+1)), append(args, *find.SessionID)
	}

	query := `
		SELECT id, session_id, operation, target_place_id, other_place_id, target_day, reason, created_ts
		FROM feedback_event
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC
	`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list feedback events")
	}
	defer rows.Close()

	list := []*store.FeedbackEvent{}
	for rows.Next() {
		var event store.FeedbackEvent
		err := rows.Scan(
			&event.ID,
			&event.SessionID,
			&event.Operation,
			&event.TargetPlaceID,
			&event.OtherPlaceID,
			&event.TargetDay,
			&event.Reason,
			&event.CreatedTs,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan feedback event")
		}
		list = append(list, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
