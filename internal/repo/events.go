package repo

import (
	"context"
	"database/sql"

	"brosync/internal/domain"
)

func scanEvent(row interface{ Scan(...any) error }) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.ObjectKind, &e.ObjectID, &e.Kind, &e.EventDate, &e.Payload, &e.Synced, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

const eventColumns = `id,object_kind,object_id,kind,event_date,payload_json,synced,created_at`

func (r Repo) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	return scanEvent(r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id))
}

// ListUnsyncedEvents returns pending events of one kind in emission order.
func (r Repo) ListUnsyncedEvents(ctx context.Context, kind domain.ObjectKind) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE object_kind=? AND synced=0 ORDER BY id`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) MarkEventSynced(ctx context.Context, tx *sql.Tx, eventID int64) error {
	return r.Events.MarkSynced(ctx, tx, eventID)
}
