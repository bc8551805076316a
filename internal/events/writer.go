package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"brosync/internal/domain"
)

// Emitter appends registry events inside the transaction of the mutation that
// caused them. One unsynced event per (object, kind) at a time: re-emitting
// while a previous one is still pending is a no-op returning the pending id,
// which is what coalesces measurementAdded under an open observation.
type Emitter struct {
	Now func() time.Time
}

type Payload map[string]any

func (e Emitter) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Emit appends one event and returns its id. EventDate must be non-decreasing
// per object; payload may be nil.
func (e Emitter) Emit(ctx context.Context, tx *sql.Tx, kind domain.ObjectKind, objectID int64, event domain.EventKind, eventDate string, payload Payload) (int64, error) {
	var pending int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM events WHERE object_kind=? AND object_id=? AND kind=? AND synced=0 LIMIT 1`,
		string(kind), objectID, string(event)).Scan(&pending)
	if err == nil {
		return pending, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	var lastDate sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(event_date) FROM events WHERE object_kind=? AND object_id=?`,
		string(kind), objectID).Scan(&lastDate)
	if err != nil {
		return 0, err
	}
	if lastDate.Valid && eventDate < lastDate.String {
		return 0, fmt.Errorf("event date %s precedes last event %s for %s/%d", eventDate, lastDate.String, kind, objectID)
	}

	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events(object_kind,object_id,kind,event_date,payload_json,synced,created_at) VALUES (?,?,?,?,?,0,?)`,
		string(kind), objectID, string(event), eventDate, string(data), e.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// MarkSynced flips the synced flag on one event.
func (e Emitter) MarkSynced(ctx context.Context, tx *sql.Tx, eventID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE events SET synced=1 WHERE id=?`, eventID)
	return err
}
