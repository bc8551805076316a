package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brosync/internal/domain"
)

var ErrNotFound = errors.New("sync log row not found")

// Store is the delivery ledger. Rows are created once per
// (object kind, object ref, message type, delivery type) and updated in
// place; they are never deleted.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func NewStore(db *sql.DB) Store {
	return Store{DB: db, Now: time.Now}
}

func (s Store) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

const logColumns = `id,object_kind,object_ref,event_id,message_type,delivery_type,process_status,validation_status,delivery_status,delivery_id,delivery_attempts,correlation_id,request_reference,xml_path,bro_id,last_error,last_changed,created_at`

func scanLog(row interface{ Scan(...any) error }) (domain.SyncLog, error) {
	var l domain.SyncLog
	var eventID sql.NullInt64
	var validation, delivery, deliveryID, xmlPath, broID, lastError sql.NullString
	err := row.Scan(&l.ID, &l.ObjectKind, &l.ObjectRef, &eventID, &l.MessageType, &l.DeliveryType,
		&l.ProcessStatus, &validation, &delivery, &deliveryID, &l.DeliveryAttempts, &l.CorrelationID,
		&l.RequestReference, &xmlPath, &broID, &lastError, &l.LastChanged, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if eventID.Valid {
		v := eventID.Int64
		l.EventID = &v
	}
	strField := func(ns sql.NullString) *string {
		if !ns.Valid {
			return nil
		}
		s := ns.String
		return &s
	}
	l.ValidationStatus = strField(validation)
	l.DeliveryStatus = strField(delivery)
	l.DeliveryID = strField(deliveryID)
	l.XMLPath = strField(xmlPath)
	l.BroID = strField(broID)
	l.LastError = strField(lastError)
	return l, nil
}

func optStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func optInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

// Find looks up the row by its ledger identity.
func (s Store) Find(ctx context.Context, kind domain.ObjectKind, objectRef int64, messageType domain.MessageType, deliveryType domain.DeliveryType) (domain.SyncLog, error) {
	return scanLog(s.DB.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM sync_logs WHERE object_kind=? AND object_ref=? AND message_type=? AND delivery_type=?`,
		string(kind), objectRef, string(messageType), string(deliveryType)))
}

func (s Store) Get(ctx context.Context, id int64) (domain.SyncLog, error) {
	return scanLog(s.DB.QueryRowContext(ctx, `SELECT `+logColumns+` FROM sync_logs WHERE id=?`, id))
}

// Create inserts a fresh row in the new state with a correlation id for log
// tracing. The unique ledger-identity constraint rejects duplicates.
func (s Store) Create(ctx context.Context, l domain.SyncLog) (domain.SyncLog, error) {
	if !domain.ValidDeliveryType(l.DeliveryType) {
		return l, fmt.Errorf("invalid delivery type %q", l.DeliveryType)
	}
	l.ProcessStatus = domain.StateNew
	l.CorrelationID = uuid.NewString()
	l.CreatedAt = s.now()
	l.LastChanged = l.CreatedAt
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO sync_logs(object_kind,object_ref,event_id,message_type,delivery_type,process_status,validation_status,delivery_status,delivery_id,delivery_attempts,correlation_id,request_reference,xml_path,bro_id,last_error,last_changed,created_at)
VALUES (?,?,?,?,?,?,NULL,NULL,NULL,0,?,'',NULL,NULL,NULL,?,?)`,
		string(l.ObjectKind), l.ObjectRef, optInt(l.EventID), string(l.MessageType), string(l.DeliveryType),
		l.ProcessStatus, l.CorrelationID, l.LastChanged, l.CreatedAt)
	if err != nil {
		return l, fmt.Errorf("insert sync log: %w", err)
	}
	l.ID, err = res.LastInsertId()
	return l, err
}

// Save writes back the mutable columns of a row and bumps lastChanged.
func (s Store) Save(ctx context.Context, l domain.SyncLog) error {
	l.LastChanged = s.now()
	res, err := s.DB.ExecContext(ctx,
		`UPDATE sync_logs SET process_status=?, validation_status=?, delivery_status=?, delivery_id=?, delivery_attempts=?, request_reference=?, xml_path=?, bro_id=?, last_error=?, last_changed=? WHERE id=?`,
		l.ProcessStatus, optStr(l.ValidationStatus), optStr(l.DeliveryStatus), optStr(l.DeliveryID),
		l.DeliveryAttempts, l.RequestReference, optStr(l.XMLPath), optStr(l.BroID), optStr(l.LastError),
		l.LastChanged, l.ID)
	if err != nil {
		return fmt.Errorf("update sync log %d: %w", l.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PendingByStatus returns rows in one state, oldest first.
func (s Store) PendingByStatus(ctx context.Context, status string, limit int) ([]domain.SyncLog, error) {
	return s.query(ctx, `SELECT `+logColumns+` FROM sync_logs WHERE process_status=? ORDER BY created_at, id LIMIT ?`, status, limit)
}

// PendingForKind returns all non-terminal rows of one kind in creation order.
func (s Store) PendingForKind(ctx context.Context, kind domain.ObjectKind) ([]domain.SyncLog, error) {
	return s.query(ctx,
		`SELECT `+logColumns+` FROM sync_logs WHERE object_kind=? AND process_status NOT IN (?,?) ORDER BY created_at, id`,
		string(kind), domain.StateApproved, domain.StatePermanentlyFailed)
}

// List returns rows for operator inspection, newest first. Empty kind means
// all kinds.
func (s Store) List(ctx context.Context, kind domain.ObjectKind, limit int) ([]domain.SyncLog, error) {
	if kind == "" {
		return s.query(ctx, `SELECT `+logColumns+` FROM sync_logs ORDER BY last_changed DESC, id DESC LIMIT ?`, limit)
	}
	return s.query(ctx, `SELECT `+logColumns+` FROM sync_logs WHERE object_kind=? ORDER BY last_changed DESC, id DESC LIMIT ?`, string(kind), limit)
}

// Requeue resets a permanently failed row for another round of deliveries.
// Manual operator action; attempts go back to zero.
func (s Store) Requeue(ctx context.Context, id int64) (domain.SyncLog, error) {
	l, err := s.Get(ctx, id)
	if err != nil {
		return l, err
	}
	if l.ProcessStatus != domain.StatePermanentlyFailed {
		return l, fmt.Errorf("row %d is %s, only %s rows can be requeued", id, l.ProcessStatus, domain.StatePermanentlyFailed)
	}
	l.ProcessStatus = domain.StateNew
	l.DeliveryAttempts = 0
	l.LastError = nil
	if err := s.Save(ctx, l); err != nil {
		return l, err
	}
	return s.Get(ctx, id)
}

func (s Store) query(ctx context.Context, q string, args ...any) ([]domain.SyncLog, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SyncLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
