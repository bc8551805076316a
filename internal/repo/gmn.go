package repo

import (
	"context"
	"database/sql"
	"fmt"

	"brosync/internal/domain"
	"brosync/internal/events"
)

// --- monitoring networks ---

const networkColumns = `id,name,bro_id,object_id,quality_regime,delivery_context,monitoring_purpose,groundwater_aspect,start_date,end_date,closed_in_registry,created_at`

func scanNetwork(row interface{ Scan(...any) error }) (domain.Network, error) {
	var n domain.Network
	var broID, endDate sql.NullString
	err := row.Scan(&n.ID, &n.Name, &broID, &n.ObjectID, &n.QualityRegime, &n.DeliveryContext,
		&n.MonitoringPurpose, &n.GroundwaterAspect, &n.StartDate, &endDate, &n.ClosedInRegistry, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.BroID = strPtr(broID)
	n.EndDate = strPtr(endDate)
	return n, nil
}

// CreateNetwork opens a monitoring network. Registration is held back by the
// orchestrator until the network has at least one measuring point.
func (r Repo) CreateNetwork(ctx context.Context, n domain.Network) (domain.Network, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return n, err
	}
	defer tx.Rollback()
	n.CreatedAt = r.nowStr()
	if n.StartDate == "" {
		n.StartDate = r.today()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO networks(name,bro_id,object_id,quality_regime,delivery_context,monitoring_purpose,groundwater_aspect,start_date,end_date,closed_in_registry,created_at) VALUES (?,?,?,?,?,?,?,?,NULL,0,?)`,
		n.Name, nullableStringPtr(n.BroID), n.ObjectID, n.QualityRegime, n.DeliveryContext,
		n.MonitoringPurpose, n.GroundwaterAspect, n.StartDate, n.CreatedAt)
	if err != nil {
		return n, fmt.Errorf("insert network: %w", err)
	}
	n.ID, err = res.LastInsertId()
	if err != nil {
		return n, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMN, n.ID, domain.EventNetworkStart, n.StartDate, nil); err != nil {
		return n, err
	}
	return n, tx.Commit()
}

func (r Repo) GetNetwork(ctx context.Context, id int64) (domain.Network, error) {
	return scanNetwork(r.DB.QueryRowContext(ctx, `SELECT `+networkColumns+` FROM networks WHERE id=?`, id))
}

func (r Repo) WriteNetworkBroID(ctx context.Context, tx *sql.Tx, id int64, broID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE networks SET bro_id=? WHERE id=? AND bro_id IS NULL`, broID, id)
	return err
}

func (r Repo) CloseNetwork(ctx context.Context, id int64, date string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE networks SET end_date=? WHERE id=? AND end_date IS NULL`, date, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMN, id, domain.EventNetworkClosure, date, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) MarkNetworkClosedInRegistry(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE networks SET closed_in_registry=1 WHERE id=?`, id)
	return err
}

// --- measuring points ---

const measuringPointColumns = `id,network_id,tube_id,code,start_date,end_date`

func scanMeasuringPoint(row interface{ Scan(...any) error }) (domain.MeasuringPoint, error) {
	var p domain.MeasuringPoint
	var endDate sql.NullString
	err := row.Scan(&p.ID, &p.NetworkID, &p.TubeID, &p.Code, &p.StartDate, &endDate)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.EndDate = strPtr(endDate)
	return p, nil
}

// AddMeasuringPoint couples a tube into a network. The unique constraint on
// (network_id, tube_id) rejects double coupling.
func (r Repo) AddMeasuringPoint(ctx context.Context, p domain.MeasuringPoint) (domain.MeasuringPoint, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if p.StartDate == "" {
		p.StartDate = r.today()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO measuring_points(network_id,tube_id,code,start_date,end_date) VALUES (?,?,?,?,NULL)`,
		p.NetworkID, p.TubeID, p.Code, p.StartDate)
	if err != nil {
		return p, fmt.Errorf("insert measuring point: %w", err)
	}
	p.ID, err = res.LastInsertId()
	if err != nil {
		return p, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMN, p.ID, domain.EventMeasuringPointAdded, p.StartDate,
		events.Payload{"network_id": p.NetworkID}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (r Repo) GetMeasuringPoint(ctx context.Context, id int64) (domain.MeasuringPoint, error) {
	return scanMeasuringPoint(r.DB.QueryRowContext(ctx, `SELECT `+measuringPointColumns+` FROM measuring_points WHERE id=?`, id))
}

func (r Repo) ListMeasuringPoints(ctx context.Context, networkID int64) ([]domain.MeasuringPoint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+measuringPointColumns+` FROM measuring_points WHERE network_id=? ORDER BY id`, networkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MeasuringPoint
	for rows.Next() {
		p, err := scanMeasuringPoint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// EndMeasuringPoint records the tube leaving the network.
func (r Repo) EndMeasuringPoint(ctx context.Context, id int64, date string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := scanMeasuringPoint(tx.QueryRowContext(ctx, `SELECT `+measuringPointColumns+` FROM measuring_points WHERE id=?`, id))
	if err != nil {
		return err
	}
	if p.EndDate != nil {
		return fmt.Errorf("measuring point %d already ended", id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE measuring_points SET end_date=? WHERE id=?`, date, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMN, p.ID, domain.EventMeasuringPointRemoved, date,
		events.Payload{"network_id": p.NetworkID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RepointMeasuringPoint moves the measuring point to another tube, which the
// registry models as a tube reference change.
func (r Repo) RepointMeasuringPoint(ctx context.Context, id, tubeID int64, date string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	p, err := scanMeasuringPoint(tx.QueryRowContext(ctx, `SELECT `+measuringPointColumns+` FROM measuring_points WHERE id=?`, id))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE measuring_points SET tube_id=? WHERE id=?`, tubeID, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMN, p.ID, domain.EventTubeReferenceChanged, date,
		events.Payload{"network_id": p.NetworkID, "tube_id": tubeID}); err != nil {
		return err
	}
	return tx.Commit()
}
