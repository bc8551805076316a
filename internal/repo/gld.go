package repo

import (
	"context"
	"database/sql"
	"fmt"

	"brosync/internal/domain"
	"brosync/internal/events"
)

// --- groundwater level dossiers ---

const dossierColumns = `id,tube_id,bro_id,quality_regime,start_date,closure_date,closed_in_registry,created_at`

func scanDossier(row interface{ Scan(...any) error }) (domain.Dossier, error) {
	var d domain.Dossier
	var broID, closure sql.NullString
	err := row.Scan(&d.ID, &d.TubeID, &broID, &d.QualityRegime, &d.StartDate, &closure, &d.ClosedInRegistry, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	d.BroID = strPtr(broID)
	d.ClosureDate = strPtr(closure)
	return d, nil
}

// CreateDossier opens a level dossier on a tube and queues its start
// registration.
func (r Repo) CreateDossier(ctx context.Context, d domain.Dossier) (domain.Dossier, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	d.CreatedAt = r.nowStr()
	if d.StartDate == "" {
		d.StartDate = r.today()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO dossiers(tube_id,bro_id,quality_regime,start_date,closure_date,closed_in_registry,created_at) VALUES (?,?,?,?,NULL,0,?)`,
		d.TubeID, nullableStringPtr(d.BroID), d.QualityRegime, d.StartDate, d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("insert dossier: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return d, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGLD, d.ID, domain.EventDossierStart, d.StartDate, nil); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (r Repo) GetDossier(ctx context.Context, id int64) (domain.Dossier, error) {
	return scanDossier(r.DB.QueryRowContext(ctx, `SELECT `+dossierColumns+` FROM dossiers WHERE id=?`, id))
}

func (r Repo) ListDossiers(ctx context.Context) ([]domain.Dossier, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+dossierColumns+` FROM dossiers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Dossier
	for rows.Next() {
		d, err := scanDossier(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) WriteDossierBroID(ctx context.Context, tx *sql.Tx, id int64, broID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE dossiers SET bro_id=? WHERE id=? AND bro_id IS NULL`, broID, id)
	return err
}

// CloseDossier sets the closure date and queues the closure message. Further
// measurement inserts are rejected by InsertMeasurement.
func (r Repo) CloseDossier(ctx context.Context, id int64, date string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE dossiers SET closure_date=? WHERE id=? AND closure_date IS NULL`, date, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGLD, id, domain.EventDossierClosure, date, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) MarkDossierClosedInRegistry(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE dossiers SET closed_in_registry=1 WHERE id=?`, id)
	return err
}

// --- observations ---

const observationColumns = `id,dossier_id,observation_type,status,start_time,result_time,closed,principal_investigator,measurement_instrument_type,evaluation_procedure,air_pressure_compensation`

func scanObservation(row interface{ Scan(...any) error }) (domain.Observation, error) {
	var o domain.Observation
	var resultTime sql.NullString
	err := row.Scan(&o.ID, &o.DossierID, &o.ObservationType, &o.Status, &o.StartTime, &resultTime, &o.Closed,
		&o.PrincipalInvestigator, &o.MeasurementInstrumentType, &o.EvaluationProcedure, &o.AirPressureCompensation)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	o.ResultTime = strPtr(resultTime)
	return o, nil
}

func (r Repo) OpenObservation(ctx context.Context, o domain.Observation) (domain.Observation, error) {
	if o.ObservationType != "reguliereMeting" && o.ObservationType != "controlemeting" {
		return o, fmt.Errorf("invalid observation type %q", o.ObservationType)
	}
	if o.StartTime == "" {
		o.StartTime = r.nowStr()
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO observations(dossier_id,observation_type,status,start_time,result_time,closed,principal_investigator,measurement_instrument_type,evaluation_procedure,air_pressure_compensation)
VALUES (?,?,?,?,NULL,0,?,?,?,?)`,
		o.DossierID, o.ObservationType, o.Status, o.StartTime,
		o.PrincipalInvestigator, o.MeasurementInstrumentType, o.EvaluationProcedure, o.AirPressureCompensation)
	if err != nil {
		return o, fmt.Errorf("insert observation: %w", err)
	}
	o.ID, err = res.LastInsertId()
	return o, err
}

func (r Repo) GetObservation(ctx context.Context, id int64) (domain.Observation, error) {
	return scanObservation(r.DB.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id=?`, id))
}

// OpenObservationOfDossier returns the dossier's open observation of the given
// type, or ErrNotFound.
func (r Repo) OpenObservationOfDossier(ctx context.Context, dossierID int64, observationType string) (domain.Observation, error) {
	return scanObservation(r.DB.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE dossier_id=? AND observation_type=? AND closed=0 ORDER BY id LIMIT 1`,
		dossierID, observationType))
}

func (r Repo) ListObservationsOfDossier(ctx context.Context, dossierID int64) ([]domain.Observation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE dossier_id=? ORDER BY id`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// CloseObservation seals the observation and queues the addition that carries
// its measurements.
func (r Repo) CloseObservation(ctx context.Context, id int64, resultTime, status string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	o, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id=?`, id))
	if err != nil {
		return err
	}
	if o.Closed {
		return fmt.Errorf("observation %d already closed", id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE observations SET closed=1, result_time=?, status=? WHERE id=?`, resultTime, status, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGLD, o.DossierID, domain.EventAdditionReady, r.today(),
		events.Payload{"observation_id": o.ID, "observation_type": o.ObservationType}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- measurements ---

func scanMeasurement(row interface{ Scan(...any) error }) (domain.MeasurementTvp, error) {
	var m domain.MeasurementTvp
	var value sql.NullFloat64
	var censor sql.NullString
	err := row.Scan(&m.ID, &m.ObservationID, &m.Time, &value, &m.Unit, &m.StatusQualityControl, &censor, &m.InterpolationCode)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	m.Value = floatPtr(value)
	m.CensorReason = strPtr(censor)
	return m, nil
}

// InsertMeasurement appends one time-value pair under an open observation and
// notes the dossier as having new measurements. Inserts after dossier closure
// are rejected.
func (r Repo) InsertMeasurement(ctx context.Context, m domain.MeasurementTvp) (domain.MeasurementTvp, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	o, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id=?`, m.ObservationID))
	if err != nil {
		return m, err
	}
	if o.Closed {
		return m, fmt.Errorf("observation %d is closed", m.ObservationID)
	}
	d, err := scanDossier(tx.QueryRowContext(ctx, `SELECT `+dossierColumns+` FROM dossiers WHERE id=?`, o.DossierID))
	if err != nil {
		return m, err
	}
	if d.ClosureDate != nil {
		return m, fmt.Errorf("dossier %d is closed", d.ID)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO measurement_tvps(observation_id,time,value,unit,status_quality_control,censor_reason,interpolation_code) VALUES (?,?,?,?,?,?,?)`,
		m.ObservationID, m.Time, nullableFloatPtr(m.Value), m.Unit, m.StatusQualityControl,
		nullableStringPtr(m.CensorReason), m.InterpolationCode)
	if err != nil {
		return m, fmt.Errorf("insert measurement: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return m, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGLD, o.DossierID, domain.EventMeasurementAdded, r.today(),
		events.Payload{"observation_id": o.ID}); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

// CorrectMeasurement rewrites one time-value pair. When the observation was
// already delivered this queues a corrective replace; while it is still open
// the correction simply rides along with the pending addition.
func (r Repo) CorrectMeasurement(ctx context.Context, id int64, value *float64, qc string, censorReason *string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	m, err := scanMeasurement(tx.QueryRowContext(ctx,
		`SELECT id,observation_id,time,value,unit,status_quality_control,censor_reason,interpolation_code FROM measurement_tvps WHERE id=?`, id))
	if err != nil {
		return err
	}
	o, err := scanObservation(tx.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id=?`, m.ObservationID))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE measurement_tvps SET value=?, status_quality_control=?, censor_reason=? WHERE id=?`,
		nullableFloatPtr(value), qc, nullableStringPtr(censorReason), id); err != nil {
		return err
	}
	event := domain.EventMeasurementAdded
	if o.Closed {
		event = domain.EventMeasurementCorrected
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGLD, o.DossierID, event, r.today(),
		events.Payload{"observation_id": o.ID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) ListMeasurements(ctx context.Context, observationID int64) ([]domain.MeasurementTvp, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,observation_id,time,value,unit,status_quality_control,censor_reason,interpolation_code FROM measurement_tvps WHERE observation_id=? ORDER BY time, id`,
		observationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MeasurementTvp
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
