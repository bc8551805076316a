package repo

import (
	"context"
	"database/sql"
	"fmt"

	"brosync/internal/domain"
	"brosync/internal/events"
)

// --- formation resistance dossiers ---

const frdDossierColumns = `id,tube_id,bro_id,quality_regime,assessment_type,closure_date,closed_in_registry,created_at`

func scanFrdDossier(row interface{ Scan(...any) error }) (domain.FrdDossier, error) {
	var d domain.FrdDossier
	var broID, closure sql.NullString
	err := row.Scan(&d.ID, &d.TubeID, &broID, &d.QualityRegime, &d.AssessmentType, &closure, &d.ClosedInRegistry, &d.CreatedAt)
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

func (r Repo) CreateFrdDossier(ctx context.Context, d domain.FrdDossier) (domain.FrdDossier, error) {
	switch d.AssessmentType {
	case "elektromagnetischeBepaling", "geoohmkabelBepaling":
	default:
		return d, fmt.Errorf("invalid assessment type %q", d.AssessmentType)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	d.CreatedAt = r.nowStr()
	res, err := tx.ExecContext(ctx, `INSERT INTO frd_dossiers(tube_id,bro_id,quality_regime,assessment_type,closure_date,closed_in_registry,created_at) VALUES (?,?,?,?,NULL,0,?)`,
		d.TubeID, nullableStringPtr(d.BroID), d.QualityRegime, d.AssessmentType, d.CreatedAt)
	if err != nil {
		return d, fmt.Errorf("insert frd dossier: %w", err)
	}
	d.ID, err = res.LastInsertId()
	if err != nil {
		return d, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindFRD, d.ID, domain.EventFrdStart, r.today(), nil); err != nil {
		return d, err
	}
	return d, tx.Commit()
}

func (r Repo) GetFrdDossier(ctx context.Context, id int64) (domain.FrdDossier, error) {
	return scanFrdDossier(r.DB.QueryRowContext(ctx, `SELECT `+frdDossierColumns+` FROM frd_dossiers WHERE id=?`, id))
}

func (r Repo) WriteFrdDossierBroID(ctx context.Context, tx *sql.Tx, id int64, broID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE frd_dossiers SET bro_id=? WHERE id=? AND bro_id IS NULL`, broID, id)
	return err
}

func (r Repo) CloseFrdDossier(ctx context.Context, id int64, date string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE frd_dossiers SET closure_date=? WHERE id=? AND closure_date IS NULL`, date, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindFRD, id, domain.EventFrdClosure, date, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) MarkFrdDossierClosedInRegistry(ctx context.Context, tx *sql.Tx, id int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE frd_dossiers SET closed_in_registry=1 WHERE id=?`, id)
	return err
}

// --- measurement configurations (geo-ohm cable electrode pairs) ---

const measurementConfigColumns = `id,dossier_id,name,cable_one,electrode_one,position_one,cable_two,electrode_two,position_two,synced_to_registry`

func scanMeasurementConfig(row interface{ Scan(...any) error }) (domain.MeasurementConfiguration, error) {
	var c domain.MeasurementConfiguration
	err := row.Scan(&c.ID, &c.DossierID, &c.Name, &c.CableOne, &c.ElectrodeOne, &c.PositionOne,
		&c.CableTwo, &c.ElectrodeTwo, &c.PositionTwo, &c.SyncedToRegistry)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) CreateMeasurementConfiguration(ctx context.Context, c domain.MeasurementConfiguration) (domain.MeasurementConfiguration, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO measurement_configurations(dossier_id,name,cable_one,electrode_one,position_one,cable_two,electrode_two,position_two,synced_to_registry) VALUES (?,?,?,?,?,?,?,?,0)`,
		c.DossierID, c.Name, c.CableOne, c.ElectrodeOne, c.PositionOne, c.CableTwo, c.ElectrodeTwo, c.PositionTwo)
	if err != nil {
		return c, fmt.Errorf("insert measurement configuration: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return c, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindFRD, c.DossierID, domain.EventFrdGEMConfiguration, r.today(), nil); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

// ListMeasurementConfigurations returns the dossier's configurations;
// unsyncedOnly narrows to those not yet delivered.
func (r Repo) ListMeasurementConfigurations(ctx context.Context, dossierID int64, unsyncedOnly bool) ([]domain.MeasurementConfiguration, error) {
	q := `SELECT ` + measurementConfigColumns + ` FROM measurement_configurations WHERE dossier_id=?`
	if unsyncedOnly {
		q += ` AND synced_to_registry=0`
	}
	rows, err := r.DB.QueryContext(ctx, q+` ORDER BY id`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MeasurementConfiguration
	for rows.Next() {
		c, err := scanMeasurementConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) MarkMeasurementConfigurationsSynced(ctx context.Context, tx *sql.Tx, dossierID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE measurement_configurations SET synced_to_registry=1 WHERE dossier_id=?`, dossierID)
	return err
}

// --- instrument configurations (electromagnetic) ---

const instrumentConfigColumns = `id,dossier_id,name,relative_position,coil_frequency_known,coil_frequency,instrument_length,synced_to_registry`

func scanInstrumentConfig(row interface{ Scan(...any) error }) (domain.InstrumentConfiguration, error) {
	var c domain.InstrumentConfiguration
	err := row.Scan(&c.ID, &c.DossierID, &c.Name, &c.RelativePosition, &c.CoilFrequencyKnown,
		&c.CoilFrequency, &c.InstrumentLength, &c.SyncedToRegistry)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) CreateInstrumentConfiguration(ctx context.Context, c domain.InstrumentConfiguration) (domain.InstrumentConfiguration, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `INSERT INTO instrument_configurations(dossier_id,name,relative_position,coil_frequency_known,coil_frequency,instrument_length,synced_to_registry) VALUES (?,?,?,?,?,?,0)`,
		c.DossierID, c.Name, c.RelativePosition, c.CoilFrequencyKnown, c.CoilFrequency, c.InstrumentLength)
	if err != nil {
		return c, fmt.Errorf("insert instrument configuration: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return c, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindFRD, c.DossierID, domain.EventFrdEMMConfiguration, r.today(), nil); err != nil {
		return c, err
	}
	return c, tx.Commit()
}

func (r Repo) ListInstrumentConfigurations(ctx context.Context, dossierID int64, unsyncedOnly bool) ([]domain.InstrumentConfiguration, error) {
	q := `SELECT ` + instrumentConfigColumns + ` FROM instrument_configurations WHERE dossier_id=?`
	if unsyncedOnly {
		q += ` AND synced_to_registry=0`
	}
	rows, err := r.DB.QueryContext(ctx, q+` ORDER BY id`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InstrumentConfiguration
	for rows.Next() {
		c, err := scanInstrumentConfig(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) MarkInstrumentConfigurationsSynced(ctx context.Context, tx *sql.Tx, dossierID int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE instrument_configurations SET synced_to_registry=1 WHERE dossier_id=?`, dossierID)
	return err
}

// --- resistance measurements ---

const frdMeasurementColumns = `id,dossier_id,method,configuration_id,measurement_date,vertical_pos,voltage,current,quality_control`

func scanFrdMeasurement(row interface{ Scan(...any) error }) (domain.FrdMeasurement, error) {
	var m domain.FrdMeasurement
	var configID sql.NullInt64
	err := row.Scan(&m.ID, &m.DossierID, &m.Method, &configID, &m.MeasurementDate, &m.VerticalPos, &m.Voltage, &m.Current, &m.QualityControl)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if configID.Valid {
		v := configID.Int64
		m.ConfigurationID = &v
	}
	return m, nil
}

// InsertFrdMeasurement appends one resistance measurement. Geo-ohm
// measurements must reference a measurement configuration of the same
// dossier; electromagnetic ones an instrument configuration.
func (r Repo) InsertFrdMeasurement(ctx context.Context, m domain.FrdMeasurement) (domain.FrdMeasurement, error) {
	var event domain.EventKind
	switch m.Method {
	case domain.FrdMethodGeoOhm:
		event = domain.EventFrdGEMMeasurement
	case domain.FrdMethodElectromagnetic:
		event = domain.EventFrdEMMMeasurement
	default:
		return m, fmt.Errorf("invalid measurement method %q", m.Method)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	d, err := scanFrdDossier(tx.QueryRowContext(ctx, `SELECT `+frdDossierColumns+` FROM frd_dossiers WHERE id=?`, m.DossierID))
	if err != nil {
		return m, err
	}
	if d.ClosureDate != nil {
		return m, fmt.Errorf("frd dossier %d is closed", d.ID)
	}
	if m.ConfigurationID != nil {
		table := "measurement_configurations"
		if m.Method == domain.FrdMethodElectromagnetic {
			table = "instrument_configurations"
		}
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT dossier_id FROM `+table+` WHERE id=?`, *m.ConfigurationID).Scan(&owner)
		if err == sql.ErrNoRows {
			return m, ErrNotFound
		}
		if err != nil {
			return m, err
		}
		if owner != m.DossierID {
			return m, fmt.Errorf("configuration %d belongs to dossier %d", *m.ConfigurationID, owner)
		}
	}
	var configID any
	if m.ConfigurationID != nil {
		configID = *m.ConfigurationID
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO frd_measurements(dossier_id,method,configuration_id,measurement_date,vertical_pos,voltage,current,quality_control) VALUES (?,?,?,?,?,?,?,?)`,
		m.DossierID, m.Method, configID, m.MeasurementDate, m.VerticalPos, m.Voltage, m.Current, m.QualityControl)
	if err != nil {
		return m, fmt.Errorf("insert frd measurement: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return m, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindFRD, m.DossierID, event, m.MeasurementDate, events.Payload{"measurement_id": m.ID}); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

func (r Repo) ListFrdMeasurements(ctx context.Context, dossierID int64, method string) ([]domain.FrdMeasurement, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+frdMeasurementColumns+` FROM frd_measurements WHERE dossier_id=? AND method=? ORDER BY measurement_date, id`,
		dossierID, method)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.FrdMeasurement
	for rows.Next() {
		m, err := scanFrdMeasurement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
