package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"brosync/internal/domain"
	"brosync/internal/events"
)

// Repo is the typed gateway over the domain store. Mutations that matter to
// the registry append their event through Events inside the same transaction,
// so replaying the same mutations always yields the same event stream.
type Repo struct {
	DB     *sql.DB
	Events events.Emitter
	Now    func() time.Time
}

var ErrNotFound = errors.New("not found")

func New(db *sql.DB) Repo {
	return Repo{DB: db, Events: events.Emitter{}, Now: time.Now}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) nowStr() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r Repo) today() string {
	return r.now().UTC().Format("2006-01-02")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

// --- wells ---

const wellColumns = `id,internal_id,nitg_code,bro_id,delivery_accountable_party,quality_regime,well_head_protector,owner,maintainer,coordinate_x,coordinate_y,horizontal_positioning_method,local_vertical_reference_point,well_offset,vertical_datum,ground_level_position,ground_level_positioning_method,construction_date,removed_from_registry_date,created_at`

func scanWell(row interface{ Scan(...any) error }) (domain.Well, error) {
	var w domain.Well
	var broID, removed sql.NullString
	var groundLevel sql.NullFloat64
	err := row.Scan(&w.ID, &w.InternalID, &w.NitgCode, &broID, &w.DeliveryAccountableParty, &w.QualityRegime,
		&w.WellHeadProtector, &w.Owner, &w.Maintainer, &w.CoordinateX, &w.CoordinateY,
		&w.HorizontalPositioningMethod, &w.LocalVerticalReferencePoint, &w.WellOffset, &w.VerticalDatum,
		&groundLevel, &w.GroundLevelPositioningMethod, &w.ConstructionDate, &removed, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	w.BroID = strPtr(broID)
	w.RemovedFromRegistryDate = strPtr(removed)
	w.GroundLevelPosition = floatPtr(groundLevel)
	return w, nil
}

// CreateWell inserts the well and appends its construction event.
func (r Repo) CreateWell(ctx context.Context, w domain.Well) (domain.Well, error) {
	if w.QualityRegime != "IMBRO" && w.QualityRegime != "IMBRO/A" {
		return w, fmt.Errorf("invalid quality regime %q", w.QualityRegime)
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return w, err
	}
	defer tx.Rollback()

	w.CreatedAt = r.nowStr()
	if w.ConstructionDate == "" {
		w.ConstructionDate = r.today()
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO wells(internal_id,nitg_code,bro_id,delivery_accountable_party,quality_regime,well_head_protector,owner,maintainer,coordinate_x,coordinate_y,horizontal_positioning_method,local_vertical_reference_point,well_offset,vertical_datum,ground_level_position,ground_level_positioning_method,construction_date,removed_from_registry_date,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.InternalID, w.NitgCode, nullableStringPtr(w.BroID), w.DeliveryAccountableParty, w.QualityRegime,
		w.WellHeadProtector, w.Owner, w.Maintainer, w.CoordinateX, w.CoordinateY,
		w.HorizontalPositioningMethod, w.LocalVerticalReferencePoint, w.WellOffset, w.VerticalDatum,
		nullableFloatPtr(w.GroundLevelPosition), w.GroundLevelPositioningMethod, w.ConstructionDate, nil, w.CreatedAt)
	if err != nil {
		return w, fmt.Errorf("insert well: %w", err)
	}
	w.ID, err = res.LastInsertId()
	if err != nil {
		return w, err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, w.ID, domain.EventConstruction, w.ConstructionDate, nil); err != nil {
		return w, err
	}
	return w, tx.Commit()
}

func (r Repo) GetWell(ctx context.Context, id int64) (domain.Well, error) {
	return scanWell(r.DB.QueryRowContext(ctx, `SELECT `+wellColumns+` FROM wells WHERE id=?`, id))
}

func (r Repo) ListWells(ctx context.Context) ([]domain.Well, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+wellColumns+` FROM wells ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Well
	for rows.Next() {
		w, err := scanWell(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// wellMutation updates one column and appends the matching event, atomically.
func (r Repo) wellMutation(ctx context.Context, id int64, set string, value any, event domain.EventKind, payload events.Payload) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE wells SET `+set+`=? WHERE id=?`, value, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, id, event, r.today(), payload); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpdateWellGroundLevel(ctx context.Context, id int64, position float64) error {
	return r.wellMutation(ctx, id, "ground_level_position", position, domain.EventGroundLevelRemeasured,
		events.Payload{"ground_level_position": position})
}

// SurveyWellGroundLevel records a surveyed (ingemeten) ground level, which
// delivers as a measuring message instead of a plain determination.
func (r Repo) SurveyWellGroundLevel(ctx context.Context, id int64, position float64, method string) error {
	return r.wellMutation(ctx, id, "ground_level_position", position, domain.EventGroundLevelRemeasured,
		events.Payload{"ground_level_position": position, "method": method})
}

// ShiftWellGroundLevel records a ground-level shift (maaiveld verlegd), which
// delivers as a GMW_Shift rather than a remeasurement.
func (r Repo) ShiftWellGroundLevel(ctx context.Context, id int64, position float64) error {
	return r.wellMutation(ctx, id, "ground_level_position", position, domain.EventShift,
		events.Payload{"ground_level_position": position})
}

func (r Repo) UpdateWellHeadProtector(ctx context.Context, id int64, protector string) error {
	return r.wellMutation(ctx, id, "well_head_protector", protector, domain.EventWellHeadProtector,
		events.Payload{"well_head_protector": protector})
}

func (r Repo) UpdateWellOwner(ctx context.Context, id int64, owner string) error {
	return r.wellMutation(ctx, id, "owner", owner, domain.EventOwnerChanged, events.Payload{"owner": owner})
}

func (r Repo) UpdateWellMaintainer(ctx context.Context, id int64, maintainer string) error {
	return r.wellMutation(ctx, id, "maintainer", maintainer, domain.EventMaintainerChanged,
		events.Payload{"maintainer": maintainer})
}

func (r Repo) UpdateWellPosition(ctx context.Context, id int64, x, y float64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE wells SET coordinate_x=?, coordinate_y=? WHERE id=?`, x, y, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, id, domain.EventPositionRemeasured, r.today(),
		events.Payload{"x": x, "y": y}); err != nil {
		return err
	}
	return tx.Commit()
}

// RemeasureWellPositions updates coordinates and ground level in one go; the
// registry takes this as a combined positions message.
func (r Repo) RemeasureWellPositions(ctx context.Context, id int64, x, y, groundLevel float64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `UPDATE wells SET coordinate_x=?, coordinate_y=?, ground_level_position=? WHERE id=?`, x, y, groundLevel, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, id, domain.EventPositionRemeasured, r.today(),
		events.Payload{"x": x, "y": y, "ground_level_position": groundLevel}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) RemoveWellFromRegistry(ctx context.Context, id int64, date string) error {
	return r.wellMutation(ctx, id, "removed_from_registry_date", date, domain.EventWellRemoval,
		events.Payload{"removed_date": date})
}

// UpdateWellNitgCode fixes registration metadata without emitting an event;
// the pending delivery rebuilds from current state on its next pass.
func (r Repo) UpdateWellNitgCode(ctx context.Context, id int64, nitg string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE wells SET nitg_code=? WHERE id=?`, nitg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// WriteWellBroID assigns the registry id once; an already assigned id is
// never overwritten.
func (r Repo) WriteWellBroID(ctx context.Context, tx *sql.Tx, id int64, broID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE wells SET bro_id=? WHERE id=? AND bro_id IS NULL`, broID, id)
	return err
}

// --- tubes ---

const tubeColumns = `id,well_id,number,tube_type,tube_status,tube_top_position,tube_top_positioning_method,tube_material,glue,tube_packing_material,plain_tube_part_length,inserted_part_length,inserted_part_diameter,inserted_part_material,screen_length,screen_top_position,screen_bottom_position,sediment_sump_present,created_at`

func scanTube(row interface{ Scan(...any) error }) (domain.Tube, error) {
	var t domain.Tube
	var insLen, insDia sql.NullFloat64
	err := row.Scan(&t.ID, &t.WellID, &t.Number, &t.TubeType, &t.TubeStatus, &t.TubeTopPosition,
		&t.TubeTopPositioningMethod, &t.TubeMaterial, &t.Glue, &t.TubePackingMaterial, &t.PlainTubePartLength,
		&insLen, &insDia, &t.InsertedPartMaterial, &t.ScreenLength, &t.ScreenTopPosition,
		&t.ScreenBottomPosition, &t.SedimentSumpPresent, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.InsertedPartLength = floatPtr(insLen)
	t.InsertedPartDiameter = floatPtr(insDia)
	return t, nil
}

// CreateTube inserts a tube under a well. Tubes created before the well's
// first registration travel inside the construction document, so no separate
// event is emitted here.
func (r Repo) CreateTube(ctx context.Context, t domain.Tube) (domain.Tube, error) {
	t.CreatedAt = r.nowStr()
	res, err := r.DB.ExecContext(ctx, `INSERT INTO tubes(well_id,number,tube_type,tube_status,tube_top_position,tube_top_positioning_method,tube_material,glue,tube_packing_material,plain_tube_part_length,inserted_part_length,inserted_part_diameter,inserted_part_material,screen_length,screen_top_position,screen_bottom_position,sediment_sump_present,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.WellID, t.Number, t.TubeType, t.TubeStatus, t.TubeTopPosition, t.TubeTopPositioningMethod,
		t.TubeMaterial, t.Glue, t.TubePackingMaterial, t.PlainTubePartLength,
		nullableFloatPtr(t.InsertedPartLength), nullableFloatPtr(t.InsertedPartDiameter), t.InsertedPartMaterial,
		t.ScreenLength, t.ScreenTopPosition, t.ScreenBottomPosition, t.SedimentSumpPresent, t.CreatedAt)
	if err != nil {
		return t, fmt.Errorf("insert tube: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return t, err
}

func (r Repo) GetTube(ctx context.Context, id int64) (domain.Tube, error) {
	return scanTube(r.DB.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE id=?`, id))
}

func (r Repo) FindTubeByWellAndNumber(ctx context.Context, wellID int64, number int) (domain.Tube, error) {
	return scanTube(r.DB.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE well_id=? AND number=?`, wellID, number))
}

func (r Repo) ListTubesOfWell(ctx context.Context, wellID int64) ([]domain.Tube, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE well_id=? ORDER BY number`, wellID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tube
	for rows.Next() {
		t, err := scanTube(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpdateTubeTopPosition emits lengthening when the top moves up, shortening
// when it moves down. A no-op change emits nothing.
func (r Repo) UpdateTubeTopPosition(ctx context.Context, id int64, position float64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := scanTube(tx.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE id=?`, id))
	if err != nil {
		return err
	}
	if position == t.TubeTopPosition {
		return tx.Commit()
	}
	event := domain.EventLengthening
	if position < t.TubeTopPosition {
		event = domain.EventShortening
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tubes SET tube_top_position=? WHERE id=?`, position, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, t.WellID, event, r.today(),
		events.Payload{"tube_number": t.Number, "tube_top_position": position}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpdateTubeInsertedPartLength(ctx context.Context, id int64, length float64) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := scanTube(tx.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE id=?`, id))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tubes SET inserted_part_length=? WHERE id=?`, length, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, t.WellID, domain.EventInsertion, r.today(),
		events.Payload{"tube_number": t.Number, "inserted_part_length": length}); err != nil {
		return err
	}
	return tx.Commit()
}

func (r Repo) UpdateTubeStatus(ctx context.Context, id int64, status string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	t, err := scanTube(tx.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE id=?`, id))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tubes SET tube_status=? WHERE id=?`, status, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, t.WellID, domain.EventTubeStatusChanged, r.today(),
		events.Payload{"tube_number": t.Number, "tube_status": status}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- electrodes ---

func (r Repo) CreateElectrode(ctx context.Context, e domain.Electrode) (domain.Electrode, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT INTO electrodes(tube_id,cable_number,electrode_number,status,position) VALUES (?,?,?,?,?)`,
		e.TubeID, e.CableNumber, e.ElectrodeNumber, e.Status, e.Position)
	if err != nil {
		return e, fmt.Errorf("insert electrode: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

func (r Repo) ListElectrodesOfTube(ctx context.Context, tubeID int64) ([]domain.Electrode, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tube_id,cable_number,electrode_number,status,position FROM electrodes WHERE tube_id=? ORDER BY cable_number,electrode_number`, tubeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Electrode
	for rows.Next() {
		var e domain.Electrode
		if err := rows.Scan(&e.ID, &e.TubeID, &e.CableNumber, &e.ElectrodeNumber, &e.Status, &e.Position); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) FindElectrode(ctx context.Context, tubeID int64, cable, number int) (domain.Electrode, error) {
	var e domain.Electrode
	err := r.DB.QueryRowContext(ctx, `SELECT id,tube_id,cable_number,electrode_number,status,position FROM electrodes WHERE tube_id=? AND cable_number=? AND electrode_number=?`,
		tubeID, cable, number).Scan(&e.ID, &e.TubeID, &e.CableNumber, &e.ElectrodeNumber, &e.Status, &e.Position)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) UpdateElectrodeStatus(ctx context.Context, id int64, status string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var e domain.Electrode
	err = tx.QueryRowContext(ctx, `SELECT id,tube_id,cable_number,electrode_number,status,position FROM electrodes WHERE id=?`, id).
		Scan(&e.ID, &e.TubeID, &e.CableNumber, &e.ElectrodeNumber, &e.Status, &e.Position)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	t, err := scanTube(tx.QueryRowContext(ctx, `SELECT `+tubeColumns+` FROM tubes WHERE id=?`, e.TubeID))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE electrodes SET status=? WHERE id=?`, status, id); err != nil {
		return err
	}
	if _, err := r.Events.Emit(ctx, tx, domain.KindGMW, t.WellID, domain.EventElectrodeStatus, r.today(),
		events.Payload{"tube_number": t.Number, "cable_number": e.CableNumber, "electrode_number": e.ElectrodeNumber, "status": status}); err != nil {
		return err
	}
	return tx.Commit()
}
