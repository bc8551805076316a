package domain

// ObjectKind identifies the registry object family a record belongs to.
type ObjectKind string

const (
	KindGMW ObjectKind = "gmw"
	KindGLD ObjectKind = "gld"
	KindFRD ObjectKind = "frd"
	KindGMN ObjectKind = "gmn"
)

// KindOrder lists kinds in parent-before-child delivery order: wells first,
// networks last.
var KindOrder = []ObjectKind{KindGMW, KindFRD, KindGLD, KindGMN}

func ValidKind(k string) bool {
	switch ObjectKind(k) {
	case KindGMW, KindGLD, KindFRD, KindGMN:
		return true
	}
	return false
}

type Well struct {
	ID                           int64    `json:"id"`
	InternalID                   string   `json:"internal_id"`
	NitgCode                     string   `json:"nitg_code"`
	BroID                        *string  `json:"bro_id,omitempty"`
	DeliveryAccountableParty     string   `json:"delivery_accountable_party"`
	QualityRegime                string   `json:"quality_regime" enum:"IMBRO,IMBRO/A"`
	WellHeadProtector            string   `json:"well_head_protector,omitempty"`
	Owner                        string   `json:"owner,omitempty"`
	Maintainer                   string   `json:"maintainer,omitempty"`
	CoordinateX                  float64  `json:"coordinate_x"`
	CoordinateY                  float64  `json:"coordinate_y"`
	HorizontalPositioningMethod  string   `json:"horizontal_positioning_method,omitempty"`
	LocalVerticalReferencePoint  string   `json:"local_vertical_reference_point,omitempty"`
	WellOffset                   float64  `json:"well_offset"`
	VerticalDatum                string   `json:"vertical_datum,omitempty"`
	GroundLevelPosition          *float64 `json:"ground_level_position,omitempty"`
	GroundLevelPositioningMethod string   `json:"ground_level_positioning_method,omitempty"`
	ConstructionDate             string   `json:"construction_date,omitempty" format:"date"`
	RemovedFromRegistryDate      *string  `json:"removed_from_registry_date,omitempty" format:"date"`
	CreatedAt                    string   `json:"created_at" format:"date-time"`
}

type Tube struct {
	ID                       int64    `json:"id"`
	WellID                   int64    `json:"well_id"`
	Number                   int      `json:"number"`
	TubeType                 string   `json:"tube_type,omitempty"`
	TubeStatus               string   `json:"tube_status,omitempty"`
	TubeTopPosition          float64  `json:"tube_top_position"`
	TubeTopPositioningMethod string   `json:"tube_top_positioning_method,omitempty"`
	TubeMaterial             string   `json:"tube_material,omitempty"`
	Glue                     string   `json:"glue,omitempty"`
	TubePackingMaterial      string   `json:"tube_packing_material,omitempty"`
	PlainTubePartLength      float64  `json:"plain_tube_part_length"`
	InsertedPartLength       *float64 `json:"inserted_part_length,omitempty"`
	InsertedPartDiameter     *float64 `json:"inserted_part_diameter,omitempty"`
	InsertedPartMaterial     string   `json:"inserted_part_material,omitempty"`
	ScreenLength             float64  `json:"screen_length"`
	ScreenTopPosition        float64  `json:"screen_top_position"`
	ScreenBottomPosition     float64  `json:"screen_bottom_position"`
	SedimentSumpPresent      bool     `json:"sediment_sump_present"`
	CreatedAt                string   `json:"created_at" format:"date-time"`
}

type Electrode struct {
	ID              int64   `json:"id"`
	TubeID          int64   `json:"tube_id"`
	CableNumber     int     `json:"cable_number"`
	ElectrodeNumber int     `json:"electrode_number"`
	Status          string  `json:"status" enum:"gebruiksklaar,nietGebruiksklaar,onbekend"`
	Position        float64 `json:"position"`
}

// Dossier is a groundwater level dossier (GLD), one per monitoring tube.
type Dossier struct {
	ID               int64   `json:"id"`
	TubeID           int64   `json:"tube_id"`
	BroID            *string `json:"bro_id,omitempty"`
	QualityRegime    string  `json:"quality_regime"`
	StartDate        string  `json:"start_date,omitempty" format:"date"`
	ClosureDate      *string `json:"closure_date,omitempty" format:"date"`
	ClosedInRegistry bool    `json:"closed_in_registry"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// Observation collects time-value pairs under a dossier. A dossier has at most
// one open observation; once closed it is delivered as a single addition.
type Observation struct {
	ID                        int64   `json:"id"`
	DossierID                 int64   `json:"dossier_id"`
	ObservationType           string  `json:"observation_type" enum:"reguliereMeting,controlemeting"`
	Status                    string  `json:"status,omitempty" enum:"voorlopig,volledigBeoordeeld"`
	StartTime                 string  `json:"start_time" format:"date-time"`
	ResultTime                *string `json:"result_time,omitempty" format:"date-time"`
	Closed                    bool    `json:"closed"`
	PrincipalInvestigator     string  `json:"principal_investigator,omitempty"`
	MeasurementInstrumentType string  `json:"measurement_instrument_type,omitempty"`
	EvaluationProcedure       string  `json:"evaluation_procedure,omitempty"`
	AirPressureCompensation   string  `json:"air_pressure_compensation,omitempty"`
}

// MeasurementTvp is one time-value pair inside an observation. Value is nil
// for censored measurements; Unit is the field unit as recorded.
type MeasurementTvp struct {
	ID                   int64    `json:"id"`
	ObservationID        int64    `json:"observation_id"`
	Time                 string   `json:"time" format:"date-time"`
	Value                *float64 `json:"value,omitempty"`
	Unit                 string   `json:"unit" enum:"cm,mm,m"`
	StatusQualityControl string   `json:"status_quality_control,omitempty" enum:"afgekeurd,goedgekeurd,onbeslist,onbekend"`
	CensorReason         *string  `json:"censor_reason,omitempty"`
	InterpolationCode    string   `json:"interpolation_code,omitempty"`
}

// FrdDossier is a formation resistance dossier, one per monitoring tube.
type FrdDossier struct {
	ID               int64   `json:"id"`
	TubeID           int64   `json:"tube_id"`
	BroID            *string `json:"bro_id,omitempty"`
	QualityRegime    string  `json:"quality_regime"`
	AssessmentType   string  `json:"assessment_type,omitempty" enum:"elektromagnetischeBepaling,geoohmkabelBepaling"`
	ClosureDate      *string `json:"closure_date,omitempty" format:"date"`
	ClosedInRegistry bool    `json:"closed_in_registry"`
	CreatedAt        string  `json:"created_at" format:"date-time"`
}

// MeasurementConfiguration pairs two electrodes for a geo-ohm determination.
type MeasurementConfiguration struct {
	ID               int64   `json:"id"`
	DossierID        int64   `json:"dossier_id"`
	Name             string  `json:"name"`
	CableOne         int     `json:"cable_one"`
	ElectrodeOne     int     `json:"electrode_one"`
	PositionOne      float64 `json:"position_one"`
	CableTwo         int     `json:"cable_two"`
	ElectrodeTwo     int     `json:"electrode_two"`
	PositionTwo      float64 `json:"position_two"`
	SyncedToRegistry bool    `json:"synced_to_registry"`
}

type InstrumentConfiguration struct {
	ID                 int64   `json:"id"`
	DossierID          int64   `json:"dossier_id"`
	Name               string  `json:"name"`
	RelativePosition   float64 `json:"relative_position"`
	CoilFrequencyKnown bool    `json:"coil_frequency_known"`
	CoilFrequency      float64 `json:"coil_frequency"`
	InstrumentLength   float64 `json:"instrument_length"`
	SyncedToRegistry   bool    `json:"synced_to_registry"`
}

const (
	FrdMethodGeoOhm          = "geo_ohm"
	FrdMethodElectromagnetic = "electromagnetic"
)

// FrdMeasurement is one formation-resistance determination, either a geo-ohm
// reading against a MeasurementConfiguration or an electromagnetic record.
type FrdMeasurement struct {
	ID              int64   `json:"id"`
	DossierID       int64   `json:"dossier_id"`
	Method          string  `json:"method" enum:"geo_ohm,electromagnetic"`
	ConfigurationID *int64  `json:"configuration_id,omitempty"`
	MeasurementDate string  `json:"measurement_date" format:"date"`
	VerticalPos     float64 `json:"vertical_pos"`
	Voltage         float64 `json:"voltage"`
	Current         float64 `json:"current"`
	QualityControl  string  `json:"quality_control,omitempty" enum:"afgekeurd,goedgekeurd,onbeslist,onbekend"`
}

type Network struct {
	ID                int64   `json:"id"`
	Name              string  `json:"name"`
	BroID             *string `json:"bro_id,omitempty"`
	ObjectID          string  `json:"object_id"`
	QualityRegime     string  `json:"quality_regime"`
	DeliveryContext   string  `json:"delivery_context,omitempty"`
	MonitoringPurpose string  `json:"monitoring_purpose,omitempty"`
	GroundwaterAspect string  `json:"groundwater_aspect,omitempty"`
	StartDate         string  `json:"start_date" format:"date"`
	EndDate           *string `json:"end_date,omitempty" format:"date"`
	ClosedInRegistry  bool    `json:"closed_in_registry"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
}

type MeasuringPoint struct {
	ID        int64   `json:"id"`
	NetworkID int64   `json:"network_id"`
	TubeID    int64   `json:"tube_id"`
	Code      string  `json:"code"`
	StartDate string  `json:"start_date" format:"date"`
	EndDate   *string `json:"end_date,omitempty" format:"date"`
}

// Event is one registry-relevant domain mutation. Appended by the store
// gateway inside the mutating transaction; Synced flips only when the
// delivery that carries it is approved.
type Event struct {
	ID         int64      `json:"id"`
	ObjectKind ObjectKind `json:"object_kind"`
	ObjectID   int64      `json:"object_id"`
	Kind       EventKind  `json:"kind"`
	EventDate  string     `json:"event_date" format:"date"`
	Payload    string     `json:"payload_json,omitempty"`
	Synced     bool       `json:"synced_to_registry"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
}

// SyncLog is one delivery ledger row, identified by
// (object kind, object ref, message type, delivery type). Rows are never
// deleted; terminal states are monotone.
type SyncLog struct {
	ID               int64        `json:"id"`
	ObjectKind       ObjectKind   `json:"object_kind"`
	ObjectRef        int64        `json:"object_ref"`
	EventID          *int64       `json:"event_id,omitempty"`
	MessageType      MessageType  `json:"message_type"`
	DeliveryType     DeliveryType `json:"delivery_type"`
	ProcessStatus    string       `json:"process_status"`
	ValidationStatus *string      `json:"validation_status,omitempty"`
	DeliveryStatus   *string      `json:"delivery_status,omitempty"`
	DeliveryID       *string      `json:"delivery_id,omitempty"`
	DeliveryAttempts int          `json:"delivery_attempts"`
	CorrelationID    string       `json:"correlation_id"`
	RequestReference string       `json:"request_reference"`
	XMLPath          *string      `json:"xml_path,omitempty"`
	BroID            *string      `json:"bro_id,omitempty"`
	LastError        *string      `json:"last_error,omitempty"`
	LastChanged      string       `json:"last_changed" format:"date-time"`
	CreatedAt        string       `json:"created_at" format:"date-time"`
}
