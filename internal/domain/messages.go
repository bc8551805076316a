package domain

// MessageType is the closed enumeration of registry source documents.
type MessageType string

const (
	MsgGMWConstruction       MessageType = "GMW_Construction"
	MsgGMWWellHeadProtector  MessageType = "GMW_WellHeadProtector"
	MsgGMWLengthening        MessageType = "GMW_Lengthening"
	MsgGMWShortening         MessageType = "GMW_Shortening"
	MsgGMWGroundLevelMeasure MessageType = "GMW_GroundLevelMeasuring"
	MsgGMWPositionMeasure    MessageType = "GMW_PositionMeasuring"
	MsgGMWGroundLevel        MessageType = "GMW_GroundLevel"
	MsgGMWOwner              MessageType = "GMW_Owner"
	MsgGMWMaintainer         MessageType = "GMW_Maintainer"
	MsgGMWPositions          MessageType = "GMW_Positions"
	MsgGMWElectrodeStatus    MessageType = "GMW_ElectrodeStatus"
	MsgGMWTubeStatus         MessageType = "GMW_TubeStatus"
	MsgGMWInsertion          MessageType = "GMW_Insertion"
	MsgGMWShift              MessageType = "GMW_Shift"

	MsgGLDStartRegistration MessageType = "GLD_StartRegistration"
	MsgGLDAdditionRegular   MessageType = "GLD_Addition_Regular"
	MsgGLDAdditionControl   MessageType = "GLD_Addition_Control"
	MsgGLDAdditionReplace   MessageType = "GLD_Addition_Replace"
	MsgGLDAdditionDelete    MessageType = "GLD_Addition_Delete"
	MsgGLDClosure           MessageType = "GLD_Closure"

	MsgFRDStartRegistration MessageType = "FRD_StartRegistration"
	MsgFRDGEMConfiguration  MessageType = "FRD_GEM_MeasurementConfiguration"
	MsgFRDGEMMeasurement    MessageType = "FRD_GEM_Measurement"
	MsgFRDEMMConfiguration  MessageType = "FRD_EMM_InstrumentConfiguration"
	MsgFRDEMMMeasurement    MessageType = "FRD_EMM_Measurement"
	MsgFRDClosure           MessageType = "FRD_Closure"

	MsgGMNStartRegistration MessageType = "GMN_StartRegistration"
	MsgGMNMeasuringPoint    MessageType = "GMN_MeasuringPoint"
	MsgGMNMeasuringPointEnd MessageType = "GMN_MeasuringPointEndDate"
	MsgGMNTubeReference     MessageType = "GMN_TubeReference"
	MsgGMNClosure           MessageType = "GMN_Closure"
)

// Kind returns the object family a message type registers against.
func (m MessageType) Kind() ObjectKind {
	switch m[:3] {
	case "GMW":
		return KindGMW
	case "GLD":
		return KindGLD
	case "FRD":
		return KindFRD
	default:
		return KindGMN
	}
}

// DeliveryType is how the registry should apply a source document.
type DeliveryType string

const (
	DeliverRegister DeliveryType = "register"
	DeliverReplace  DeliveryType = "replace"
	DeliverInsert   DeliveryType = "insert"
	DeliverMove     DeliveryType = "move"
	DeliverDelete   DeliveryType = "delete"
)

func ValidDeliveryType(d DeliveryType) bool {
	switch d {
	case DeliverRegister, DeliverReplace, DeliverInsert, DeliverMove, DeliverDelete:
		return true
	}
	return false
}

// EventKind labels a registry-relevant domain mutation.
type EventKind string

const (
	EventConstruction          EventKind = "construction"
	EventWellHeadProtector     EventKind = "wellHeadProtectorChanged"
	EventLengthening           EventKind = "lengthening"
	EventShortening            EventKind = "shortening"
	EventGroundLevelRemeasured EventKind = "groundLevelRemeasured"
	EventPositionRemeasured    EventKind = "positionRemeasured"
	EventOwnerChanged          EventKind = "ownerChanged"
	EventMaintainerChanged     EventKind = "maintainerChanged"
	EventTubeStatusChanged     EventKind = "tubeStatusChanged"
	EventElectrodeStatus       EventKind = "electrodeStatusChanged"
	EventInsertion             EventKind = "insertion"
	EventShift                 EventKind = "shift"
	EventWellRemoval           EventKind = "wellRemoval"

	EventDossierStart         EventKind = "dossierStart"
	EventMeasurementAdded     EventKind = "measurementAdded"
	EventMeasurementCorrected EventKind = "measurementCorrected"
	EventAdditionReady        EventKind = "additionReady"
	EventDossierClosure       EventKind = "dossierClosure"

	EventFrdStart            EventKind = "frdStart"
	EventFrdGEMConfiguration EventKind = "frdGemConfiguration"
	EventFrdGEMMeasurement   EventKind = "frdGemMeasurement"
	EventFrdEMMConfiguration EventKind = "frdEmmConfiguration"
	EventFrdEMMMeasurement   EventKind = "frdEmmMeasurement"
	EventFrdClosure          EventKind = "frdClosure"

	EventNetworkStart          EventKind = "networkStart"
	EventMeasuringPointAdded   EventKind = "measuringPointAdded"
	EventMeasuringPointRemoved EventKind = "measuringPointRemoved"
	EventTubeReferenceChanged  EventKind = "tubeReferenceChanged"
	EventNetworkClosure        EventKind = "networkClosure"
)

// Sync log process states. Terminal states never transition out.
const (
	StateNew               = "new"
	StateBuilt             = "built"
	StateBuildFailed       = "build_failed"
	StateValid             = "valid"
	StateInvalid           = "invalid"
	StateDelivered         = "delivered"
	StateDeliveryFailed    = "delivery_failed"
	StateApproved          = "delivery_approved"
	StatePermanentlyFailed = "permanently_failed"
)

// MaxDeliveryAttempts caps redeliveries before a row is parked.
const MaxDeliveryAttempts = 3

func TerminalState(s string) bool {
	return s == StateApproved || s == StatePermanentlyFailed
}
