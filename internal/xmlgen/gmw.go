package xmlgen

import (
	"encoding/xml"
	"fmt"

	"brosync/internal/domain"
)

type brocomDate struct {
	Date string `xml:"brocom:date"`
}

type gmlPos struct {
	SrsName string `xml:"srsName,attr"`
	Pos     string `xml:"gml:pos"`
}

// Tube statuses accepted by the registry.
var tubeStatuses = []string{"gebruiksklaar", "nietGebruiksklaar", "onbruikbaar", "onbekend"}

// --- GMW_Construction ---

// GMWConstruction is the full first registration of a well with all its tubes
// and geo-ohm electrodes.
type GMWConstruction struct {
	Meta       Meta
	Well       domain.Well
	Tubes      []domain.Tube
	Electrodes map[int64][]domain.Electrode
}

func (GMWConstruction) MessageType() domain.MessageType { return domain.MsgGMWConstruction }
func (p GMWConstruction) meta() Meta                    { return p.Meta }

type xmlGeoOhmCable struct {
	CableNumber int            `xml:"cableNumber"`
	Electrodes  []xmlElectrode `xml:"electrode"`
}

type xmlElectrode struct {
	Number   int    `xml:"electrodeNumber"`
	Status   string `xml:"electrodeStatus"`
	Position string `xml:"electrodePosition"`
}

type xmlMonitoringTube struct {
	TubeNumber           int              `xml:"tubeNumber"`
	TubeType             string           `xml:"tubeType,omitempty"`
	TubeStatus           string           `xml:"tubeStatus"`
	TubeTopPosition      string           `xml:"tubeTopPosition"`
	TubeTopPosMethod     string           `xml:"tubeTopPositioningMethod,omitempty"`
	TubeMaterial         string           `xml:"tubeMaterial,omitempty"`
	Glue                 string           `xml:"glue,omitempty"`
	TubePackingMaterial  string           `xml:"tubePackingMaterial,omitempty"`
	PlainTubePartLength  string           `xml:"plainTubePartLength"`
	ScreenLength         string           `xml:"screen>screenLength"`
	ScreenTopPosition    string           `xml:"screen>screenTopPosition"`
	ScreenBottomPosition string           `xml:"screen>screenBottomPosition"`
	SedimentSump         string           `xml:"sedimentSumpPresent"`
	GeoOhmCables         []xmlGeoOhmCable `xml:"geoOhmCable,omitempty"`
}

type xmlConstruction struct {
	XMLName             xml.Name            `xml:"GMW_Construction"`
	ObjectID            string              `xml:"objectIdAccountableParty"`
	NitgCode            string              `xml:"nitgCode,omitempty"`
	Owner               string              `xml:"owner,omitempty"`
	Maintainer          string              `xml:"maintenanceResponsibleParty,omitempty"`
	NumberOfTubes       int                 `xml:"numberOfMonitoringTubes"`
	WellHeadProtector   string              `xml:"wellHeadProtector,omitempty"`
	ConstructionDate    brocomDate          `xml:"wellConstructionDate"`
	DeliveredLocation   gmlPos              `xml:"deliveredLocation>location"`
	HorizontalPosMethod string              `xml:"deliveredLocation>horizontalPositioningMethod,omitempty"`
	LocalVerticalRef    string              `xml:"deliveredVerticalPosition>localVerticalReferencePoint,omitempty"`
	WellOffset          string              `xml:"deliveredVerticalPosition>offset"`
	VerticalDatum       string              `xml:"deliveredVerticalPosition>verticalDatum,omitempty"`
	GroundLevelPosition string              `xml:"deliveredVerticalPosition>groundLevelPosition,omitempty"`
	GroundLevelMethod   string              `xml:"deliveredVerticalPosition>groundLevelPositioningMethod,omitempty"`
	MonitoringTubes     []xmlMonitoringTube `xml:"monitoringTube"`
}

func (p GMWConstruction) sourceDocument() (any, error) {
	if p.Well.InternalID == "" {
		return nil, invalidf("well %d: empty internal id", p.Well.ID)
	}
	if err := checkDate("construction date", p.Well.ConstructionDate); err != nil {
		return nil, err
	}
	if len(p.Tubes) == 0 {
		return nil, invalidf("well %d: a construction needs at least one tube", p.Well.ID)
	}
	doc := xmlConstruction{
		ObjectID:            p.Well.InternalID,
		NitgCode:            p.Well.NitgCode,
		Owner:               p.Well.Owner,
		Maintainer:          p.Well.Maintainer,
		NumberOfTubes:       len(p.Tubes),
		WellHeadProtector:   p.Well.WellHeadProtector,
		ConstructionDate:    brocomDate{Date: p.Well.ConstructionDate},
		DeliveredLocation:   rdLocation(p.Well.CoordinateX, p.Well.CoordinateY),
		HorizontalPosMethod: p.Well.HorizontalPositioningMethod,
		LocalVerticalRef:    p.Well.LocalVerticalReferencePoint,
		WellOffset:          metres(p.Well.WellOffset),
		VerticalDatum:       p.Well.VerticalDatum,
		GroundLevelMethod:   p.Well.GroundLevelPositioningMethod,
	}
	if p.Well.GroundLevelPosition != nil {
		doc.GroundLevelPosition = metres(*p.Well.GroundLevelPosition)
	}
	for _, t := range p.Tubes {
		mt, err := monitoringTube(t, p.Electrodes[t.ID])
		if err != nil {
			return nil, err
		}
		doc.MonitoringTubes = append(doc.MonitoringTubes, mt)
	}
	return doc, nil
}

func monitoringTube(t domain.Tube, electrodes []domain.Electrode) (xmlMonitoringTube, error) {
	if err := checkEnum(fmt.Sprintf("tube %d status", t.Number), t.TubeStatus, tubeStatuses...); err != nil {
		return xmlMonitoringTube{}, err
	}
	mt := xmlMonitoringTube{
		TubeNumber:           t.Number,
		TubeType:             t.TubeType,
		TubeStatus:           t.TubeStatus,
		TubeTopPosition:      metres(t.TubeTopPosition),
		TubeTopPosMethod:     t.TubeTopPositioningMethod,
		TubeMaterial:         t.TubeMaterial,
		Glue:                 t.Glue,
		TubePackingMaterial:  t.TubePackingMaterial,
		PlainTubePartLength:  metres(t.PlainTubePartLength),
		ScreenLength:         metres(t.ScreenLength),
		ScreenTopPosition:    metres(t.ScreenTopPosition),
		ScreenBottomPosition: metres(t.ScreenBottomPosition),
		SedimentSump:         yesNo(t.SedimentSumpPresent),
	}
	byCable := map[int]*xmlGeoOhmCable{}
	var order []int
	for _, e := range electrodes {
		c, ok := byCable[e.CableNumber]
		if !ok {
			c = &xmlGeoOhmCable{CableNumber: e.CableNumber}
			byCable[e.CableNumber] = c
			order = append(order, e.CableNumber)
		}
		c.Electrodes = append(c.Electrodes, xmlElectrode{
			Number:   e.ElectrodeNumber,
			Status:   e.Status,
			Position: commaDecimal(e.Position),
		})
	}
	for _, n := range order {
		mt.GeoOhmCables = append(mt.GeoOhmCables, *byCable[n])
	}
	return mt, nil
}

func rdLocation(x, y float64) gmlPos {
	return gmlPos{
		SrsName: "urn:ogc:def:crs:EPSG::28992",
		Pos:     fmt.Sprintf("%s %s", metres(x), metres(y)),
	}
}

func yesNo(b bool) string {
	if b {
		return "ja"
	}
	return "nee"
}

// --- partial registrations ---

// GMWEventData is the shared shape of every GMW partial registration: an
// event date plus message-specific data.
type GMWEventData struct {
	Meta      Meta
	EventDate string
}

// GMWEvent bundles the envelope meta with the event date of a partial
// registration.
func GMWEvent(meta Meta, eventDate string) GMWEventData {
	return GMWEventData{Meta: meta, EventDate: eventDate}
}

func (e GMWEventData) meta() Meta { return e.Meta }

func (e GMWEventData) checkEventDate() error {
	return checkDate("event date", e.EventDate)
}

type GMWWellHeadProtector struct {
	GMWEventData
	WellHeadProtector string
}

func (GMWWellHeadProtector) MessageType() domain.MessageType { return domain.MsgGMWWellHeadProtector }

func (p GMWWellHeadProtector) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	if p.WellHeadProtector == "" {
		return nil, invalidf("empty well head protector")
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_WellHeadProtector"`
		EventDate brocomDate `xml:"eventDate"`
		Protector string     `xml:"wellHeadProtector"`
	}{EventDate: brocomDate{p.EventDate}, Protector: p.WellHeadProtector}, nil
}

type tubeChange struct {
	TubeNumber          int    `xml:"tubeNumber"`
	TubeTopPosition     string `xml:"tubeTopPosition"`
	PlainTubePartLength string `xml:"plainTubePartLength"`
}

type GMWLengthening struct {
	GMWEventData
	TubeNumber          int
	TubeTopPosition     float64
	PlainTubePartLength float64
}

func (GMWLengthening) MessageType() domain.MessageType { return domain.MsgGMWLengthening }

func (p GMWLengthening) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_Lengthening"`
		EventDate brocomDate `xml:"eventDate"`
		Tube      tubeChange `xml:"monitoringTube"`
	}{EventDate: brocomDate{p.EventDate}, Tube: tubeChange{p.TubeNumber, metres(p.TubeTopPosition), metres(p.PlainTubePartLength)}}, nil
}

type GMWShortening struct {
	GMWEventData
	TubeNumber          int
	TubeTopPosition     float64
	PlainTubePartLength float64
}

func (GMWShortening) MessageType() domain.MessageType { return domain.MsgGMWShortening }

func (p GMWShortening) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_Shortening"`
		EventDate brocomDate `xml:"eventDate"`
		Tube      tubeChange `xml:"monitoringTube"`
	}{EventDate: brocomDate{p.EventDate}, Tube: tubeChange{p.TubeNumber, metres(p.TubeTopPosition), metres(p.PlainTubePartLength)}}, nil
}

type GMWGroundLevelMeasuring struct {
	GMWEventData
	GroundLevelPosition float64
	PositioningMethod   string
}

func (GMWGroundLevelMeasuring) MessageType() domain.MessageType {
	return domain.MsgGMWGroundLevelMeasure
}

func (p GMWGroundLevelMeasuring) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_GroundLevelMeasuring"`
		EventDate brocomDate `xml:"eventDate"`
		Position  string     `xml:"groundLevelPosition"`
		Method    string     `xml:"groundLevelPositioningMethod,omitempty"`
	}{EventDate: brocomDate{p.EventDate}, Position: metres(p.GroundLevelPosition), Method: p.PositioningMethod}, nil
}

type GMWPositionMeasuring struct {
	GMWEventData
	X, Y              float64
	PositioningMethod string
}

func (GMWPositionMeasuring) MessageType() domain.MessageType { return domain.MsgGMWPositionMeasure }

func (p GMWPositionMeasuring) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_PositionMeasuring"`
		EventDate brocomDate `xml:"eventDate"`
		Location  gmlPos     `xml:"location"`
		Method    string     `xml:"horizontalPositioningMethod,omitempty"`
	}{EventDate: brocomDate{p.EventDate}, Location: rdLocation(p.X, p.Y), Method: p.PositioningMethod}, nil
}

type GMWGroundLevel struct {
	GMWEventData
	GroundLevelPosition float64
}

func (GMWGroundLevel) MessageType() domain.MessageType { return domain.MsgGMWGroundLevel }

func (p GMWGroundLevel) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_GroundLevel"`
		EventDate brocomDate `xml:"eventDate"`
		Position  string     `xml:"groundLevelPosition"`
	}{EventDate: brocomDate{p.EventDate}, Position: metres(p.GroundLevelPosition)}, nil
}

type GMWOwner struct {
	GMWEventData
	Owner string
}

func (GMWOwner) MessageType() domain.MessageType { return domain.MsgGMWOwner }

func (p GMWOwner) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	if p.Owner == "" {
		return nil, invalidf("empty owner")
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_Owner"`
		EventDate brocomDate `xml:"eventDate"`
		Owner     string     `xml:"owner"`
	}{EventDate: brocomDate{p.EventDate}, Owner: p.Owner}, nil
}

type GMWMaintainer struct {
	GMWEventData
	Maintainer string
}

func (GMWMaintainer) MessageType() domain.MessageType { return domain.MsgGMWMaintainer }

func (p GMWMaintainer) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	if p.Maintainer == "" {
		return nil, invalidf("empty maintainer")
	}
	return struct {
		XMLName    xml.Name   `xml:"GMW_Maintainer"`
		EventDate  brocomDate `xml:"eventDate"`
		Maintainer string     `xml:"maintenanceResponsibleParty"`
	}{EventDate: brocomDate{p.EventDate}, Maintainer: p.Maintainer}, nil
}

type GMWPositions struct {
	GMWEventData
	X, Y                float64
	GroundLevelPosition *float64
}

func (GMWPositions) MessageType() domain.MessageType { return domain.MsgGMWPositions }

func (p GMWPositions) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	doc := struct {
		XMLName   xml.Name   `xml:"GMW_Positions"`
		EventDate brocomDate `xml:"eventDate"`
		Location  gmlPos     `xml:"location"`
		Ground    string     `xml:"groundLevelPosition,omitempty"`
	}{EventDate: brocomDate{p.EventDate}, Location: rdLocation(p.X, p.Y)}
	if p.GroundLevelPosition != nil {
		doc.Ground = metres(*p.GroundLevelPosition)
	}
	return doc, nil
}

type GMWElectrodeStatus struct {
	GMWEventData
	TubeNumber      int
	CableNumber     int
	ElectrodeNumber int
	Status          string
}

func (GMWElectrodeStatus) MessageType() domain.MessageType { return domain.MsgGMWElectrodeStatus }

func (p GMWElectrodeStatus) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	if p.Status == "" {
		return nil, invalidf("empty electrode status")
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_ElectrodeStatus"`
		EventDate brocomDate `xml:"eventDate"`
		Tube      int        `xml:"monitoringTube>tubeNumber"`
		Cable     int        `xml:"monitoringTube>cableNumber"`
		Electrode int        `xml:"monitoringTube>electrodeNumber"`
		Status    string     `xml:"monitoringTube>electrodeStatus"`
	}{EventDate: brocomDate{p.EventDate}, Tube: p.TubeNumber, Cable: p.CableNumber, Electrode: p.ElectrodeNumber, Status: p.Status}, nil
}

type GMWTubeStatus struct {
	GMWEventData
	TubeNumber int
	TubeStatus string
}

func (GMWTubeStatus) MessageType() domain.MessageType { return domain.MsgGMWTubeStatus }

func (p GMWTubeStatus) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	if err := checkEnum("tube status", p.TubeStatus, tubeStatuses...); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_TubeStatus"`
		EventDate brocomDate `xml:"eventDate"`
		Tube      int        `xml:"monitoringTube>tubeNumber"`
		Status    string     `xml:"monitoringTube>tubeStatus"`
	}{EventDate: brocomDate{p.EventDate}, Tube: p.TubeNumber, Status: p.TubeStatus}, nil
}

type GMWInsertion struct {
	GMWEventData
	TubeNumber           int
	InsertedPartLength   float64
	InsertedPartDiameter float64
	InsertedPartMaterial string
}

func (GMWInsertion) MessageType() domain.MessageType { return domain.MsgGMWInsertion }

func (p GMWInsertion) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_Insertion"`
		EventDate brocomDate `xml:"eventDate"`
		Tube      int        `xml:"monitoringTube>tubeNumber"`
		Length    string     `xml:"monitoringTube>insertedPartLength"`
		Diameter  string     `xml:"monitoringTube>insertedPartDiameter"`
		Material  string     `xml:"monitoringTube>insertedPartMaterial,omitempty"`
	}{EventDate: brocomDate{p.EventDate}, Tube: p.TubeNumber, Length: metres(p.InsertedPartLength), Diameter: metres(p.InsertedPartDiameter), Material: p.InsertedPartMaterial}, nil
}

type GMWShift struct {
	GMWEventData
	GroundLevelPosition float64
}

func (GMWShift) MessageType() domain.MessageType { return domain.MsgGMWShift }

func (p GMWShift) sourceDocument() (any, error) {
	if err := p.checkEventDate(); err != nil {
		return nil, err
	}
	return struct {
		XMLName   xml.Name   `xml:"GMW_Shift"`
		EventDate brocomDate `xml:"eventDate"`
		Position  string     `xml:"groundLevelPosition"`
	}{EventDate: brocomDate{p.EventDate}, Position: metres(p.GroundLevelPosition)}, nil
}
