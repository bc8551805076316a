package xmlgen

import (
	"encoding/xml"
	"math"

	"brosync/internal/domain"
)

var qualityControlStatuses = []string{"afgekeurd", "goedgekeurd", "onbeslist", "onbekend"}

var assessmentTypes = []string{"elektromagnetischeBepaling", "geoohmkabelBepaling"}

// --- FRD_StartRegistration ---

type FRDStartRegistration struct {
	Meta           Meta
	ObjectID       string
	GMWBroID       string
	TubeNumber     int
	AssessmentType string
}

func (FRDStartRegistration) MessageType() domain.MessageType { return domain.MsgFRDStartRegistration }
func (p FRDStartRegistration) meta() Meta                    { return p.Meta }

func (p FRDStartRegistration) sourceDocument() (any, error) {
	if p.GMWBroID == "" {
		return nil, invalidf("start registration needs the parent well's bro id")
	}
	if p.TubeNumber <= 0 {
		return nil, invalidf("tube number %d", p.TubeNumber)
	}
	if err := checkEnum("assessment type", p.AssessmentType, assessmentTypes...); err != nil {
		return nil, err
	}
	return struct {
		XMLName        xml.Name `xml:"FRD_StartRegistration"`
		ObjectID       string   `xml:"objectIdAccountableParty,omitempty"`
		GMWBroID       string   `xml:"groundwaterMonitoringTube>broId"`
		TubeNumber     int      `xml:"groundwaterMonitoringTube>tubeNumber"`
		AssessmentType string   `xml:"assessmentType"`
	}{ObjectID: p.ObjectID, GMWBroID: p.GMWBroID, TubeNumber: p.TubeNumber, AssessmentType: p.AssessmentType}, nil
}

// --- FRD_GEM_MeasurementConfiguration ---

// FRDGEMConfiguration delivers all of a dossier's geo-ohm electrode-pair
// configurations in one message.
type FRDGEMConfiguration struct {
	Meta           Meta
	Configurations []domain.MeasurementConfiguration
}

func (FRDGEMConfiguration) MessageType() domain.MessageType { return domain.MsgFRDGEMConfiguration }
func (p FRDGEMConfiguration) meta() Meta                    { return p.Meta }

type xmlElectrodePair struct {
	Name         string `xml:"measurementConfigurationID"`
	CableOne     int    `xml:"measurementPair>firstElectrode>cableNumber"`
	ElectrodeOne int    `xml:"measurementPair>firstElectrode>electrodeNumber"`
	PositionOne  string `xml:"measurementPair>firstElectrode>electrodePosition"`
	CableTwo     int    `xml:"measurementPair>secondElectrode>cableNumber"`
	ElectrodeTwo int    `xml:"measurementPair>secondElectrode>electrodeNumber"`
	PositionTwo  string `xml:"measurementPair>secondElectrode>electrodePosition"`
}

func (p FRDGEMConfiguration) sourceDocument() (any, error) {
	if len(p.Configurations) == 0 {
		return nil, invalidf("no measurement configurations to deliver")
	}
	doc := struct {
		XMLName        xml.Name           `xml:"FRD_GEM_MeasurementConfiguration"`
		Configurations []xmlElectrodePair `xml:"measurementConfiguration"`
	}{}
	for _, c := range p.Configurations {
		if c.Name == "" {
			return nil, invalidf("configuration %d: empty name", c.ID)
		}
		doc.Configurations = append(doc.Configurations, xmlElectrodePair{
			Name:         c.Name,
			CableOne:     c.CableOne,
			ElectrodeOne: c.ElectrodeOne,
			PositionOne:  commaDecimal(c.PositionOne),
			CableTwo:     c.CableTwo,
			ElectrodeTwo: c.ElectrodeTwo,
			PositionTwo:  commaDecimal(c.PositionTwo),
		})
	}
	return doc, nil
}

// --- FRD_GEM_Measurement ---

// FRDGEMMeasurement delivers one geo-ohm reading with its derived apparent
// formation resistance.
type FRDGEMMeasurement struct {
	Meta          Meta
	Measurement   domain.FrdMeasurement
	Configuration domain.MeasurementConfiguration
}

func (FRDGEMMeasurement) MessageType() domain.MessageType { return domain.MsgFRDGEMMeasurement }
func (p FRDGEMMeasurement) meta() Meta                    { return p.Meta }

func (p FRDGEMMeasurement) sourceDocument() (any, error) {
	m := p.Measurement
	if err := checkDate("measurement date", m.MeasurementDate); err != nil {
		return nil, err
	}
	if err := checkEnum("quality control", m.QualityControl, qualityControlStatuses...); err != nil {
		return nil, err
	}
	rho, err := apparentResistance(m, p.Configuration)
	if err != nil {
		return nil, err
	}
	return struct {
		XMLName       xml.Name   `xml:"FRD_GEM_Measurement"`
		Date          brocomDate `xml:"measurementDate"`
		Configuration string     `xml:"measurementConfigurationID"`
		Vertical      string     `xml:"verticalPosition"`
		Resistance    string     `xml:"apparentFormationResistance"`
		Quality       string     `xml:"statusQualityControl"`
	}{
		Date:          brocomDate{m.MeasurementDate},
		Configuration: p.Configuration.Name,
		Vertical:      metres(m.VerticalPos),
		Resistance:    metres(rho),
		Quality:       m.QualityControl,
	}, nil
}

// apparentResistance derives rho_a = K * V / I with the half-space geometry
// factor K = 2*pi*a, a being the electrode-pair spacing.
func apparentResistance(m domain.FrdMeasurement, c domain.MeasurementConfiguration) (float64, error) {
	if m.Current == 0 {
		return 0, invalidf("measurement %d: zero current", m.ID)
	}
	spacing := math.Abs(c.PositionOne - c.PositionTwo)
	if spacing == 0 {
		return 0, invalidf("configuration %d: coincident electrodes", c.ID)
	}
	k := 2 * math.Pi * spacing
	return k * m.Voltage / m.Current, nil
}

// --- FRD_EMM_InstrumentConfiguration ---

type FRDEMMConfiguration struct {
	Meta           Meta
	Configurations []domain.InstrumentConfiguration
}

func (FRDEMMConfiguration) MessageType() domain.MessageType { return domain.MsgFRDEMMConfiguration }
func (p FRDEMMConfiguration) meta() Meta                    { return p.Meta }

type xmlInstrument struct {
	Name             string `xml:"instrumentConfigurationID"`
	RelativePosition string `xml:"relativePositionTransmitterCoil"`
	FrequencyKnown   string `xml:"coilFrequencyKnown"`
	Frequency        string `xml:"coilFrequency,omitempty"`
	InstrumentLength string `xml:"instrumentLength"`
}

func (p FRDEMMConfiguration) sourceDocument() (any, error) {
	if len(p.Configurations) == 0 {
		return nil, invalidf("no instrument configurations to deliver")
	}
	doc := struct {
		XMLName        xml.Name        `xml:"FRD_EMM_InstrumentConfiguration"`
		Configurations []xmlInstrument `xml:"instrumentConfiguration"`
	}{}
	for _, c := range p.Configurations {
		if c.Name == "" {
			return nil, invalidf("configuration %d: empty name", c.ID)
		}
		ic := xmlInstrument{
			Name:             c.Name,
			RelativePosition: metres(c.RelativePosition),
			FrequencyKnown:   yesNo(c.CoilFrequencyKnown),
			InstrumentLength: metres(c.InstrumentLength),
		}
		if c.CoilFrequencyKnown {
			ic.Frequency = metres(c.CoilFrequency)
		}
		doc.Configurations = append(doc.Configurations, ic)
	}
	return doc, nil
}

// --- FRD_EMM_Measurement ---

// FRDEMMMeasurement delivers one electromagnetic reading. The instrument is
// calibrated, so the apparent resistance is the direct ratio of the measured
// voltage and induced current without a geometry factor.
type FRDEMMMeasurement struct {
	Meta          Meta
	Measurement   domain.FrdMeasurement
	Configuration domain.InstrumentConfiguration
}

func (FRDEMMMeasurement) MessageType() domain.MessageType { return domain.MsgFRDEMMMeasurement }
func (p FRDEMMMeasurement) meta() Meta                    { return p.Meta }

func (p FRDEMMMeasurement) sourceDocument() (any, error) {
	m := p.Measurement
	if err := checkDate("measurement date", m.MeasurementDate); err != nil {
		return nil, err
	}
	if err := checkEnum("quality control", m.QualityControl, qualityControlStatuses...); err != nil {
		return nil, err
	}
	if m.Current == 0 {
		return nil, invalidf("measurement %d: zero current", m.ID)
	}
	return struct {
		XMLName       xml.Name   `xml:"FRD_EMM_Measurement"`
		Date          brocomDate `xml:"measurementDate"`
		Configuration string     `xml:"instrumentConfigurationID"`
		Vertical      string     `xml:"verticalPosition"`
		Resistance    string     `xml:"apparentFormationResistance"`
		Quality       string     `xml:"statusQualityControl"`
	}{
		Date:          brocomDate{m.MeasurementDate},
		Configuration: p.Configuration.Name,
		Vertical:      metres(m.VerticalPos),
		Resistance:    metres(m.Voltage / m.Current),
		Quality:       m.QualityControl,
	}, nil
}

// --- FRD_Closure ---

type FRDClosure struct {
	Meta Meta
}

func (FRDClosure) MessageType() domain.MessageType { return domain.MsgFRDClosure }
func (p FRDClosure) meta() Meta                    { return p.Meta }

func (p FRDClosure) sourceDocument() (any, error) {
	if p.Meta.BroID == "" {
		return nil, invalidf("closure needs the dossier's bro id")
	}
	return struct {
		XMLName xml.Name `xml:"FRD_Closure"`
	}{}, nil
}
