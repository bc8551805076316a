package xmlgen

import (
	"encoding/xml"
	"sort"
	"time"

	"brosync/internal/domain"
)

// Unit factors dividing a recorded value into metres.
var unitDivision = map[string]float64{
	"cm": 100,
	"mm": 1000,
	"m":  1,
}

var censorReasons = []string{"groterDan", "kleinerDan", "onbekend"}

// --- GLD_StartRegistration ---

type GLDStartRegistration struct {
	Meta       Meta
	ObjectID   string
	GMWBroID   string
	TubeNumber int
}

func (GLDStartRegistration) MessageType() domain.MessageType { return domain.MsgGLDStartRegistration }
func (p GLDStartRegistration) meta() Meta                    { return p.Meta }

func (p GLDStartRegistration) sourceDocument() (any, error) {
	if p.GMWBroID == "" {
		return nil, invalidf("start registration needs the parent well's bro id")
	}
	if p.TubeNumber <= 0 {
		return nil, invalidf("tube number %d", p.TubeNumber)
	}
	return struct {
		XMLName    xml.Name `xml:"GLD_StartRegistration"`
		ObjectID   string   `xml:"objectIdAccountableParty,omitempty"`
		GMWBroID   string   `xml:"monitoringPoint>broId"`
		TubeNumber int      `xml:"monitoringPoint>tubeNumber"`
	}{ObjectID: p.ObjectID, GMWBroID: p.GMWBroID, TubeNumber: p.TubeNumber}, nil
}

// --- GLD_Addition ---

// GLDAddition carries one closed observation's whole series. The raw series
// comes straight from the store; ordering, deduplication and unit conversion
// happen here so rebuilding from unchanged data is byte-identical.
type GLDAddition struct {
	Meta        Meta
	Observation domain.Observation
	Series      []domain.MeasurementTvp
}

func (p GLDAddition) MessageType() domain.MessageType {
	if p.Observation.ObservationType == "controlemeting" {
		return domain.MsgGLDAdditionControl
	}
	return domain.MsgGLDAdditionRegular
}

func (p GLDAddition) meta() Meta { return p.Meta }

type xmlPoint struct {
	Time          string `xml:"time"`
	Value         string `xml:"value,omitempty"`
	CensorReason  string `xml:"censorReason,omitempty"`
	QualityStatus string `xml:"statusQualityControl,omitempty"`
}

type xmlAddition struct {
	XMLName               xml.Name   `xml:"GLD_Addition"`
	ObservationType       string     `xml:"observation>observationType"`
	PrincipalInvestigator string     `xml:"observation>principalInvestigator,omitempty"`
	InstrumentType        string     `xml:"observation>measurementInstrumentType,omitempty"`
	EvaluationProcedure   string     `xml:"observation>evaluationProcedure,omitempty"`
	AirPressure           string     `xml:"observation>airPressureCompensationType,omitempty"`
	BeginTime             string     `xml:"observationPeriod>beginTime"`
	ResultTime            string     `xml:"observationPeriod>resultTime,omitempty"`
	Points                []xmlPoint `xml:"result>point"`
}

func (p GLDAddition) sourceDocument() (any, error) {
	if err := checkEnum("observation type", p.Observation.ObservationType, "reguliereMeting", "controlemeting"); err != nil {
		return nil, err
	}
	begin, err := formatTimestamp("observation start", p.Observation.StartTime)
	if err != nil {
		return nil, err
	}
	points, err := prepareSeries(p.Series)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, invalidf("observation %d: series empty after filtering", p.Observation.ID)
	}
	doc := xmlAddition{
		ObservationType:       p.Observation.ObservationType,
		PrincipalInvestigator: p.Observation.PrincipalInvestigator,
		InstrumentType:        p.Observation.MeasurementInstrumentType,
		EvaluationProcedure:   p.Observation.EvaluationProcedure,
		AirPressure:           p.Observation.AirPressureCompensation,
		BeginTime:             begin,
		Points:                points,
	}
	if p.Observation.ResultTime != nil {
		rt, err := formatTimestamp("observation result", *p.Observation.ResultTime)
		if err != nil {
			return nil, err
		}
		doc.ResultTime = rt
	}
	return doc, nil
}

// prepareSeries applies the registry's series rules: strictly ascending by
// instant with duplicate instants keeping the first, rejected (afgekeurd)
// points dropped, points carrying neither a value nor a censor reason dropped,
// and values converted to metres by the recorded field unit. Timestamps are
// compared as instants, so the same moment recorded in different offsets still
// deduplicates.
func prepareSeries(raw []domain.MeasurementTvp) ([]xmlPoint, error) {
	type timed struct {
		m  domain.MeasurementTvp
		at time.Time
	}
	series := make([]timed, 0, len(raw))
	for _, m := range raw {
		at, err := time.Parse(time.RFC3339, m.Time)
		if err != nil {
			return nil, invalidf("measurement time: %q is not a timestamp", m.Time)
		}
		series = append(series, timed{m: m, at: at})
	}
	sort.SliceStable(series, func(i, j int) bool {
		if !series[i].at.Equal(series[j].at) {
			return series[i].at.Before(series[j].at)
		}
		return series[i].m.ID < series[j].m.ID
	})

	var points []xmlPoint
	var last time.Time
	var have bool
	for _, e := range series {
		m := e.m
		if m.StatusQualityControl == "afgekeurd" {
			continue
		}
		if m.Value == nil && m.CensorReason == nil {
			continue
		}
		if have && e.at.Equal(last) {
			continue
		}
		div, ok := unitDivision[m.Unit]
		if !ok {
			return nil, invalidf("measurement %d: unit %q", m.ID, m.Unit)
		}
		p := xmlPoint{Time: e.at.Format("2006-01-02T15:04:05-07:00"), QualityStatus: m.StatusQualityControl}
		if m.Value != nil {
			p.Value = metres(*m.Value / div)
		}
		if m.CensorReason != nil {
			if err := checkEnum("censor reason", *m.CensorReason, censorReasons...); err != nil {
				return nil, err
			}
			p.CensorReason = *m.CensorReason
		}
		points = append(points, p)
		last, have = e.at, true
	}
	return points, nil
}

// --- GLD_Closure ---

// GLDClosure ends a dossier in the registry; everything it needs travels in
// the envelope.
type GLDClosure struct {
	Meta Meta
}

func (GLDClosure) MessageType() domain.MessageType { return domain.MsgGLDClosure }
func (p GLDClosure) meta() Meta                    { return p.Meta }

func (p GLDClosure) sourceDocument() (any, error) {
	if p.Meta.BroID == "" {
		return nil, invalidf("closure needs the dossier's bro id")
	}
	return struct {
		XMLName xml.Name `xml:"GLD_Closure"`
	}{}, nil
}
