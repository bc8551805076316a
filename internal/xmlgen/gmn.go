package xmlgen

import (
	"encoding/xml"

	"brosync/internal/domain"
)

// --- GMN_StartRegistration ---

// GMNStartRegistration registers a network together with its current
// measuring points; a network without points cannot be registered.
type GMNStartRegistration struct {
	Meta    Meta
	Network domain.Network
	Points  []GMNPoint
}

// GMNPoint is one measuring point resolved to its well reference.
type GMNPoint struct {
	Code       string
	GMWBroID   string
	TubeNumber int
	StartDate  string
}

func (GMNStartRegistration) MessageType() domain.MessageType { return domain.MsgGMNStartRegistration }
func (p GMNStartRegistration) meta() Meta                    { return p.Meta }

type xmlMeasuringPoint struct {
	Code       string `xml:"measuringPointCode"`
	GMWBroID   string `xml:"monitoringTube>broId"`
	TubeNumber int    `xml:"monitoringTube>tubeNumber"`
}

func (p GMNStartRegistration) sourceDocument() (any, error) {
	if len(p.Points) == 0 {
		return nil, invalidf("network %d: no measuring points", p.Network.ID)
	}
	if err := checkDate("start date", p.Network.StartDate); err != nil {
		return nil, err
	}
	doc := struct {
		XMLName           xml.Name            `xml:"GMN_StartRegistration"`
		ObjectID          string              `xml:"objectIdAccountableParty"`
		Name              string              `xml:"name"`
		DeliveryContext   string              `xml:"deliveryContext,omitempty"`
		MonitoringPurpose string              `xml:"monitoringPurpose,omitempty"`
		GroundwaterAspect string              `xml:"groundwaterAspect,omitempty"`
		StartDate         brocomDate          `xml:"startDateMonitoring"`
		Points            []xmlMeasuringPoint `xml:"measuringPoint"`
	}{
		ObjectID:          p.Network.ObjectID,
		Name:              p.Network.Name,
		DeliveryContext:   p.Network.DeliveryContext,
		MonitoringPurpose: p.Network.MonitoringPurpose,
		GroundwaterAspect: p.Network.GroundwaterAspect,
		StartDate:         brocomDate{p.Network.StartDate},
	}
	if doc.ObjectID == "" {
		return nil, invalidf("network %d: empty object id", p.Network.ID)
	}
	for _, pt := range p.Points {
		if pt.GMWBroID == "" {
			return nil, invalidf("measuring point %q: parent well has no bro id", pt.Code)
		}
		doc.Points = append(doc.Points, xmlMeasuringPoint{Code: pt.Code, GMWBroID: pt.GMWBroID, TubeNumber: pt.TubeNumber})
	}
	return doc, nil
}

// --- GMN_MeasuringPoint ---

// GMNMeasuringPoint couples one new measuring point into an already
// registered network.
type GMNMeasuringPoint struct {
	Meta      Meta
	Point     GMNPoint
	EventDate string
}

func (GMNMeasuringPoint) MessageType() domain.MessageType { return domain.MsgGMNMeasuringPoint }
func (p GMNMeasuringPoint) meta() Meta                    { return p.Meta }

func (p GMNMeasuringPoint) sourceDocument() (any, error) {
	if err := checkDate("event date", p.EventDate); err != nil {
		return nil, err
	}
	if p.Point.GMWBroID == "" {
		return nil, invalidf("measuring point %q: parent well has no bro id", p.Point.Code)
	}
	return struct {
		XMLName   xml.Name          `xml:"GMN_MeasuringPoint"`
		EventDate brocomDate        `xml:"eventDate"`
		Point     xmlMeasuringPoint `xml:"measuringPoint"`
	}{
		EventDate: brocomDate{p.EventDate},
		Point:     xmlMeasuringPoint{Code: p.Point.Code, GMWBroID: p.Point.GMWBroID, TubeNumber: p.Point.TubeNumber},
	}, nil
}

// --- GMN_MeasuringPointEndDate ---

type GMNMeasuringPointEnd struct {
	Meta      Meta
	Code      string
	EventDate string
}

func (GMNMeasuringPointEnd) MessageType() domain.MessageType { return domain.MsgGMNMeasuringPointEnd }
func (p GMNMeasuringPointEnd) meta() Meta                    { return p.Meta }

func (p GMNMeasuringPointEnd) sourceDocument() (any, error) {
	if err := checkDate("event date", p.EventDate); err != nil {
		return nil, err
	}
	if p.Code == "" {
		return nil, invalidf("empty measuring point code")
	}
	return struct {
		XMLName   xml.Name   `xml:"GMN_MeasuringPointEndDate"`
		EventDate brocomDate `xml:"eventDate"`
		Code      string     `xml:"measuringPointCode"`
	}{EventDate: brocomDate{p.EventDate}, Code: p.Code}, nil
}

// --- GMN_TubeReference ---

// GMNTubeReference moves a measuring point onto another tube.
type GMNTubeReference struct {
	Meta       Meta
	Code       string
	GMWBroID   string
	TubeNumber int
	EventDate  string
}

func (GMNTubeReference) MessageType() domain.MessageType { return domain.MsgGMNTubeReference }
func (p GMNTubeReference) meta() Meta                    { return p.Meta }

func (p GMNTubeReference) sourceDocument() (any, error) {
	if err := checkDate("event date", p.EventDate); err != nil {
		return nil, err
	}
	if p.GMWBroID == "" {
		return nil, invalidf("measuring point %q: target well has no bro id", p.Code)
	}
	return struct {
		XMLName   xml.Name          `xml:"GMN_TubeReference"`
		EventDate brocomDate        `xml:"eventDate"`
		Point     xmlMeasuringPoint `xml:"measuringPoint"`
	}{
		EventDate: brocomDate{p.EventDate},
		Point:     xmlMeasuringPoint{Code: p.Code, GMWBroID: p.GMWBroID, TubeNumber: p.TubeNumber},
	}, nil
}

// --- GMN_Closure ---

type GMNClosure struct {
	Meta    Meta
	EndDate string
}

func (GMNClosure) MessageType() domain.MessageType { return domain.MsgGMNClosure }
func (p GMNClosure) meta() Meta                    { return p.Meta }

func (p GMNClosure) sourceDocument() (any, error) {
	if p.Meta.BroID == "" {
		return nil, invalidf("closure needs the network's bro id")
	}
	if err := checkDate("end date", p.EndDate); err != nil {
		return nil, err
	}
	return struct {
		XMLName xml.Name   `xml:"GMN_Closure"`
		EndDate brocomDate `xml:"endDateMonitoring"`
	}{EndDate: brocomDate{p.EndDate}}, nil
}
