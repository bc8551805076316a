package orchestrate

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"brosync/internal/domain"
	"brosync/internal/registry"
	"brosync/internal/repo"
	"brosync/internal/xmlgen"
)

// GMWPolicy registers monitoring wells. The first approved message for a well
// is always the full construction; later events deliver as partial
// registrations once the well has its bro id.
type GMWPolicy struct {
	Repo             repo.Repo
	Log              *zap.Logger
	AccountableParty string
}

func (GMWPolicy) Kind() domain.ObjectKind { return domain.KindGMW }

func (p GMWPolicy) Seed(ctx context.Context, ev domain.Event) (Seed, bool, error) {
	if ev.Kind == domain.EventConstruction {
		return Seed{ObjectRef: ev.ObjectID, MessageType: domain.MsgGMWConstruction, DeliveryType: domain.DeliverRegister}, true, nil
	}

	well, err := p.Repo.GetWell(ctx, ev.ObjectID)
	if err != nil {
		return Seed{}, false, err
	}
	if well.BroID == nil {
		// Partial registrations wait until the construction is approved.
		p.Log.Debug("holding partial registration until well is registered",
			zap.Int64("well", well.ID), zap.String("event", string(ev.Kind)))
		return Seed{}, false, nil
	}

	payload, err := decodePayload(ev)
	if err != nil {
		return Seed{}, false, err
	}
	var t domain.MessageType
	switch ev.Kind {
	case domain.EventWellHeadProtector:
		t = domain.MsgGMWWellHeadProtector
	case domain.EventLengthening:
		t = domain.MsgGMWLengthening
	case domain.EventShortening:
		t = domain.MsgGMWShortening
	case domain.EventGroundLevelRemeasured:
		if _, surveyed := payload["method"]; surveyed {
			t = domain.MsgGMWGroundLevelMeasure
		} else {
			t = domain.MsgGMWGroundLevel
		}
	case domain.EventPositionRemeasured:
		if _, withGround := payload["ground_level_position"]; withGround {
			t = domain.MsgGMWPositions
		} else {
			t = domain.MsgGMWPositionMeasure
		}
	case domain.EventOwnerChanged:
		t = domain.MsgGMWOwner
	case domain.EventMaintainerChanged:
		t = domain.MsgGMWMaintainer
	case domain.EventTubeStatusChanged:
		t = domain.MsgGMWTubeStatus
	case domain.EventElectrodeStatus:
		t = domain.MsgGMWElectrodeStatus
	case domain.EventInsertion:
		t = domain.MsgGMWInsertion
	case domain.EventShift:
		t = domain.MsgGMWShift
	case domain.EventWellRemoval:
		// The registry contract for removals is not settled; rows for it are
		// seeded manually once it is.
		p.Log.Warn("well removal recorded but not deliverable", zap.Int64("well", well.ID))
		return Seed{}, false, nil
	default:
		return Seed{}, false, fmt.Errorf("event %d: unexpected kind %q for gmw", ev.ID, ev.Kind)
	}
	return Seed{ObjectRef: ev.ObjectID, MessageType: t, DeliveryType: domain.DeliverRegister}, true, nil
}

func (p GMWPolicy) party(w domain.Well) string {
	if w.DeliveryAccountableParty != "" {
		return w.DeliveryAccountableParty
	}
	return p.AccountableParty
}

func (p GMWPolicy) Payload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
	well, err := p.Repo.GetWell(ctx, row.ObjectRef)
	if err != nil {
		return nil, fmt.Errorf("well %d: %w", row.ObjectRef, err)
	}
	meta := xmlgen.Meta{
		Ref:                      refFor(well.BroID, well.ID),
		DeliveryAccountableParty: p.party(well),
		QualityRegime:            well.QualityRegime,
		DeliveryType:             row.DeliveryType,
	}

	if row.MessageType == domain.MsgGMWConstruction {
		if well.NitgCode == "" {
			// The portal decides; its validation names the missing element.
			p.Log.Debug("construction without nitg code", zap.Int64("well", well.ID))
		}
		tubes, err := p.Repo.ListTubesOfWell(ctx, well.ID)
		if err != nil {
			return nil, err
		}
		electrodes := map[int64][]domain.Electrode{}
		for _, t := range tubes {
			es, err := p.Repo.ListElectrodesOfTube(ctx, t.ID)
			if err != nil {
				return nil, err
			}
			if len(es) > 0 {
				electrodes[t.ID] = es
			}
		}
		return xmlgen.GMWConstruction{Meta: meta, Well: well, Tubes: tubes, Electrodes: electrodes}, nil
	}

	// Partial registrations address the registered object.
	meta.BroID = broIDString(well.BroID)
	ev, payload, err := p.rowEvent(ctx, row)
	if err != nil {
		return nil, err
	}
	base := xmlgen.GMWEvent(meta, ev.EventDate)

	switch row.MessageType {
	case domain.MsgGMWWellHeadProtector:
		return xmlgen.GMWWellHeadProtector{GMWEventData: base, WellHeadProtector: well.WellHeadProtector}, nil
	case domain.MsgGMWLengthening, domain.MsgGMWShortening:
		tube, err := p.eventTube(ctx, well.ID, payload)
		if err != nil {
			return nil, err
		}
		if row.MessageType == domain.MsgGMWLengthening {
			return xmlgen.GMWLengthening{GMWEventData: base, TubeNumber: tube.Number, TubeTopPosition: tube.TubeTopPosition, PlainTubePartLength: tube.PlainTubePartLength}, nil
		}
		return xmlgen.GMWShortening{GMWEventData: base, TubeNumber: tube.Number, TubeTopPosition: tube.TubeTopPosition, PlainTubePartLength: tube.PlainTubePartLength}, nil
	case domain.MsgGMWGroundLevelMeasure:
		if well.GroundLevelPosition == nil {
			return nil, fmt.Errorf("well %d: no ground level position", well.ID)
		}
		method, _ := payload["method"].(string)
		return xmlgen.GMWGroundLevelMeasuring{GMWEventData: base, GroundLevelPosition: *well.GroundLevelPosition, PositioningMethod: method}, nil
	case domain.MsgGMWGroundLevel:
		if well.GroundLevelPosition == nil {
			return nil, fmt.Errorf("well %d: no ground level position", well.ID)
		}
		return xmlgen.GMWGroundLevel{GMWEventData: base, GroundLevelPosition: *well.GroundLevelPosition}, nil
	case domain.MsgGMWPositionMeasure:
		return xmlgen.GMWPositionMeasuring{GMWEventData: base, X: well.CoordinateX, Y: well.CoordinateY, PositioningMethod: well.HorizontalPositioningMethod}, nil
	case domain.MsgGMWPositions:
		return xmlgen.GMWPositions{GMWEventData: base, X: well.CoordinateX, Y: well.CoordinateY, GroundLevelPosition: well.GroundLevelPosition}, nil
	case domain.MsgGMWOwner:
		return xmlgen.GMWOwner{GMWEventData: base, Owner: well.Owner}, nil
	case domain.MsgGMWMaintainer:
		return xmlgen.GMWMaintainer{GMWEventData: base, Maintainer: well.Maintainer}, nil
	case domain.MsgGMWTubeStatus:
		tube, err := p.eventTube(ctx, well.ID, payload)
		if err != nil {
			return nil, err
		}
		return xmlgen.GMWTubeStatus{GMWEventData: base, TubeNumber: tube.Number, TubeStatus: tube.TubeStatus}, nil
	case domain.MsgGMWElectrodeStatus:
		tube, err := p.eventTube(ctx, well.ID, payload)
		if err != nil {
			return nil, err
		}
		cable, _ := payloadInt(payload, "cable_number")
		number, _ := payloadInt(payload, "electrode_number")
		electrode, err := p.Repo.FindElectrode(ctx, tube.ID, int(cable), int(number))
		if err != nil {
			return nil, fmt.Errorf("electrode %d/%d on tube %d: %w", cable, number, tube.ID, err)
		}
		return xmlgen.GMWElectrodeStatus{GMWEventData: base, TubeNumber: tube.Number, CableNumber: electrode.CableNumber, ElectrodeNumber: electrode.ElectrodeNumber, Status: electrode.Status}, nil
	case domain.MsgGMWInsertion:
		tube, err := p.eventTube(ctx, well.ID, payload)
		if err != nil {
			return nil, err
		}
		if tube.InsertedPartLength == nil || tube.InsertedPartDiameter == nil {
			return nil, fmt.Errorf("tube %d: inserted part incomplete", tube.ID)
		}
		return xmlgen.GMWInsertion{GMWEventData: base, TubeNumber: tube.Number, InsertedPartLength: *tube.InsertedPartLength, InsertedPartDiameter: *tube.InsertedPartDiameter, InsertedPartMaterial: tube.InsertedPartMaterial}, nil
	case domain.MsgGMWShift:
		if well.GroundLevelPosition == nil {
			return nil, fmt.Errorf("well %d: no ground level position", well.ID)
		}
		return xmlgen.GMWShift{GMWEventData: base, GroundLevelPosition: *well.GroundLevelPosition}, nil
	}
	return nil, fmt.Errorf("row %d: no gmw builder for %s", row.ID, row.MessageType)
}

func (p GMWPolicy) rowEvent(ctx context.Context, row domain.SyncLog) (domain.Event, map[string]any, error) {
	if row.EventID == nil {
		return domain.Event{}, nil, fmt.Errorf("row %d: no originating event", row.ID)
	}
	ev, err := p.Repo.GetEvent(ctx, *row.EventID)
	if err != nil {
		return domain.Event{}, nil, err
	}
	payload, err := decodePayload(ev)
	if err != nil {
		return domain.Event{}, nil, err
	}
	return ev, payload, nil
}

func (p GMWPolicy) eventTube(ctx context.Context, wellID int64, payload map[string]any) (domain.Tube, error) {
	number, ok := payloadInt(payload, "tube_number")
	if !ok {
		return domain.Tube{}, fmt.Errorf("event payload misses tube_number")
	}
	return p.Repo.FindTubeByWellAndNumber(ctx, wellID, int(number))
}

func (p GMWPolicy) Approved(ctx context.Context, tx *sql.Tx, row domain.SyncLog, status registry.DeliveryStatus) error {
	if row.MessageType != domain.MsgGMWConstruction {
		return nil
	}
	if row.BroID == nil {
		return fmt.Errorf("construction row %d approved without bro id", row.ID)
	}
	return p.Repo.WriteWellBroID(ctx, tx, row.ObjectRef, *row.BroID)
}
