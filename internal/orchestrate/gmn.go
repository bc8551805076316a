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

// GMNPolicy registers monitoring networks. Measuring points present before
// the network is registered travel inside the start registration; points
// added afterwards deliver individually.
type GMNPolicy struct {
	Repo             repo.Repo
	Log              *zap.Logger
	AccountableParty string
}

func (GMNPolicy) Kind() domain.ObjectKind { return domain.KindGMN }

func (p GMNPolicy) Seed(ctx context.Context, ev domain.Event) (Seed, bool, error) {
	switch ev.Kind {
	case domain.EventNetworkStart:
		network, err := p.Repo.GetNetwork(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		points, err := p.Repo.ListMeasuringPoints(ctx, network.ID)
		if err != nil {
			return Seed{}, false, err
		}
		if len(points) == 0 {
			p.Log.Warn("network has no measuring points yet", zap.Int64("network", network.ID))
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: network.ID, MessageType: domain.MsgGMNStartRegistration, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventMeasuringPointAdded:
		point, err := p.Repo.GetMeasuringPoint(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		network, err := p.Repo.GetNetwork(ctx, point.NetworkID)
		if err != nil {
			return Seed{}, false, err
		}
		if network.BroID == nil {
			// Folded into the pending start registration.
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: point.ID, MessageType: domain.MsgGMNMeasuringPoint, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventMeasuringPointRemoved:
		registered, err := p.pointNetworkRegistered(ctx, ev.ObjectID)
		if err != nil || !registered {
			return Seed{}, false, err
		}
		return Seed{ObjectRef: ev.ObjectID, MessageType: domain.MsgGMNMeasuringPointEnd, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventTubeReferenceChanged:
		registered, err := p.pointNetworkRegistered(ctx, ev.ObjectID)
		if err != nil || !registered {
			return Seed{}, false, err
		}
		return Seed{ObjectRef: ev.ObjectID, MessageType: domain.MsgGMNTubeReference, DeliveryType: domain.DeliverMove}, true, nil

	case domain.EventNetworkClosure:
		network, err := p.Repo.GetNetwork(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		if network.BroID == nil {
			p.Log.Debug("closure waits for network registration", zap.Int64("network", network.ID))
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: network.ID, MessageType: domain.MsgGMNClosure, DeliveryType: domain.DeliverRegister}, true, nil
	}
	return Seed{}, false, fmt.Errorf("event %d: unexpected kind %q for gmn", ev.ID, ev.Kind)
}

func (p GMNPolicy) pointNetworkRegistered(ctx context.Context, pointID int64) (bool, error) {
	point, err := p.Repo.GetMeasuringPoint(ctx, pointID)
	if err != nil {
		return false, err
	}
	network, err := p.Repo.GetNetwork(ctx, point.NetworkID)
	if err != nil {
		return false, err
	}
	if network.BroID == nil {
		p.Log.Debug("measuring point change waits for network registration",
			zap.Int64("network", network.ID), zap.Int64("point", point.ID))
		return false, nil
	}
	return true, nil
}

func (p GMNPolicy) resolvePoint(ctx context.Context, point domain.MeasuringPoint) (xmlgen.GMNPoint, error) {
	tube, err := p.Repo.GetTube(ctx, point.TubeID)
	if err != nil {
		return xmlgen.GMNPoint{}, fmt.Errorf("tube %d: %w", point.TubeID, err)
	}
	well, err := p.Repo.GetWell(ctx, tube.WellID)
	if err != nil {
		return xmlgen.GMNPoint{}, fmt.Errorf("well %d: %w", tube.WellID, err)
	}
	return xmlgen.GMNPoint{
		Code:       point.Code,
		GMWBroID:   broIDString(well.BroID),
		TubeNumber: tube.Number,
		StartDate:  point.StartDate,
	}, nil
}

func (p GMNPolicy) networkMeta(n domain.Network, row domain.SyncLog) xmlgen.Meta {
	return xmlgen.Meta{
		Ref:                      refFor(n.BroID, n.ID),
		Seq:                      int(row.ObjectRef),
		DeliveryAccountableParty: p.AccountableParty,
		QualityRegime:            n.QualityRegime,
		BroID:                    broIDString(n.BroID),
		DeliveryType:             row.DeliveryType,
	}
}

func (p GMNPolicy) Payload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
	switch row.MessageType {
	case domain.MsgGMNStartRegistration:
		network, err := p.Repo.GetNetwork(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		points, err := p.Repo.ListMeasuringPoints(ctx, network.ID)
		if err != nil {
			return nil, err
		}
		payload := xmlgen.GMNStartRegistration{
			Meta: xmlgen.Meta{
				Ref:                      refFor(network.BroID, network.ID),
				DeliveryAccountableParty: p.AccountableParty,
				QualityRegime:            network.QualityRegime,
				DeliveryType:             row.DeliveryType,
			},
			Network: network,
		}
		for _, pt := range points {
			if pt.EndDate != nil {
				continue
			}
			resolved, err := p.resolvePoint(ctx, pt)
			if err != nil {
				return nil, err
			}
			payload.Points = append(payload.Points, resolved)
		}
		return payload, nil

	case domain.MsgGMNMeasuringPoint, domain.MsgGMNTubeReference:
		point, err := p.Repo.GetMeasuringPoint(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		network, err := p.Repo.GetNetwork(ctx, point.NetworkID)
		if err != nil {
			return nil, err
		}
		resolved, err := p.resolvePoint(ctx, point)
		if err != nil {
			return nil, err
		}
		ev, err := p.rowEventDate(ctx, row)
		if err != nil {
			return nil, err
		}
		if row.MessageType == domain.MsgGMNMeasuringPoint {
			return xmlgen.GMNMeasuringPoint{Meta: p.networkMeta(network, row), Point: resolved, EventDate: ev}, nil
		}
		return xmlgen.GMNTubeReference{
			Meta:       p.networkMeta(network, row),
			Code:       resolved.Code,
			GMWBroID:   resolved.GMWBroID,
			TubeNumber: resolved.TubeNumber,
			EventDate:  ev,
		}, nil

	case domain.MsgGMNMeasuringPointEnd:
		point, err := p.Repo.GetMeasuringPoint(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		network, err := p.Repo.GetNetwork(ctx, point.NetworkID)
		if err != nil {
			return nil, err
		}
		ev, err := p.rowEventDate(ctx, row)
		if err != nil {
			return nil, err
		}
		return xmlgen.GMNMeasuringPointEnd{Meta: p.networkMeta(network, row), Code: point.Code, EventDate: ev}, nil

	case domain.MsgGMNClosure:
		network, err := p.Repo.GetNetwork(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		if network.EndDate == nil {
			return nil, fmt.Errorf("network %d: closure without end date", network.ID)
		}
		return xmlgen.GMNClosure{Meta: p.networkMeta(network, row), EndDate: *network.EndDate}, nil
	}
	return nil, fmt.Errorf("row %d: no gmn builder for %s", row.ID, row.MessageType)
}

func (p GMNPolicy) rowEventDate(ctx context.Context, row domain.SyncLog) (string, error) {
	if row.EventID == nil {
		return "", fmt.Errorf("row %d: no originating event", row.ID)
	}
	ev, err := p.Repo.GetEvent(ctx, *row.EventID)
	if err != nil {
		return "", err
	}
	return ev.EventDate, nil
}

func (p GMNPolicy) Approved(ctx context.Context, tx *sql.Tx, row domain.SyncLog, status registry.DeliveryStatus) error {
	switch row.MessageType {
	case domain.MsgGMNStartRegistration:
		if row.BroID == nil {
			return fmt.Errorf("start registration row %d approved without bro id", row.ID)
		}
		if err := p.Repo.WriteNetworkBroID(ctx, tx, row.ObjectRef, *row.BroID); err != nil {
			return err
		}
		// The measuring points that travelled inside the start registration
		// are registered along with it.
		return p.flipFoldedPointEvents(ctx, tx, row.ObjectRef)

	case domain.MsgGMNClosure:
		return p.Repo.MarkNetworkClosedInRegistry(ctx, tx, row.ObjectRef)
	}
	return nil
}

func (p GMNPolicy) flipFoldedPointEvents(ctx context.Context, tx *sql.Tx, networkID int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE events SET synced=1 WHERE object_kind=? AND kind=? AND synced=0
		 AND object_id IN (SELECT id FROM measuring_points WHERE network_id=?)`,
		string(domain.KindGMN), string(domain.EventMeasuringPointAdded), networkID)
	return err
}
