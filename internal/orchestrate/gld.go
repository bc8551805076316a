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

// GLDPolicy registers level dossiers and their observations. Additions are
// keyed by observation so each closed observation gets its own ledger row.
type GLDPolicy struct {
	Repo             repo.Repo
	Log              *zap.Logger
	AccountableParty string
}

func (GLDPolicy) Kind() domain.ObjectKind { return domain.KindGLD }

func (p GLDPolicy) Seed(ctx context.Context, ev domain.Event) (Seed, bool, error) {
	switch ev.Kind {
	case domain.EventDossierStart:
		dossier, err := p.Repo.GetDossier(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		well, _, err := p.parentWell(ctx, dossier.TubeID)
		if err != nil {
			return Seed{}, false, err
		}
		if well.BroID == nil {
			p.Log.Warn("dossier waits for its well to be registered",
				zap.Int64("dossier", dossier.ID), zap.Int64("well", well.ID))
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: dossier.ID, MessageType: domain.MsgGLDStartRegistration, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventMeasurementAdded:
		// Coalesces under the open observation; the addition is seeded when
		// the observation closes.
		return Seed{}, false, nil

	case domain.EventAdditionReady, domain.EventMeasurementCorrected:
		dossier, err := p.Repo.GetDossier(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		if dossier.BroID == nil {
			p.Log.Debug("addition waits for dossier registration", zap.Int64("dossier", dossier.ID))
			return Seed{}, false, nil
		}
		payload, err := decodePayload(ev)
		if err != nil {
			return Seed{}, false, err
		}
		observationID, ok := payloadInt(payload, "observation_id")
		if !ok {
			return Seed{}, false, fmt.Errorf("event %d: no observation_id", ev.ID)
		}
		obs, err := p.Repo.GetObservation(ctx, observationID)
		if err != nil {
			return Seed{}, false, err
		}
		if ev.Kind == domain.EventMeasurementCorrected {
			// Corrective replace of an already delivered observation.
			return Seed{ObjectRef: obs.ID, MessageType: domain.MsgGLDAdditionReplace, DeliveryType: domain.DeliverReplace}, true, nil
		}
		if obs.ObservationType == "reguliereMeting" && obs.Status != "volledigBeoordeeld" {
			p.Log.Debug("regular observation waits for quality control", zap.Int64("observation", obs.ID))
			return Seed{}, false, nil
		}
		series, err := p.Repo.ListMeasurements(ctx, obs.ID)
		if err != nil {
			return Seed{}, false, err
		}
		if deliverablePoints(series) == 0 {
			p.Log.Warn("observation closed without deliverable measurements",
				zap.Int64("observation", obs.ID), zap.Int("recorded", len(series)))
			return Seed{}, false, nil
		}
		t := domain.MsgGLDAdditionRegular
		if obs.ObservationType == "controlemeting" {
			t = domain.MsgGLDAdditionControl
		}
		return Seed{ObjectRef: obs.ID, MessageType: t, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventDossierClosure:
		dossier, err := p.Repo.GetDossier(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		if dossier.BroID == nil {
			p.Log.Debug("closure waits for dossier registration", zap.Int64("dossier", dossier.ID))
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: dossier.ID, MessageType: domain.MsgGLDClosure, DeliveryType: domain.DeliverRegister}, true, nil
	}
	return Seed{}, false, fmt.Errorf("event %d: unexpected kind %q for gld", ev.ID, ev.Kind)
}

// deliverablePoints counts measurements the document builder would keep:
// rejected (afgekeurd) points and points carrying neither a value nor a censor
// reason never reach the registry.
func deliverablePoints(series []domain.MeasurementTvp) int {
	n := 0
	for _, m := range series {
		if m.StatusQualityControl == "afgekeurd" {
			continue
		}
		if m.Value == nil && m.CensorReason == nil {
			continue
		}
		n++
	}
	return n
}

func (p GLDPolicy) parentWell(ctx context.Context, tubeID int64) (domain.Well, domain.Tube, error) {
	tube, err := p.Repo.GetTube(ctx, tubeID)
	if err != nil {
		return domain.Well{}, tube, fmt.Errorf("tube %d: %w", tubeID, err)
	}
	well, err := p.Repo.GetWell(ctx, tube.WellID)
	if err != nil {
		return well, tube, fmt.Errorf("well %d: %w", tube.WellID, err)
	}
	return well, tube, nil
}

func (p GLDPolicy) Payload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
	switch row.MessageType {
	case domain.MsgGLDStartRegistration:
		dossier, err := p.Repo.GetDossier(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		well, tube, err := p.parentWell(ctx, dossier.TubeID)
		if err != nil {
			return nil, err
		}
		return xmlgen.GLDStartRegistration{
			Meta: xmlgen.Meta{
				Ref:                      refFor(dossier.BroID, dossier.ID),
				DeliveryAccountableParty: p.AccountableParty,
				QualityRegime:            dossier.QualityRegime,
				DeliveryType:             row.DeliveryType,
			},
			ObjectID:   fmt.Sprintf("GLD-%d", dossier.ID),
			GMWBroID:   broIDString(well.BroID),
			TubeNumber: tube.Number,
		}, nil

	case domain.MsgGLDAdditionRegular, domain.MsgGLDAdditionControl, domain.MsgGLDAdditionReplace:
		obs, err := p.Repo.GetObservation(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		dossier, err := p.Repo.GetDossier(ctx, obs.DossierID)
		if err != nil {
			return nil, err
		}
		series, err := p.Repo.ListMeasurements(ctx, obs.ID)
		if err != nil {
			return nil, err
		}
		return xmlgen.GLDAddition{
			Meta: xmlgen.Meta{
				Ref:                      refFor(dossier.BroID, dossier.ID),
				Seq:                      int(obs.ID),
				DeliveryAccountableParty: p.AccountableParty,
				QualityRegime:            dossier.QualityRegime,
				BroID:                    broIDString(dossier.BroID),
				DeliveryType:             row.DeliveryType,
			},
			Observation: obs,
			Series:      series,
		}, nil

	case domain.MsgGLDClosure:
		dossier, err := p.Repo.GetDossier(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		return xmlgen.GLDClosure{
			Meta: xmlgen.Meta{
				Ref:                      refFor(dossier.BroID, dossier.ID),
				DeliveryAccountableParty: p.AccountableParty,
				QualityRegime:            dossier.QualityRegime,
				BroID:                    broIDString(dossier.BroID),
				DeliveryType:             row.DeliveryType,
			},
		}, nil
	}
	return nil, fmt.Errorf("row %d: no gld builder for %s", row.ID, row.MessageType)
}

func (p GLDPolicy) Approved(ctx context.Context, tx *sql.Tx, row domain.SyncLog, status registry.DeliveryStatus) error {
	switch row.MessageType {
	case domain.MsgGLDStartRegistration:
		if row.BroID == nil {
			return fmt.Errorf("start registration row %d approved without bro id", row.ID)
		}
		return p.Repo.WriteDossierBroID(ctx, tx, row.ObjectRef, *row.BroID)

	case domain.MsgGLDAdditionRegular, domain.MsgGLDAdditionControl, domain.MsgGLDAdditionReplace:
		// The coalesced measurement event of the dossier rides along with the
		// addition it was folded into.
		obs, err := p.Repo.GetObservation(ctx, row.ObjectRef)
		if err != nil {
			return err
		}
		return p.flipPendingEvents(ctx, tx, obs.DossierID, domain.EventMeasurementAdded)

	case domain.MsgGLDClosure:
		return p.Repo.MarkDossierClosedInRegistry(ctx, tx, row.ObjectRef)
	}
	return nil
}

func (p GLDPolicy) flipPendingEvents(ctx context.Context, tx *sql.Tx, objectID int64, kind domain.EventKind) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE events SET synced=1 WHERE object_kind=? AND object_id=? AND kind=? AND synced=0`,
		string(domain.KindGLD), objectID, string(kind))
	return err
}
