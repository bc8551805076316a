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

// FRDPolicy registers formation-resistance dossiers. Configuration messages
// carry a whole dossier's batch and are keyed by the coalescing event, so a
// later batch after approval gets a fresh ledger row.
type FRDPolicy struct {
	Repo             repo.Repo
	Log              *zap.Logger
	AccountableParty string
}

func (FRDPolicy) Kind() domain.ObjectKind { return domain.KindFRD }

func (p FRDPolicy) Seed(ctx context.Context, ev domain.Event) (Seed, bool, error) {
	switch ev.Kind {
	case domain.EventFrdStart:
		dossier, err := p.Repo.GetFrdDossier(ctx, ev.ObjectID)
		if err != nil {
			return Seed{}, false, err
		}
		well, _, err := p.parentWell(ctx, dossier.TubeID)
		if err != nil {
			return Seed{}, false, err
		}
		if well.BroID == nil {
			p.Log.Warn("frd dossier waits for its well to be registered",
				zap.Int64("dossier", dossier.ID), zap.Int64("well", well.ID))
			return Seed{}, false, nil
		}
		return Seed{ObjectRef: dossier.ID, MessageType: domain.MsgFRDStartRegistration, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventFrdGEMConfiguration, domain.EventFrdEMMConfiguration:
		registered, err := p.dossierRegistered(ctx, ev.ObjectID)
		if err != nil || !registered {
			return Seed{}, false, err
		}
		t := domain.MsgFRDGEMConfiguration
		if ev.Kind == domain.EventFrdEMMConfiguration {
			t = domain.MsgFRDEMMConfiguration
		}
		// Keyed by event: each coalesced configuration batch is one delivery.
		return Seed{ObjectRef: ev.ID, MessageType: t, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventFrdGEMMeasurement, domain.EventFrdEMMMeasurement:
		registered, err := p.dossierRegistered(ctx, ev.ObjectID)
		if err != nil || !registered {
			return Seed{}, false, err
		}
		payload, err := decodePayload(ev)
		if err != nil {
			return Seed{}, false, err
		}
		measurementID, ok := payloadInt(payload, "measurement_id")
		if !ok {
			return Seed{}, false, fmt.Errorf("event %d: no measurement_id", ev.ID)
		}
		t := domain.MsgFRDGEMMeasurement
		if ev.Kind == domain.EventFrdEMMMeasurement {
			t = domain.MsgFRDEMMMeasurement
		}
		return Seed{ObjectRef: measurementID, MessageType: t, DeliveryType: domain.DeliverRegister}, true, nil

	case domain.EventFrdClosure:
		registered, err := p.dossierRegistered(ctx, ev.ObjectID)
		if err != nil || !registered {
			return Seed{}, false, err
		}
		return Seed{ObjectRef: ev.ObjectID, MessageType: domain.MsgFRDClosure, DeliveryType: domain.DeliverRegister}, true, nil
	}
	return Seed{}, false, fmt.Errorf("event %d: unexpected kind %q for frd", ev.ID, ev.Kind)
}

func (p FRDPolicy) dossierRegistered(ctx context.Context, dossierID int64) (bool, error) {
	dossier, err := p.Repo.GetFrdDossier(ctx, dossierID)
	if err != nil {
		return false, err
	}
	if dossier.BroID == nil {
		p.Log.Debug("frd delivery waits for dossier registration", zap.Int64("dossier", dossier.ID))
		return false, nil
	}
	return true, nil
}

func (p FRDPolicy) parentWell(ctx context.Context, tubeID int64) (domain.Well, domain.Tube, error) {
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

func (p FRDPolicy) dossierMeta(d domain.FrdDossier, row domain.SyncLog) xmlgen.Meta {
	return xmlgen.Meta{
		Ref:                      refFor(d.BroID, d.ID),
		Seq:                      int(row.ObjectRef),
		DeliveryAccountableParty: p.AccountableParty,
		QualityRegime:            d.QualityRegime,
		BroID:                    broIDString(d.BroID),
		DeliveryType:             row.DeliveryType,
	}
}

func (p FRDPolicy) Payload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
	switch row.MessageType {
	case domain.MsgFRDStartRegistration:
		dossier, err := p.Repo.GetFrdDossier(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		well, tube, err := p.parentWell(ctx, dossier.TubeID)
		if err != nil {
			return nil, err
		}
		return xmlgen.FRDStartRegistration{
			Meta: xmlgen.Meta{
				Ref:                      refFor(dossier.BroID, dossier.ID),
				DeliveryAccountableParty: p.AccountableParty,
				QualityRegime:            dossier.QualityRegime,
				DeliveryType:             row.DeliveryType,
			},
			ObjectID:       fmt.Sprintf("FRD-%d", dossier.ID),
			GMWBroID:       broIDString(well.BroID),
			TubeNumber:     tube.Number,
			AssessmentType: dossier.AssessmentType,
		}, nil

	case domain.MsgFRDGEMConfiguration, domain.MsgFRDEMMConfiguration:
		// ObjectRef is the coalescing event; it points back at the dossier.
		ev, err := p.Repo.GetEvent(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		dossier, err := p.Repo.GetFrdDossier(ctx, ev.ObjectID)
		if err != nil {
			return nil, err
		}
		if row.MessageType == domain.MsgFRDGEMConfiguration {
			configs, err := p.Repo.ListMeasurementConfigurations(ctx, dossier.ID, true)
			if err != nil {
				return nil, err
			}
			return xmlgen.FRDGEMConfiguration{Meta: p.dossierMeta(dossier, row), Configurations: configs}, nil
		}
		configs, err := p.Repo.ListInstrumentConfigurations(ctx, dossier.ID, true)
		if err != nil {
			return nil, err
		}
		return xmlgen.FRDEMMConfiguration{Meta: p.dossierMeta(dossier, row), Configurations: configs}, nil

	case domain.MsgFRDGEMMeasurement:
		m, dossier, err := p.measurement(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		if m.ConfigurationID == nil {
			return nil, fmt.Errorf("measurement %d: no configuration", m.ID)
		}
		configs, err := p.Repo.ListMeasurementConfigurations(ctx, dossier.ID, false)
		if err != nil {
			return nil, err
		}
		for _, c := range configs {
			if c.ID == *m.ConfigurationID {
				return xmlgen.FRDGEMMeasurement{Meta: p.dossierMeta(dossier, row), Measurement: m, Configuration: c}, nil
			}
		}
		return nil, fmt.Errorf("measurement %d: configuration %d not found", m.ID, *m.ConfigurationID)

	case domain.MsgFRDEMMMeasurement:
		m, dossier, err := p.measurement(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		if m.ConfigurationID == nil {
			return nil, fmt.Errorf("measurement %d: no configuration", m.ID)
		}
		configs, err := p.Repo.ListInstrumentConfigurations(ctx, dossier.ID, false)
		if err != nil {
			return nil, err
		}
		for _, c := range configs {
			if c.ID == *m.ConfigurationID {
				return xmlgen.FRDEMMMeasurement{Meta: p.dossierMeta(dossier, row), Measurement: m, Configuration: c}, nil
			}
		}
		return nil, fmt.Errorf("measurement %d: configuration %d not found", m.ID, *m.ConfigurationID)

	case domain.MsgFRDClosure:
		dossier, err := p.Repo.GetFrdDossier(ctx, row.ObjectRef)
		if err != nil {
			return nil, err
		}
		return xmlgen.FRDClosure{Meta: p.dossierMeta(dossier, row)}, nil
	}
	return nil, fmt.Errorf("row %d: no frd builder for %s", row.ID, row.MessageType)
}

func (p FRDPolicy) measurement(ctx context.Context, id int64) (domain.FrdMeasurement, domain.FrdDossier, error) {
	var m domain.FrdMeasurement
	err := p.Repo.DB.QueryRowContext(ctx,
		`SELECT id,dossier_id,method,configuration_id,measurement_date,vertical_pos,voltage,current,quality_control FROM frd_measurements WHERE id=?`, id).
		Scan(&m.ID, &m.DossierID, &m.Method, &m.ConfigurationID, &m.MeasurementDate, &m.VerticalPos, &m.Voltage, &m.Current, &m.QualityControl)
	if err != nil {
		return m, domain.FrdDossier{}, fmt.Errorf("frd measurement %d: %w", id, err)
	}
	dossier, err := p.Repo.GetFrdDossier(ctx, m.DossierID)
	return m, dossier, err
}

func (p FRDPolicy) Approved(ctx context.Context, tx *sql.Tx, row domain.SyncLog, status registry.DeliveryStatus) error {
	switch row.MessageType {
	case domain.MsgFRDStartRegistration:
		if row.BroID == nil {
			return fmt.Errorf("start registration row %d approved without bro id", row.ID)
		}
		return p.Repo.WriteFrdDossierBroID(ctx, tx, row.ObjectRef, *row.BroID)

	case domain.MsgFRDGEMConfiguration, domain.MsgFRDEMMConfiguration:
		ev, err := p.Repo.GetEvent(ctx, row.ObjectRef)
		if err != nil {
			return err
		}
		if row.MessageType == domain.MsgFRDGEMConfiguration {
			return p.Repo.MarkMeasurementConfigurationsSynced(ctx, tx, ev.ObjectID)
		}
		return p.Repo.MarkInstrumentConfigurationsSynced(ctx, tx, ev.ObjectID)

	case domain.MsgFRDClosure:
		return p.Repo.MarkFrdDossierClosedInRegistry(ctx, tx, row.ObjectRef)
	}
	return nil
}
