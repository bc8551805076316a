package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"brosync/internal/domain"
	"brosync/internal/registry"
	"brosync/internal/xmlgen"
)

// Verdict is what one step's interaction concluded. Together with the current
// state and the attempt counter it fully determines the next state.
type Verdict int

const (
	VerdictBuilt Verdict = iota
	VerdictBuildFailed
	VerdictFileMissing
	VerdictValid
	VerdictInvalid
	VerdictDelivered
	VerdictRejected
	VerdictAccepted
	VerdictPending
	VerdictExhausted
)

// Next is the pure transition table. Terminal states never move.
func Next(state string, v Verdict) string {
	if domain.TerminalState(state) {
		return state
	}
	switch state {
	case domain.StateNew, domain.StateBuildFailed, domain.StateInvalid:
		switch v {
		case VerdictBuilt:
			return domain.StateBuilt
		case VerdictBuildFailed:
			return domain.StateBuildFailed
		}
	case domain.StateBuilt:
		switch v {
		case VerdictFileMissing:
			return domain.StateNew
		case VerdictValid:
			return domain.StateValid
		case VerdictInvalid:
			return domain.StateInvalid
		case VerdictPending:
			return domain.StateBuilt
		}
	case domain.StateValid, domain.StateDeliveryFailed:
		switch v {
		case VerdictFileMissing:
			return domain.StateNew
		case VerdictDelivered:
			return domain.StateDelivered
		case VerdictRejected:
			return domain.StateDeliveryFailed
		case VerdictExhausted:
			return domain.StatePermanentlyFailed
		case VerdictPending:
			return state
		}
	case domain.StateDelivered:
		switch v {
		case VerdictAccepted:
			return domain.StateApproved
		case VerdictPending:
			return domain.StateDelivered
		}
	}
	return state
}

// StepResult reports what one pass did to one row.
type StepResult struct {
	Row        domain.SyncLog
	Progressed bool
	Parked     bool
}

// Machine advances sync log rows one transition at a time. Build resolves a
// row to its typed payload; OnApproved runs the domain write-back when a
// delivery reaches terminal acceptance.
type Machine struct {
	Store      Store
	Client     *registry.Client
	XMLDir     string
	Log        *zap.Logger
	Build      func(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error)
	OnApproved func(ctx context.Context, row domain.SyncLog, status registry.DeliveryStatus) error
}

// Step performs at most one transition on the row and persists the result.
// It returns an error only for fatal outcomes that must abort the pass.
func (m *Machine) Step(ctx context.Context, row domain.SyncLog) (StepResult, error) {
	if domain.TerminalState(row.ProcessStatus) {
		return StepResult{Row: row}, nil
	}
	before := row.ProcessStatus
	var err error
	switch row.ProcessStatus {
	case domain.StateNew, domain.StateBuildFailed, domain.StateInvalid:
		row = m.stepBuild(ctx, row)
	case domain.StateBuilt:
		row, err = m.stepValidate(ctx, row)
	case domain.StateValid, domain.StateDeliveryFailed:
		row, err = m.stepDeliver(ctx, row)
	case domain.StateDelivered:
		row, err = m.stepPoll(ctx, row)
	default:
		return StepResult{Row: row}, fmt.Errorf("row %d: unknown state %q", row.ID, row.ProcessStatus)
	}
	if err != nil {
		return StepResult{Row: row}, err
	}
	if saveErr := m.Store.Save(ctx, row); saveErr != nil {
		return StepResult{Row: row}, saveErr
	}
	return StepResult{
		Row:        row,
		Progressed: row.ProcessStatus != before,
		Parked:     row.ProcessStatus == domain.StatePermanentlyFailed && before != domain.StatePermanentlyFailed,
	}, nil
}

func (m *Machine) xmlPath(kind domain.ObjectKind, requestReference string) string {
	return filepath.Join(m.XMLDir, string(kind), requestReference+".xml")
}

func (m *Machine) stepBuild(ctx context.Context, row domain.SyncLog) domain.SyncLog {
	fail := func(err error) domain.SyncLog {
		m.Log.Warn("build failed",
			zap.Int64("row", row.ID),
			zap.String("message_type", string(row.MessageType)),
			zap.Error(err))
		row.ProcessStatus = Next(row.ProcessStatus, VerdictBuildFailed)
		row.LastError = errString(err)
		return row
	}
	payload, err := m.Build(ctx, row)
	if err != nil {
		return fail(err)
	}
	doc, err := xmlgen.Build(payload)
	if err != nil {
		return fail(err)
	}
	path := m.xmlPath(row.ObjectKind, doc.RequestReference)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fail(err)
	}
	if err := os.WriteFile(path, doc.Bytes, 0o644); err != nil {
		return fail(err)
	}
	row.ProcessStatus = Next(row.ProcessStatus, VerdictBuilt)
	row.RequestReference = doc.RequestReference
	row.XMLPath = &path
	row.LastError = nil
	return row
}

func (m *Machine) stepValidate(ctx context.Context, row domain.SyncLog) (domain.SyncLog, error) {
	document, missing, err := m.readDocument(row)
	if err != nil {
		return row, err
	}
	if missing {
		return m.backToNew(row), nil
	}
	res, err := m.Client.Validate(ctx, document)
	switch registry.Classify(err) {
	case registry.OutcomeFatal:
		return row, err
	case registry.OutcomeTransient:
		row.ProcessStatus = Next(row.ProcessStatus, VerdictPending)
		row.LastError = errString(err)
		return row, nil
	case registry.OutcomeRejected:
		row.ProcessStatus = Next(row.ProcessStatus, VerdictInvalid)
		row.LastError = errString(err)
		return row, nil
	}
	status := res.Status
	row.ValidationStatus = &status
	if res.Status == registry.StatusValid {
		row.ProcessStatus = Next(row.ProcessStatus, VerdictValid)
		row.LastError = nil
		return row, nil
	}
	row.ProcessStatus = Next(row.ProcessStatus, VerdictInvalid)
	row.LastError = strPtrOf(strings.Join(res.Errors, "; "))
	return row, nil
}

func (m *Machine) stepDeliver(ctx context.Context, row domain.SyncLog) (domain.SyncLog, error) {
	if row.ProcessStatus == domain.StateDeliveryFailed && row.DeliveryAttempts >= domain.MaxDeliveryAttempts {
		row.ProcessStatus = Next(row.ProcessStatus, VerdictExhausted)
		m.Log.Warn("row parked after exhausting delivery attempts",
			zap.Int64("row", row.ID),
			zap.String("message_type", string(row.MessageType)))
		return row, nil
	}
	document, missing, err := m.readDocument(row)
	if err != nil {
		return row, err
	}
	if missing {
		return m.backToNew(row), nil
	}
	delivery, err := m.Client.Deliver(ctx, row.RequestReference, row.RequestReference+".xml", document)
	switch registry.Classify(err) {
	case registry.OutcomeFatal:
		return row, err
	case registry.OutcomeTransient:
		row.ProcessStatus = Next(row.ProcessStatus, VerdictPending)
		row.LastError = errString(err)
		return row, nil
	case registry.OutcomeRejected:
		row.DeliveryAttempts++
		row.ProcessStatus = Next(row.ProcessStatus, VerdictRejected)
		row.LastError = errString(err)
		return row, nil
	}
	row.ProcessStatus = Next(row.ProcessStatus, VerdictDelivered)
	row.DeliveryID = &delivery.Identifier
	row.DeliveryStatus = &delivery.Status
	row.LastError = nil
	return row, nil
}

func (m *Machine) stepPoll(ctx context.Context, row domain.SyncLog) (domain.SyncLog, error) {
	if row.DeliveryID == nil {
		return row, fmt.Errorf("row %d: delivered without delivery id", row.ID)
	}
	status, err := m.Client.PollStatus(ctx, *row.DeliveryID)
	switch registry.Classify(err) {
	case registry.OutcomeFatal:
		return row, err
	case registry.OutcomeTransient, registry.OutcomeRejected:
		row.ProcessStatus = Next(row.ProcessStatus, VerdictPending)
		row.LastError = errString(err)
		return row, nil
	}
	row.DeliveryStatus = &status.Status
	if !status.Accepted() {
		row.ProcessStatus = Next(row.ProcessStatus, VerdictPending)
		if errs := documentErrors(status); errs != "" {
			row.LastError = &errs
		}
		return row, nil
	}

	row.ProcessStatus = Next(row.ProcessStatus, VerdictAccepted)
	if broID := status.BroID(); broID != "" {
		row.BroID = &broID
	}
	if row.XMLPath != nil {
		if err := os.Remove(*row.XMLPath); err != nil && !os.IsNotExist(err) {
			m.Log.Warn("removing delivered document", zap.String("path", *row.XMLPath), zap.Error(err))
		}
		row.XMLPath = nil
	}
	row.LastError = nil
	if m.OnApproved != nil {
		if err := m.OnApproved(ctx, row, status); err != nil {
			return row, fmt.Errorf("approval write-back for row %d: %w", row.ID, err)
		}
	}
	return row, nil
}

func (m *Machine) readDocument(row domain.SyncLog) (data []byte, missing bool, err error) {
	if row.XMLPath == nil {
		return nil, true, nil
	}
	data, err = os.ReadFile(*row.XMLPath)
	if os.IsNotExist(err) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

func (m *Machine) backToNew(row domain.SyncLog) domain.SyncLog {
	m.Log.Warn("document missing on disk, rebuilding", zap.Int64("row", row.ID))
	row.ProcessStatus = Next(row.ProcessStatus, VerdictFileMissing)
	row.XMLPath = nil
	return row
}

func documentErrors(s registry.DeliveryStatus) string {
	var all []string
	for _, d := range s.Brondocuments {
		all = append(all, d.Errors...)
	}
	return strings.Join(all, "; ")
}

func errString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

func strPtrOf(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
