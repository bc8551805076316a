package sync_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"brosync/internal/db"
	"brosync/internal/domain"
	"brosync/internal/migrate"
	"brosync/internal/registry"
	"brosync/internal/sync"
	"brosync/internal/xmlgen"
)

func TestNextTransitions(t *testing.T) {
	cases := []struct {
		state string
		v     sync.Verdict
		want  string
	}{
		{domain.StateNew, sync.VerdictBuilt, domain.StateBuilt},
		{domain.StateNew, sync.VerdictBuildFailed, domain.StateBuildFailed},
		{domain.StateBuildFailed, sync.VerdictBuilt, domain.StateBuilt},
		{domain.StateInvalid, sync.VerdictBuilt, domain.StateBuilt},
		{domain.StateBuilt, sync.VerdictValid, domain.StateValid},
		{domain.StateBuilt, sync.VerdictInvalid, domain.StateInvalid},
		{domain.StateBuilt, sync.VerdictFileMissing, domain.StateNew},
		{domain.StateBuilt, sync.VerdictPending, domain.StateBuilt},
		{domain.StateValid, sync.VerdictDelivered, domain.StateDelivered},
		{domain.StateValid, sync.VerdictRejected, domain.StateDeliveryFailed},
		{domain.StateDeliveryFailed, sync.VerdictDelivered, domain.StateDelivered},
		{domain.StateDeliveryFailed, sync.VerdictRejected, domain.StateDeliveryFailed},
		{domain.StateDeliveryFailed, sync.VerdictExhausted, domain.StatePermanentlyFailed},
		{domain.StateDelivered, sync.VerdictAccepted, domain.StateApproved},
		{domain.StateDelivered, sync.VerdictPending, domain.StateDelivered},
	}
	for _, tc := range cases {
		if got := sync.Next(tc.state, tc.v); got != tc.want {
			t.Errorf("Next(%s, %d) = %s, want %s", tc.state, tc.v, got, tc.want)
		}
	}
}

func TestTerminalStatesNeverMove(t *testing.T) {
	for _, state := range []string{domain.StateApproved, domain.StatePermanentlyFailed} {
		for v := sync.VerdictBuilt; v <= sync.VerdictExhausted; v++ {
			if got := sync.Next(state, v); got != state {
				t.Errorf("Next(%s, %d) = %s, want unchanged", state, v, got)
			}
		}
	}
}

func newTestStore(t *testing.T) sync.Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return sync.NewStore(conn)
}

func createRow(t *testing.T, store sync.Store, state string, attempts int) domain.SyncLog {
	t.Helper()
	ctx := context.Background()
	row, err := store.Create(ctx, domain.SyncLog{
		ObjectKind:   domain.KindGLD,
		ObjectRef:    1,
		MessageType:  domain.MsgGLDClosure,
		DeliveryType: domain.DeliverRegister,
	})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}
	row.ProcessStatus = state
	row.DeliveryAttempts = attempts
	if err := store.Save(ctx, row); err != nil {
		t.Fatalf("save row: %v", err)
	}
	return row
}

func closurePayload(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
	return xmlgen.GLDClosure{Meta: xmlgen.Meta{
		Ref:           "GLD000000012345",
		QualityRegime: "IMBRO",
		BroID:         "GLD000000012345",
		DeliveryType:  row.DeliveryType,
	}}, nil
}

func TestExhaustedAttemptsParkWithoutUpload(t *testing.T) {
	store := newTestStore(t)
	row := createRow(t, store, domain.StateDeliveryFailed, domain.MaxDeliveryAttempts)

	// Client is nil: reaching it would panic, proving no upload happens.
	m := &sync.Machine{Store: store, Log: zap.NewNop(), Build: closurePayload}
	res, err := m.Step(context.Background(), row)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !res.Parked {
		t.Fatalf("expected row to park")
	}
	saved, err := store.Get(context.Background(), row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ProcessStatus != domain.StatePermanentlyFailed {
		t.Fatalf("state = %s, want %s", saved.ProcessStatus, domain.StatePermanentlyFailed)
	}
}

func TestBuildWritesDocumentAndReference(t *testing.T) {
	store := newTestStore(t)
	row := createRow(t, store, domain.StateNew, 0)

	dir := t.TempDir()
	m := &sync.Machine{Store: store, XMLDir: dir, Log: zap.NewNop(), Build: closurePayload}
	res, err := m.Step(context.Background(), row)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Row.ProcessStatus != domain.StateBuilt {
		t.Fatalf("state = %s, want built", res.Row.ProcessStatus)
	}
	if res.Row.RequestReference != "GLD000000012345_GLD_Closure_0" {
		t.Fatalf("unexpected reference %q", res.Row.RequestReference)
	}
	want := filepath.Join(dir, "gld", "GLD000000012345_GLD_Closure_0.xml")
	if res.Row.XMLPath == nil || *res.Row.XMLPath != want {
		t.Fatalf("xml path = %v, want %s", res.Row.XMLPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("document not on disk: %v", err)
	}
}

func TestBuildFailureKeepsRowRetryable(t *testing.T) {
	store := newTestStore(t)
	row := createRow(t, store, domain.StateNew, 0)

	m := &sync.Machine{Store: store, XMLDir: t.TempDir(), Log: zap.NewNop(),
		Build: func(ctx context.Context, row domain.SyncLog) (xmlgen.Payload, error) {
			// Closure without a bro id is an invalid payload.
			return xmlgen.GLDClosure{Meta: xmlgen.Meta{Ref: "9", QualityRegime: "IMBRO"}}, nil
		}}
	res, err := m.Step(context.Background(), row)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Row.ProcessStatus != domain.StateBuildFailed {
		t.Fatalf("state = %s, want build_failed", res.Row.ProcessStatus)
	}
	if res.Row.LastError == nil {
		t.Fatalf("expected last error recorded")
	}
}

func TestMissingDocumentFallsBackToNew(t *testing.T) {
	store := newTestStore(t)
	row := createRow(t, store, domain.StateBuilt, 0)
	gone := filepath.Join(t.TempDir(), "gone.xml")
	row.XMLPath = &gone
	if err := store.Save(context.Background(), row); err != nil {
		t.Fatal(err)
	}

	m := &sync.Machine{Store: store, Log: zap.NewNop(), Build: closurePayload,
		Client: &registry.Client{BaseURL: "http://127.0.0.1:0"}}
	res, err := m.Step(context.Background(), row)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if res.Row.ProcessStatus != domain.StateNew {
		t.Fatalf("state = %s, want new", res.Row.ProcessStatus)
	}
	if res.Row.XMLPath != nil {
		t.Fatalf("expected xml path cleared")
	}
}

func TestRequeueOnlyFromPermanentlyFailed(t *testing.T) {
	store := newTestStore(t)
	row := createRow(t, store, domain.StateDelivered, 2)
	if _, err := store.Requeue(context.Background(), row.ID); err == nil {
		t.Fatalf("expected requeue rejection for delivered row")
	}

	row.ProcessStatus = domain.StatePermanentlyFailed
	if err := store.Save(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	got, err := store.Requeue(context.Background(), row.ID)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if got.ProcessStatus != domain.StateNew || got.DeliveryAttempts != 0 {
		t.Fatalf("requeued row = %s attempts %d", got.ProcessStatus, got.DeliveryAttempts)
	}
}

func TestLedgerIdentityIsUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seed := domain.SyncLog{
		ObjectKind:   domain.KindGMW,
		ObjectRef:    7,
		MessageType:  domain.MsgGMWConstruction,
		DeliveryType: domain.DeliverRegister,
	}
	if _, err := store.Create(ctx, seed); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.Create(ctx, seed); err == nil {
		t.Fatalf("expected unique constraint violation")
	}
}
