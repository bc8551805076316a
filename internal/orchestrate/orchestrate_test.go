package orchestrate_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"

	"go.uber.org/zap"

	"brosync/internal/db"
	"brosync/internal/domain"
	"brosync/internal/migrate"
	"brosync/internal/orchestrate"
	"brosync/internal/registry"
	"brosync/internal/repo"
	"brosync/internal/sync"
)

// fakePortal scripts the bronhouder portal: every document validates, every
// upload is accepted and every poll reports full acceptance, unless a test
// flips one of the switches.
type fakePortal struct {
	mu               stdsync.Mutex
	broID            string
	invalidDocuments bool
	rejectDeliveries bool
	requireNitg      bool
	validations      int
	deliveries       int
	polls            int
}

func (f *fakePortal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/validate":
		f.validations++
		body, _ := io.ReadAll(r.Body)
		if f.invalidDocuments {
			fmt.Fprint(w, `{"status":"NIET_VALIDE","errors":["ontbrekend element"]}`)
			return
		}
		if f.requireNitg && !strings.Contains(string(body), "<nitgCode>") {
			fmt.Fprint(w, `{"status":"NIET_VALIDE","errors":["nitgCode ontbreekt"]}`)
			return
		}
		fmt.Fprint(w, `{"status":"VALIDE"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/uploads/1234":
		f.deliveries++
		if f.rejectDeliveries {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"message":"aanlevering geweigerd"}`)
			return
		}
		fmt.Fprint(w, `{"identifier":"000001234","status":"AANGELEVERD","lastChanged":"2026-08-28T10:00:00Z"}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/uploads/1234/"):
		f.polls++
		fmt.Fprintf(w, `{"status":"DOORGELEVERD","lastChanged":"2026-08-28T10:05:00Z","brondocuments":[{"status":"OPGENOMEN_LVBRO","broId":%q}]}`, f.broID)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakePortal) setBroID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broID = id
}

func (f *fakePortal) setInvalidDocuments(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidDocuments = v
}

func (f *fakePortal) setRequireNitg(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requireNitg = v
}

func (f *fakePortal) setRejectDeliveries(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectDeliveries = v
}

func (f *fakePortal) deliveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deliveries
}

type testEnv struct {
	repo   repo.Repo
	store  sync.Store
	portal *fakePortal
	client *registry.Client
	xmlDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	portal := &fakePortal{broID: "GMW000000042583"}
	srv := httptest.NewServer(portal)
	t.Cleanup(srv.Close)
	return &testEnv{
		repo:   repo.New(conn),
		store:  sync.NewStore(conn),
		portal: portal,
		client: &registry.Client{BaseURL: srv.URL, ProjectID: "1234", Token: "secret", HTTPClient: srv.Client()},
		xmlDir: t.TempDir(),
	}
}

func (e *testEnv) orchestrator(p orchestrate.Policy) *orchestrate.Orchestrator {
	return &orchestrate.Orchestrator{
		Policy: p,
		Repo:   e.repo,
		Store:  e.store,
		Client: e.client,
		XMLDir: e.xmlDir,
		Log:    zap.NewNop(),
	}
}

func (e *testEnv) gmw() *orchestrate.Orchestrator {
	return e.orchestrator(orchestrate.GMWPolicy{Repo: e.repo, Log: zap.NewNop(), AccountableParty: "27376655"})
}

func (e *testEnv) gld() *orchestrate.Orchestrator {
	return e.orchestrator(orchestrate.GLDPolicy{Repo: e.repo, Log: zap.NewNop(), AccountableParty: "27376655"})
}

func (e *testEnv) frd() *orchestrate.Orchestrator {
	return e.orchestrator(orchestrate.FRDPolicy{Repo: e.repo, Log: zap.NewNop(), AccountableParty: "27376655"})
}

func (e *testEnv) gmn() *orchestrate.Orchestrator {
	return e.orchestrator(orchestrate.GMNPolicy{Repo: e.repo, Log: zap.NewNop(), AccountableParty: "27376655"})
}

func mustPass(t *testing.T, o *orchestrate.Orchestrator) orchestrate.PassResult {
	t.Helper()
	res, err := o.Pass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	return res
}

// drain runs passes until one does nothing and returns the accumulated result.
func drain(t *testing.T, o *orchestrate.Orchestrator) orchestrate.PassResult {
	t.Helper()
	var total orchestrate.PassResult
	for i := 0; i < 20; i++ {
		res := mustPass(t, o)
		total.Seeded += res.Seeded
		total.Stepped += res.Stepped
		total.Progressed += res.Progressed
		total.Parked += res.Parked
		if res.Seeded == 0 && res.Stepped == 0 {
			return total
		}
	}
	t.Fatalf("passes did not quiesce")
	return total
}

func (e *testEnv) createWell(t *testing.T, nitg string) (domain.Well, domain.Tube) {
	t.Helper()
	ctx := context.Background()
	w, err := e.repo.CreateWell(ctx, domain.Well{
		InternalID:       "PB-001",
		NitgCode:         nitg,
		QualityRegime:    "IMBRO",
		CoordinateX:      140412.5,
		CoordinateY:      455032.1,
		WellOffset:       0.3,
		ConstructionDate: "2024-04-01",
	})
	if err != nil {
		t.Fatalf("create well: %v", err)
	}
	tube, err := e.repo.CreateTube(ctx, domain.Tube{
		WellID:              w.ID,
		Number:              1,
		TubeStatus:          "gebruiksklaar",
		TubeTopPosition:     1.2,
		PlainTubePartLength: 10,
		ScreenLength:        1,
	})
	if err != nil {
		t.Fatalf("create tube: %v", err)
	}
	return w, tube
}

// registerWell drives the well's construction through the portal so dependent
// objects can deliver.
func (e *testEnv) registerWell(t *testing.T) (domain.Well, domain.Tube) {
	t.Helper()
	w, tube := e.createWell(t, "B12A3456")
	drain(t, e.gmw())
	got, err := e.repo.GetWell(context.Background(), w.ID)
	if err != nil {
		t.Fatalf("reload well: %v", err)
	}
	if got.BroID == nil {
		t.Fatalf("well not registered after drain")
	}
	return got, tube
}

func TestWellConstructionReachesApproval(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.createWell(t, "B12A3456")
	o := e.gmw()
	ctx := context.Background()

	// Pass 1 seeds the construction row and builds its document.
	res := mustPass(t, o)
	if res.Seeded != 1 || res.Progressed != 1 {
		t.Fatalf("first pass = %+v, want 1 seeded, 1 progressed", res)
	}
	row, err := e.store.Find(ctx, domain.KindGMW, w.ID, domain.MsgGMWConstruction, domain.DeliverRegister)
	if err != nil {
		t.Fatalf("find row: %v", err)
	}
	if row.ProcessStatus != domain.StateBuilt {
		t.Fatalf("state after first pass = %s", row.ProcessStatus)
	}
	if row.XMLPath == nil {
		t.Fatalf("built row without document path")
	}
	docPath := *row.XMLPath

	// Validate, deliver, poll: one transition per pass.
	for _, want := range []string{domain.StateValid, domain.StateDelivered, domain.StateApproved} {
		res = mustPass(t, o)
		if res.Progressed != 1 {
			t.Fatalf("pass towards %s = %+v", want, res)
		}
		row, err = e.store.Get(ctx, row.ID)
		if err != nil {
			t.Fatal(err)
		}
		if row.ProcessStatus != want {
			t.Fatalf("state = %s, want %s", row.ProcessStatus, want)
		}
	}

	if row.BroID == nil || *row.BroID != "GMW000000042583" {
		t.Fatalf("row bro id = %v", row.BroID)
	}
	got, err := e.repo.GetWell(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BroID == nil || *got.BroID != "GMW000000042583" {
		t.Fatalf("well bro id = %v", got.BroID)
	}
	if row.XMLPath != nil {
		t.Fatalf("approved row still points at %s", *row.XMLPath)
	}
	if _, err := os.Stat(docPath); !os.IsNotExist(err) {
		t.Fatalf("delivered document not removed: %v", err)
	}
	events, err := e.repo.ListUnsyncedEvents(ctx, domain.KindGMW)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("%d events still unsynced after approval", len(events))
	}

	// Everything is terminal; another pass does nothing.
	res = mustPass(t, o)
	if res.Seeded != 0 || res.Stepped != 0 {
		t.Fatalf("idle pass = %+v", res)
	}
}

func TestMissingNitgCodeRejectedByPortalThenFixed(t *testing.T) {
	e := newTestEnv(t)
	e.portal.setRequireNitg(true)
	w, _ := e.createWell(t, "")
	o := e.gmw()
	ctx := context.Background()

	// The document builds without the code; the portal is the judge.
	mustPass(t, o) // build
	mustPass(t, o) // validate: NIET_VALIDE
	row, err := e.store.Find(ctx, domain.KindGMW, w.ID, domain.MsgGMWConstruction, domain.DeliverRegister)
	if err != nil {
		t.Fatal(err)
	}
	if row.ProcessStatus != domain.StateInvalid {
		t.Fatalf("state = %s, want invalid", row.ProcessStatus)
	}
	if row.LastError == nil || !strings.Contains(*row.LastError, "nitgCode") {
		t.Fatalf("last error = %v", row.LastError)
	}

	// The fix is a plain correction; no new event, the existing row rebuilds.
	if err := e.repo.UpdateWellNitgCode(ctx, w.ID, "B12A3456"); err != nil {
		t.Fatalf("update nitg code: %v", err)
	}
	drain(t, o)

	row, err = e.store.Get(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.ProcessStatus != domain.StateApproved {
		t.Fatalf("state = %s, want approved", row.ProcessStatus)
	}
	if row.LastError != nil {
		t.Fatalf("approved row keeps error %q", *row.LastError)
	}
}

func TestInvalidDocumentRebuildsAfterPortalAccepts(t *testing.T) {
	e := newTestEnv(t)
	e.portal.setInvalidDocuments(true)
	w, _ := e.createWell(t, "B12A3456")
	o := e.gmw()
	ctx := context.Background()

	mustPass(t, o) // build
	mustPass(t, o) // validate: rejected
	row, err := e.store.Find(ctx, domain.KindGMW, w.ID, domain.MsgGMWConstruction, domain.DeliverRegister)
	if err != nil {
		t.Fatal(err)
	}
	if row.ProcessStatus != domain.StateInvalid {
		t.Fatalf("state = %s, want invalid", row.ProcessStatus)
	}
	if row.LastError == nil || !strings.Contains(*row.LastError, "ontbrekend") {
		t.Fatalf("last error = %v", row.LastError)
	}

	e.portal.setInvalidDocuments(false)
	drain(t, o)
	row, err = e.store.Get(ctx, row.ID)
	if err != nil {
		t.Fatal(err)
	}
	if row.ProcessStatus != domain.StateApproved {
		t.Fatalf("state = %s, want approved", row.ProcessStatus)
	}
}

func TestRejectedDeliveriesParkAfterThreeAttempts(t *testing.T) {
	e := newTestEnv(t)
	e.portal.setRejectDeliveries(true)
	w, _ := e.createWell(t, "B12A3456")
	o := e.gmw()
	ctx := context.Background()

	mustPass(t, o) // build
	mustPass(t, o) // validate
	for attempt := 1; attempt <= domain.MaxDeliveryAttempts; attempt++ {
		mustPass(t, o)
		row, err := e.store.Find(ctx, domain.KindGMW, w.ID, domain.MsgGMWConstruction, domain.DeliverRegister)
		if err != nil {
			t.Fatal(err)
		}
		if row.ProcessStatus != domain.StateDeliveryFailed || row.DeliveryAttempts != attempt {
			t.Fatalf("after attempt %d: state %s, attempts %d", attempt, row.ProcessStatus, row.DeliveryAttempts)
		}
	}

	res := mustPass(t, o)
	if res.Parked != 1 {
		t.Fatalf("parking pass = %+v", res)
	}
	row, err := e.store.Find(ctx, domain.KindGMW, w.ID, domain.MsgGMWConstruction, domain.DeliverRegister)
	if err != nil {
		t.Fatal(err)
	}
	if row.ProcessStatus != domain.StatePermanentlyFailed {
		t.Fatalf("state = %s, want permanently_failed", row.ProcessStatus)
	}
	if e.portal.deliveryCount() != domain.MaxDeliveryAttempts {
		t.Fatalf("%d uploads, want %d", e.portal.deliveryCount(), domain.MaxDeliveryAttempts)
	}
	got, err := e.repo.GetWell(ctx, w.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.BroID != nil {
		t.Fatalf("parked well got bro id %q", *got.BroID)
	}
}

func TestLevelDossierLifecycle(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, tube := e.registerWell(t)

	dossier, err := e.repo.CreateDossier(ctx, domain.Dossier{TubeID: tube.ID, QualityRegime: "IMBRO"})
	if err != nil {
		t.Fatalf("create dossier: %v", err)
	}
	e.portal.setBroID("GLD000000012345")
	o := e.gld()
	drain(t, o)
	dossier, err = e.repo.GetDossier(ctx, dossier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dossier.BroID == nil || *dossier.BroID != "GLD000000012345" {
		t.Fatalf("dossier bro id = %v", dossier.BroID)
	}

	obs, err := e.repo.OpenObservation(ctx, domain.Observation{
		DossierID:       dossier.ID,
		ObservationType: "reguliereMeting",
		Status:          "voorlopig",
	})
	if err != nil {
		t.Fatalf("open observation: %v", err)
	}
	for i, v := range []float64{152.0, 148.5} {
		val := v
		_, err := e.repo.InsertMeasurement(ctx, domain.MeasurementTvp{
			ObservationID:        obs.ID,
			Time:                 fmt.Sprintf("2026-08-2%dT10:00:00Z", i+1),
			Value:                &val,
			Unit:                 "cm",
			StatusQualityControl: "goedgekeurd",
		})
		if err != nil {
			t.Fatalf("insert measurement: %v", err)
		}
	}

	// The open observation holds the addition back; measurement events coalesce.
	res := mustPass(t, o)
	if res.Seeded != 0 {
		t.Fatalf("open observation seeded %d rows", res.Seeded)
	}

	if err := e.repo.CloseObservation(ctx, obs.ID, "2026-08-28T12:00:00Z", "volledigBeoordeeld"); err != nil {
		t.Fatalf("close observation: %v", err)
	}
	drain(t, o)
	row, err := e.store.Find(ctx, domain.KindGLD, obs.ID, domain.MsgGLDAdditionRegular, domain.DeliverRegister)
	if err != nil {
		t.Fatalf("find addition row: %v", err)
	}
	if row.ProcessStatus != domain.StateApproved {
		t.Fatalf("addition state = %s", row.ProcessStatus)
	}
	events, err := e.repo.ListUnsyncedEvents(ctx, domain.KindGLD)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("%d gld events unsynced after addition approval", len(events))
	}

	if err := e.repo.CloseDossier(ctx, dossier.ID, "2026-08-28"); err != nil {
		t.Fatalf("close dossier: %v", err)
	}
	drain(t, o)
	dossier, err = e.repo.GetDossier(ctx, dossier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !dossier.ClosedInRegistry {
		t.Fatalf("dossier not marked closed in registry")
	}
}

func TestObservationWithOnlyRejectedMeasurementsIsNotSeeded(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, tube := e.registerWell(t)

	dossier, err := e.repo.CreateDossier(ctx, domain.Dossier{TubeID: tube.ID, QualityRegime: "IMBRO"})
	if err != nil {
		t.Fatalf("create dossier: %v", err)
	}
	e.portal.setBroID("GLD000000012345")
	o := e.gld()
	drain(t, o)

	obs, err := e.repo.OpenObservation(ctx, domain.Observation{
		DossierID:       dossier.ID,
		ObservationType: "reguliereMeting",
		Status:          "voorlopig",
	})
	if err != nil {
		t.Fatalf("open observation: %v", err)
	}
	val := 152.0
	if _, err := e.repo.InsertMeasurement(ctx, domain.MeasurementTvp{
		ObservationID:        obs.ID,
		Time:                 "2026-08-21T10:00:00Z",
		Value:                &val,
		Unit:                 "cm",
		StatusQualityControl: "afgekeurd",
	}); err != nil {
		t.Fatalf("insert measurement: %v", err)
	}
	if err := e.repo.CloseObservation(ctx, obs.ID, "2026-08-28T12:00:00Z", "volledigBeoordeeld"); err != nil {
		t.Fatalf("close observation: %v", err)
	}

	// Every recorded point is rejected: nothing deliverable, so no row.
	res := drain(t, o)
	if res.Seeded != 0 {
		t.Fatalf("rejected-only observation seeded %d rows", res.Seeded)
	}
	if _, err := e.store.Find(ctx, domain.KindGLD, obs.ID, domain.MsgGLDAdditionRegular, domain.DeliverRegister); !errors.Is(err, sync.ErrNotFound) {
		t.Fatalf("find = %v, want not found", err)
	}
}

func TestFrdDossierWaitsForWellRegistration(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, tube := e.createWell(t, "B12A3456")

	dossier, err := e.repo.CreateFrdDossier(ctx, domain.FrdDossier{
		TubeID:         tube.ID,
		QualityRegime:  "IMBRO",
		AssessmentType: "geoohmkabelBepaling",
	})
	if err != nil {
		t.Fatalf("create frd dossier: %v", err)
	}

	// The parent well has no bro id yet: nothing may be seeded.
	res := mustPass(t, e.frd())
	if res.Seeded != 0 {
		t.Fatalf("unregistered well seeded %d frd rows", res.Seeded)
	}
	if _, err := e.store.Find(ctx, domain.KindFRD, dossier.ID, domain.MsgFRDStartRegistration, domain.DeliverRegister); !errors.Is(err, sync.ErrNotFound) {
		t.Fatalf("find = %v, want not found", err)
	}

	drain(t, e.gmw())
	e.portal.setBroID("FRD000000000321")
	drain(t, e.frd())
	dossier, err = e.repo.GetFrdDossier(ctx, dossier.ID)
	if err != nil {
		t.Fatal(err)
	}
	if dossier.BroID == nil || *dossier.BroID != "FRD000000000321" {
		t.Fatalf("frd dossier bro id = %v", dossier.BroID)
	}
}

func TestFrdConfigurationBatchMarksSynced(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, tube := e.registerWell(t)

	dossier, err := e.repo.CreateFrdDossier(ctx, domain.FrdDossier{
		TubeID:         tube.ID,
		QualityRegime:  "IMBRO",
		AssessmentType: "geoohmkabelBepaling",
	})
	if err != nil {
		t.Fatalf("create frd dossier: %v", err)
	}
	e.portal.setBroID("FRD000000000321")
	o := e.frd()
	drain(t, o)

	for i := 0; i < 2; i++ {
		_, err := e.repo.CreateMeasurementConfiguration(ctx, domain.MeasurementConfiguration{
			DossierID:    dossier.ID,
			Name:         fmt.Sprintf("conf-%d", i+1),
			CableOne:     1,
			ElectrodeOne: i + 1,
			PositionOne:  float64(i) + 10,
			CableTwo:     1,
			ElectrodeTwo: i + 2,
			PositionTwo:  float64(i) + 12,
		})
		if err != nil {
			t.Fatalf("create configuration: %v", err)
		}
	}
	drain(t, o)

	pending, err := e.repo.ListMeasurementConfigurations(ctx, dossier.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("%d configurations still unsynced after approval", len(pending))
	}
}

func TestNetworkStartFoldsMeasuringPoints(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	_, tube := e.registerWell(t)

	network, err := e.repo.CreateNetwork(ctx, domain.Network{
		Name:          "meetnet-zuid",
		ObjectID:      "GMN-zuid",
		QualityRegime: "IMBRO",
		StartDate:     "2026-08-01",
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	o := e.gmn()

	// A network without points cannot register yet.
	res := mustPass(t, o)
	if res.Seeded != 0 {
		t.Fatalf("empty network seeded %d rows", res.Seeded)
	}

	point, err := e.repo.AddMeasuringPoint(ctx, domain.MeasuringPoint{
		NetworkID: network.ID,
		TubeID:    tube.ID,
		Code:      "MP-001",
		StartDate: "2026-08-01",
	})
	if err != nil {
		t.Fatalf("add measuring point: %v", err)
	}

	e.portal.setBroID("GMN000000000153")
	drain(t, o)
	network, err = e.repo.GetNetwork(ctx, network.ID)
	if err != nil {
		t.Fatal(err)
	}
	if network.BroID == nil || *network.BroID != "GMN000000000153" {
		t.Fatalf("network bro id = %v", network.BroID)
	}

	// The point travelled inside the start registration; no separate row.
	if _, err := e.store.Find(ctx, domain.KindGMN, point.ID, domain.MsgGMNMeasuringPoint, domain.DeliverRegister); !errors.Is(err, sync.ErrNotFound) {
		t.Fatalf("find point row = %v, want not found", err)
	}
	events, err := e.repo.ListUnsyncedEvents(ctx, domain.KindGMN)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Fatalf("%d gmn events unsynced after start registration", len(events))
	}

	if err := e.repo.CloseNetwork(ctx, network.ID, "2026-08-28"); err != nil {
		t.Fatalf("close network: %v", err)
	}
	drain(t, o)
	network, err = e.repo.GetNetwork(ctx, network.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !network.ClosedInRegistry {
		t.Fatalf("network not marked closed in registry")
	}
}
