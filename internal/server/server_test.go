package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"

	"brosync/internal/db"
	"brosync/internal/domain"
	"brosync/internal/migrate"
	"brosync/internal/sync"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, token string) (*testServer, sync.Store) {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := sync.NewStore(conn)
	handler, err := New(Config{Store: store, Token: token})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv, store
}

func get(t *testing.T, client *http.Client, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	return do(t, client, http.MethodGet, url, headers)
}

func do(t *testing.T, client *http.Client, method, url string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func seedRow(t *testing.T, store sync.Store, kind domain.ObjectKind, ref int64, mt domain.MessageType, state string) domain.SyncLog {
	t.Helper()
	ctx := context.Background()
	row, err := store.Create(ctx, domain.SyncLog{
		ObjectKind:   kind,
		ObjectRef:    ref,
		MessageType:  mt,
		DeliveryType: domain.DeliverRegister,
	})
	if err != nil {
		t.Fatalf("create row: %v", err)
	}
	if state != domain.StateNew {
		row.ProcessStatus = state
		if err := store.Save(ctx, row); err != nil {
			t.Fatalf("save row: %v", err)
		}
	}
	return row
}

func TestListSyncLogsFiltersByKind(t *testing.T) {
	srv, store := newTestServer(t, "")
	seedRow(t, store, domain.KindGMW, 1, domain.MsgGMWConstruction, domain.StateNew)
	seedRow(t, store, domain.KindGLD, 2, domain.MsgGLDStartRegistration, domain.StateNew)

	res, data := get(t, srv.Client(), srv.URL+"/v1/synclogs", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var all []SyncLogResponse
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d rows, want 2", len(all))
	}

	res, data = get(t, srv.Client(), srv.URL+"/v1/synclogs?kind=gld", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("filtered list status %d: %s", res.StatusCode, string(data))
	}
	var filtered []SyncLogResponse
	if err := json.Unmarshal(data, &filtered); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ObjectKind != "gld" {
		t.Fatalf("filtered rows = %+v", filtered)
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v1/synclogs?kind=bogus", nil)
	if res.StatusCode != http.StatusUnprocessableEntity && res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind status %d", res.StatusCode)
	}
}

func TestBearerTokenGuardsTheAPI(t *testing.T) {
	srv, _ := newTestServer(t, "s3cret")

	res, _ := get(t, srv.Client(), srv.URL+"/v1/synclogs", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status %d, want 401", res.StatusCode)
	}
	res, _ = get(t, srv.Client(), srv.URL+"/v1/synclogs", map[string]string{"Authorization": "Bearer wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status %d, want 401", res.StatusCode)
	}
	res, _ = get(t, srv.Client(), srv.URL+"/v1/synclogs", map[string]string{"Authorization": "Bearer s3cret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("valid token status %d, want 200", res.StatusCode)
	}

	// Health stays reachable without a token.
	res, _ = get(t, srv.Client(), srv.URL+"/v1/healthz", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d, want 200", res.StatusCode)
	}
}

func TestRequeueEndpoint(t *testing.T) {
	srv, store := newTestServer(t, "")
	row := seedRow(t, store, domain.KindGMW, 7, domain.MsgGMWConstruction, domain.StateDelivered)
	rowURL := srv.URL + "/v1/synclogs/" + strconv.FormatInt(row.ID, 10)

	res, data := do(t, srv.Client(), http.MethodPost, rowURL+"/requeue", nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("requeue delivered row status %d: %s", res.StatusCode, string(data))
	}

	row.ProcessStatus = domain.StatePermanentlyFailed
	if err := store.Save(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	res, data = do(t, srv.Client(), http.MethodPost, rowURL+"/requeue", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("requeue status %d: %s", res.StatusCode, string(data))
	}
	var requeued SyncLogResponse
	if err := json.Unmarshal(data, &requeued); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if requeued.ProcessStatus != domain.StateNew || requeued.DeliveryAttempts != 0 {
		t.Fatalf("requeued row = %+v", requeued)
	}

	res, _ = get(t, srv.Client(), srv.URL+"/v1/synclogs/9999", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing row status %d, want 404", res.StatusCode)
	}
}
