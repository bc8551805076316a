package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brosync/internal/registry"
)

func testClient(srv *httptest.Server) *registry.Client {
	return &registry.Client{
		BaseURL:    srv.URL,
		ProjectID:  "1234",
		Token:      "secret",
		HTTPClient: srv.Client(),
	}
}

func TestValidateSendsDocumentAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/validate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"status":"NIET_VALIDE","errors":["veld ontbreekt"]}`))
	}))
	defer srv.Close()

	res, err := testClient(srv).Validate(context.Background(), []byte("<registrationRequest/>"))
	require.NoError(t, err)
	assert.Equal(t, registry.StatusInvalid, res.Status)
	assert.Equal(t, []string{"veld ontbreekt"}, res.Errors)
}

func TestDeliverPostsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/1234", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "17_GMW_Construction_0", r.FormValue("requestReference"))
		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, "17_GMW_Construction_0.xml", header.Filename)
		w.Write([]byte(`{"identifier":"000001234","status":"AANGELEVERD","lastChanged":"2024-05-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	d, err := testClient(srv).Deliver(context.Background(),
		"17_GMW_Construction_0", "17_GMW_Construction_0.xml", []byte("<registrationRequest/>"))
	require.NoError(t, err)
	assert.Equal(t, "000001234", d.Identifier)
}

func TestPollStatusAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/1234/000001234", r.URL.Path)
		w.Write([]byte(`{"status":"DOORGELEVERD","lastChanged":"2024-05-02T10:00:00Z",
			"brondocuments":[{"status":"OPGENOMEN_LVBRO","broId":"GMW000000042583"}]}`))
	}))
	defer srv.Close()

	s, err := testClient(srv).PollStatus(context.Background(), "000001234")
	require.NoError(t, err)
	assert.True(t, s.Accepted())
	assert.Equal(t, "GMW000000042583", s.BroID())
}

func TestAcceptedNeedsAllDocumentsTaken(t *testing.T) {
	s := registry.DeliveryStatus{
		Status: registry.DeliveryDelivered,
		Brondocuments: []registry.Brondocument{
			{Status: registry.DocumentAccepted, BroID: "GMW000000042583"},
			{Status: "OPGENOMEN_LVBRO_VERVALLEN"},
		},
	}
	assert.False(t, s.Accepted())
	s.Brondocuments = nil
	assert.False(t, s.Accepted())
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   registry.OutcomeKind
	}{
		{"server error is transient", http.StatusBadGateway, "bad gateway", registry.OutcomeTransient},
		{"bad request is rejected", http.StatusBadRequest, `{"message":"nope"}`, registry.OutcomeRejected},
		{"unauthorized is fatal", http.StatusUnauthorized, "", registry.OutcomeFatal},
		{"forbidden is fatal", http.StatusForbidden, "", registry.OutcomeFatal},
		{"garbage body is transient", http.StatusOK, "<html>oops</html>", registry.OutcomeTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			_, err := testClient(srv).Validate(context.Background(), []byte("<x/>"))
			require.Error(t, err)
			assert.Equal(t, tc.want, registry.Classify(err))
		})
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := &registry.Client{BaseURL: srv.URL, ProjectID: "1234", Token: "secret"}
	_, err := c.Validate(context.Background(), []byte("<x/>"))
	require.Error(t, err)
	assert.Equal(t, registry.OutcomeTransient, registry.Classify(err))
}

func TestConcurrentCallsOnOneClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"VALIDE"}`))
	}))
	defer srv.Close()

	// One shared client with no HTTPClient set: workers must be able to hit
	// it at the same time without it mutating itself.
	c := &registry.Client{BaseURL: srv.URL, ProjectID: "1234", Token: "secret"}
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Validate(context.Background(), []byte("<x/>"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Nil(t, c.HTTPClient)
}

func TestNewPicksPortal(t *testing.T) {
	assert.Equal(t, registry.DemoBaseURL, registry.New("1234", "t", true).BaseURL)
	assert.Equal(t, registry.ProductionBaseURL, registry.New("1234", "t", false).BaseURL)
}
