package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torpedo-one/torpedo/internal/marketplace"
	"github.com/torpedo-one/torpedo/internal/matcher"
	"github.com/torpedo-one/torpedo/internal/oracle"
	"github.com/torpedo-one/torpedo/internal/pricing"
	"github.com/torpedo-one/torpedo/internal/registry"
	"github.com/torpedo-one/torpedo/internal/storage"
	"github.com/torpedo-one/torpedo/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	reg := registry.New(storage.NewProviderStore(db))
	require.NoError(t, reg.Load(context.Background()))

	rates := pricing.Rates{CPUCentsHour: 100, GPUCentsHour: 1000, DiskCentsHourPerGB: 50, RAMCentsHourPerGB: 150}
	engine := pricing.New(rates, 18, oracle.NewStatic(200000000000, 8))

	mkt := marketplace.New(reg, matcher.New(), engine, storage.NewSessionStore(db), "torpedo-marketplace")

	srv := New(mkt)
	srv.SetReady(true)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, account string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != "" {
		req.Header.Set("X-Account", account)
	}

	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func registerBody() map[string]any {
	return map[string]any{
		"cpus":               4,
		"gpus":               2,
		"disk_gb":            20,
		"ram_gb":             12,
		"available_until":    time.Now().Add(8 * time.Hour).Format(time.RFC3339),
		"max_duration_hours": 100,
		"gpu_type":           int(models.GPUTypeConsumer),
		"service_type":       int(models.ServiceTypeCompute),
	}
}

func sessionBody(payment string) map[string]any {
	return map[string]any{
		"request": map[string]any{
			"cpus":           2,
			"gpus":           1,
			"duration_hours": 2,
			"gpu_type":       int(models.GPUTypeConsumer),
			"service_type":   int(models.ServiceTypeCompute),
			"disk_gb":        10,
			"ram_gb":         2,
		},
		"payment": payment,
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	srv.SetReady(false)
	w = doRequest(t, srv, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterProvider(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, float64(0), resp["index"])
	assert.Equal(t, "provider-1", resp["owner"])

	// Second registration gets the next index
	w = doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-2", registerBody())
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["index"])
}

func TestRegisterProvider_MissingAccount(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/providers", "", registerBody())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterProvider_Validation(t *testing.T) {
	srv := newTestServer(t)

	body := registerBody()
	body["cpus"] = 0
	w := doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cpus")
}

func TestRegisterProvider_LeadTime(t *testing.T) {
	srv := newTestServer(t)

	body := registerBody()
	body["available_until"] = time.Now().Add(time.Hour).Format(time.RFC3339)
	w := doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProvider(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	w := doRequest(t, srv, http.MethodGet, "/api/v1/providers/0", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "provider-1", decode(t, w)["owner"])

	w = doRequest(t, srv, http.MethodGet, "/api/v1/providers/42", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/providers/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPoolTotals(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-2", registerBody())

	w := doRequest(t, srv, http.MethodGet, "/api/v1/pool", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode(t, w)
	assert.Equal(t, float64(8), resp["cpus"])
	assert.Equal(t, float64(4), resp["gpus"])
	assert.Equal(t, float64(40), resp["disk_gb"])
	assert.Equal(t, float64(24), resp["ram_gb"])
}

func TestQuote(t *testing.T) {
	srv := newTestServer(t)

	// 3 cpus, 1 gpu, 10 disk, 2 ram for 2h
	body := map[string]any{
		"cpus":           3,
		"gpus":           1,
		"duration_hours": 2,
		"gpu_type":       int(models.GPUTypeConsumer),
		"service_type":   int(models.ServiceTypeCompute),
		"disk_gb":        10,
		"ram_gb":         2,
	}
	w := doRequest(t, srv, http.MethodPost, "/api/v1/quotes", "", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, float64(4200), resp["usd_cents"])
	// $42 at $2000/unit with 18 settlement decimals
	assert.Equal(t, "21000000000000000", resp["required_settlement"])
}

func TestQuote_InvalidRequest(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/quotes", "", map[string]any{
		"cpus":           1,
		"duration_hours": 0,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSession(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode(t, w)
	assert.Equal(t, "client-1", resp["client_addr"])
	assert.Equal(t, "provider-1", resp["provider_addr"])
	assert.Equal(t, string(models.StateCreated), resp["state"])
	assert.NotEmpty(t, resp["id"])
	// Connection details are never serialized
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestCreateSession_InsufficientPayment(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("1"))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	resp := decode(t, w)
	assert.Equal(t, "insufficient_payment", resp["error_type"])
	assert.NotEmpty(t, resp["required"])
}

func TestCreateSession_BadPayment(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	for _, payment := range []string{"abc", "-5", "1.5"} {
		w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody(payment))
		assert.Equal(t, http.StatusBadRequest, w.Code, "payment %q", payment)
	}
}

func TestCreateSession_NoEligibleProvider(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestProviderStatus(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	w := doRequest(t, srv, http.MethodGet, "/api/v1/providers/status", "provider-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["engaged"])

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	require.Equal(t, http.StatusCreated, created.Code)
	sessionID := decode(t, created)["id"].(string)

	w = doRequest(t, srv, http.MethodGet, "/api/v1/providers/status", "provider-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, true, resp["engaged"])
	assert.Equal(t, sessionID, resp["session_id"])
}

func TestProviderStatus_NoRecord(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/providers/status", "nobody", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionHandoff(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	require.Equal(t, http.StatusCreated, created.Code)
	sessionID := decode(t, created)["id"].(string)

	// Client cannot start before the provider initialises
	w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/start", "client-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Only the bound provider can initialise
	init := map[string]any{"url": "https://example/node-1/", "secret": "secret1"}
	w = doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/initialise", "mallory", init)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/initialise", "provider-1", init)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Only the bound client can start
	w = doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/start", "provider-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/start", "client-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "https://example/node-1/", resp["url"])
	assert.Equal(t, "secret1", resp["secret"])
}

func TestCompleteSession(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	sessionID := decode(t, created)["id"].(string)

	init := map[string]any{"url": "https://example/node-1/", "secret": "secret1"}
	doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/initialise", "provider-1", init)
	doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/start", "client-1", nil)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", "client-1", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Provider is released
	w = doRequest(t, srv, http.MethodGet, "/api/v1/providers/status", "provider-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["engaged"])
}

func TestGetSessionRequest_Unrestricted(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	sessionID := decode(t, created)["id"].(string)

	// No X-Account needed
	w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions/"+sessionID+"/request", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["cpus"])
}

func TestGetSessionParties_FactoryOnly(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	sessionID := decode(t, created)["id"].(string)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions/"+sessionID+"/parties", "torpedo-marketplace", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "client-1", resp["client"])
	assert.Equal(t, "provider-1", resp["provider"])

	w = doRequest(t, srv, http.MethodGet, "/api/v1/sessions/"+sessionID+"/parties", "client-1", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetSession_Authorization(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	sessionID := decode(t, created)["id"].(string)

	for _, account := range []string{"client-1", "provider-1", "torpedo-marketplace"} {
		w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions/"+sessionID, account, nil)
		assert.Equal(t, http.StatusOK, w.Code, "account %s", account)
	}

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions/"+sessionID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListSessions(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPost, "/api/v1/providers", "provider-1", registerBody())

	created := doRequest(t, srv, http.MethodPost, "/api/v1/sessions", "client-1", sessionBody("2000000000000000000"))
	require.Equal(t, http.StatusCreated, created.Code)

	// The client sees its own session
	w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions", "client-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	// The provider sees it in the provider role
	w = doRequest(t, srv, http.MethodGet, "/api/v1/sessions?role=provider", "provider-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["count"])

	// A stranger sees an empty list, not an error
	w = doRequest(t, srv, http.MethodGet, "/api/v1/sessions", "mallory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["count"])
}

func TestUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/sessions/ghost", "client-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
