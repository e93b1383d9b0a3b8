package routes

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tilsynsapp/internal/app"
	"tilsynsapp/internal/auth"
	"tilsynsapp/internal/config"
	"tilsynsapp/internal/logger"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

// fakeBackend mimics the Vejmankassen API.
type fakeBackend struct {
	mu       sync.Mutex
	approved bool
	rows     map[string][]map[string]any
	updates  []map[string]any
	queued   []map[string]any
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: map[string][]map[string]any{
		"Ny": {
			{"id": "1", "Adresse": "Åboulevarden 1", "Kvadratmeter": 10, "Slutdato": "2025-06-30", "FakturaStatus": "Ny", "Latitude": 56.157, "Longitude": 10.21},
			{"id": "2", "Adresse": "Vestergade 2", "FirmaNavn": "Kran ApS", "FakturaStatus": "Ny"},
		},
		"Til fakturering": {{"id": "3", "Adresse": "Søndergade 3", "FakturaStatus": "Til fakturering"}},
	}}
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var body map[string]any
	if r.Body != nil {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
	}

	switch r.URL.Path {
	case "/auth/request-link":
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	case "/auth/check":
		if !b.approved {
			_, _ = w.Write([]byte(`{"authorized":false}`))
			return
		}
		_, _ = w.Write([]byte(`{"authorized":true,"api_key":"key","email":"kw@example.dk"}`))
	case "/tilsynapp/version":
		_, _ = w.Write([]byte(`{"min_version_code":1,"message":""}`))
	case "/tilsynapp":
		if r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		status, _ := body["status"].(string)
		rows := b.rows[status]
		if rows == nil {
			rows = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(rows)
	case "/tilsynapp/update":
		b.updates = append(b.updates, body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	case "/queue":
		b.queued = append(b.queued, body)
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	t       *testing.T
	server  *httptest.Server
	backend *fakeBackend
	token   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := newFakeBackend()
	api := httptest.NewServer(backend)
	t.Cleanup(api.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		APIURL:               api.URL,
		HTTPTimeout:          5 * time.Second,
		DataDir:              dir,
		DatabasePath:         filepath.Join(dir, "vejman.db"),
		PrefsPath:            filepath.Join(dir, "secure_prefs.json"),
		VersionCode:          1,
		RefreshInterval:      5 * time.Minute,
		LoginMaxAge:          time.Hour,
		PollInterval:         time.Millisecond,
		RegelRytterenLockout: time.Minute,
		SessionTTL:           time.Hour,
		AllowedOrigins:       []string{"http://localhost:5173"},
	}

	a, err := app.New(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	secret, err := a.Store.DeriveKey("session-jwt")
	require.NoError(t, err)
	mgr, err := auth.NewJWTManager(secret, "test", time.Hour)
	require.NoError(t, err)
	session, err := mgr.Issue("local")
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(a, mgr))
	t.Cleanup(srv.Close)

	return &testEnv{t: t, server: srv, backend: backend, token: session.Token}
}

func (e *testEnv) do(method, path string, body any) (int, map[string]any) {
	e.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, rd)
	require.NoError(e.t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(e.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func (e *testEnv) login() {
	e.t.Helper()
	code, _ := e.do(http.MethodPost, "/api/v1/auth/request-link", map[string]string{"email": "kw@example.dk"})
	require.Equal(e.t, http.StatusAccepted, code)

	e.backend.mu.Lock()
	e.backend.approved = true
	e.backend.mu.Unlock()

	code, body := e.do(http.MethodPost, "/api/v1/auth/poll", nil)
	require.Equal(e.t, http.StatusOK, code)
	require.Equal(e.t, "Godkendt! Logger ind...", body["message"])
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(env.server.URL + "/api/v1/rows/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRowsRequireLogin(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(http.MethodGet, "/api/v1/auth/state", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "input", body["data"].(map[string]any)["step"])

	code, _ = env.do(http.MethodGet, "/api/v1/rows/", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestLoginListAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.login()

	code, _ := env.do(http.MethodPost, "/api/v1/rows/refresh", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(http.MethodGet, "/api/v1/rows/?status=Ny&q=%C3%A5boulevarden&lat=56.157&lon=10.21", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["total"])
	first := body["data"].([]any)[0].(map[string]any)
	require.Equal(t, "1", first["id"])
	require.Contains(t, first, "DistanceFromCurrent")

	code, body = env.do(http.MethodGet, "/api/v1/rows/1", nil)
	require.Equal(t, http.StatusOK, code)
	detail := body["data"].(map[string]any)
	require.Equal(t, true, detail["editable"])
	require.Equal(t, "30-06-2025", detail["slutdato"])

	code, body = env.do(http.MethodPost, "/api/v1/rows/1", map[string]string{
		"kvadratmeter": "12,5",
		"new_status":   "Til fakturering",
	})
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, "Send til fakturering", body["action"])

	env.backend.mu.Lock()
	require.Len(t, env.backend.updates, 1)
	sent := env.backend.updates[0]
	env.backend.mu.Unlock()
	require.Equal(t, "1", sent["id"])
	require.Equal(t, "Ny", sent["oldStatus"])
	require.Equal(t, "Til fakturering", sent["fakturaStatus"])
	require.Equal(t, "kw@example.dk", sent["userEmail"])
	require.InDelta(t, 12.5, sent["kvadratmeter"], 0.001)

	code, body = env.do(http.MethodGet, "/api/v1/rows/?status=Til%20fakturering", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 2.0, body["total"])

	// without a status the Ny list comes back, not the last filter used
	code, body = env.do(http.MethodGet, "/api/v1/rows/", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 1.0, body["total"])
	require.Equal(t, "Ny", body["state"].(map[string]any)["active_filter"])

	// no longer editable once sent to billing
	code, _ = env.do(http.MethodPost, "/api/v1/rows/1", map[string]string{"kvadratmeter": "1"})
	require.Equal(t, http.StatusConflict, code)

	code, _ = env.do(http.MethodGet, "/api/v1/rows/404", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestUpdateRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	env.login()
	code, _ := env.do(http.MethodPost, "/api/v1/rows/refresh", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(http.MethodPost, "/api/v1/rows/2", map[string]string{"kvadratmeter": "abc"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Ugyldigt tal – kun decimaltal tilladt (brug . eller ,)", body["error"])

	code, _ = env.do(http.MethodPost, "/api/v1/rows/2", map[string]string{"slutdato": "2025-13-01"})
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(http.MethodPost, "/api/v1/rows/2", map[string]string{})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRegelRytteren(t *testing.T) {
	env := newTestEnv(t)
	env.login()

	code, body := env.do(http.MethodPost, "/api/v1/regelrytteren/", map[string]any{"bikes": 0, "cars": 0})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "Du skal vælge mindst én cykel eller bil", body["message"])

	code, body = env.do(http.MethodPost, "/api/v1/regelrytteren/", map[string]any{"bikes": 2, "cars": 1})
	require.Equal(t, http.StatusAccepted, code)
	require.Equal(t, "Ruteoptimering igangsat, du får en mail med den nye rute snarest", body["message"])

	code, body = env.do(http.MethodPost, "/api/v1/regelrytteren/", nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Contains(t, body["message"], "Du kan sende igen om")

	env.backend.mu.Lock()
	defer env.backend.mu.Unlock()
	require.Len(t, env.backend.queued, 1)
	require.Equal(t, "RegelRytteren", env.backend.queued[0]["queue_name"])
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(http.MethodGet, "/api/v1/version", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["data"].(map[string]any)["update_required"])
}
