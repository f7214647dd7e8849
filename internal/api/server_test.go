package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homie-core/internal/auth"
	"github.com/nerrad567/homie-core/internal/homie"
	"github.com/nerrad567/homie-core/internal/infrastructure/config"
	"github.com/nerrad567/homie-core/internal/infrastructure/logging"
	"github.com/nerrad567/homie-core/internal/infrastructure/metrics"
	"github.com/nerrad567/homie-core/internal/journal"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// fakeJournal is an in-memory journal.Repository.
type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	filters []journal.Filter
	err     error
}

func (f *fakeJournal) Create(_ context.Context, entry *journal.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeJournal) List(_ context.Context, filter journal.Filter) (*journal.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	return &journal.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit, Offset: filter.Offset}, nil
}

// checkFunc adapts a function to HealthChecker.
type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type feedList []string

func (f feedList) Subscriptions() []string { return f }

type testOptions struct {
	secret  string
	journal journal.Repository
	checks  map[string]HealthChecker
	feeds   FeedLister
}

// testServer creates a Server over a fresh registry and metrics registry.
func testServer(t *testing.T, opts testOptions) (*Server, *homie.Registry, *metrics.Registry) {
	t.Helper()

	registry := homie.NewRegistry()
	m := metrics.NewRegistry()
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: opts.secret, AccessTokenTTL: 15},
		},
		Logger:   log,
		Registry: registry,
		Journal:  opts.journal,
		Metrics:  m,
		Checks:   opts.checks,
		Feeds:    opts.feeds,
		Version:  "test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	t.Cleanup(cancel)

	return srv, registry, m
}

// ingestSensor feeds a complete one-node device into the registry. The
// mandatory attributes arrive last, so promotion replays every fragment and
// only discovery events are emitted.
func ingestSensor(t *testing.T, registry *homie.Registry) {
	t.Helper()
	msgs := [][2]string{
		{"homie/sensor1/dht/$name", "DHT22"},
		{"homie/sensor1/dht/$properties", "temperature"},
		{"homie/sensor1/dht/temperature/$datatype", "float"},
		{"homie/sensor1/dht/temperature/$unit", "°C"},
		{"homie/sensor1/dht/temperature", "19.5"},
		{"homie/sensor1/$homie", "4.0.0"},
		{"homie/sensor1/$name", "Sensor"},
		{"homie/sensor1/$state", "ready"},
		{"homie/sensor1/$nodes", "dht"},
	}
	for _, m := range msgs {
		require.NoError(t, registry.HandleMessage(m[0], []byte(m[1])))
	}
}

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken("tester", role, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func do(t *testing.T, h http.Handler, method, target, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Deps{Registry: homie.NewRegistry()})
	assert.Error(t, err)

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	_, err = New(Deps{Logger: log})
	assert.Error(t, err)
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{
		checks: map[string]HealthChecker{
			"mqtt": checkFunc(func(context.Context) error { return nil }),
		},
	})
	require.NoError(t, registry.HandleMessage("homie/pending1/$name", []byte("Half")))
	ingestSensor(t, registry)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 1, body["devices"])
	assert.EqualValues(t, 1, body["pending_devices"])
	assert.Equal(t, map[string]any{"mqtt": "ok"}, body["checks"])
	assert.NotContains(t, body, "subscriptions")
}

func TestHealth_ReportsSubscriptions(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{feeds: feedList{"homie/#"}})

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"homie/#"}, decode(t, w)["subscriptions"])
}

func TestHealth_Degraded(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{
		checks: map[string]HealthChecker{
			"mqtt":     checkFunc(func(context.Context) error { return errors.New("not connected") }),
			"database": checkFunc(func(context.Context) error { return nil }),
		},
	})

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "not connected", checks["mqtt"])
	assert.Equal(t, "ok", checks["database"])
}

func TestHealth_NoAuthRequired(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{secret: testSecret})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/health", "")
	assert.Len(t, w.Header().Get("X-Request-ID"), requestIDBytes*2)
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	assert.Equal(t, "client-id-1", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://dashboard.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	srv.cfg.CORS.AllowedOrigins = []string{"http://allowed.local"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.local")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, decode(t, w)["code"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/devices", "")
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, ErrCodeMethodNotAllow, decode(t, w)["code"])
}

func TestRecovery(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	h := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	srv, registry, m := testServer(t, testOptions{})
	ingestSensor(t, registry)
	router := srv.buildRouter()

	do(t, router, http.MethodGet, "/api/v1/devices/sensor1", "")
	do(t, router, http.MethodGet, "/api/v1/devices/unknown", "")

	routes := requestRoutes(t, m)
	assert.Equal(t, 1.0, routes["200"])
	assert.Equal(t, 1.0, routes["404"])
	assert.Equal(t, 2, testutil.CollectAndCount(m.HTTPRequestsTotal))

	w := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "homiecore_http_requests_total")
}

// requestRoutes sums request counts under the device route pattern by status.
func requestRoutes(t *testing.T, m *metrics.Registry) map[string]float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)

	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "homiecore_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if strings.HasPrefix(labels["route"], "/api/v1/devices/{id}") {
				out[labels["status"]] += metric.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestJoinOrDefault(t *testing.T) {
	assert.Equal(t, "x", joinOrDefault(nil, "x"))
	assert.Equal(t, "a, b", joinOrDefault([]string{"a", "b"}, "x"))
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.EqualValues(t, 0, body["count"])
	assert.Empty(t, body["devices"])
}

func TestListDevices_OnlyComplete(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	require.NoError(t, registry.HandleMessage("homie/pending1/$homie", []byte("4.0.0")))
	ingestSensor(t, registry)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	require.EqualValues(t, 1, body["count"])
	devices := body["devices"].([]any)
	assert.Equal(t, "sensor1", devices[0].(map[string]any)["id"])
}

func TestListDevices_FilterByState(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	ingestSensor(t, registry)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/devices?state=ready", "")
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = do(t, router, http.MethodGet, "/api/v1/devices?state=lost", "")
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func TestGetDevice(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	ingestSensor(t, registry)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices/sensor1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var d homie.Device
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "sensor1", d.ID)
	assert.Equal(t, "Sensor", d.Name)
	assert.Equal(t, "4.0.0", d.HomieVersion)
	assert.Equal(t, homie.State("ready"), d.State)
	assert.Equal(t, []string{"dht"}, d.NodeIDs)
	require.Contains(t, d.Nodes, "dht")
	assert.Equal(t, "DHT22", d.Nodes["dht"].Name)
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	require.NoError(t, registry.HandleMessage("homie/pending1/$name", []byte("Half")))
	router := srv.buildRouter()

	for _, id := range []string{"unknown", "pending1"} {
		w := do(t, router, http.MethodGet, "/api/v1/devices/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code, id)
		assert.Equal(t, "device not found", decode(t, w)["message"], id)
	}
}

func TestGetNode(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	ingestSensor(t, registry)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/devices/sensor1/nodes/dht", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "dht", body["id"])
	assert.Equal(t, "sensor1", body["device_id"])
	assert.Equal(t, []any{"temperature"}, body["property_ids"])

	w = do(t, router, http.MethodGet, "/api/v1/devices/sensor1/nodes/bmp", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "node not found", decode(t, w)["message"])
}

func TestGetProperty(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	ingestSensor(t, registry)
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/devices/sensor1/nodes/dht/properties/temperature", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "temperature", body["id"])
	assert.Equal(t, "°C", body["unit"])
	assert.Equal(t, "float", body["datatype"])
	assert.InDelta(t, 19.5, body["value"], 0.001)
	assert.Equal(t, "19.5", body["raw_value"])

	w = do(t, router, http.MethodGet, "/api/v1/devices/sensor1/nodes/dht/properties/humidity", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "property not found", decode(t, w)["message"])
}

func TestNonFiniteValueKeepsResponsesEncodable(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	ingestSensor(t, registry)
	require.NoError(t, registry.HandleMessage("homie/sensor1/dht/temperature", []byte("nan")))
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = do(t, router, http.MethodGet, "/api/v1/devices/sensor1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sensor1", decode(t, w)["id"])

	w = do(t, router, http.MethodGet, "/api/v1/devices/sensor1/nodes/dht/properties/temperature", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "nan", body["value"])
	assert.Equal(t, "nan", body["raw_value"])
}

func TestWriteJSON_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]float64{"value": math.Inf(1)})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, ErrCodeInternal, body["code"])
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth_Disabled(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{journal: &fakeJournal{}})
	router := srv.buildRouter()

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/devices", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/v1/discoveries", "").Code)
}

func TestAuth_Required(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{secret: testSecret})
	router := srv.buildRouter()

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid viewer", "Bearer " + token(t, auth.RoleViewer), http.StatusOK},
		{"lowercase scheme", "bearer " + token(t, auth.RoleViewer), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuth_WrongSecret(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{secret: testSecret})
	tok, err := auth.GenerateAccessToken("tester", auth.RoleAdmin, strings.Repeat("x", 40), time.Hour)
	require.NoError(t, err)

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices", tok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_QueryTokenOnlyForWebSocket(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{secret: testSecret})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/devices?token="+token(t, auth.RoleAdmin), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_DiscoveriesRequireAdmin(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{secret: testSecret, journal: &fakeJournal{}})
	router := srv.buildRouter()

	w := do(t, router, http.MethodGet, "/api/v1/discoveries", token(t, auth.RoleViewer))
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, ErrCodeForbidden, decode(t, w)["code"])

	w = do(t, router, http.MethodGet, "/api/v1/discoveries", token(t, auth.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)
}

// ─── Discovery Journal Tests ───────────────────────────────────────

func TestListDiscoveries(t *testing.T) {
	repo := &fakeJournal{}
	srv, _, _ := testServer(t, testOptions{journal: repo})
	require.NoError(t, repo.Create(context.Background(), &journal.Entry{
		ID:        "disc-1",
		EventType: homie.DeviceDiscovered,
		DeviceID:  "sensor1",
		Name:      "Sensor",
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}))

	w := do(t, srv.buildRouter(), http.MethodGet,
		"/api/v1/discoveries?type=device_discovered&device_id=sensor1&node_id=dht&since=2026-03-01T00:00:00Z&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, w.Code)

	var result journal.ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Entries, 1)
	assert.Equal(t, "disc-1", result.Entries[0].ID)

	require.Len(t, repo.filters, 1)
	f := repo.filters[0]
	assert.Equal(t, homie.DeviceDiscovered, f.EventType)
	assert.Equal(t, "sensor1", f.DeviceID)
	assert.Equal(t, "dht", f.NodeID)
	assert.True(t, f.Since.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 10, f.Limit)
	assert.Equal(t, 5, f.Offset)
}

func TestListDiscoveries_BadParams(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{journal: &fakeJournal{}})
	router := srv.buildRouter()

	for _, q := range []string{"since=yesterday", "limit=-1", "limit=abc", "offset=x"} {
		w := do(t, router, http.MethodGet, "/api/v1/discoveries?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListDiscoveries_InvalidType(t *testing.T) {
	repo := &fakeJournal{err: journal.ErrInvalidFilter}
	srv, _, _ := testServer(t, testOptions{journal: repo})

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/discoveries?type=property_updated", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListDiscoveries_RepositoryError(t *testing.T) {
	repo := &fakeJournal{err: errors.New("disk full")}
	srv, _, _ := testServer(t, testOptions{journal: repo})

	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/discoveries", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListDiscoveries_NotConfigured(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	w := do(t, srv.buildRouter(), http.MethodGet, "/api/v1/discoveries", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, ErrCodeUnavailable, decode(t, w)["code"])
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	srv, _, _ := testServer(t, testOptions{})
	assert.Error(t, srv.HealthCheck(context.Background()))
}

func TestServer_CloseUnsubscribesHub(t *testing.T) {
	srv, registry, _ := testServer(t, testOptions{})
	require.NoError(t, srv.Close())
	assert.False(t, registry.Unsubscribe(srv.Hub()), "hub should already be unsubscribed")
}
