package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"fleet-sync/internal/cache"
	"fleet-sync/internal/fleet"
	"fleet-sync/internal/hostenv"
	"fleet-sync/internal/model"
)

type testProbe struct {
	online atomic.Bool
}

func (p *testProbe) Online() bool                 { return p.online.Load() }
func (p *testProbe) Visible() bool                { return true }
func (p *testProbe) Events() <-chan hostenv.Event { return nil }

type testRoster struct {
	devices []fleet.RosterDevice
}

func (r *testRoster) Fetch(context.Context, string) ([]fleet.RosterDevice, error) {
	return r.devices, nil
}

type fixture struct {
	db     *gorm.DB
	coord  *fleet.Coordinator
	probe  *testProbe
	router *gin.Engine
}

func newFixture(t *testing.T, devices ...fleet.RosterDevice) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.CacheEntry{}, &model.PushSubscription{}))

	probe := &testProbe{}
	probe.online.Store(true)
	coord := fleet.NewCoordinator(cache.New(db, "test", zerolog.Nop()), &testRoster{devices: devices}, probe, zerolog.Nop())
	t.Cleanup(coord.Close)
	require.NoError(t, coord.Initialize(context.Background(), "tok"))
	if len(devices) > 0 {
		require.Len(t, coord.Devices(), len(devices), "fixture roster must be loaded")
	}

	handler := NewHandler(coord, db, "tok", "vapid-pub")

	router := gin.New()
	api := router.Group("/api")
	api.GET("/devices", handler.GetDevices)
	api.GET("/devices/:device_id/telemetry", handler.GetDeviceTelemetry)
	api.GET("/alerts", handler.GetAlerts)
	api.POST("/alerts/:alert_id/ack", handler.AcknowledgeAlert)
	api.GET("/status", handler.GetStatus)
	api.POST("/sync", handler.PostSync)
	api.POST("/logout", handler.PostLogout)
	api.GET("/subscriptions", handler.GetSubscription)
	api.PUT("/subscriptions", handler.PutSubscription)
	api.DELETE("/subscriptions", handler.DeleteSubscription)
	api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

	return &fixture{db: db, coord: coord, probe: probe, router: router}
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestGetDevices_RoleProjection(t *testing.T) {
	f := newFixture(t, fleet.RosterDevice{ID: "1", ExternalID: "FLT-0042", MaskedID: "FL****42"})

	w := f.do(t, http.MethodGet, "/api/devices", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var unprivileged []deviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &unprivileged))
	require.Len(t, unprivileged, 1)
	assert.Equal(t, "FL****42", unprivileged[0].DisplayID)
	assert.NotContains(t, w.Body.String(), "FLT-0042")

	w = f.do(t, http.MethodGet, "/api/devices", nil, map[string]string{"X-Role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	var privileged []deviceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &privileged))
	assert.Equal(t, "FLT-0042", privileged[0].DisplayID)
}

func TestGetDeviceTelemetry(t *testing.T) {
	f := newFixture(t, fleet.RosterDevice{ID: "1"})
	f.coord.IngestTelemetry(fleet.TelemetryPoint{DeviceID: "1", Speed: 12})

	w := f.do(t, http.MethodGet, "/api/devices/1/telemetry", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var points []fleet.TelemetryPoint
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &points))
	require.Len(t, points, 1)
	assert.Equal(t, 12.0, points[0].Speed)

	// unknown devices read as an empty history, not an error
	w = f.do(t, http.MethodGet, "/api/devices/ghost/telemetry", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAcknowledgeAlert(t *testing.T) {
	f := newFixture(t)
	f.coord.IngestAlert(fleet.Alert{ID: "a1", Message: "fuel low"})

	w := f.do(t, http.MethodPost, "/api/alerts/a1/ack", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.coord.Alerts()[0].Acknowledged)

	w = f.do(t, http.MethodPost, "/api/alerts/nope/ack", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStatus(t *testing.T) {
	f := newFixture(t, fleet.RosterDevice{ID: "1"}, fleet.RosterDevice{ID: "2"})
	f.coord.IngestAlert(fleet.Alert{ID: "a1"})

	w := f.do(t, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status statusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Online)
	assert.NotNil(t, status.LastSync)
	assert.Equal(t, 2, status.Devices)
	assert.Equal(t, 1, status.Alerts)
}

func TestPostSync_OfflineRejected(t *testing.T) {
	f := newFixture(t, fleet.RosterDevice{ID: "1"})
	f.coord.SetOnline(false)

	w := f.do(t, http.MethodPost, "/api/sync", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	f.coord.SetOnline(true)
	w = f.do(t, http.MethodPost, "/api/sync", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPostLogout_WipesState(t *testing.T) {
	f := newFixture(t, fleet.RosterDevice{ID: "1"})
	f.coord.IngestAlert(fleet.Alert{ID: "a1"})

	w := f.do(t, http.MethodPost, "/api/logout", nil, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.coord.Devices())
	assert.Empty(t, f.coord.Alerts())
	assert.Nil(t, f.coord.LastSync())
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)

	put := map[string]any{
		"endpoint":           "https://push/a",
		"p256dh":             "key",
		"auth":               "auth",
		"subscribed_devices": []string{"1", "2"},
	}
	w := f.do(t, http.MethodPut, "/api/subscriptions", put, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	// replacing the same endpoint narrows the device list
	put["subscribed_devices"] = []string{"2"}
	w = f.do(t, http.MethodPut, "/api/subscriptions", put, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush%2Fa", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscribed_devices":["2"]}`, w.Body.String())

	w = f.do(t, http.MethodDelete, "/api/subscriptions", map[string]string{"endpoint": "https://push/a"}, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/subscriptions?endpoint=https%3A%2F%2Fpush%2Fa", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPutSubscription_Validation(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPut, "/api/subscriptions", map[string]string{"endpoint": "https://push/a"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/vapid_public_key", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"public_key":"vapid-pub"}`, w.Body.String())
}
