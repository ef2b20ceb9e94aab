package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/voicelink/internal/app"
	"github.com/dkeye/voicelink/internal/config"
	"github.com/dkeye/voicelink/internal/core"
	"github.com/dkeye/voicelink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func newRouter(t *testing.T) (*gin.Engine, *app.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{Mode: "test", Secret: "s", RoomCapacity: 2, PingPeriod: time.Minute}
	orch := app.NewOrchestrator(cfg.RoomCapacity, app.SimplePolicy{})
	return SetupRouter(context.Background(), cfg, orch), orch
}

func TestHealthzAndClientToken(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, w.Body.String())

	var token string
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			token = c.Value
		}
	}
	assert.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.AddCookie(&http.Cookie{Name: "ct", Value: token})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, "ct", c.Name, "existing token must be kept")
	}
}

func TestRoomEndpoints(t *testing.T) {
	r, orch := newRouter(t)
	orch.Connect("s1", domain.NewMember("s1", "tok"), nopConn{}, func() {})
	require.NoError(t, orch.Join("s1", "lobby"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []app.RoomInfo `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, []app.RoomInfo{{ID: "lobby", MemberCount: 1}}, list.Rooms)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/lobby", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"lobby"`)
	assert.NotContains(t, w.Body.String(), "tok")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/rooms/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
