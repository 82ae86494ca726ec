package mcdropd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/materials-commons/mcdrop/pkg/xfer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	db := mcdb.MustOpenTestDB(t)
	stors := stor.NewGormStors(db)

	root, err := sandbox.New(t.TempDir())
	require.NoError(t, err)

	settings := config.DefaultSettings()
	settings.TempRoot = root.Dir()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	hub := notify.NewHub()

	svc, err := xfer.NewService(xfer.Deps{Stors: stors, Root: root, Settings: settings, Metrics: m, Notifier: hub})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	_, err = stors.UserStor.CreateUser(&mcmodel.User{Name: "alice", Email: "alice@example.com", ApiToken: "alice-key"})
	require.NoError(t, err)
	_, err = stors.UserStor.CreateUser(&mcmodel.User{Name: "admin", Email: "admin@example.com", ApiToken: "admin-key", IsAdmin: true})
	require.NoError(t, err)

	return NewServer(ServerDeps{Service: svc, Stors: stors, Hub: hub, Settings: settings, Metrics: m, Gatherer: reg})
}

func serve(s *Server, method, target, apikey, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apikey != "" {
		req.Header.Set("X-API-Key", apikey)
	}

	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)
	return rec
}

func TestUnauthenticatedRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	serve(s, http.MethodPost, "/api/v1/sessions", "alice-key", `{"file_name":"a.txt","file_size":10}`)

	rec = serve(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mcdrop_sessions_created_total 1")
	require.Contains(t, rec.Body.String(), `mcdrop_api_requests_total{endpoint="/api/v1/sessions",method="POST",status="201"} 1`)
}

func TestAPIRequiresKey(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodGet, "/api/v1/history", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(s, http.MethodGet, "/api/v1/history", "alice-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `"total":0`))
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, http.MethodPost, "/api/v1/admin/log-level", "alice-key", `{"log_level":"debug"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(s, http.MethodPost, "/api/v1/admin/log-level", "admin-key", `{"log_level":"warn","context":"session:123456"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(s, http.MethodPost, "/api/v1/admin/log-level", "admin-key", `{"log_level":"loud"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, http.MethodGet, "/api/v1/admin/logging", "admin-key", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "current_log_level")
}

func TestAddress(t *testing.T) {
	require.Equal(t, ":1360", Address(1360))
}
