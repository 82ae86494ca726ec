package apimiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/materials-commons/mcdrop/pkg/mcdb/mcmodel"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*echo.Echo, *stor.InMemoryUserStor, *metrics.Metrics) {
	users := stor.NewInMemoryUserStor([]mcmodel.User{
		{ID: 1, Name: "alice", Email: "alice@example.com", ApiToken: "alice-key"},
		{ID: 2, Name: "root", Email: "root@example.com", ApiToken: "root-key", IsAdmin: true},
	})

	m := metrics.NewUnregistered()
	cache := NewAPIKeyCache(users)

	e := echo.New()
	e.Use(RequestMetrics(m))
	g := e.Group("/api", APIKeyAuth(APIKeyConfig{
		Keyname:         "X-API-Key",
		GetUserByAPIKey: cache.GetUserByAPIKey,
	}))

	g.GET("/whoami", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(UserKey).(*mcmodel.User).Name)
	})
	g.GET("/admin", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, AdminOnly())

	return e, users, m
}

func doRequest(e *echo.Echo, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuth(t *testing.T) {
	e, _, m := newTestServer(t)

	rec := doRequest(e, "/api/whoami", map[string]string{"X-API-Key": "alice-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Body.String())

	rec = doRequest(e, "/api/whoami?apikey=alice-key", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, "/api/whoami", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(e, "/api/whoami", map[string]string{"X-API-Key": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	require.Equal(t, 2.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/whoami", "200")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues(http.MethodGet, "/api/whoami", "401")))
}

func TestAdminOnly(t *testing.T) {
	e, _, _ := newTestServer(t)

	rec := doRequest(e, "/api/admin", map[string]string{"X-API-Key": "alice-key"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(e, "/api/admin", map[string]string{"X-API-Key": "root-key"})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyCache(t *testing.T) {
	users := stor.NewInMemoryUserStor([]mcmodel.User{{ID: 1, Name: "alice", ApiToken: "alice-key"}})
	cache := NewAPIKeyCache(users)

	user, err := cache.GetUserByAPIKey("alice-key")
	require.NoError(t, err)
	require.Equal(t, 1, user.ID)

	again, err := cache.GetUserByAPIKey("alice-key")
	require.NoError(t, err)
	require.Same(t, user, again)

	cache.DeleteUserByAPIKey("alice-key")
	reloaded, err := cache.GetUserByAPIKey("alice-key")
	require.NoError(t, err)
	require.NotSame(t, user, reloaded)

	_, err = cache.GetUserByAPIKey("missing")
	require.True(t, stor.IsRecordNotFound(err))
}
