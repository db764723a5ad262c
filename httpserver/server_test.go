package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/secure-element-agent/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler *Handler, admin *AdminHandler) *Server {
	t.Helper()
	srv, err := New(&config.HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      discardLogger(),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, handler, admin)
	require.NoError(t, err)
	return srv
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestServer_Probes(t *testing.T) {
	handler := NewHandler(nil, discardLogger())
	srv := newTestServer(t, handler, nil)
	router := srv.getRouter()

	assert.Equal(t, http.StatusOK, get(router, "/livez").Code)

	rr := get(router, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "locked")

	handler.SetAgent(newTestAgent(t))
	assert.Equal(t, http.StatusOK, get(router, "/readyz").Code)

	rr = get(router, "/drain")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "draining")
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/readyz").Code)
	assert.Contains(t, get(router, "/drain").Body.String(), "already draining")

	rr = get(router, "/undrain")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusOK, get(router, "/readyz").Code)
}

func TestServer_Routes(t *testing.T) {
	_, pubKeys := newTestAdmins(t, 2)
	admin, err := NewAdminHandler(discardLogger(), pubKeys, 2)
	require.NoError(t, err)

	router := newTestServer(t, NewHandler(newTestAgent(t), discardLogger()), admin).getRouter()
	assert.Equal(t, http.StatusOK, get(router, "/api/v1/random/16").Code)
	assert.Equal(t, http.StatusOK, get(router, "/admin/status").Code)

	router = newTestServer(t, NewHandler(newTestAgent(t), discardLogger()), nil).getRouter()
	assert.Equal(t, http.StatusNotFound, get(router, "/admin/status").Code)
}
