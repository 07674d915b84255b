package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/KudcraftsHQ/label-printer-server/internal/api/handlers"
	"github.com/KudcraftsHQ/label-printer-server/internal/api/middleware"
	"github.com/KudcraftsHQ/label-printer-server/internal/config"
	"github.com/KudcraftsHQ/label-printer-server/internal/core"
	"github.com/KudcraftsHQ/label-printer-server/internal/metrics"
	"github.com/KudcraftsHQ/label-printer-server/internal/version"
)

type noopTransport struct{}

func (noopTransport) Discover() ([]core.DeviceInfo, error) { return nil, nil }
func (noopTransport) Open(identity core.PrinterIdentity) (core.DeviceLink, error) {
	return nil, core.ErrPrinterNotFound
}

func newTestRouter(t *testing.T, cfg RouterConfig) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := core.NewRegistry(noopTransport{}, 0, nil, nil)
	queue := core.NewJobQueue(nil)
	return NewRouter(handlers.NewPrinterHandler(registry), handlers.NewJobHandler(queue, nil, 0), cfg)
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter_Health(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, RouterConfig{})

	w := get(router, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, version.Version, resp.Version)
}

func TestRouter_RequestIDOnEveryResponse(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, RouterConfig{})

	w := get(router, "/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, RouterConfig{Collector: metrics.NewCollector()})

	w := get(router, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "print_jobs_enqueued_total")
	assert.Contains(t, w.Body.String(), "print_queue_jobs_queued")
}

func TestRouter_MetricsAbsentWithoutCollector(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, RouterConfig{})

	w := get(router, "/metrics")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_LoginRouteOnlyWhenAuthEnabled(t *testing.T) {
	t.Parallel()

	disabled, err := middleware.NewAuthMiddleware(config.AuthConfig{})
	require.NoError(t, err)
	router := newTestRouter(t, RouterConfig{Auth: disabled})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AuthGuardsMutatingRoutes(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := middleware.NewAuthMiddleware(config.AuthConfig{
		Enabled:      true,
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
		TokenTTL:     time.Hour,
	})
	require.NoError(t, err)
	router := newTestRouter(t, RouterConfig{Auth: auth})

	w := get(router, "/jobs")
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/queue/clear", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"password":"letmein"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/queue/clear", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_StartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := NewServer(gin.New(), config.ServerConfig{Port: 0}, nil)
	errCh := srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err, ok := <-errCh:
		if ok {
			require.NoError(t, err)
		}
	case <-time.After(time.Second):
		t.Fatal("server did not stop")
	}
}
