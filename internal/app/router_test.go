package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/shared"
	_ "github.com/campusledger/campusledger/internal/testing/guard"
	"github.com/campusledger/campusledger/jobs"
)

func TestRouterServesHealthAndMetrics(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	handler := NewRouter(RouterParams{
		Logger:     logger,
		Config:     &Config{AppEnv: "production", RateLimit: 100},
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    metrics,
	})

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://campus.test/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://campus.test/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://campus.test/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `campus_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestActorMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(ActorMiddleware)
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		id, ok := shared.ActorFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = io.WriteString(w, "actor")
		require.Equal(t, int64(17), id)
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "17")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, "actor", rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "-3")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "staging", cfg.AppEnv)
	require.False(t, cfg.IsProduction())
	require.Equal(t, "2h0m0s", cfg.PromotionSessionTTL.String())
	require.Equal(t, "10m0s", cfg.PromotionLockTTL.String())
}

func TestGuardEnablesTestMode(t *testing.T) {
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv("CAMPUS_TEST_MODE", "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv("CAMPUS_TEST_MODE", "1")
	RefreshTestMode()
}
