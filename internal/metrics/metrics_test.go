package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/admin/accounts/{accountID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin/accounts/"+id, nil))
	}

	count := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(http.MethodGet, "/admin/accounts/{accountID}", "404"))
	assert.Equal(t, float64(3), count)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.httpInFlight))
}

func TestAuthCounters(t *testing.T) {
	m := New()
	m.ObserveLogin("password", "ok")
	m.ObserveLogin("password", "invalid_credentials")
	m.ObserveLogin("password", "invalid_credentials")
	m.ObserveResolve("expired_token")
	m.ObserveCompletion("duplicate_profile")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.logins.WithLabelValues("password", "invalid_credentials")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.resolutions.WithLabelValues("expired_token")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.completions.WithLabelValues("duplicate_profile")))
}

func TestPermissionsVersionKeepsSingleSeries(t *testing.T) {
	m := New()
	m.SetPermissionsVersion("v1")
	m.SetPermissionsVersion("v2")
	assert.Equal(t, 1, testutil.CollectAndCount(m.permissionsVersion))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.permissionsVersion.WithLabelValues("v2")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveLogin("federated", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `osda_auth_logins_total{method="federated",outcome="ok"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLogin("password", "ok")
	m.ObserveResolve("ok")
	m.SetPermissionsVersion("v1")

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, m.Instrument(next))
}
