package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	rec := New(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(rec.Middleware)
	router.HandleFunc("/api/stock-alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/stock-alerts/"+id, nil))
	}

	got := testutil.ToFloat64(rec.requests.WithLabelValues(http.MethodGet, "/api/stock-alerts/{id}", "404"))
	assert.Equal(t, 3.0, got)
}

func TestCountersAndHandler(t *testing.T) {
	rec := New(prometheus.NewRegistry())
	rec.RecordTrigger("TARGET_1", "emitted")
	rec.RecordTrigger("TARGET_1", "suppressed")
	rec.RecordDelivery("email", "failed")
	rec.RecordWebhook("invoice.payment_failed", "processed")

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.triggers.WithLabelValues("TARGET_1", "emitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.deliveries.WithLabelValues("email", "failed")))

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "stockalerts_stripe_webhooks_total"))
}

func TestRecordersDoNotCollideAcrossRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
