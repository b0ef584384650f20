package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

func newMetricsRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/volunteers/:id", func(c *gin.Context) { c.Status(status) })
	return r
}

func hit(r *gin.Engine, path string) {
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
}

// histogramCount reads the sample count of one histogram series.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	var m dto.Metric
	if err := hv.WithLabelValues(labels...).(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/volunteers/:id", "200")
	before := testutil.ToFloat64(counter)

	hit(newMetricsRouter(http.StatusOK), "/api/v1/volunteers/42")
	hit(newMetricsRouter(http.StatusOK), "/api/v1/volunteers/43")

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("http_requests_total delta = %v, want 2", got)
	}
}

func TestMetricsMiddleware_RecordsDuration(t *testing.T) {
	before := histogramCount(t, telemetry.HTTPRequestDuration, "GET", "/api/v1/volunteers/:id")
	hit(newMetricsRouter(http.StatusOK), "/api/v1/volunteers/7")
	if after := histogramCount(t, telemetry.HTTPRequestDuration, "GET", "/api/v1/volunteers/:id"); after != before+1 {
		t.Errorf("sample count = %d, want %d", after, before+1)
	}
}

func TestMetricsMiddleware_ErrorStatus(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/volunteers/:id", "500")
	before := testutil.ToFloat64(counter)
	hit(newMetricsRouter(http.StatusInternalServerError), "/api/v1/volunteers/err")
	if testutil.ToFloat64(counter)-before != 1 {
		t.Error("status=500 series not incremented")
	}
}

func TestMetricsMiddleware_NoRoute(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404")
	before := testutil.ToFloat64(counter)

	r := gin.New()
	r.Use(MetricsMiddleware())
	hit(r, "/wp-login.php")

	if testutil.ToFloat64(counter)-before != 1 {
		t.Error("unmatched request should be counted under <no-route>")
	}
}
