package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathanyu/matching-core/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPrometheusMiddleware_ObservesRoute(t *testing.T) {
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/v1/order/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.CollectAndCount(telemetry.HTTPRequestDuration)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/order/abc", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(telemetry.HTTPRequestDuration), before+1)
}

func TestTracing_PutsSpanInContext(t *testing.T) {
	r := gin.New()
	r.Use(Tracing())

	var sawSpan bool
	r.GET("/health", func(c *gin.Context) {
		// the default tracer is a no-op, but the span is still threaded through
		sawSpan = trace.SpanFromContext(c.Request.Context()) != nil
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawSpan)
}
