package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type recordedRequest struct {
	method string
	route  string
	status int
}

type recordingObserver struct {
	seen []recordedRequest
}

func (o *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	o.seen = append(o.seen, recordedRequest{method: method, route: path, status: status})
}

func TestMetricsUsesRouteTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	obs := &recordingObserver{}
	router := gin.New()
	router.Use(Metrics(obs, "/metrics"))
	router.GET("/grades/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, target := range []string{"/grades/1", "/grades/2", "/metrics", "/nope/cs_123"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
	}

	assert.Equal(t, []recordedRequest{
		{method: http.MethodGet, route: "/grades/:id", status: http.StatusOK},
		{method: http.MethodGet, route: "/grades/:id", status: http.StatusOK},
		{method: http.MethodGet, route: unmatchedRoute, status: http.StatusNotFound},
	}, obs.seen)
}
