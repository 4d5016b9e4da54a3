package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/studyplan-api/internal/service"
)

// unmatchedRoute labels requests no route matched so raw URLs never become
// label values.
const unmatchedRoute = "unmatched"

// planGroupRoutePrefix marks routes whose :id parameter is a plan group.
const planGroupRoutePrefix = "/api/v1/plan-groups/:id"

// Metrics observes request latency per route template. Paths in skip (health checks,
// the scrape endpoint) are not recorded. Plan group routes also tag the active
// span with plan_group.id.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if strings.HasPrefix(route, planGroupRoutePrefix) {
			if id := c.Param("id"); id != "" {
				trace.SpanFromContext(c.Request.Context()).SetAttributes(attribute.String("plan_group.id", id))
			}
		}
		if metricsSvc == nil {
			c.Next()
			return
		}
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
