package observability

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/felixgeelhaar/roundtable/domain/telemetry"
)

// GinMiddleware traces each request as a server span and records its
// latency. Either argument may be nil.
func GinMiddleware(tracer telemetry.Tracer, metrics *Metrics) gin.HandlerFunc {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, span := tracer.StartSpan(c.Request.Context(), fmt.Sprintf("%s %s", c.Request.Method, route),
			telemetry.WithSpanKind(telemetry.SpanKindServer),
			telemetry.WithAttributes(
				telemetry.String("http.method", c.Request.Method),
				telemetry.String("http.route", route),
			),
		)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		span.SetAttributes(telemetry.Int("http.status_code", status))
		if status >= 500 {
			span.SetStatus(telemetry.StatusCodeError, fmt.Sprintf("status %d", status))
		} else {
			span.SetStatus(telemetry.StatusCodeOK, "")
		}
		metrics.ObserveHTTPRequest(route, status, time.Since(start))
	}
}
