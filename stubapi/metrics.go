package stubapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName       = "taskmanagement/stubapi"
	requestEventName = "stub.request"

	ctxOwner      = "owner"
	ctxItems      = "items"
	ctxErrorStage = "error_stage"
)

// RequestMetrics opens a server span per request and writes one structured
// log entry when the handler returns.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := otel.Tracer(tracerName).Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("http.route", route),
				),
			)
			c.SetRequest(req.WithContext(ctx))
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the response so the status is known.
				c.Error(err)
			}

			status := c.Response().Status
			total := durationToMillis(time.Since(start))
			severity, _ := severityForStatus(status)

			fields := log.Fields{
				"method":   req.Method,
				"route":    route,
				"status":   status,
				"total_ms": total,
			}
			attrs := []attribute.KeyValue{
				attribute.Int("http.response.status_code", status),
				attribute.Float64("stub.total_ms", total),
			}
			if owner, ok := c.Get(ctxOwner).(string); ok && owner != "" {
				fields["owner"] = owner
			}
			if items, ok := c.Get(ctxItems).(int); ok {
				fields["items"] = items
				attrs = append(attrs, attribute.Int("stub.items", items))
			}
			if stage, ok := c.Get(ctxErrorStage).(string); ok && stage != "" {
				fields["error_stage"] = stage
				attrs = append(attrs, attribute.String("stub.error_stage", stage))
			}
			if err != nil {
				fields["error"] = err.Error()
				attrs = append(attrs, attribute.String("error.message", err.Error()))
			}
			if sc := span.SpanContext(); sc.HasTraceID() {
				fields["trace_id"] = sc.TraceID().String()
			}

			span.SetAttributes(attrs...)
			if severity == "ERROR" {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()

			entry := logger.WithFields(fields)
			switch severity {
			case "ERROR":
				entry.Error(requestEventName)
			case "WARN":
				entry.Warn(requestEventName)
			default:
				entry.Info(requestEventName)
			}
			return nil
		}
	}
}

func severityForStatus(status int) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
