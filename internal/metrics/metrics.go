// Package metrics registers the Prometheus collectors of the service and
// the HTTP middleware feeding them.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wandernotes_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// StoryOperations counts story operations by name and outcome
	// ("ok", "not_found", "invalid", "error").
	StoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandernotes_story_operations_total",
			Help: "Total number of story operations",
		},
		[]string{"operation", "outcome"},
	)

	// ImageCleanups counts background image removals by result
	// ("removed", "absent", "failed", "dropped").
	ImageCleanups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wandernotes_image_cleanups_total",
			Help: "Total number of image cleanup attempts",
		},
		[]string{"result"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// WithHTTPMetrics observes request durations labelled by the chi route pattern,
// so path parameters do not blow up the label cardinality.
func WithHTTPMetrics(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h.ServeHTTP(recorder, r)

		route := "unmatched"
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}
