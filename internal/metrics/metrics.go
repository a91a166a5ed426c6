package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const unmatched = "unmatched"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exstem_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exstem_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exstem_progress_saves_total",
			Help: "Progress saves by lane and outcome.",
		},
		[]string{"lane", "outcome"},
	)

	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exstem_submissions_total",
			Help: "Final submissions by trigger and delivery.",
		},
		[]string{"trigger", "delivered"},
	)

	TabSwitchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exstem_tab_switches_total",
			Help: "Counted tab switches across all sessions.",
		},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exstem_active_sessions",
			Help: "Session engines currently running.",
		},
	)

	QueueItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exstem_worker_items_total",
			Help: "Items processed by background workers.",
		},
		[]string{"worker", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(SavesTotal)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(TabSwitchesTotal)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(QueueItemsTotal)
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Middleware records request count and duration for every HTTP request.
// Uses the gin route pattern (not the raw path) to avoid unbounded cardinality.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatched
		}
		status := c.Writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus metrics handler.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
