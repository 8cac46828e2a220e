package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// FriendOperations counts dispatched friend operations by outcome
	// ("ok" or an error code name).
	FriendOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friends_operations_total",
			Help: "Friend protocol operations by result",
		},
		[]string{"operation", "result"},
	)

	StoreLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "friends_operation_duration_seconds",
			Help:    "Time spent handling a friend operation, store round-trips included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friends_notifications_total",
			Help: "Push notifications by delivery path",
		},
		[]string{"subject", "path"},
	)

	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "friends_online_users",
		Help: "Authenticated users with a live connection",
	})
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(FriendOperations)
	prometheus.MustRegister(StoreLatency)
	prometheus.MustRegister(Notifications)
	prometheus.MustRegister(OnlineUsers)
}

// ObserveOperation records the outcome and duration of one dispatched operation.
func ObserveOperation(operation, result string, started time.Time) {
	FriendOperations.WithLabelValues(operation, result).Inc()
	StoreLatency.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
