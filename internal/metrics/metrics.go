package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all Arisu metrics
const namespace = "arisu"

// Registry is the global Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

// AppInfo is a gauge that exposes application version information as labels
var AppInfo = promauto.With(Registry).NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "app_info",
		Help:      "Application version information (always set to 1, version info in labels)",
	},
	[]string{"version", "commit", "build_date"},
)

// Session metrics
var (
	SessionsCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
	)

	// SessionsExpired counts sessions removed because their TTL elapsed,
	// whether noticed on read or by the sweep job.
	SessionsExpired = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_expired_total",
			Help:      "Total number of expired sessions removed",
		},
	)

	SessionsDestroyed = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_destroyed_total",
			Help:      "Total number of sessions destroyed by login rotation or logout",
		},
	)
)

// Token metrics
var (
	JWTIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwt_issued_total",
			Help:      "Total number of user tokens issued",
		},
		[]string{"reason"}, // reason: missing|expired|generate
	)

	JWTDecoded = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwt_decoded_total",
			Help:      "Total number of cached user tokens decoded, by result",
		},
		[]string{"status"}, // status: valid|expired|invalid|unknown
	)
)

var registeredRuntime bool

// Init registers runtime collectors and sets version information.
func Init(version, commit, buildDate string) {
	if !registeredRuntime {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		registeredRuntime = true
	}

	AppInfo.WithLabelValues(version, commit, buildDate).Set(1)
}
