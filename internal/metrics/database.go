package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stores that report query metrics.
const (
	StoreUsers    = "users"
	StoreSessions = "sessions"
)

var (
	// DBQueryDuration records query latency per store and operation.
	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"store", "operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of failed database queries",
		},
		[]string{"store", "operation", "error_type"},
	)
)

// Query measures one repository call. Create it with StartQuery right before
// the statement and call Done with the statement's error.
type Query struct {
	store     string
	operation string
	start     time.Time
}

func StartQuery(store, operation string) Query {
	return Query{store: store, operation: operation, start: time.Now()}
}

// Done records the elapsed time and, for a non-nil err, one error sample.
// Callers pass nil for outcomes that are not failures, such as a missing row.
func (q Query) Done(err error) {
	DBQueryDuration.WithLabelValues(q.store, q.operation).Observe(time.Since(q.start).Seconds())
	if err != nil {
		DBErrors.WithLabelValues(q.store, q.operation, errorType(err)).Inc()
	}
}

func errorType(err error) string {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &pgErr) && pgErr.Code == "23505":
		return "conflict"
	case errors.As(err, &pgErr):
		return "server_error"
	default:
		return "connection_error"
	}
}

// poolCollector reads pgxpool statistics at scrape time.
type poolCollector struct {
	pool *pgxpool.Pool

	total    *prometheus.Desc
	acquired *prometheus.Desc
	idle     *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
}

func newPoolCollector(pool *pgxpool.Pool) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, nil, nil)
	}
	return &poolCollector{
		pool:     pool,
		total:    desc("connections_open", "Open connections in the pool"),
		acquired: desc("connections_in_use", "Connections currently acquired"),
		idle:     desc("connections_idle", "Idle connections in the pool"),
		max:      desc("connections_max_open", "Maximum pool size"),
		waits:    desc("connection_waits_total", "Acquires that had to wait for a connection"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.total
	ch <- c.acquired
	ch <- c.idle
	ch <- c.max
	ch <- c.waits
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
}

// RegisterPool exposes pool statistics on Registry. The returned func
// removes them again.
func RegisterPool(pool *pgxpool.Pool) (func(), error) {
	collector := newPoolCollector(pool)
	if err := Registry.Register(collector); err != nil {
		return nil, err
	}
	return func() { Registry.Unregister(collector) }, nil
}
