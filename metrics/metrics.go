// Package metrics exports dbcon pool statistics and borrow events to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/yuku/dbcon"
)

// Metrics records borrow and pool lifecycle events. It implements
// dbcon.Observer.
type Metrics struct {
	BorrowTotal        *prometheus.CounterVec
	BorrowWait         *prometheus.HistogramVec
	PoolLifecycleTotal *prometheus.CounterVec
}

var _ dbcon.Observer = (*Metrics)(nil)

// New creates and registers the event metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		BorrowTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcon_borrow_total",
				Help: "Total number of connection borrows by outcome",
			},
			[]string{"synonym", "outcome"},
		),
		BorrowWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dbcon_borrow_wait_seconds",
				Help:    "Time taken to borrow a connection, including waits on an exhausted pool",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"synonym"},
		),
		PoolLifecycleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbcon_pool_lifecycle_total",
				Help: "Total number of pools created and destroyed",
			},
			[]string{"synonym", "event"},
		),
	}
}

func (m *Metrics) ObserveBorrow(synonym, outcome string, wait time.Duration) {
	m.BorrowTotal.WithLabelValues(synonym, outcome).Inc()
	m.BorrowWait.WithLabelValues(synonym).Observe(wait.Seconds())
}

func (m *Metrics) ObservePoolEvent(synonym, event string) {
	m.PoolLifecycleTotal.WithLabelValues(synonym, event).Inc()
}

// StatsSource lists loaded pools and their statistics. *dbcon.Registry
// implements it.
type StatsSource interface {
	LoadedNames() []string
	PoolStats(name string) (dbcon.Stats, bool)
}

// Collector reports the connection counts of every loaded pool at scrape
// time.
type Collector struct {
	src StatsSource

	active    *prometheus.Desc
	idle      *prometheus.Desc
	maxActive *prometheus.Desc
	maxIdle   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(src StatsSource) *Collector {
	labels := []string{"synonym"}
	return &Collector{
		src: src,
		active: prometheus.NewDesc("dbcon_pool_active_connections",
			"Number of connections currently lent out", labels, nil),
		idle: prometheus.NewDesc("dbcon_pool_idle_connections",
			"Number of idle connections kept by the pool", labels, nil),
		maxActive: prometheus.NewDesc("dbcon_pool_max_active_connections",
			"Maximum number of connections lent at once", labels, nil),
		maxIdle: prometheus.NewDesc("dbcon_pool_max_idle_connections",
			"Maximum number of idle connections kept", labels, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.active
	ch <- c.idle
	ch <- c.maxActive
	ch <- c.maxIdle
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, name := range c.src.LoadedNames() {
		s, ok := c.src.PoolStats(name)
		if !ok {
			// Destroyed since it was listed.
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active), name)
		ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle), name)
		ch <- prometheus.MustNewConstMetric(c.maxActive, prometheus.GaugeValue, float64(s.MaxActive), name)
		ch <- prometheus.MustNewConstMetric(c.maxIdle, prometheus.GaugeValue, float64(s.MaxIdle), name)
	}
}
