package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_writes_total",
		Help: "Document writes by kind (meta, item, presence).",
	}, []string{"kind"})

	readsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_engine_reads_total",
		Help: "Document reads and query executions.",
	})

	deliveriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_engine_deliveries_total",
		Help: "Full-window batches delivered to subscribers.",
	})

	subscriptionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "feedsync_engine_subscriptions_open",
		Help: "Currently open live subscriptions.",
	})

	purgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_engine_purged_total",
		Help: "Documents removed by retention sweeps, by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(writesTotal, readsTotal, deliveriesTotal, subscriptionsOpen, purgedTotal)
}
