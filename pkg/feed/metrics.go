package feed

import "github.com/prometheus/client_golang/prometheus"

var (
	mergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feedsync_feed_merges_total",
		Help: "Store merges by origin (live, backfill-prepend).",
	}, []string{"origin"})

	backfillsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_feed_backfills_total",
		Help: "Completed backfill page fetches.",
	})

	attachesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedsync_feed_attaches_total",
		Help: "Feed attach operations, including refresh reattaches.",
	})
)

func init() {
	prometheus.MustRegister(mergesTotal, backfillsTotal, attachesTotal)
}
