package itemdb

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	commits        prometheus.Counter
	committedItems prometheus.Counter
	loads          prometheus.Counter
	deadlocks      prometheus.Counter
	commitDuration prometheus.Histogram
}

// newMetrics builds the store collectors and registers them with reg, if
// any. Stores sharing a registerer share the collectors.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb",
			Name:      "commits_total",
			Help:      "Number of committed versions.",
		}),
		committedItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb",
			Name:      "committed_items_total",
			Help:      "Number of item changes written by commits.",
		}),
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb",
			Name:      "item_loads_total",
			Help:      "Number of items loaded into views.",
		}),
		deadlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itemdb",
			Name:      "deadlock_retries_total",
			Help:      "Number of transactions retried after a deadlock.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "itemdb",
			Name:      "commit_duration_seconds",
			Help:      "Duration of commits, including the refresh under the commit lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
	if reg != nil {
		m.commits = register(reg, m.commits)
		m.committedItems = register(reg, m.committedItems)
		m.loads = register(reg, m.loads)
		m.deadlocks = register(reg, m.deadlocks)
		m.commitDuration = register(reg, m.commitDuration)
	}
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}
