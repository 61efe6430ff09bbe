// Package metrics exports the store's activity to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/krisalay/livesync/types"
)

const namespace = "livesync"

// Collector implements types.Metrics with Prometheus collectors.
// Keys are used as label values; they come from configuration, so the
// label set stays bounded.
type Collector struct {
	Reads               *prometheus.CounterVec
	StaleEntries        *prometheus.CounterVec
	Fetches             *prometheus.CounterVec
	FetchDuration       *prometheus.HistogramVec
	CoalescedJoins      *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	BackgroundRefreshes *prometheus.CounterVec
}

var _ types.Metrics = (*Collector)(nil)

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Reads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reads_total",
				Help:      "Total number of Get calls by outcome (hit = fresh data)",
			},
			[]string{"key", "outcome"},
		),
		StaleEntries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stale_transitions_total",
				Help:      "Total number of fresh entries that outlived their staleness window",
			},
			[]string{"key"},
		),
		Fetches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of backend fetches by result and error kind",
			},
			[]string{"key", "result", "kind"},
		),
		FetchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Duration of backend fetches in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"key"},
		),
		CoalescedJoins: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_refreshes_total",
				Help:      "Total number of refreshes that joined a fetch already in flight",
			},
			[]string{"key"},
		),
		Notifications: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Total number of subscriber callbacks invoked",
			},
			[]string{"key"},
		),
		BackgroundRefreshes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "background_refreshes_total",
				Help:      "Total number of background refreshes triggered by stale reads",
			},
			[]string{"key"},
		),
	}
}

func (c *Collector) Hit(key string)  { c.Reads.WithLabelValues(key, "hit").Inc() }
func (c *Collector) Miss(key string) { c.Reads.WithLabelValues(key, "miss").Inc() }

func (c *Collector) Stale(key string) { c.StaleEntries.WithLabelValues(key).Inc() }

func (c *Collector) Fetch(key string, took time.Duration, err error) {
	c.FetchDuration.WithLabelValues(key).Observe(took.Seconds())
	if err != nil {
		c.Fetches.WithLabelValues(key, "error", string(types.KindOf(err))).Inc()
		return
	}
	c.Fetches.WithLabelValues(key, "ok", "").Inc()
}

func (c *Collector) Coalesced(key string) { c.CoalescedJoins.WithLabelValues(key).Inc() }

func (c *Collector) Notify(key string, subscribers int) {
	c.Notifications.WithLabelValues(key).Add(float64(subscribers))
}

func (c *Collector) Refresh(key string) { c.BackgroundRefreshes.WithLabelValues(key).Inc() }
