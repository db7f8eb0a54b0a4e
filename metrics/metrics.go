package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goliatone/go-accounts"
)

// ActivityCollector counts committed activity entries by action
type ActivityCollector struct {
	entries   *prometheus.CounterVec
	lastEntry prometheus.Gauge
}

var _ accounts.ActivitySink = (*ActivityCollector)(nil)

func NewActivityCollector(namespace string) *ActivityCollector {
	return &ActivityCollector{
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activity_entries_total",
				Help:      "Total number of committed activity entries.",
			},
			[]string{"action"},
		),
		lastEntry: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "activity_last_entry_timestamp_seconds",
				Help:      "Unix time of the last committed activity entry.",
			},
		),
	}
}

// Record implements accounts.ActivitySink
func (c *ActivityCollector) Record(_ context.Context, entry accounts.ActivityEntry) error {
	c.entries.WithLabelValues(entry.Action).Inc()
	c.lastEntry.Set(float64(entry.CreatedAt.Unix()))
	return nil
}

func (c *ActivityCollector) Register(registry prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.entries, c.lastEntry} {
		if err := registry.Register(col); err != nil {
			return err
		}
	}
	return nil
}

// Counter exposes the per action counter, mostly for tests
func (c *ActivityCollector) Counter(action string) prometheus.Counter {
	return c.entries.WithLabelValues(action)
}

func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
