package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	gaps      *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed event fan-out.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			published: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldchain",
				Subsystem: "events",
				Name:      "published_total",
				Help:      "Count of committed events published segmented by type.",
			}, []string{"type"}),
			dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldchain",
				Subsystem: "events",
				Name:      "dropped_total",
				Help:      "Count of events dropped because a subscriber buffer was full.",
			}, []string{"type"}),
			gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "goldchain",
				Subsystem: "events",
				Name:      "missed_positions_total",
				Help:      "Ledger positions a consumer found missing from its stream.",
			}, []string{"consumer"}),
		}
		prometheus.MustRegister(eventRegistry.published, eventRegistry.dropped, eventRegistry.gaps)
	})
	return eventRegistry
}

// RecordPublished increments the publish counter for an event type.
func (m *eventMetrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(labelType(eventType)).Inc()
}

// RecordDropped increments the drop counter for an event type.
func (m *eventMetrics) RecordDropped(eventType string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(labelType(eventType)).Inc()
}

// RecordGap adds the number of positions a consumer detected as skipped.
func (m *eventMetrics) RecordGap(consumer string, missing uint64) {
	if m == nil || missing == 0 {
		return
	}
	m.gaps.WithLabelValues(labelType(consumer)).Add(float64(missing))
}

func labelType(eventType string) string {
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
