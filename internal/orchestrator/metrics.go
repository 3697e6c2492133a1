package orchestrator

import (
	"time"

	"github.com/garnizeh/techsync/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the sync counters. A nil *Metrics records nothing.
type Metrics struct {
	outcomes *prometheus.CounterVec
	gaps     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the sync metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "techsync",
			Name:      "sync_outcomes_total",
			Help:      "Sync outcomes by assignment and comment result.",
		}, []string{"assignment", "comment"}),
		gaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "techsync",
			Name:      "resolution_gaps_total",
			Help:      "Technicians that could not be resolved to a remote identity, by reason.",
		}, []string{"reason"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "techsync",
			Name:      "sync_duration_seconds",
			Help:      "Time to sync one ticket, remote calls included.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.gaps, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(o models.SyncOutcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(o.AssignmentResult), string(o.CommentResult)).Inc()
	if o.GapReason != "" {
		m.gaps.WithLabelValues(o.GapReason).Inc()
	}
	m.duration.Observe(elapsed.Seconds())
}
