package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors exported by the attendance service.
type Metrics struct {
	SubmissionsReceived *prometheus.CounterVec
	RostersServed       *prometheus.CounterVec
	RostersPushed       prometheus.Counter
	SubmissionsDone     *prometheus.CounterVec
	MarksMaterialized   prometheus.Counter
	RateLimited         prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmissionsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "submissions_received_total",
			Help:      "Submission records received, by result.",
		}, []string{"result"}),
		RostersServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "rosters_served_total",
			Help:      "Roster fetches answered, by source.",
		}, []string{"source"}),
		RostersPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "rosters_pushed_total",
			Help:      "Roster documents pushed.",
		}),
		SubmissionsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "submissions_processed_total",
			Help:      "Submissions handled by the worker, by final status.",
		}, []string{"status"}),
		MarksMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "marks_materialized_total",
			Help:      "Per-student attendance rows written by the worker.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SubmissionsReceived,
			m.RostersServed,
			m.RostersPushed,
			m.SubmissionsDone,
			m.MarksMaterialized,
			m.RateLimited,
		)
	}
	return m
}
