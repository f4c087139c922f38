package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/creator-suite/internal/events"
)

// PrometheusSink exports job lifecycle counters derived from notifications.
type PrometheusSink struct {
	submitted  *prometheus.CounterVec
	finished   *prometheus.CounterVec
	pollErrors *prometheus.CounterVec
	runtime    *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "suite_jobs_submitted_total",
			Help: "Jobs accepted by a backend, partitioned by job type.",
		}, []string{"type"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "suite_jobs_finished_total",
			Help: "Jobs that reached a terminal status, partitioned by type and result.",
		}, []string{"type", "result"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "suite_poll_errors_total",
			Help: "Status checks that failed in transport, partitioned by job type.",
		}, []string{"type"}),
		runtime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "suite_job_runtime_seconds",
			Help:    "Time from submission to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"type", "result"}),
	}
	for _, c := range []prometheus.Collector{s.submitted, s.finished, s.pollErrors, s.runtime} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []events.Event) error {
	for _, evt := range batch {
		jobType := string(evt.JobType)
		if jobType == "" {
			jobType = "unknown"
		}
		switch evt.Stage {
		case events.StageJobSubmitted:
			s.submitted.WithLabelValues(jobType).Inc()
		case events.StageJobCompleted:
			s.finish(jobType, "success", evt)
		case events.StageJobFailed:
			s.finish(jobType, "error", evt)
		case events.StagePollError:
			s.pollErrors.WithLabelValues(jobType).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(jobType, result string, evt events.Event) {
	s.finished.WithLabelValues(jobType, result).Inc()
	if evt.Dur > 0 {
		s.runtime.WithLabelValues(jobType, result).Observe(evt.Dur.Seconds())
	}
}

// Close implements events.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
