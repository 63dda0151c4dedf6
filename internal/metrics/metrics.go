// Package metrics counts import outcomes and publishes them to a Prometheus
// Pushgateway or a node exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

type Recorder struct {
	reg *prometheus.Registry

	runs     *prometheus.CounterVec // odkimport_runs_total
	rows     *prometheus.CounterVec // odkimport_rows_total
	duration *prometheus.SummaryVec // odkimport_run_duration_seconds
}

func New() (*Recorder, error) {
	reg := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odkimport_runs_total",
			Help: "Document import runs, partitioned by final status.",
		},
		[]string{"status"},
	)
	rows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "odkimport_rows_total",
			Help: "Rows handled by import runs, partitioned by outcome (inserted, failed).",
		},
		[]string{"outcome"},
	)
	duration := prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Name:       "odkimport_run_duration_seconds",
			Help:       "Duration of document import runs in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"status"},
	)

	for _, c := range []prometheus.Collector{runs, rows, duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}

	return &Recorder{reg: reg, runs: runs, rows: rows, duration: duration}, nil
}

// ObserveRun records one finished import.
func (r *Recorder) ObserveRun(status string, inserted, failed int, d time.Duration) {
	r.runs.WithLabelValues(status).Inc()
	r.rows.WithLabelValues("inserted").Add(float64(inserted))
	r.rows.WithLabelValues("failed").Add(float64(failed))
	r.duration.WithLabelValues(status).Observe(d.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Push sends the collected metrics to a Pushgateway under job.
func (r *Recorder) Push(gatewayURL, job string) error {
	if gatewayURL == "" {
		return fmt.Errorf("pushgateway URL is required")
	}
	if err := push.New(gatewayURL, job).Gatherer(r.reg).Push(); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

// WriteTextfile writes the metrics in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return nil
}
