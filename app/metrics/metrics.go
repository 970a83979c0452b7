package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
)

// Metrics groups the dispatcher instruments. Register once per registry.
type Metrics struct {
	Deliveries         *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	Workers            prometheus.Gauge
}

// New registers all instruments with reg. Tests pass their own registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailer_deliveries_total",
			Help: "Settled queue deliveries by outcome.",
		}, []string{"outcome", "settlement"}),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailer_delivery_processing_seconds",
			Help:    "Time from receiving a delivery to settling it.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),

		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailer_workers",
			Help: "Configured number of queue workers.",
		}),
	}

	reg.MustRegister(m.Deliveries, m.ProcessingDuration, m.Workers)
	return m
}

// OutcomeHook returns the dispatcher callback that feeds these instruments.
func (m *Metrics) OutcomeHook() queue.OutcomeHook {
	return func(outcome queue.Outcome, elapsed time.Duration) {
		settlement := "nack"
		switch {
		case outcome.Acked():
			settlement = "ack"
		case outcome == queue.OutcomeLocked:
			settlement = "requeue"
		}
		m.Deliveries.WithLabelValues(string(outcome), settlement).Inc()
		m.ProcessingDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	}
}
