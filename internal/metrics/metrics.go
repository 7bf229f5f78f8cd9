// Package metrics - метрики Prometheus для заказов, предложений и переписки.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Accept outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// Metrics records marketplace activity.
type Metrics struct {
	ordersCreated  prometheus.Counter
	bidsSubmitted  prometheus.Counter
	acceptOutcomes *prometheus.CounterVec
	messagesSent   prometheus.Counter
	lockWait       *prometheus.HistogramVec
	subscriptions  prometheus.Gauge
}

// New registers the metrics on the provided registerer. A nil registerer
// yields a Metrics whose methods do nothing.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		ordersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_orders_created_total",
			Help: "Orders created by buyers.",
		}),
		bidsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_bids_submitted_total",
			Help: "Bids submitted by centers.",
		}),
		acceptOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "procurement_accept_total",
			Help: "Bid acceptance attempts by outcome.",
		}, []string{"outcome"}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "procurement_messages_sent_total",
			Help: "Messages appended to order threads.",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "procurement_order_lock_wait_seconds",
			Help:    "Time spent waiting for the per-order section.",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"acquired"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "procurement_message_subscriptions",
			Help: "Active message thread subscriptions.",
		}),
	}
	reg.MustRegister(m.ordersCreated, m.bidsSubmitted, m.acceptOutcomes, m.messagesSent, m.lockWait, m.subscriptions)
	return m
}

func (m *Metrics) IncOrdersCreated() {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *Metrics) IncBidsSubmitted() {
	if m == nil || m.bidsSubmitted == nil {
		return
	}
	m.bidsSubmitted.Inc()
}

// IncAccept increments the acceptance counter for the outcome.
func (m *Metrics) IncAccept(outcome string) {
	if m == nil || m.acceptOutcomes == nil {
		return
	}
	if outcome == "" {
		outcome = OutcomeFailed
	}
	m.acceptOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncMessagesSent() {
	if m == nil || m.messagesSent == nil {
		return
	}
	m.messagesSent.Inc()
}

// ObserveLockWait records how long a caller waited for the per-order section.
func (m *Metrics) ObserveLockWait(wait time.Duration, acquired bool) {
	if m == nil || m.lockWait == nil {
		return
	}
	label := "false"
	if acquired {
		label = "true"
	}
	m.lockWait.WithLabelValues(label).Observe(wait.Seconds())
}

func (m *Metrics) SubscriptionOpened() {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *Metrics) SubscriptionClosed() {
	if m == nil || m.subscriptions == nil {
		return
	}
	m.subscriptions.Dec()
}
