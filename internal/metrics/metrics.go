// Package metrics exposes the bot's Prometheus metrics. Each Metrics owns its
// registry so several instances can coexist in one process.
//
// All recording methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "updown"

type Metrics struct {
	reg *prometheus.Registry

	// Engine metrics
	QuotesProcessed prometheus.Counter
	PositionsOpened *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	EntriesRejected prometheus.Counter
	Rollovers       prometheus.Counter

	// Account metrics
	Balance       prometheus.Gauge
	RealizedPnL   prometheus.Gauge
	Unrealized    prometheus.Gauge
	OpenPositions prometheus.Gauge

	// Feed metrics
	FeedReconnects      prometheus.Counter
	FeedDroppedMessages prometheus.Counter
}

// New creates a Metrics with every metric registered on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,

		QuotesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "quotes_processed_total",
			Help:      "Total number of quotes evaluated",
		}),
		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_opened_total",
			Help:      "Total number of positions opened by side",
		}, []string{"side"}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "positions_closed_total",
			Help:      "Total number of positions closed by reason",
		}, []string{"reason"}),
		EntriesRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "entries_rejected_total",
			Help:      "Total number of entries rejected by the ledger",
		}),
		Rollovers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rollovers_total",
			Help:      "Total number of market rollovers",
		}),

		Balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "balance",
			Help:      "Current cash balance",
		}),
		RealizedPnL: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "realized_pnl",
			Help:      "Balance minus the initial balance",
		}),
		Unrealized: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "unrealized_pnl",
			Help:      "Open positions marked at their last observed prices",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "open_positions",
			Help:      "Number of open positions",
		}),

		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed disconnects followed by a redial",
		}),
		FeedDroppedMessages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_messages_total",
			Help:      "Total number of malformed feed messages dropped",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordQuote() {
	if m == nil {
		return
	}
	m.QuotesProcessed.Inc()
}

func (m *Metrics) RecordOpen(side string) {
	if m == nil {
		return
	}
	m.PositionsOpened.WithLabelValues(side).Inc()
}

func (m *Metrics) RecordClose(reason string) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.EntriesRejected.Inc()
}

func (m *Metrics) RecordRollover() {
	if m == nil {
		return
	}
	m.Rollovers.Inc()
}

func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.FeedDroppedMessages.Inc()
}

// UpdateAccount sets the account gauges.
func (m *Metrics) UpdateAccount(balance, pnl, unrealized float64, open int) {
	if m == nil {
		return
	}
	m.Balance.Set(balance)
	m.RealizedPnL.Set(pnl)
	m.Unrealized.Set(unrealized)
	m.OpenPositions.Set(float64(open))
}
