// Package metrics exposes Prometheus collectors for the autotrader.
//
//   - autotrader_pending_requests            in-flight correlated broker requests
//   - autotrader_requests_total{kind,outcome} resolved broker requests
//   - autotrader_connection_state            0 disconnected, 1 connecting, 2 connected
//   - autotrader_orders_total{type,outcome}  order submissions
//   - autotrader_cycles_total{outcome}       trading cycles
//   - autotrader_ranking_seconds             ranking run duration
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autotrader_pending_requests",
			Help: "Broker requests awaiting resolution",
		},
	)

	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_requests_total",
			Help: "Broker requests by kind and outcome (ok|timeout|partial|error|connection)",
		},
		[]string{"kind", "outcome"},
	)

	connectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autotrader_connection_state",
			Help: "Broker connection state (0 disconnected, 1 connecting, 2 connected)",
		},
	)

	orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_orders_total",
			Help: "Order submissions by order type and outcome (accepted|rejected)",
		},
		[]string{"type", "outcome"},
	)

	cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autotrader_cycles_total",
			Help: "Trading cycles by outcome",
		},
		[]string{"outcome"},
	)

	rankingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autotrader_ranking_seconds",
			Help:    "Duration of a full ranking run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(pendingRequests, requests, connectionState, orders, cycles, rankingSeconds)
}

func PendingAdd(delta float64) { pendingRequests.Add(delta) }

func ObserveRequest(kind, outcome string) { requests.WithLabelValues(kind, outcome).Inc() }

func SetConnectionState(state int) { connectionState.Set(float64(state)) }

func ObserveOrder(orderType string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	orders.WithLabelValues(orderType, outcome).Inc()
}

func ObserveCycle(outcome string) { cycles.WithLabelValues(outcome).Inc() }

func ObserveRanking(seconds float64) { rankingSeconds.Observe(seconds) }

// Handler serves the default registry in text exposition format.
func Handler() http.Handler { return promhttp.Handler() }
