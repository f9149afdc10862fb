// Package metrics defines the Prometheus collectors shared by the api and
// worker processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gamezone"

type Metrics struct {
	LedgerOps        *prometheus.CounterVec
	LobbyTransitions *prometheus.CounterVec
	Updates          *prometheus.CounterVec
	Callbacks        *prometheus.CounterVec
	GatewayCalls     *prometheus.HistogramVec
	Handoffs         *prometheus.CounterVec
	Sweeps           *prometheus.CounterVec
	HTTPRequests     *prometheus.HistogramVec
}

// New registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LedgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet ledger operations by kind and result.",
		}, []string{"op", "result"}),
		LobbyTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "transitions_total",
			Help:      "Lobby state transitions by target status.",
		}, []string{"status"}),
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bot",
			Name:      "updates_total",
			Help:      "Chat updates by processing outcome.",
		}, []string{"outcome"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Payment gateway callbacks by outcome.",
		}, []string{"outcome"}),
		GatewayCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "gateway_call_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call", "result"}),
		Handoffs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lobby",
			Name:      "handoffs_total",
			Help:      "Activated lobbies published to the game collaborator.",
		}, []string{"result"}),
		Sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "swept_total",
			Help:      "Items processed by background sweeps.",
		}, []string{"sweep", "result"}),
		HTTPRequests: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "code"}),
	}
}

// Discard returns collectors bound to a private registry. Used by tests and
// by components constructed without a metrics sink.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

func Result(err error) string {
	if err != nil {
		return "error"
	}

	return "ok"
}
