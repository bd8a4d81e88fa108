// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "checkout"

var (
	// ReconcileOutcomes counts reconciliations by source (webhook, kafka, admin, cli) and outcome.
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_outcomes_total",
		Help:      "Payment reconciliations by source and outcome.",
	}, []string{"source", "outcome"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_status_transitions_total",
		Help:      "Applied order payment status transitions.",
	}, []string{"from", "to"})

	OrdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders created at checkout.",
	})

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gateway_requests_total",
		Help:      "Calls to the payment gateway by operation and result.",
	}, []string{"op", "result"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gateway_request_duration_seconds",
		Help:      "Latency of payment gateway calls.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status class.",
	}, []string{"route", "method", "status"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_cache_lookups_total",
		Help:      "Order cache lookups by result.",
	}, []string{"result"})
)

// StatusClass buckets an HTTP status code as 2xx, 4xx and so on.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
