// Package metrics holds the Prometheus counters of the payment, entitlement
// and push paths.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PaymentTransitions counts payment reconciliation outcomes.
	// rail: stripe, apple_iap. result: completed, noop, failed, voided, rejected.
	PaymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazone",
			Subsystem: "payments",
			Name:      "transitions_total",
			Help:      "Payment state transitions by rail and result",
		},
		[]string{"rail", "result"},
	)

	// PushDeliveries counts per-token delivery outcomes.
	// result: sent, undeliverable, removed, failed.
	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazone",
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Push delivery attempts by result",
		},
		[]string{"result"},
	)

	// EntitlementConsumed counts listing activations by entitlement source.
	EntitlementConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazone",
			Subsystem: "entitlement",
			Name:      "consumed_total",
			Help:      "Listing activations by entitlement source",
		},
		[]string{"source"},
	)

	// HTTPRequests counts API requests by route and status class.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lazone",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)
)

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
