package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FillsProcessed counts settled fills by order type (limit/dca).
var FillsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settler_fills_processed_total",
		Help: "Total number of fills settled by the engine",
	},
	[]string{"order_type"},
)

// FillFailures counts rejected fills by order type and rejection kind.
var FillFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settler_fill_failures_total",
		Help: "Total number of rejected fills by error kind",
	},
	[]string{"order_type", "kind"},
)

// FillLatency records latency distribution for fill settlement.
var FillLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "settler_fill_latency_seconds",
		Help:    "Latency in seconds to settle individual fills",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"order_type"},
)

// OrdersCancelled counts maker cancellations by order type.
var OrdersCancelled = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "settler_orders_cancelled_total",
		Help: "Total number of orders cancelled by their maker",
	},
	[]string{"order_type"},
)

// Delegation layer metrics.
var (
	DelegationRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settler_delegation_rotations_total",
			Help: "Delegate rotation protocol transitions by tier and step",
		},
		[]string{"tier", "step"},
	)

	TokensClaimed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settler_token_claims_total",
			Help: "Delegated token pulls executed through the custody layer",
		},
		[]string{"tier"},
	)
)

func init() {
	prometheus.MustRegister(FillsProcessed, FillFailures, FillLatency, OrdersCancelled)
	prometheus.MustRegister(DelegationRotations, TokensClaimed)
}
