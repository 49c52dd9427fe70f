package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// identifiersAssigned counts budget identifiers handed out by Create.
	identifiersAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_identifiers_assigned_total",
			Help: "Total number of budget identifiers assigned.",
		},
	)

	// counterReconciliations counts what deletion did to the identifier
	// counter: reset, decremented or unchanged.
	counterReconciliations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budget_counter_reconciliations_total",
			Help: "Identifier counter adjustments performed after budget deletion.",
		},
		[]string{"outcome"},
	)

	// storeRetries counts transient store errors that triggered a retry.
	storeRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_store_retries_total",
			Help: "Transactions retried after transient store contention.",
		},
	)
)

func init() {
	prometheus.MustRegister(identifiersAssigned, counterReconciliations, storeRetries)
}
