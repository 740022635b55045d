package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callbilling",
		Subsystem: "reconcile",
		Name:      "settlements_total",
		Help:      "Settlement signals handled by source and outcome.",
	}, []string{"source", "outcome"}) // outcome: settled, duplicate, ignored, linked, unmatched, error

	pricingSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callbilling",
		Subsystem: "reconcile",
		Name:      "pricing_source_total",
		Help:      "Billed calls by where the price came from.",
	}, []string{"source"}) // carrier, fallback

	legRedirectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "callbilling",
		Subsystem: "reconcile",
		Name:      "leg_redirects_total",
		Help:      "Settlements whose cost moved to another leg of the same call.",
	}, []string{"strategy"})

	settleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "callbilling",
		Subsystem: "reconcile",
		Name:      "settle_duration_seconds",
		Help:      "End-to-end settlement latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	creditsDebitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "callbilling",
		Subsystem: "reconcile",
		Name:      "credits_debited_total",
		Help:      "Credits debited for settled calls.",
	})
)

func init() {
	prometheus.MustRegister(
		settlementsTotal,
		pricingSourceTotal,
		legRedirectsTotal,
		settleDuration,
		creditsDebitedTotal,
	)
}

func observeSettlement(source Source, outcome Outcome, err error, elapsed time.Duration) {
	label := string(outcome)
	if err != nil {
		label = "error"
	}
	settlementsTotal.WithLabelValues(string(source), label).Inc()
	settleDuration.Observe(elapsed.Seconds())
}
