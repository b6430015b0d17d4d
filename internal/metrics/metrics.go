// Package metrics holds the Prometheus counters exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EscalationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailguard_escalation_decisions_total",
			Help: "Verdicts evaluated by the escalation engine, by resulting action.",
		},
		[]string{"action"},
	)
	TrustWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailguard_trust_writes_total",
			Help: "Allow and deny list writes, by list and operation.",
		},
		[]string{"list", "op"},
	)
	QuarantineTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailguard_quarantine_transitions_total",
			Help: "Quarantined messages moved to a terminal status.",
		},
		[]string{"status"},
	)
	DeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailguard_relay_delivery_failures_total",
			Help: "Released messages the downstream relay refused or could not take.",
		},
	)
	CacheSyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailguard_cache_sync_errors_total",
			Help: "Cache projection tasks that failed or were dropped.",
		},
	)
	CacheResyncs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailguard_cache_resyncs_total",
			Help: "Full cache rebuilds from the relational store.",
		},
	)
	PurgedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailguard_purged_total",
			Help: "Rows removed by maintenance jobs, by kind.",
		},
		[]string{"kind"},
	)
)
