package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ledger metrics
var (
	EventsRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_events_recorded_total",
		Help: "Total number of moderation events recorded",
	}, []string{"action", "source"})

	LedgerErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_ledger_errors_total",
		Help: "Total number of failed ledger writes",
	}, []string{"source"})
)

// Reconciler metrics
var (
	ReconcilePassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_reconcile_passes_total",
		Help: "Total number of reconciliation passes",
	}, []string{"result"})

	ReconcileOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_reconcile_outcomes_total",
		Help: "Total number of due events handled, by outcome",
	}, []string{"action", "outcome"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shibe_reconcile_duration_seconds",
		Help:    "Reconciliation pass duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	ReconcileDueEvents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shibe_reconcile_due_events",
		Help: "Number of due events found by the last pass",
	})
)

// Audit bridge metrics
var (
	AuditChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_audit_changes_total",
		Help: "Total number of external moderation changes observed, by outcome",
	}, []string{"action", "outcome"})
)

// Platform metrics
var (
	PlatformActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_platform_actions_total",
		Help: "Total number of platform moderation calls",
	}, []string{"operation", "result"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shibe_notifications_total",
		Help: "Total number of direct message notifications",
	}, []string{"result"})

	CommandsRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shibe_commands_rate_limited_total",
		Help: "Total number of moderation commands rejected by the cooldown",
	})
)
