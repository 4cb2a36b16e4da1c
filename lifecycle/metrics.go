package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of registered actions.
const (
	outcomeRecorded  = "recorded"
	outcomeNoop      = "noop"
	outcomeCoalesced = "coalesced"
	outcomeFailed    = "failed"
)

var (
	registrationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_lifecycle_registrations_total",
		Help: "Resource registrations, by action and outcome",
	}, []string{"action", "outcome"})

	physicalOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_lifecycle_physical_ops_total",
		Help: "Physical resource operations, by operation, cause and status",
	}, []string{"op", "cause", "status"})

	orphansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lakehouse_lifecycle_orphans_total",
		Help: "Resources left for out-of-band cleanup, by operation",
	}, []string{"op"})

	openScopes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lakehouse_lifecycle_open_scopes",
		Help: "Open transaction scopes across all sessions",
	})
)
