package servicectl

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "covenantrix_state_transitions_total",
		Help: "Connection state machine transitions by target state.",
	}, []string{"state"})

	probeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "covenantrix_probe_attempts_total",
		Help: "Engine readiness probe attempts by outcome.",
	}, []string{"outcome"})

	engineLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "covenantrix_engine_launches_total",
		Help: "Engine process launches by execution mode.",
	}, []string{"mode"})

	unexpectedExits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "covenantrix_engine_unexpected_exits_total",
		Help: "Engine processes that terminated while the connection was ready.",
	})
)
