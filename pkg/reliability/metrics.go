package reliability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus mirrors of the per-agent counters. The authoritative
// statistics live in Stats; these exist for dashboards and alerting.
var (
	attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answer42_agent_attempts_total",
		Help: "Individual agent call attempts, including retries.",
	}, []string{"agent"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answer42_agent_retries_total",
		Help: "Agent call attempts that were retries.",
	}, []string{"agent"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answer42_agent_operations_total",
		Help: "Completed outer agent operations by final outcome.",
	}, []string{"agent", "outcome"})

	circuitStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "answer42_circuit_state",
		Help: "Circuit state per agent: 0 closed, 1 half-open, 2 open.",
	}, []string{"circuit"})

	circuitTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "answer42_circuit_trips_total",
		Help: "Circuit breaker trips per agent.",
	}, []string{"circuit"})
)
