package reliability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ToanPV90/answer42-sub008/pkg/config"
	"github.com/ToanPV90/answer42-sub008/pkg/models"
)

// StateChangeFunc is invoked on every breaker transition.
type StateChangeFunc func(circuit, from, to string)

// Breaker is a per-agent circuit breaker.
//
// Semantics: the breaker trips OPEN when consecutive failures reach the
// configured threshold. While OPEN, calls fail fast with ErrCircuitOpen
// and are not counted as fresh failures. After the open duration, the
// breaker admits exactly one probe (HALF_OPEN); concurrent calls during
// the probe fail fast. Probe success closes the breaker and resets
// counters; probe failure re-opens it with a fresh window.
//
// Cancellation is reported to the breaker as a success so an operator
// cancelling runs cannot trip an otherwise healthy circuit.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	tripsTotal atomic.Int64

	mu       sync.Mutex
	openedAt *time.Time
}

// NewBreaker creates a Breaker for the given agent.
func NewBreaker(agent models.AgentID, cfg *config.CircuitConfig, onChange StateChangeFunc) *Breaker {
	b := &Breaker{name: string(agent)}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: string(agent),
		// Exactly one probe while half-open.
		MaxRequests: 1,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(name, from, to, onChange)
		},
	})
	return b
}

func (b *Breaker) onStateChange(name string, from, to gobreaker.State, onChange StateChangeFunc) {
	b.mu.Lock()
	switch to {
	case gobreaker.StateOpen:
		now := time.Now()
		b.openedAt = &now
		b.tripsTotal.Add(1)
	case gobreaker.StateClosed:
		b.openedAt = nil
	}
	b.mu.Unlock()

	slog.Warn("Circuit state change",
		"circuit", name, "from", from.String(), "to", to.String())
	circuitStateGauge.WithLabelValues(name).Set(stateValue(to))
	if to == gobreaker.StateOpen {
		circuitTripsTotal.WithLabelValues(name).Inc()
	}
	if onChange != nil {
		onChange(name, stateName(from), stateName(to))
	}
}

// Execute runs fn through the breaker. Refused calls return ErrCircuitOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// Open reports whether the breaker is currently refusing calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// HalfOpen reports whether the breaker is currently probing.
func (b *Breaker) HalfOpen() bool {
	return b.cb.State() == gobreaker.StateHalfOpen
}

// CircuitSnapshot is a point-in-time view of one breaker.
type CircuitSnapshot struct {
	Circuit             string     `json:"circuit"`
	State               string     `json:"state"`
	ConsecutiveFailures uint32     `json:"consecutive_failures"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	TripsTotal          int64      `json:"trips_total"`
}

// Snapshot returns the breaker's current state and counters.
func (b *Breaker) Snapshot() CircuitSnapshot {
	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()

	return CircuitSnapshot{
		Circuit:             b.name,
		State:               stateName(b.cb.State()),
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
		OpenedAt:            openedAt,
		TripsTotal:          b.tripsTotal.Load(),
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "OPEN"
	case gobreaker.StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
