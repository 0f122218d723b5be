// Package events publishes pipeline and task lifecycle events through
// PostgreSQL NOTIFY for cross-pod distribution, persisting durable events
// to the events table in the same transaction.
//
// Two delivery classes exist:
//
//   - Persistent events (task lifecycle, run status, stage status) are
//     INSERTed into the events table and broadcast via pg_notify in one
//     transaction, so a notification never fires for an uncommitted row.
//
//   - Transient events (run progress ticks, circuit transitions) are
//     broadcast via pg_notify only. They are high-frequency or purely
//     advisory and are not worth a row each.
//
// NOTIFY payloads are capped by PostgreSQL at 8000 bytes. Oversized
// payloads are replaced by a truncation envelope carrying only routing
// fields; consumers fetch the full row by db_event_id.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	// Task lifecycle — single event type, Status discriminates.
	EventTypeTaskStatus = "task.status"

	// Run lifecycle
	EventTypeRunStatus = "run.status"

	// Stage lifecycle within a run
	EventTypeStageStatus = "stage.status"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	EventTypeRunProgress  = "run.progress"
	EventTypeCircuitState = "circuit.state"
)

// Stage lifecycle status values (used in StageStatusPayload.Status).
const (
	StageStatusStarted   = "started"
	StageStatusCompleted = "completed"
	StageStatusFailed    = "failed"
	StageStatusSkipped   = "skipped"
	StageStatusCancelled = "cancelled"
)

// GlobalRunsChannel carries run-level status and progress for every run.
// Dashboards subscribe here instead of per-run channels.
const GlobalRunsChannel = "runs"

// SystemChannel carries service-level events (circuit transitions).
const SystemChannel = "system"

// RunChannel returns the channel name for a specific run's events.
// Format: "run:{run_id}"
func RunChannel(runID string) string {
	return "run:" + runID
}
