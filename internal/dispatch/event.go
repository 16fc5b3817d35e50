// Package dispatch classifies incoming trigger events before anything rings.
// Delivery from the platform scheduler is at-least-once, so every event runs
// through the dedup windows here first.
package dispatch

import (
	"time"

	alarms "chrona-engine/internal/alarms/domain"
)

// Trigger kinds.
const (
	KindPrimary    = "primary"
	KindWakeCheck  = "wakecheck"
	KindReschedule = "reschedule"
)

// TriggerEvent is one delivery from the scheduler.
type TriggerEvent struct {
	AlarmID int
	Kind    string
	// Token identifies the scheduled delivery; redeliveries of the same
	// schedule carry the same token.
	Token    string
	OccursAt time.Time
	// Snapshot optionally carries the serialized alarm so the event can be
	// acted on before the registry is readable.
	Snapshot string
}

// Actions a decision can carry.
const (
	ActionStartSession     = "start_session"
	ActionIgnoreDuplicate  = "ignore_duplicate"
	ActionRouteToGate      = "route_to_gate"
	ActionRouteToSequencer = "route_to_sequencer"
	ActionReschedule       = "reschedule"
)

// Decision is the routing outcome for one trigger event.
type Decision struct {
	Action string
	// Reason names the dedup window or rule that produced a suppression.
	Reason       string
	Alarm        alarms.Alarm
	RescheduleAt time.Time
}
