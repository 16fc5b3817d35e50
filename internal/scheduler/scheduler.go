// Package scheduler defines the port to the platform alarm scheduler. The
// engine asks for future trigger deliveries and receives them back as
// trigger events; delivery is at-least-once and may arrive late or twice.
package scheduler

import (
	"context"
	"time"
)

// Trigger kinds, matching the dispatch routing table.
const (
	KindPrimary    = "primary"
	KindWakeCheck  = "wakecheck"
	KindReschedule = "reschedule"
)

// Request asks for one future trigger delivery.
type Request struct {
	AlarmID int
	Kind    string
	At      time.Time
	// Snapshot carries the serialized alarm config on the event so the
	// receiver can act when the registry is not yet readable.
	Snapshot string
}

// Scheduler schedules and cancels future trigger deliveries.
type Scheduler interface {
	Schedule(ctx context.Context, req Request) error
	Cancel(ctx context.Context, alarmID int, kind string) error
}
