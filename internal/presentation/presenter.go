// Package presentation defines the port to whatever renders the wake-up
// challenge. The engine decides when a surface appears; it never renders.
package presentation

import (
	"context"
	"log"

	alarms "chrona-engine/internal/alarms/domain"
)

// Presenter shows and dismisses challenge surfaces.
type Presenter interface {
	// Launch opens the challenge surface for a fresh or resumed session.
	Launch(ctx context.Context, alarm alarms.Alarm, challenge alarms.ChallengeConfig) error
	// Resume tells an already-open surface to render the next challenge in
	// a sequence without tearing the session down.
	Resume(ctx context.Context, alarmID int, next alarms.ChallengeConfig) error
	// BringToForeground re-surfaces a live session after a duplicate fire.
	BringToForeground(ctx context.Context, alarmID int) error
	// Close dismisses the surface.
	Close(ctx context.Context, alarmID int) error
}

// LoggingPresenter records presentation commands on a logger.
type LoggingPresenter struct {
	Logger *log.Logger
}

// Launch implements Presenter.
func (p LoggingPresenter) Launch(_ context.Context, alarm alarms.Alarm, challenge alarms.ChallengeConfig) error {
	if p.Logger != nil {
		p.Logger.Printf("presentation launch alarm_id=%d challenge=%s", alarm.ID, challenge.Kind)
	}
	return nil
}

// Resume implements Presenter.
func (p LoggingPresenter) Resume(_ context.Context, alarmID int, next alarms.ChallengeConfig) error {
	if p.Logger != nil {
		p.Logger.Printf("presentation resume alarm_id=%d next=%s", alarmID, next.Kind)
	}
	return nil
}

// BringToForeground implements Presenter.
func (p LoggingPresenter) BringToForeground(_ context.Context, alarmID int) error {
	if p.Logger != nil {
		p.Logger.Printf("presentation foreground alarm_id=%d", alarmID)
	}
	return nil
}

// Close implements Presenter.
func (p LoggingPresenter) Close(_ context.Context, alarmID int) error {
	if p.Logger != nil {
		p.Logger.Printf("presentation close alarm_id=%d", alarmID)
	}
	return nil
}
