// Package audio defines the alarm sound port.
package audio

import (
	"context"
	"log"
	"time"
)

// Channel controls the alarm sound for one alarm at a time.
type Channel interface {
	Start(ctx context.Context, alarmID int) error
	Stop(ctx context.Context, alarmID int) error
	// Duck lowers the volume to factor (0..1) for the given duration, then
	// restores it.
	Duck(ctx context.Context, alarmID int, factor float64, d time.Duration) error
}

// NopChannel discards all audio commands.
type NopChannel struct{}

// Start implements Channel.
func (NopChannel) Start(context.Context, int) error { return nil }

// Stop implements Channel.
func (NopChannel) Stop(context.Context, int) error { return nil }

// Duck implements Channel.
func (NopChannel) Duck(context.Context, int, float64, time.Duration) error { return nil }

// LoggingChannel logs audio commands, used in main wiring where no real
// sound device exists.
type LoggingChannel struct {
	Logger *log.Logger
}

// Start implements Channel.
func (c LoggingChannel) Start(_ context.Context, alarmID int) error {
	if c.Logger != nil {
		c.Logger.Printf("audio start alarm_id=%d", alarmID)
	}
	return nil
}

// Stop implements Channel.
func (c LoggingChannel) Stop(_ context.Context, alarmID int) error {
	if c.Logger != nil {
		c.Logger.Printf("audio stop alarm_id=%d", alarmID)
	}
	return nil
}

// Duck implements Channel.
func (c LoggingChannel) Duck(_ context.Context, alarmID int, factor float64, d time.Duration) error {
	if c.Logger != nil {
		c.Logger.Printf("audio duck alarm_id=%d factor=%.2f duration=%s", alarmID, factor, d)
	}
	return nil
}
