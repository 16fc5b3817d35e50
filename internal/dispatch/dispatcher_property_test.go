//go:build property
// +build property

package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	alarms "chrona-engine/internal/alarms/domain"
	eventmemory "chrona-engine/internal/eventing/infrastructure/memory"
	"chrona-engine/internal/statestore"
	statememory "chrona-engine/internal/statestore/memory"
)

// TestDismissWindowLaw verifies the primary dedup boundary.
// Property: a primary fire is suppressed exactly when the last dismissal is
// strictly inside the window.
func TestDismissWindowLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	properties.Property("suppressed iff dismissal inside window", prop.ForAll(
		func(offsetMs int) bool {
			records := statestore.NewRecords(statememory.NewStore())
			ctx := context.Background()
			offset := time.Duration(offsetMs) * time.Millisecond
			if err := records.RecordDismissed(ctx, 1, now.Add(-offset)); err != nil {
				return false
			}
			dispatcher, err := NewDispatcher(records, stubRegistry{alarm: testAlarm(alarms.NoChallenge())}, nil,
				WithClock(&fakeClock{now: now}))
			if err != nil {
				return false
			}
			decision, err := dispatcher.Handle(ctx, TriggerEvent{AlarmID: 1, Kind: KindPrimary})
			if err != nil {
				return false
			}
			suppressed := decision.Action == ActionIgnoreDuplicate
			return suppressed == (offset < DefaultDismissWindow)
		},
		gen.IntRange(0, 30_000),
	))

	properties.TestingRun(t)
}

// TestTokenDedupLaw verifies duplicate-token absorption.
// Property: however many times one token is redelivered, exactly the first
// delivery acts.
func TestTokenDedupLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	properties.Property("one action per token", prop.ForAll(
		func(redeliveries int, token string) bool {
			if token == "" {
				return true
			}
			records := statestore.NewRecords(statememory.NewStore())
			dispatcher, err := NewDispatcher(records, stubRegistry{alarm: testAlarm(alarms.NoChallenge())}, nil,
				WithClock(&fakeClock{now: now}),
				WithProcessedStore(eventmemory.NewProcessedStore()))
			if err != nil {
				return false
			}
			ctx := context.Background()
			started := 0
			for i := 0; i < 1+redeliveries; i++ {
				decision, err := dispatcher.Handle(ctx, TriggerEvent{AlarmID: 1, Kind: KindPrimary, Token: token})
				if err != nil {
					return false
				}
				if decision.Action == ActionStartSession {
					started++
				}
			}
			return started == 1
		},
		gen.IntRange(0, 5),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestAckWindowLaw mirrors the dismiss-window law for wake-check follow-ups.
func TestAckWindowLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 1, 6, 40, 0, 0, time.UTC)

	properties.Property("suppressed iff ack inside window", prop.ForAll(
		func(offsetSec int) bool {
			records := statestore.NewRecords(statememory.NewStore())
			ctx := context.Background()
			offset := time.Duration(offsetSec) * time.Second
			// An ack stamp with the finalized flag cleared again isolates
			// the window check itself.
			if err := records.RecordAcknowledged(ctx, 1, now.Add(-offset)); err != nil {
				return false
			}
			if err := records.ClearWakeCheck(ctx, 1); err != nil {
				return false
			}
			dispatcher, err := NewDispatcher(records, stubRegistry{alarm: testAlarm(alarms.NoChallenge())}, nil,
				WithClock(&fakeClock{now: now}))
			if err != nil {
				return false
			}
			decision, err := dispatcher.Handle(ctx, TriggerEvent{AlarmID: 1, Kind: KindWakeCheck})
			if err != nil {
				return false
			}
			suppressed := decision.Action == ActionIgnoreDuplicate
			return suppressed == (offset < DefaultAckWindow)
		},
		gen.IntRange(0, 1800),
	))

	properties.TestingRun(t)
}
