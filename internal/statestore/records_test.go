package statestore_test

import (
	"context"
	"testing"
	"time"

	"chrona-engine/internal/statestore"
	statememory "chrona-engine/internal/statestore/memory"
)

func newRecords() *statestore.Records {
	return statestore.NewRecords(statememory.NewStore())
}

func TestDismissRoundTripTruncatesToMillis(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 6, 30, 12, 345678901, time.UTC)

	if err := records.RecordDismissed(ctx, 3, at); err != nil {
		t.Fatalf("record: %v", err)
	}
	got, ok, err := records.DismissedAt(ctx, 3)
	if err != nil || !ok {
		t.Fatalf("read back: ok=%v err=%v", ok, err)
	}
	if !got.Equal(at.Truncate(time.Millisecond)) {
		t.Fatalf("expected %s, got %s", at.Truncate(time.Millisecond), got)
	}
}

func TestFireInProgressLifecycle(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	active, _, err := records.FireInProgress(ctx, 5)
	if err != nil || active {
		t.Fatalf("fresh alarm must not be firing: active=%v err=%v", active, err)
	}

	if err := records.MarkFireInProgress(ctx, 5, started); err != nil {
		t.Fatalf("mark: %v", err)
	}
	active, at, err := records.FireInProgress(ctx, 5)
	if err != nil || !active {
		t.Fatalf("expected live fire: active=%v err=%v", active, err)
	}
	if !at.Equal(started) {
		t.Fatalf("expected start %s, got %s", started, at)
	}

	if err := records.ClearFireInProgress(ctx, 5); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if active, _, _ := records.FireInProgress(ctx, 5); active {
		t.Fatal("fire flag survived clear")
	}
}

func TestArmWakeCheckResetsPriorAck(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	acked := time.Date(2025, 6, 1, 6, 35, 0, 0, time.UTC)

	if err := records.RecordAcknowledged(ctx, 2, acked); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if finalized, _ := records.WakeCheckFinalized(ctx, 2); !finalized {
		t.Fatal("ack must finalize the cycle")
	}

	// Arming a new cycle must wipe every trace of the previous one so the
	// follow-up fire is not misread as already handled.
	if err := records.ArmWakeCheck(ctx, 2); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, ok, _ := records.AcknowledgedAt(ctx, 2); ok {
		t.Fatal("stale ack visible after re-arm")
	}
	if finalized, _ := records.WakeCheckFinalized(ctx, 2); finalized {
		t.Fatal("finalized flag survived re-arm")
	}
	if pending, _ := records.WakeCheckPending(ctx, 2); !pending {
		t.Fatal("re-arm must leave the check pending")
	}
}

func TestGateOpenCloseFlag(t *testing.T) {
	records := newRecords()
	ctx := context.Background()

	if err := records.OpenGate(ctx, 4); err != nil {
		t.Fatalf("open: %v", err)
	}
	if active, _ := records.GateActive(ctx, 4); !active {
		t.Fatal("gate should be active after open")
	}
	if err := records.CloseGate(ctx, 4); err != nil {
		t.Fatalf("close: %v", err)
	}
	if active, _ := records.GateActive(ctx, 4); active {
		t.Fatal("gate still active after close")
	}
}

func TestSessionSnapshotRoundTrip(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	snap := statestore.SessionSnapshot{
		Phase:          "entry",
		Kind:           "password",
		StartedAt:      time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC),
		PhaseStartedAt: time.Date(2025, 6, 1, 6, 31, 30, 0, time.UTC),
		Taps:           0,
	}

	if err := records.SaveSession(ctx, 9, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := records.LoadSession(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Phase != snap.Phase || got.Kind != snap.Kind {
		t.Fatalf("phase round trip: got %q/%q", got.Phase, got.Kind)
	}
	if !got.StartedAt.Equal(snap.StartedAt) || !got.PhaseStartedAt.Equal(snap.PhaseStartedAt) {
		t.Fatalf("timestamps round trip: got %s / %s", got.StartedAt, got.PhaseStartedAt)
	}

	if err := records.ClearSession(ctx, 9); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := records.LoadSession(ctx, 9); ok {
		t.Fatal("session state survived clear")
	}
}

func TestSessionSnapshotKeepsTapProgress(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	started := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	snap := statestore.SessionSnapshot{Phase: "entry", Kind: "tap", StartedAt: started, PhaseStartedAt: started, Taps: 42}
	if err := records.SaveSession(ctx, 9, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := records.LoadSession(ctx, 9)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Taps != 42 {
		t.Fatalf("expected 42 taps, got %d", got.Taps)
	}
}

func TestQueueRoundTrip(t *testing.T) {
	records := newRecords()
	ctx := context.Background()

	if _, ok, _ := records.LoadQueue(ctx, 7); ok {
		t.Fatal("fresh alarm has no queue")
	}
	if err := records.SaveQueue(ctx, 7, "tap,password"); err != nil {
		t.Fatalf("save queue: %v", err)
	}
	if err := records.SaveCurrentMission(ctx, 7, "m7-0-tap"); err != nil {
		t.Fatalf("save current: %v", err)
	}

	queue, ok, err := records.LoadQueue(ctx, 7)
	if err != nil || !ok || queue != "tap,password" {
		t.Fatalf("queue round trip: %q ok=%v err=%v", queue, ok, err)
	}
	current, ok, err := records.LoadCurrentMission(ctx, 7)
	if err != nil || !ok || current != "m7-0-tap" {
		t.Fatalf("current round trip: %q ok=%v err=%v", current, ok, err)
	}

	if err := records.ClearQueue(ctx, 7); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := records.LoadQueue(ctx, 7); ok {
		t.Fatal("queue survived clear")
	}
	if _, ok, _ := records.LoadCurrentMission(ctx, 7); ok {
		t.Fatal("current mission survived clear")
	}
}

func TestRecordsIsolatedPerAlarm(t *testing.T) {
	records := newRecords()
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 6, 30, 0, 0, time.UTC)

	if err := records.RecordDismissed(ctx, 1, at); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, ok, _ := records.DismissedAt(ctx, 2); ok {
		t.Fatal("dismissal leaked across alarms")
	}
}
