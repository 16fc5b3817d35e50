package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	alarms "chrona-engine/internal/alarms/domain"
	"chrona-engine/internal/statestore"
	statememory "chrona-engine/internal/statestore/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *capturingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) last() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return nil
	}
	return p.events[len(p.events)-1]
}

type capturingAuditor struct {
	mu      sync.Mutex
	actions []string
	details []string
}

func (a *capturingAuditor) RecordSession(_ context.Context, _ int, action, detail string) error {
	a.mu.Lock()
	a.actions = append(a.actions, action)
	a.details = append(a.details, detail)
	a.mu.Unlock()
	return nil
}

func newTestSession(t *testing.T, challenge alarms.ChallengeConfig, clock *fakeClock) (*Session, *statestore.Records, *capturingPublisher) {
	t.Helper()
	records := statestore.NewRecords(statememory.NewStore())
	publisher := &capturingPublisher{}
	session, err := NewSession(1, challenge, records, WithClock(clock), WithPublisher(publisher))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session, records, publisher
}

func TestPasswordSessionBlocksEntryDuringStartup(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, _ := newTestSession(t, alarms.PasswordChallenge("open sesame"), clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Phase() != PhaseStartupBlocked {
		t.Fatalf("expected startup block, got %s", session.Phase())
	}

	clock.Set(start.Add(10 * time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := session.SubmitPassword(ctx, "open sesame"); err != ErrNotAccepting {
		t.Fatalf("expected input refused at t=10s, got %v", err)
	}
}

func TestPasswordSessionAcceptsEntryAfterStartupBlock(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, publisher := newTestSession(t, alarms.PasswordChallenge("open sesame"), clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Set(start.Add(91 * time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseEntry {
		t.Fatalf("expected entry at t=91s, got %s", session.Phase())
	}

	if ok, err := session.SubmitPassword(ctx, "wrong"); err != nil || ok {
		t.Fatalf("expected wrong attempt rejected without error, got ok=%v err=%v", ok, err)
	}
	if session.Phase() != PhaseEntry {
		t.Fatalf("wrong attempt must not change phase, got %s", session.Phase())
	}

	ok, err := session.SubmitPassword(ctx, "open sesame")
	if err != nil || !ok {
		t.Fatalf("expected correct attempt accepted, got ok=%v err=%v", ok, err)
	}
	if session.Phase() != PhaseCompleted {
		t.Fatalf("expected completion, got %s", session.Phase())
	}
	if _, ok := publisher.last().(MissionCompleted); !ok {
		t.Fatalf("expected MissionCompleted, got %T", publisher.last())
	}
}

func TestPasswordSessionCyclesEntryAndBlocked(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, _ := newTestSession(t, alarms.PasswordChallenge("s"), clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// 90s startup + 30s entry, so t=125s lands in the first repeat block.
	clock.Set(start.Add(125 * time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseBlocked {
		t.Fatalf("expected blocked at t=125s, got %s", session.Phase())
	}

	// 90 + 30 + 120 = 240s, back to entry.
	clock.Set(start.Add(241 * time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseEntry {
		t.Fatalf("expected entry at t=241s, got %s", session.Phase())
	}
}

func TestSafetyValveAbandonsAndAudits(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	records := statestore.NewRecords(statememory.NewStore())
	publisher := &capturingPublisher{}
	auditor := &capturingAuditor{}
	session, err := NewSession(1, alarms.PasswordChallenge("s"), records,
		WithClock(clock), WithPublisher(publisher), WithAuditor(auditor))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Set(start.Add(SafetyValve))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseAbandoned {
		t.Fatalf("expected abandoned at the valve, got %s", session.Phase())
	}
	evt, ok := publisher.last().(SessionAbandoned)
	if !ok {
		t.Fatalf("expected SessionAbandoned, got %T", publisher.last())
	}
	if evt.Reason != ReasonSafetyValve {
		t.Fatalf("expected safety valve reason, got %s", evt.Reason)
	}
	if len(auditor.actions) != 1 || auditor.actions[0] != "session.abandoned" {
		t.Fatalf("expected one audited abandon, got %v", auditor.actions)
	}

	if _, ok, err := records.LoadSession(ctx, 1); err != nil || ok {
		t.Fatalf("expected session state cleared, got ok=%v err=%v", ok, err)
	}
}

func TestTimeoutBoundsAttemptBeforeSafetyValve(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	records := statestore.NewRecords(statememory.NewStore())
	publisher := &capturingPublisher{}
	timeout := 3 * time.Minute
	session, err := NewSession(1, alarms.PasswordChallenge("s"), records,
		WithClock(clock), WithPublisher(publisher), WithTimeout(timeout))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Set(start.Add(timeout - time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Terminal() {
		t.Fatalf("expected session live just inside the timeout, got %s", session.Phase())
	}

	clock.Set(start.Add(timeout))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseAbandoned {
		t.Fatalf("expected abandoned at the timeout, got %s", session.Phase())
	}
	evt, ok := publisher.last().(SessionAbandoned)
	if !ok {
		t.Fatalf("expected SessionAbandoned, got %T", publisher.last())
	}
	if evt.Reason != ReasonTimeout {
		t.Fatalf("expected timeout reason, got %s", evt.Reason)
	}
}

func TestTapSessionCompletesAtGoal(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, publisher := newTestSession(t, alarms.TapChallenge(), clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Phase() != PhaseTapping {
		t.Fatalf("expected tapping, got %s", session.Phase())
	}

	for i := 0; i < TapGoal-1; i++ {
		if _, err := session.Tap(ctx); err != nil {
			t.Fatalf("tap %d: %v", i+1, err)
		}
	}
	if session.Terminal() {
		t.Fatalf("expected session live at %d taps", TapGoal-1)
	}
	count, err := session.Tap(ctx)
	if err != nil {
		t.Fatalf("final tap: %v", err)
	}
	if count != TapGoal || session.Phase() != PhaseCompleted {
		t.Fatalf("expected completion at tap %d, got count=%d phase=%s", TapGoal, count, session.Phase())
	}
	if _, ok := publisher.last().(MissionCompleted); !ok {
		t.Fatalf("expected MissionCompleted, got %T", publisher.last())
	}
}

func TestTapSessionFailsWhenWindowExpires(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, publisher := newTestSession(t, alarms.TapChallenge(), clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < TapGoal-1; i++ {
		if _, err := session.Tap(ctx); err != nil {
			t.Fatalf("tap %d: %v", i+1, err)
		}
	}

	clock.Set(start.Add(TapWindow))
	if _, err := session.Tap(ctx); err != nil {
		t.Fatalf("tap after window: %v", err)
	}
	if session.Phase() != PhaseFailed {
		t.Fatalf("expected failure at window expiry, got %s", session.Phase())
	}
	evt, ok := publisher.last().(MissionFailed)
	if !ok {
		t.Fatalf("expected MissionFailed, got %T", publisher.last())
	}
	if evt.Reason != ReasonTapWindow {
		t.Fatalf("expected tap window reason, got %s", evt.Reason)
	}
}

func TestNoChallengeSessionDismisses(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	session, _, _ := newTestSession(t, alarms.ChallengeConfig{Kind: "bogus"}, clock)
	ctx := context.Background()

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Kind() != alarms.ChallengeNone {
		t.Fatalf("unknown kind must degrade to none, got %s", session.Kind())
	}
	if err := session.Dismiss(ctx); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if session.Phase() != PhaseCompleted {
		t.Fatalf("expected completion, got %s", session.Phase())
	}
}

func TestResumeContinuesInPhase(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	records := statestore.NewRecords(statememory.NewStore())
	challenge := alarms.PasswordChallenge("s")
	session, err := NewSession(1, challenge, records, WithClock(clock))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Set(start.Add(100 * time.Second))
	if err := session.Advance(ctx, clock.Now()); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if session.Phase() != PhaseEntry {
		t.Fatalf("expected entry before restart, got %s", session.Phase())
	}

	// Simulate a process restart: rebuild from the store only.
	clock.Set(start.Add(110 * time.Second))
	resumed, ok, err := Resume(ctx, 1, challenge, records, WithClock(clock))
	if err != nil || !ok {
		t.Fatalf("resume: ok=%v err=%v", ok, err)
	}
	if resumed.Phase() != PhaseEntry {
		t.Fatalf("expected resume in entry, got %s", resumed.Phase())
	}
	if accepted, err := resumed.SubmitPassword(ctx, "s"); err != nil || !accepted {
		t.Fatalf("expected resumed session to accept password, got ok=%v err=%v", accepted, err)
	}
}

func TestResumeCatchesUpAcrossPhases(t *testing.T) {
	start := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	records := statestore.NewRecords(statememory.NewStore())
	challenge := alarms.PasswordChallenge("s")
	session, err := NewSession(1, challenge, records, WithClock(clock))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	ctx := context.Background()
	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Dead until t=130s: the resumed session must have walked startup block
	// and entry and landed in blocked, without any ticks in between.
	clock.Set(start.Add(130 * time.Second))
	resumed, ok, err := Resume(ctx, 1, challenge, records, WithClock(clock))
	if err != nil || !ok {
		t.Fatalf("resume: ok=%v err=%v", ok, err)
	}
	if resumed.Phase() != PhaseBlocked {
		t.Fatalf("expected resume caught up to blocked, got %s", resumed.Phase())
	}
}
